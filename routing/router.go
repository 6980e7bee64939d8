/*
 * Copyright 2026. DataPlane Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

package routing

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/multierr"

	"github.com/opencampus/dataplane/config"
	"github.com/opencampus/dataplane/logging"
	"github.com/opencampus/dataplane/util"
)

var log = logging.GetLogger("routing")

// fallbackLog throttles the per-read warning emitted when no replica
// is available and the read degrades to primary.
var fallbackLog = logging.NewThrottledLogger("replica-fallback", log, 5*time.Second)

// ErrNotInitialized is returned when the router is used before
// Initialize.
var ErrNotInitialized = errors.New("replica router not initialized")

// Router load-balances reads over a weighted pool of healthy read-only
// replicas and pins every write to the primary. It owns the primary
// and replica connections it dials and closes them itself.
//
// There is no automatic promotion on primary failure: two routers
// deciding independently would risk split-brain, so promotion is an
// explicit operator action.
type Router struct {
	cnf    config.RouterConfig
	dialer Dialer
	clock  clockwork.Clock
	rnd    *rand.Rand

	// mu guards topology: initialization, add/remove/promote, close.
	// Health scalars on Replica are deliberately outside it.
	mu          sync.Mutex
	initialized bool
	primary     Conn
	replicas    []*Replica

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// RouterOption customizes a Router at construction.
type RouterOption func(*Router)

// WithDialer swaps the connection factory.
func WithDialer(d Dialer) RouterOption {
	return func(r *Router) { r.dialer = d }
}

// WithClock swaps the health-loop clock.
func WithClock(c clockwork.Clock) RouterOption {
	return func(r *Router) { r.clock = c }
}

// WithRandSource seeds selection deterministically.
func WithRandSource(src rand.Source) RouterOption {
	return func(r *Router) { r.rnd = rand.New(src) }
}

// NewRouter builds a router from configuration. Initialize must be
// called before use.
func NewRouter(cnf config.RouterConfig, opts ...RouterOption) *Router {
	if cnf.HealthCheckIntervalSeconds <= 0 {
		cnf.HealthCheckIntervalSeconds = config.Default().Router.HealthCheckIntervalSeconds
	}
	if cnf.MaxProbeLatencySeconds <= 0 {
		cnf.MaxProbeLatencySeconds = config.Default().Router.MaxProbeLatencySeconds
	}
	if cnf.MaxLagSeconds <= 0 {
		cnf.MaxLagSeconds = config.Default().Router.MaxLagSeconds
	}
	r := &Router{
		cnf:    cnf,
		dialer: DefaultDialer,
		clock:  clockwork.NewRealClock(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize dials the primary and every configured replica, then
// starts the background health loop.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return nil
	}
	return r.initLocked(ctx)
}

func (r *Router) initLocked(ctx context.Context) error {
	primary, err := r.dialer(r.cnf.Primary)
	if err != nil {
		return util.Wrap(err, "dial primary")
	}
	r.primary = primary

	r.replicas = r.replicas[:0]
	for _, repCnf := range r.cnf.Replicas {
		rep := newReplica(repCnf)
		conn, err := r.dialer(repCnf.ConnConfig)
		if err != nil {
			// A dead replica at startup is not fatal; the health loop
			// keeps it unhealthy until it dials.
			log.Warnf("replica %s: dial failed: %v", rep.ID, err)
			rep.Healthy = false
			rep.LagSeconds = infiniteLag
		} else {
			rep.conn = conn
		}
		r.replicas = append(r.replicas, rep)
	}

	healthCtx, cancel := context.WithCancel(context.Background())
	r.healthCancel = cancel
	r.healthDone = make(chan struct{})
	go r.healthLoop(healthCtx, r.healthDone)

	// Probe once synchronously so selection has fresh state from the
	// start instead of waiting a full interval. The lock-free probe
	// path is used here because the topology mutex is already held.
	r.checkReplicas(ctx, r.replicas, r.dialer)

	r.initialized = true
	log.Infof("replica router initialized: primary %s:%d, %d replicas",
		r.cnf.Primary.Host, r.cnf.Primary.Port, len(r.replicas))
	return nil
}

// Close stops the health loop and closes every owned connection.
func (r *Router) Close() error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return nil
	}
	cancel, done := r.healthCancel, r.healthDone
	r.initialized = false
	r.mu.Unlock()

	// Join the loop with the mutex released: an in-flight probe cycle
	// takes the lock to snapshot the pool.
	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeConnsLocked()
}

func (r *Router) closeConnsLocked() error {
	var all error
	if r.primary != nil {
		all = multierr.Append(all, r.primary.Close())
		r.primary = nil
	}
	for _, rep := range r.replicas {
		if rep.conn != nil {
			all = multierr.Append(all, rep.conn.Close())
			rep.conn = nil
		}
	}
	return all
}

// Primary returns the one primary connection. Writes must always land
// here.
func (r *Router) Primary() (Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil, ErrNotInitialized
	}
	return r.primary, nil
}

// ReadReplica picks a replica by weighted random selection among
// healthy read-only members. It returns nil when nothing is eligible
// or the total weight is zero; callers fall back to primary.
func (r *Router) ReadReplica() *Replica {
	r.mu.Lock()
	replicas := r.replicas
	r.mu.Unlock()

	total := 0
	eligible := make([]*Replica, 0, len(replicas))
	for _, rep := range replicas {
		if rep.Healthy && rep.Type == ReadOnly && rep.Weight > 0 && rep.conn != nil {
			eligible = append(eligible, rep)
			total += rep.Weight
		}
	}
	if total == 0 {
		return nil
	}
	n := r.rnd.Intn(total)
	for _, rep := range eligible {
		n -= rep.Weight
		if n < 0 {
			return rep
		}
	}
	return eligible[len(eligible)-1]
}

// ExecuteRead runs a statement on a replica, degrading to primary when
// none is available. Reads never fail purely because of replica
// topology.
func (r *Router) ExecuteRead(ctx context.Context, query string, args ...interface{}) (int64, error) {
	conn, err := r.readConn()
	if err != nil {
		return 0, err
	}
	return conn.Execute(ctx, query, args...)
}

// FetchOneRead fetches a single row, replica first.
func (r *Router) FetchOneRead(ctx context.Context, query string, args ...interface{}) (map[string]interface{}, error) {
	conn, err := r.readConn()
	if err != nil {
		return nil, err
	}
	return conn.FetchOne(ctx, query, args...)
}

// FetchAllRead fetches all rows, replica first.
func (r *Router) FetchAllRead(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	conn, err := r.readConn()
	if err != nil {
		return nil, err
	}
	return conn.FetchAll(ctx, query, args...)
}

// ExecuteWrite always targets the primary. The router never permits a
// write against a replica.
func (r *Router) ExecuteWrite(ctx context.Context, query string, args ...interface{}) (int64, error) {
	primary, err := r.Primary()
	if err != nil {
		return 0, err
	}
	return primary.Execute(ctx, query, args...)
}

func (r *Router) readConn() (Conn, error) {
	if rep := r.ReadReplica(); rep != nil {
		RouterStats.CountRead("replica")
		return rep.conn, nil
	}
	primary, err := r.Primary()
	if err != nil {
		return nil, err
	}
	fallbackLog.Warnf("no healthy read replica, falling back to primary")
	RouterStats.CountRead("primary_fallback")
	return primary, nil
}

// SetReplicaWeight tunes one replica's selection weight. Returns false
// for an unknown id.
func (r *Router) SetReplicaWeight(id string, weight int) bool {
	if weight < 0 {
		weight = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rep := range r.replicas {
		if rep.ID == id {
			rep.Weight = weight
			return true
		}
	}
	return false
}

// AddReplica dials and adds a replica to the pool at runtime.
func (r *Router) AddReplica(cnf config.ReplicaConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return ErrNotInitialized
	}
	rep := newReplica(cnf)
	conn, err := r.dialer(cnf.ConnConfig)
	if err != nil {
		return util.Wrapf(err, "dial replica %s", rep.ID)
	}
	rep.conn = conn
	r.replicas = append(r.replicas, rep)
	r.cnf.Replicas = append(r.cnf.Replicas, cnf)
	return nil
}

// RemoveReplica closes and drops a replica. Returns false for an
// unknown id.
func (r *Router) RemoveReplica(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rep := range r.replicas {
		if rep.ID != id {
			continue
		}
		if rep.conn != nil {
			_ = rep.conn.Close()
		}
		r.replicas = append(r.replicas[:i], r.replicas[i+1:]...)
		if i < len(r.cnf.Replicas) {
			r.cnf.Replicas = append(r.cnf.Replicas[:i], r.cnf.Replicas[i+1:]...)
		}
		return true
	}
	return false
}

// PromoteReplica promotes the target to primary: it issues the
// promotion command, rewrites the primary configuration to the
// promoted endpoint, then closes and re-dials everything. Heavyweight
// and blocking; strictly operator-triggered. Returns false, with the
// primary configuration untouched, when the id is unknown or the
// promotion command fails.
func (r *Router) PromoteReplica(ctx context.Context, id string) bool {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return false
	}

	idx := -1
	for i, rep := range r.replicas {
		if rep.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		r.mu.Unlock()
		log.Warnf("promote: replica %s not found", id)
		return false
	}
	target := r.replicas[idx]
	if target.conn == nil {
		r.mu.Unlock()
		log.Errorf("promote: replica %s has no live connection", id)
		return false
	}

	if _, err := target.conn.Execute(ctx, "SELECT pg_promote(true)"); err != nil {
		r.mu.Unlock()
		log.Errorf("promote: command failed on replica %s: %v", id, err)
		return false
	}

	log.Infof("promoting replica %s (%s:%d) to primary",
		id, target.Config.Host, target.Config.Port)

	r.cnf.Primary = target.Config
	if idx < len(r.cnf.Replicas) {
		r.cnf.Replicas = append(r.cnf.Replicas[:idx], r.cnf.Replicas[idx+1:]...)
	}

	cancel, done := r.healthCancel, r.healthDone
	r.initialized = false
	r.mu.Unlock()

	// As in Close, the old health loop is joined with the mutex
	// released before the pool is rebuilt around the new primary.
	cancel()
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.closeConnsLocked(); err != nil {
		log.Warnf("promote: teardown reported: %v", err)
	}
	if err := r.initLocked(ctx); err != nil {
		log.Errorf("promote: re-initialization failed: %v", err)
		return false
	}
	RouterStats.CountPromotion()
	return true
}

// ReplicaStats returns an observability snapshot of the pool.
func (r *Router) ReplicaStats() []ReplicaStat {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := make([]ReplicaStat, 0, len(r.replicas))
	for _, rep := range r.replicas {
		stats = append(stats, rep.stat())
	}
	return stats
}

// PrimaryEndpoint reports the configured primary, for stats surfaces.
func (r *Router) PrimaryEndpoint() config.ConnConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cnf.Primary
}
