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
	"math"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/label"
)

// infiniteLag marks a replica whose lag could not be measured.
const infiniteLag = math.MaxFloat64

// lagQuery measures replication lag in seconds on a standby. The
// COALESCE covers a standby that has never replayed a transaction.
const lagQuery = "SELECT COALESCE(EXTRACT(EPOCH FROM (now() - pg_last_xact_replay_timestamp())), 0) AS lag"

// healthLoop periodically re-probes every replica until the router is
// torn down. It runs off the injected clock so tests can step time.
func (r *Router) healthLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := r.cnf.HealthCheckInterval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(interval):
			r.checkAll(ctx)
		}
	}
}

func (r *Router) checkAll(ctx context.Context) {
	r.mu.Lock()
	replicas := make([]*Replica, len(r.replicas))
	copy(replicas, r.replicas)
	dialer := r.dialer
	r.mu.Unlock()
	r.checkReplicas(ctx, replicas, dialer)
}

// checkReplicas probes a pool snapshot. It takes no locks so
// initialization can probe the pool it just built while still holding
// the topology mutex.
func (r *Router) checkReplicas(ctx context.Context, replicas []*Replica, dialer Dialer) {
	for _, rep := range replicas {
		if rep.conn == nil {
			// Dial failed earlier; retry so the replica can join the
			// pool once it comes back.
			conn, err := dialer(rep.Config)
			if err != nil {
				rep.Healthy = false
				rep.LagSeconds = infiniteLag
				rep.LastCheck = time.Now()
				continue
			}
			rep.conn = conn
		}
		r.checkReplica(ctx, rep)
	}
}

// checkReplica probes one replica and rewrites its health scalars. A
// replica is healthy when the probe answers within the latency bound
// and replication lag stays under the configured ceiling.
func (r *Router) checkReplica(ctx context.Context, rep *Replica) {
	start := time.Now()
	_, err := rep.conn.FetchOne(ctx, "SELECT 1")
	latency := time.Since(start)
	RouterStats.ProbeTime.Record(ctx, latency, label.String("replica", rep.ID))

	rep.LastCheck = time.Now()
	if err != nil {
		if rep.Healthy {
			log.Warnf("replica %s: probe failed: %v", rep.ID, err)
		}
		RouterStats.CountUnhealthy(rep.ID, "probe_error")
		rep.LagSeconds = infiniteLag
		rep.Healthy = false
		return
	}
	if latency.Seconds() >= r.cnf.MaxProbeLatencySeconds {
		if rep.Healthy {
			log.Warnf("replica %s: probe latency %v over limit", rep.ID, latency)
		}
		RouterStats.CountUnhealthy(rep.ID, "latency")
		rep.Healthy = false
		return
	}

	lag, err := r.measureLag(ctx, rep)
	rep.LagSeconds = lag
	if err != nil {
		if rep.Healthy {
			log.Warnf("replica %s: lag query failed: %v", rep.ID, err)
		}
		RouterStats.CountUnhealthy(rep.ID, "lag_error")
		rep.Healthy = false
		return
	}
	if lag >= r.cnf.MaxLagSeconds {
		if rep.Healthy {
			log.Warnf("replica %s: replication lag %.1fs over limit", rep.ID, lag)
		}
		RouterStats.CountUnhealthy(rep.ID, "lag")
		rep.Healthy = false
		return
	}

	if !rep.Healthy {
		log.Infof("replica %s: healthy again (lag %.1fs)", rep.ID, lag)
	}
	rep.Healthy = true
}

func (r *Router) measureLag(ctx context.Context, rep *Replica) (float64, error) {
	row, err := rep.conn.FetchOne(ctx, lagQuery)
	if err != nil {
		return infiniteLag, err
	}
	return toFloat(row["lag"]), nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case []byte:
		f, _ := strconv.ParseFloat(string(n), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(n, 64)
		return f
	default:
		return 0
	}
}
