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

package database

import (
	"context"
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/opencampus/dataplane/backend"
	"github.com/opencampus/dataplane/logging"
	"github.com/opencampus/dataplane/telemetry"
	"github.com/opencampus/dataplane/util"
)

var log = logging.GetLogger("database")

const defaultPhaseTimeout = 30 * time.Second

// TxManager coordinates a logical unit of work across one or more
// store adapters. It records an audit log of every operation, keeps an
// explicit compensation stack, and drives a prepare/commit fan-out over
// participants that support it.
//
// This is a best-effort, in-memory saga mechanism, not durable XA 2PC:
// no prepare log survives the process, so a crash between a successful
// Prepare and a completed Commit can leave stores inconsistent.
//
// A TxManager is not safe for concurrent callers. The contract is one
// manager per logical transaction, driven sequentially by one caller.
type TxManager struct {
	id           string
	state        TxState
	phaseTimeout time.Duration
	metadata     map[string]string
	startedAt    time.Time

	// participants maps adapter name to backend.Adapter, preserving
	// registration order.
	participants  *linkedhashmap.Map
	operations    []OperationRecord
	compensations *compensationStack
}

// TxOption customizes a TxManager at construction.
type TxOption func(*TxManager)

// WithPhaseTimeout bounds each prepare/commit/rollback fan-out.
func WithPhaseTimeout(d time.Duration) TxOption {
	return func(tm *TxManager) {
		if d > 0 {
			tm.phaseTimeout = d
		}
	}
}

// WithMetadata attaches a key/value pair to the transaction log.
func WithMetadata(key, value string) TxOption {
	return func(tm *TxManager) {
		tm.metadata[key] = value
	}
}

// NewTxManager creates a transaction manager in the PENDING state.
func NewTxManager(opts ...TxOption) *TxManager {
	tm := &TxManager{
		id:            uuid.New().String(),
		state:         TxStatePending,
		phaseTimeout:  defaultPhaseTimeout,
		metadata:      make(map[string]string),
		startedAt:     time.Now(),
		participants:  linkedhashmap.New(),
		compensations: newCompensationStack(),
	}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// ID returns the transaction id.
func (tm *TxManager) ID() string { return tm.id }

// State returns the current transaction state.
func (tm *TxManager) State() TxState { return tm.state }

// Execute dispatches the operation on the adapter, registering it as a
// participant on first use and appending to the audit log on success.
// The adapter's own error is returned unmodified; the manager never
// retries. Execute is disallowed once the transaction has concluded.
func (tm *TxManager) Execute(ctx context.Context, adapter backend.Adapter, op backend.Operation) (*backend.Result, error) {
	if tm.state.Terminal() {
		return nil, util.Wrapf(ErrTxConcluded, "transaction %s is %s", tm.id, tm.state)
	}
	// Structural validation happens before the adapter is touched, so
	// invalid operations never enter the participant set.
	if err := op.Validate(); err != nil {
		return nil, err
	}

	name := adapter.Name()
	if _, registered := tm.participants.Get(name); !registered {
		tm.participants.Put(name, adapter)
		log.Debugf("transaction %s: registered participant %s", tm.id, name)
	}

	result, err := adapter.Execute(ctx, op)
	if err != nil {
		log.Errorf("transaction %s: %s on participant %s failed: %v", tm.id, op.Kind, name, err)
		return nil, err
	}

	tm.operations = append(tm.operations, OperationRecord{
		Adapter:   name,
		Operation: op,
		Result:    result,
		At:        time.Now(),
	})

	if comp, ok := adapter.(backend.Compensator); ok && comp.CanCompensate(op.Kind) {
		tm.compensations.push(compensation{
			adapterName: name,
			compensator: comp,
			op:          op,
			result:      result,
		})
	}
	return result, nil
}

// Prepare fans the prepare vote out to every two-phase participant
// under one shared timeout and moves the transaction to PREPARED.
func (tm *TxManager) Prepare(ctx context.Context) error {
	if tm.state.Terminal() {
		return util.Wrapf(ErrTxConcluded, "transaction %s is %s", tm.id, tm.state)
	}
	start := time.Now()
	ctx, span := telemetry.GlobalTracer.Start(ctx, "TxManager.Prepare")
	defer span.End()
	defer TxStats.PhaseTime.RecordLatency(ctx, start)

	err := tm.eachTwoPhase(ctx, func(phaseCtx context.Context, p backend.TwoPhase) error {
		return p.PrepareTransaction(phaseCtx, tm.id)
	})
	if err != nil {
		return util.Wrapf(err, "prepare phase of transaction %s", tm.id)
	}
	tm.state = TxStatePrepared
	return nil
}

// Commit concludes the transaction. It is idempotent: a second call is
// a no-op with a warning. A pending transaction is prepared first.
func (tm *TxManager) Commit(ctx context.Context) error {
	if tm.state.Terminal() {
		log.Warnf("transaction %s: commit called in state %s, ignoring", tm.id, tm.state)
		return nil
	}
	ctx, span := telemetry.GlobalTracer.Start(ctx, "TxManager.Commit")
	defer span.End()

	if tm.state == TxStatePending {
		if err := tm.Prepare(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	err := tm.eachTwoPhase(ctx, func(phaseCtx context.Context, p backend.TwoPhase) error {
		return p.CommitTransaction(phaseCtx, tm.id)
	})
	TxStats.PhaseTime.RecordLatency(ctx, start)
	if err != nil {
		return util.Wrapf(err, "commit phase of transaction %s", tm.id)
	}

	tm.state = TxStateCommitted
	TxStats.CountTransaction(ctx, "committed")
	log.Debugf("transaction %s committed, %d operations across %d participants",
		tm.id, len(tm.operations), tm.participants.Size())
	return nil
}

// Rollback aborts the transaction. Compensating actions replay in
// strict reverse-registration order; each failure is logged and never
// escalates. Participant rollback errors are gathered, logged, and
// absorbed. The state always ends up ABORTED. Idempotent.
func (tm *TxManager) Rollback(ctx context.Context) error {
	if tm.state.Terminal() {
		log.Warnf("transaction %s: rollback called in state %s, ignoring", tm.id, tm.state)
		return nil
	}
	ctx, span := telemetry.GlobalTracer.Start(ctx, "TxManager.Rollback")
	defer span.End()

	if failed := tm.compensations.replayAll(ctx, tm.id); failed > 0 {
		TxStats.CompensationFailures.Add(ensureContext(ctx), int64(failed))
	}

	if err := tm.eachTwoPhase(ctx, func(phaseCtx context.Context, p backend.TwoPhase) error {
		return p.RollbackTransaction(phaseCtx, tm.id)
	}); err != nil {
		TxStats.AddInternalErrors(ctx, "RollbackPhase", 1)
		log.Errorf("transaction %s: participant rollback errors: %v", tm.id, err)
	}

	tm.state = TxStateAborted
	TxStats.CountTransaction(ctx, "aborted")
	return nil
}

// Run executes fn inside the transaction scope: a nil return commits,
// an error rolls back and propagates unchanged. A failed commit is
// rolled back too, so Run always leaves the transaction terminal. The
// manager's own cleanup errors never mask the primary error.
func (tm *TxManager) Run(ctx context.Context, fn func(tx *TxManager) error) error {
	if err := fn(tm); err != nil {
		_ = tm.Rollback(ctx)
		return err
	}
	if err := tm.Commit(ctx); err != nil {
		_ = tm.Rollback(ctx)
		return err
	}
	return nil
}

// Close is the deferred safety net: it rolls back iff the transaction
// has not concluded. Closing a committed or never-used manager is a
// no-op.
func (tm *TxManager) Close(ctx context.Context) {
	if tm.state.Terminal() {
		return
	}
	log.Warnf("transaction %s closed without commit, rolling back", tm.id)
	_ = tm.Rollback(ctx)
}

// Status returns a read-only snapshot with no side effects.
func (tm *TxManager) Status() Status {
	participants := make([]string, 0, tm.participants.Size())
	for _, k := range tm.participants.Keys() {
		participants = append(participants, k.(string))
	}
	meta := make(map[string]string, len(tm.metadata))
	for k, v := range tm.metadata {
		meta[k] = v
	}
	return Status{
		TransactionID:   tm.id,
		State:           tm.state.String(),
		Participants:    participants,
		OperationsCount: len(tm.operations),
		Committed:       tm.state == TxStateCommitted,
		Aborted:         tm.state == TxStateAborted,
		Metadata:        meta,
		StartedAt:       tm.startedAt,
	}
}

// Operations returns a copy of the audit log.
func (tm *TxManager) Operations() []OperationRecord {
	out := make([]OperationRecord, len(tm.operations))
	copy(out, tm.operations)
	return out
}

// eachTwoPhase runs the action against all two-phase participants in
// parallel under one shared deadline and returns a consolidated error.
// Participants without transaction hooks are skipped; they only live
// in the audit log.
func (tm *TxManager) eachTwoPhase(ctx context.Context, action func(context.Context, backend.TwoPhase) error) error {
	var hooks []backend.TwoPhase
	for _, v := range tm.participants.Values() {
		if tp, ok := v.(backend.TwoPhase); ok {
			hooks = append(hooks, tp)
		}
	}
	if len(hooks) == 0 {
		return nil
	}

	phaseCtx, cancel := context.WithTimeout(ensureContext(ctx), tm.phaseTimeout)
	defer cancel()

	// Fastpath.
	if len(hooks) == 1 {
		err := action(phaseCtx, hooks[0])
		if phaseCtx.Err() == context.DeadlineExceeded {
			return ErrPhaseTimeout
		}
		return err
	}

	var mu sync.Mutex
	var all error
	var wg sync.WaitGroup
	for _, h := range hooks {
		wg.Add(1)
		go func(h backend.TwoPhase) {
			defer wg.Done()
			if err := action(phaseCtx, h); err != nil {
				mu.Lock()
				all = multierr.Append(all, err)
				mu.Unlock()
			}
		}(h)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return all
	case <-phaseCtx.Done():
		// The whole phase is judged failed; stragglers will observe
		// the cancelled context and unwind on their own.
		return ErrPhaseTimeout
	}
}
