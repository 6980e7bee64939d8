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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/dataplane/backend"
	"github.com/opencampus/dataplane/testkit"
)

// failingAdapter rejects every operation with a fixed error.
type failingAdapter struct {
	name string
	err  error
}

func (f *failingAdapter) Name() string { return f.name }
func (f *failingAdapter) Execute(_ context.Context, _ backend.Operation) (*backend.Result, error) {
	return nil, f.err
}
func (f *failingAdapter) Close() error { return nil }

// blockingAdapter succeeds on Execute but hangs in every phase hook
// until the phase deadline cancels it.
type blockingAdapter struct {
	name string
}

func (b *blockingAdapter) Name() string { return b.name }
func (b *blockingAdapter) Execute(_ context.Context, _ backend.Operation) (*backend.Result, error) {
	return &backend.Result{RowsAffected: 1}, nil
}
func (b *blockingAdapter) Close() error { return nil }
func (b *blockingAdapter) PrepareTransaction(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
func (b *blockingAdapter) CommitTransaction(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
func (b *blockingAdapter) RollbackTransaction(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// recordingAdapter notes the key of every compensated operation.
type recordingAdapter struct {
	*backend.MemoryAdapter
	compensated []string
}

func newRecordingAdapter(name string) *recordingAdapter {
	return &recordingAdapter{MemoryAdapter: backend.NewMemoryAdapter(name)}
}

func (r *recordingAdapter) Compensate(ctx context.Context, op backend.Operation, result *backend.Result) error {
	r.compensated = append(r.compensated, op.Key)
	return r.MemoryAdapter.Compensate(ctx, op, result)
}

func insertOp(entity, key string, doc map[string]interface{}) backend.Operation {
	return backend.Operation{Kind: backend.OpInsert, Entity: entity, Key: key, Document: doc}
}

func TestCommitRecordsOperationsAcrossParticipants(t *testing.T) {
	ctx := context.Background()
	first := backend.NewMemoryAdapter("first")
	second := backend.NewMemoryAdapter("second")
	tx := NewTxManager()

	_, err := tx.Execute(ctx, first, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)
	_, err = tx.Execute(ctx, first, insertOp("users", "u2", map[string]interface{}{"name": "grace"}))
	require.NoError(t, err)
	_, err = tx.Execute(ctx, second, insertOp("events", "e1", map[string]interface{}{"kind": "signup"}))
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	status := tx.Status()
	assert.Equal(t, 3, status.OperationsCount)
	assert.True(t, status.Committed)
	assert.Equal(t, []string{"first", "second"}, status.Participants)

	p, c, r := first.PhaseCalls()
	assert.Equal(t, 1, p)
	assert.Equal(t, 1, c)
	assert.Equal(t, 0, r)
}

func TestCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryAdapter("store")
	tx := NewTxManager()

	_, err := tx.Execute(ctx, store, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Commit(ctx))

	_, commits, _ := store.PhaseCalls()
	assert.Equal(t, 1, commits, "second commit must be a no-op")
	assert.Equal(t, TxStateCommitted, tx.State())
}

func TestExecuteAfterConclusionRejected(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryAdapter("store")
	tx := NewTxManager()

	_, err := tx.Execute(ctx, store, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = tx.Execute(ctx, store, insertOp("users", "u2", map[string]interface{}{"name": "grace"}))
	assert.True(t, errors.Is(err, ErrTxConcluded))
}

func TestInvalidOperationNeverRegistersParticipant(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryAdapter("store")
	tx := NewTxManager()

	_, err := tx.Execute(ctx, store, backend.Operation{Kind: backend.OpInsert, Entity: "users"})
	assert.True(t, errors.Is(err, backend.ErrInvalidOperation))
	assert.Empty(t, tx.Status().Participants)
	assert.Equal(t, 0, tx.Status().OperationsCount)
}

func TestRollbackCompensatesInReverseOrder(t *testing.T) {
	ctx := context.Background()
	store := newRecordingAdapter("store")
	tx := NewTxManager()

	for _, key := range []string{"a", "b", "c"} {
		_, err := tx.Execute(ctx, store, insertOp("items", key, map[string]interface{}{"v": key}))
		require.NoError(t, err)
	}

	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, []string{"c", "b", "a"}, store.compensated)
	assert.Equal(t, TxStateAborted, tx.State())

	// A second rollback must not replay anything again.
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, []string{"c", "b", "a"}, store.compensated)
}

func TestRunPropagatesFailureAndCompensates(t *testing.T) {
	ctx := context.Background()
	good := backend.NewMemoryAdapter("good")
	boom := errors.New("relation does not exist")
	bad := &failingAdapter{name: "bad", err: boom}
	tx := NewTxManager()

	err := tx.Run(ctx, func(tx *TxManager) error {
		if _, err := tx.Execute(ctx, good, insertOp("users", "u1", map[string]interface{}{"name": "ada"})); err != nil {
			return err
		}
		_, err := tx.Execute(ctx, bad, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
		return err
	})
	require.Equal(t, boom, err, "the adapter's own error must propagate unmodified")
	assert.Equal(t, TxStateAborted, tx.State())

	// The successful insert on the good store was compensated away.
	res, ferr := good.Execute(ctx, backend.Operation{Kind: backend.OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, ferr)
	assert.Empty(t, res.Rows)
}

func TestRunCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryAdapter("store")
	tx := NewTxManager()

	err := tx.Run(ctx, func(tx *TxManager) error {
		_, err := tx.Execute(ctx, store, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, TxStateCommitted, tx.State())

	res, err := store.Execute(ctx, backend.Operation{Kind: backend.OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ada", res.Rows[0]["name"])
}

// commitFailingAdapter prepares fine but refuses the commit phase.
type commitFailingAdapter struct {
	*backend.MemoryAdapter
	commitErr error
}

func (c *commitFailingAdapter) CommitTransaction(context.Context, string) error {
	return c.commitErr
}

func TestRunRollsBackWhenCommitFails(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("commit refused")
	store := &commitFailingAdapter{MemoryAdapter: backend.NewMemoryAdapter("store"), commitErr: boom}
	tx := NewTxManager()

	err := tx.Run(ctx, func(tx *TxManager) error {
		_, err := tx.Execute(ctx, store, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
		return err
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, TxStateAborted, tx.State(), "a failed commit must not leave the transaction open")

	_, _, rollbacks := store.PhaseCalls()
	assert.Equal(t, 1, rollbacks)

	// The compensating delete removed the insert.
	res, err := store.Execute(ctx, backend.Operation{Kind: backend.OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestPhaseTimeoutFailsWholePhase(t *testing.T) {
	ctx := context.Background()
	slow := &blockingAdapter{name: "slow"}
	alsoSlow := &blockingAdapter{name: "also-slow"}
	tx := NewTxManager(WithPhaseTimeout(20 * time.Millisecond))

	_, err := tx.Execute(ctx, slow, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)
	_, err = tx.Execute(ctx, alsoSlow, insertOp("users", "u2", map[string]interface{}{"name": "grace"}))
	require.NoError(t, err)

	err = tx.Prepare(ctx)
	assert.True(t, errors.Is(err, ErrPhaseTimeout))
	assert.Equal(t, TxStatePending, tx.State())
}

func TestCloseRollsBackUnconcluded(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryAdapter("store")
	tx := NewTxManager()

	_, err := tx.Execute(ctx, store, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)

	tx.Close(ctx)
	assert.Equal(t, TxStateAborted, tx.State())

	res, err := store.Execute(ctx, backend.Operation{Kind: backend.OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestCloseAfterCommitIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := backend.NewMemoryAdapter("store")
	tx := NewTxManager()

	_, err := tx.Execute(ctx, store, insertOp("users", "u1", map[string]interface{}{"name": "ada"}))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	tx.Close(ctx)
	assert.Equal(t, TxStateCommitted, tx.State())
	_, _, rollbacks := store.PhaseCalls()
	assert.Equal(t, 0, rollbacks)
}

// mustMatchStatus diffs status snapshots, skipping the start
// timestamp.
var mustMatchStatus = testkit.MustMatchFn(nil, []string{"StartedAt"})

func TestStatusCarriesMetadata(t *testing.T) {
	tx := NewTxManager(WithMetadata("tenant", "acme"), WithPhaseTimeout(time.Second))
	mustMatchStatus(t, Status{
		TransactionID: tx.ID(),
		State:         "PENDING",
		Participants:  []string{},
		Metadata:      map[string]string{"tenant": "acme"},
	}, tx.Status(), "fresh transaction snapshot")
}
