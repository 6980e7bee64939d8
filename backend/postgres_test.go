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

package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelectWithoutFilter(t *testing.T) {
	query, args := buildSelect("SELECT *", Operation{Kind: OpFetchAll, Entity: "users"}, "id")
	assert.Equal(t, "SELECT * FROM users", query)
	assert.Empty(t, args)
}

func TestBuildSelectRendersFilterInSortedOrder(t *testing.T) {
	op := Operation{
		Kind:   OpFetchAll,
		Entity: "users",
		Filter: map[string]interface{}{"status": "active", "role": "admin"},
	}
	query, args := buildSelect("SELECT COUNT(*)", op, "id")
	assert.Equal(t, "SELECT COUNT(*) FROM users WHERE role = $1 AND status = $2", query)
	assert.Equal(t, []interface{}{"admin", "active"}, args)
}

func TestEscapeTxIDStripsQuotes(t *testing.T) {
	assert.Equal(t, "abc-123", escapeTxID("abc'-'123"))
	assert.Equal(t, "plain", escapeTxID("plain"))
}

// recordingDriver is a minimal database/sql driver that records every
// statement together with the session it ran on, so tests can assert
// which connection carried the transaction block.
type recordingDriver struct {
	rec *statementRecorder
}

type statementRecorder struct {
	mu    sync.Mutex
	conns int
	stmts []recordedStmt
}

type recordedStmt struct {
	conn  int
	query string
}

func (r *statementRecorder) record(conn int, query string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stmts = append(r.stmts, recordedStmt{conn: conn, query: query})
}

func (r *statementRecorder) statements() []recordedStmt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recordedStmt, len(r.stmts))
	copy(out, r.stmts)
	return out
}

func (d *recordingDriver) Open(string) (driver.Conn, error) {
	d.rec.mu.Lock()
	d.rec.conns++
	id := d.rec.conns
	d.rec.mu.Unlock()
	return &recordingConn{rec: d.rec, id: id}, nil
}

type recordingConn struct {
	rec *statementRecorder
	id  int
}

func (c *recordingConn) Prepare(query string) (driver.Stmt, error) {
	return &recordingStmt{conn: c, query: query}, nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) Begin() (driver.Tx, error) {
	return nil, errors.New("transactions are driven by explicit statements")
}

type recordingStmt struct {
	conn  *recordingConn
	query string
}

func (s *recordingStmt) Close() error  { return nil }
func (s *recordingStmt) NumInput() int { return -1 }

func (s *recordingStmt) Exec([]driver.Value) (driver.Result, error) {
	s.conn.rec.record(s.conn.id, s.query)
	return driver.RowsAffected(1), nil
}

func (s *recordingStmt) Query([]driver.Value) (driver.Rows, error) {
	s.conn.rec.record(s.conn.id, s.query)
	return &emptyRows{}, nil
}

type emptyRows struct{}

func (*emptyRows) Columns() []string         { return nil }
func (*emptyRows) Close() error              { return nil }
func (*emptyRows) Next([]driver.Value) error { return io.EOF }

func newRecordedAdapter(t *testing.T, name string) (*PostgresAdapter, *statementRecorder) {
	t.Helper()
	rec := &statementRecorder{}
	sql.Register(name, &recordingDriver{rec: rec})
	db, err := sql.Open(name, "")
	require.NoError(t, err)
	// One pooled connection keeps session ids deterministic.
	db.SetMaxOpenConns(1)
	adapter := NewPostgresAdapterWithDB(db)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter, rec
}

func TestPostgresPreparesOnTheSessionThatBegan(t *testing.T) {
	ctx := context.Background()
	adapter, rec := newRecordedAdapter(t, "recording-prepare")

	_, err := adapter.Execute(ctx, Operation{
		Kind:     OpInsert,
		Entity:   "users",
		Key:      "u1",
		Document: map[string]interface{}{"id": "u1", "name": "ada"},
	})
	require.NoError(t, err)
	_, err = adapter.Execute(ctx, Operation{
		Kind:     OpUpdate,
		Entity:   "users",
		Key:      "u1",
		Document: map[string]interface{}{"name": "lovelace"},
	})
	require.NoError(t, err)
	require.NoError(t, adapter.PrepareTransaction(ctx, "tx-1"))
	require.NoError(t, adapter.CommitTransaction(ctx, "tx-1"))

	stmts := rec.statements()
	require.NotEmpty(t, stmts)
	assert.Equal(t, "BEGIN", stmts[0].query)

	// BEGIN, both writes and PREPARE TRANSACTION share one session.
	session := stmts[0].conn
	var sawPrepare bool
	for _, s := range stmts {
		switch {
		case s.query == "BEGIN",
			strings.HasPrefix(s.query, "INSERT"),
			strings.HasPrefix(s.query, "UPDATE"),
			strings.HasPrefix(s.query, "PREPARE TRANSACTION"):
			assert.Equal(t, session, s.conn, "statement %q escaped the pinned session", s.query)
		}
		if s.query == "PREPARE TRANSACTION 'tx-1'" {
			sawPrepare = true
		}
	}
	assert.True(t, sawPrepare)
	assert.Equal(t, "COMMIT PREPARED 'tx-1'", stmts[len(stmts)-1].query)
}

func TestPostgresRollbackBeforePrepareEndsOpenBlock(t *testing.T) {
	ctx := context.Background()
	adapter, rec := newRecordedAdapter(t, "recording-rollback")

	_, err := adapter.Execute(ctx, Operation{
		Kind:     OpInsert,
		Entity:   "users",
		Key:      "u1",
		Document: map[string]interface{}{"id": "u1"},
	})
	require.NoError(t, err)
	require.NoError(t, adapter.RollbackTransaction(ctx, "tx-2"))

	stmts := rec.statements()
	require.NotEmpty(t, stmts)
	last := stmts[len(stmts)-1]
	assert.Equal(t, "ROLLBACK", last.query)
	assert.Equal(t, stmts[0].conn, last.conn, "rollback must settle the session that began")
	for _, s := range stmts {
		assert.NotContains(t, s.query, "ROLLBACK PREPARED")
	}
}

func TestPostgresRollbackWithoutWorkIsANoOp(t *testing.T) {
	adapter, rec := newRecordedAdapter(t, "recording-idle")
	require.NoError(t, adapter.RollbackTransaction(context.Background(), "tx-3"))
	assert.Empty(t, rec.statements())
}

func TestPostgresPrepareWithoutOpenBlockFails(t *testing.T) {
	adapter, _ := newRecordedAdapter(t, "recording-noblock")
	err := adapter.PrepareTransaction(context.Background(), "tx-4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no open transaction block")
}
