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
	"fmt"
	"sort"
	"strings"
	"sync"

	_ "github.com/lib/pq"

	"github.com/opencampus/dataplane/config"
	"github.com/opencampus/dataplane/logging"
)

var pgLog = logging.GetLogger("backend.postgres")

// PostgresAdapter executes operations against a relational store.
// It supports the full two-phase contract through PREPARE TRANSACTION,
// which requires max_prepared_transactions > 0 on the server.
//
// PREPARE TRANSACTION only works on the session holding the open
// transaction block, so the adapter pins one pool connection on the
// first Execute, runs BEGIN and every subsequent operation on it, and
// releases it once the transaction is prepared or rolled back. COMMIT
// PREPARED and ROLLBACK PREPARED act on a transaction that already
// survives its session, so they go through the pool.
type PostgresAdapter struct {
	name    string
	pkField string
	db      *sql.DB

	mu       sync.Mutex
	conn     *sql.Conn
	inTx     bool
	prepared bool
}

var _ Adapter = (*PostgresAdapter)(nil)
var _ TwoPhase = (*PostgresAdapter)(nil)
var _ Compensator = (*PostgresAdapter)(nil)

// NewPostgresAdapter opens a connection pool for the given endpoint.
func NewPostgresAdapter(cnf config.ConnConfig) (*PostgresAdapter, error) {
	db, err := sql.Open("postgres", cnf.DSN())
	if err != nil {
		return nil, err
	}
	return NewPostgresAdapterWithDB(db), nil
}

// NewPostgresAdapterWithDB wraps an existing pool. The adapter takes
// ownership and closes it in Close.
func NewPostgresAdapterWithDB(db *sql.DB) *PostgresAdapter {
	return &PostgresAdapter{
		name:    "postgres",
		pkField: "id",
		db:      db,
	}
}

func (a *PostgresAdapter) Name() string { return a.name }

func (a *PostgresAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inTx {
		_, _ = a.conn.ExecContext(context.Background(), "ROLLBACK")
	}
	a.releaseLocked()
	return a.db.Close()
}

// beginLocked pins a pool connection and opens the transaction block
// on it. Idempotent across Execute calls of one transaction.
func (a *PostgresAdapter) beginLocked(ctx context.Context) error {
	if a.conn == nil {
		conn, err := a.db.Conn(ctx)
		if err != nil {
			return err
		}
		a.conn = conn
	}
	if !a.inTx {
		if _, err := a.conn.ExecContext(ctx, "BEGIN"); err != nil {
			return err
		}
		a.inTx = true
	}
	return nil
}

func (a *PostgresAdapter) releaseLocked() {
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
	a.inTx = false
}

func (a *PostgresAdapter) Execute(ctx context.Context, op Operation) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.beginLocked(ctx); err != nil {
		return nil, err
	}
	switch op.Kind {
	case OpInsert:
		return a.insert(ctx, a.conn, op)
	case OpUpdate:
		return a.update(ctx, a.conn, op)
	case OpDelete:
		return a.delete(ctx, a.conn, op)
	case OpFetch:
		return a.fetch(ctx, a.conn, op)
	case OpFetchAll:
		return a.fetchAll(ctx, a.conn, op)
	case OpCount:
		return a.count(ctx, a.conn, op)
	case OpRaw:
		return a.raw(ctx, a.conn, op)
	}
	return nil, fmt.Errorf("%w: kind %d", ErrInvalidOperation, int(op.Kind))
}

// sqlExecutor abstracts the pinned session and the pool; *sql.Conn
// and *sql.DB both satisfy it.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (a *PostgresAdapter) insert(ctx context.Context, sess sqlExecutor, op Operation) (*Result, error) {
	cols := sortedKeys(op.Document)
	placeholders := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = op.Document[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		op.Entity, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	res, err := sess.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &Result{RowsAffected: affected, Value: op.Document[a.pkField]}, nil
}

func (a *PostgresAdapter) update(ctx context.Context, sess sqlExecutor, op Operation) (*Result, error) {
	cols := sortedKeys(op.Document)
	sets := make([]string, len(cols))
	args := make([]interface{}, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
		args = append(args, op.Document[c])
	}
	args = append(args, op.Key)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d",
		op.Entity, strings.Join(sets, ", "), a.pkField, len(cols)+1)
	res, err := sess.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &Result{RowsAffected: affected}, nil
}

// delete captures the victim row before removing it, so the operation
// stays compensable.
func (a *PostgresAdapter) delete(ctx context.Context, sess sqlExecutor, op Operation) (*Result, error) {
	prior, err := a.fetch(ctx, sess, Operation{Kind: OpFetch, Entity: op.Entity, Key: op.Key})
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", op.Entity, a.pkField)
	res, err := sess.ExecContext(ctx, query, op.Key)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &Result{Rows: prior.Rows, RowsAffected: affected}, nil
}

func (a *PostgresAdapter) fetch(ctx context.Context, sess sqlExecutor, op Operation) (*Result, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", op.Entity, a.pkField)
	rows, err := sess.QueryContext(ctx, query, op.Key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	maps, err := rowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	return &Result{Rows: maps}, nil
}

func (a *PostgresAdapter) fetchAll(ctx context.Context, sess sqlExecutor, op Operation) (*Result, error) {
	query, args := buildSelect("SELECT *", op, a.pkField)
	rows, err := sess.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	maps, err := rowsToMaps(rows)
	if err != nil {
		return nil, err
	}
	return &Result{Rows: maps}, nil
}

func (a *PostgresAdapter) count(ctx context.Context, sess sqlExecutor, op Operation) (*Result, error) {
	query, args := buildSelect("SELECT COUNT(*)", op, a.pkField)
	var n int64
	if err := sess.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return nil, err
	}
	return &Result{Value: n}, nil
}

func (a *PostgresAdapter) raw(ctx context.Context, sess sqlExecutor, op Operation) (*Result, error) {
	res, err := sess.ExecContext(ctx, op.Statement, op.Args...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &Result{RowsAffected: affected}, nil
}

// PrepareTransaction votes yes by parking the session work in a
// prepared transaction named after the coordinator's id. It must run
// on the pinned session: the server rejects PREPARE TRANSACTION
// outside an open transaction block. The prepared transaction then
// survives the session, which goes back to the pool.
func (a *PostgresAdapter) PrepareTransaction(ctx context.Context, transactionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inTx {
		return fmt.Errorf("transaction %s has no open transaction block to prepare", transactionID)
	}
	_, err := a.conn.ExecContext(ctx, fmt.Sprintf("PREPARE TRANSACTION '%s'", escapeTxID(transactionID)))
	if err != nil {
		// The block is aborted on the server; settle it before the
		// connection returns to the pool.
		_, _ = a.conn.ExecContext(ctx, "ROLLBACK")
	} else {
		a.prepared = true
	}
	a.releaseLocked()
	return err
}

func (a *PostgresAdapter) CommitTransaction(ctx context.Context, transactionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.db.ExecContext(ctx, fmt.Sprintf("COMMIT PREPARED '%s'", escapeTxID(transactionID)))
	if err == nil {
		a.prepared = false
	}
	return err
}

func (a *PostgresAdapter) RollbackTransaction(ctx context.Context, transactionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inTx {
		// Prepare never ran; the open block dies with a plain rollback.
		_, err := a.conn.ExecContext(ctx, "ROLLBACK")
		a.releaseLocked()
		return err
	}
	if !a.prepared {
		return nil
	}
	_, err := a.db.ExecContext(ctx, fmt.Sprintf("ROLLBACK PREPARED '%s'", escapeTxID(transactionID)))
	if err == nil {
		a.prepared = false
	}
	return err
}

func (a *PostgresAdapter) CanCompensate(kind OpKind) bool {
	return kind == OpInsert || kind == OpDelete
}

// Compensate undoes a completed operation: inserts are deleted by key,
// deletes are restored from the row captured in the original result.
// Compensation runs after the transaction is settled, so it goes
// through the pool.
func (a *PostgresAdapter) Compensate(ctx context.Context, op Operation, result *Result) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch op.Kind {
	case OpInsert:
		key := op.Key
		if key == "" {
			key = fmt.Sprintf("%v", op.Document[a.pkField])
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", op.Entity, a.pkField)
		_, err := a.db.ExecContext(ctx, query, key)
		return err
	case OpDelete:
		if result == nil || len(result.Rows) == 0 {
			pgLog.Warnf("cannot compensate delete on %s:%s, no captured row", op.Entity, op.Key)
			return nil
		}
		_, err := a.insert(ctx, a.db, Operation{Kind: OpInsert, Entity: op.Entity, Document: result.Rows[0]})
		return err
	}
	return fmt.Errorf("operation %s is not compensable", op.Kind)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildSelect(prefix string, op Operation, pkField string) (string, []interface{}) {
	query := fmt.Sprintf("%s FROM %s", prefix, op.Entity)
	if len(op.Filter) == 0 {
		return query, nil
	}
	cols := sortedKeys(op.Filter)
	conds := make([]string, len(cols))
	args := make([]interface{}, len(cols))
	for i, c := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", c, i+1)
		args[i] = op.Filter[c]
	}
	return query + " WHERE " + strings.Join(conds, " AND "), args
}

func rowsToMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// escapeTxID keeps coordinator ids safe to interpolate into the
// prepared-transaction statements, which do not take bind parameters.
func escapeTxID(id string) string {
	return strings.ReplaceAll(id, "'", "")
}
