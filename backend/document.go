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
	"fmt"
	"sort"
	"strings"

	surrealdb "github.com/surrealdb/surrealdb.go"
)

// DocumentAdapter executes operations against a SurrealDB document
// store. It has no two-phase support; the coordinator treats it as a
// best-effort participant whose inserts can still be compensated.
type DocumentAdapter struct {
	name string
	db   documentClient
}

// documentClient is the slice of the SurrealDB driver surface the
// adapter uses. Narrowed for test fakes.
type documentClient interface {
	Create(thing string, data interface{}) (interface{}, error)
	Change(what string, data interface{}) (interface{}, error)
	Delete(what string) (interface{}, error)
	Select(what string) (interface{}, error)
	Query(sql string, vars interface{}) (interface{}, error)
	Close()
}

var _ documentClient = (*surrealdb.DB)(nil)

var _ Adapter = (*DocumentAdapter)(nil)
var _ Compensator = (*DocumentAdapter)(nil)

// NewDocumentAdapter connects to the document store and selects the
// given namespace and database.
func NewDocumentAdapter(url, namespace, database string) (*DocumentAdapter, error) {
	db, err := surrealdb.New(url)
	if err != nil {
		return nil, err
	}
	if _, err := db.Use(namespace, database); err != nil {
		db.Close()
		return nil, err
	}
	return NewDocumentAdapterWithClient(db), nil
}

// NewDocumentAdapterWithClient wraps an existing client connection.
func NewDocumentAdapterWithClient(db documentClient) *DocumentAdapter {
	return &DocumentAdapter{name: "document", db: db}
}

func (a *DocumentAdapter) Name() string { return a.name }

func (a *DocumentAdapter) Close() error {
	a.db.Close()
	return nil
}

func (a *DocumentAdapter) Execute(ctx context.Context, op Operation) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch op.Kind {
	case OpInsert:
		raw, err := a.db.Create(a.thing(op), op.Document)
		return wrapDocResult(raw, err)
	case OpUpdate:
		raw, err := a.db.Change(a.thing(op), op.Document)
		return wrapDocResult(raw, err)
	case OpDelete:
		raw, err := a.db.Delete(a.thing(op))
		return wrapDocResult(raw, err)
	case OpFetch:
		raw, err := a.db.Select(a.thing(op))
		return wrapDocResult(raw, err)
	case OpFetchAll:
		return a.fetchAll(op)
	case OpCount:
		raw, err := a.db.Query(fmt.Sprintf("SELECT count() FROM %s GROUP ALL", op.Entity), nil)
		return wrapDocResult(raw, err)
	case OpRaw:
		raw, err := a.db.Query(op.Statement, op.Filter)
		return wrapDocResult(raw, err)
	}
	return nil, fmt.Errorf("%w: kind %d", ErrInvalidOperation, int(op.Kind))
}

func (a *DocumentAdapter) fetchAll(op Operation) (*Result, error) {
	if len(op.Filter) == 0 {
		raw, err := a.db.Select(op.Entity)
		return wrapDocResult(raw, err)
	}
	fields := make([]string, 0, len(op.Filter))
	for k := range op.Filter {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	conds := make([]string, len(fields))
	for i, f := range fields {
		conds[i] = fmt.Sprintf("%s = $%s", f, f)
	}
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s", op.Entity, strings.Join(conds, " AND "))
	raw, err := a.db.Query(sql, op.Filter)
	return wrapDocResult(raw, err)
}

func (a *DocumentAdapter) CanCompensate(kind OpKind) bool {
	return kind == OpInsert
}

// Compensate removes a document created inside an aborted transaction.
func (a *DocumentAdapter) Compensate(ctx context.Context, op Operation, result *Result) error {
	if op.Kind != OpInsert {
		return fmt.Errorf("operation %s is not compensable", op.Kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.db.Delete(a.thing(op))
	return err
}

// thing renders "entity" or "entity:key" record addresses.
func (a *DocumentAdapter) thing(op Operation) string {
	if op.Key == "" {
		return op.Entity
	}
	return op.Entity + ":" + op.Key
}

func wrapDocResult(raw interface{}, err error) (*Result, error) {
	if err != nil {
		return nil, err
	}
	res := &Result{Value: raw}
	switch v := raw.(type) {
	case map[string]interface{}:
		res.Rows = []map[string]interface{}{v}
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				res.Rows = append(res.Rows, m)
			}
		}
	}
	return res, nil
}
