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
	"sync"
)

// MemoryAdapter is a complete in-process store. It carries the full
// two-phase and compensation contracts, which makes it the reference
// participant implementation and the default test double.
type MemoryAdapter struct {
	name string

	mu       sync.Mutex
	entities map[string]map[string]map[string]interface{}
	prepared map[string]bool

	// phase call counters, readable by tests and stats surfaces
	prepareCalls  int
	commitCalls   int
	rollbackCalls int
}

var _ Adapter = (*MemoryAdapter)(nil)
var _ TwoPhase = (*MemoryAdapter)(nil)
var _ Compensator = (*MemoryAdapter)(nil)

func NewMemoryAdapter(name string) *MemoryAdapter {
	return &MemoryAdapter{
		name:     name,
		entities: make(map[string]map[string]map[string]interface{}),
		prepared: make(map[string]bool),
	}
}

func (a *MemoryAdapter) Name() string { return a.name }

func (a *MemoryAdapter) Close() error { return nil }

func (a *MemoryAdapter) Execute(ctx context.Context, op Operation) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	switch op.Kind {
	case OpInsert:
		key := op.Key
		if key == "" {
			key = fmt.Sprintf("%v", op.Document["id"])
		}
		if key == "" || key == "<nil>" {
			return nil, fmt.Errorf("%w: memory insert requires a key or document id", ErrInvalidOperation)
		}
		if _, exists := a.table(op.Entity)[key]; exists {
			return nil, fmt.Errorf("duplicate key %s in %s", key, op.Entity)
		}
		a.table(op.Entity)[key] = cloneDoc(op.Document)
		return &Result{RowsAffected: 1, Value: key}, nil

	case OpUpdate:
		row, exists := a.table(op.Entity)[op.Key]
		if !exists {
			return &Result{}, nil
		}
		prior := cloneDoc(row)
		for k, v := range op.Document {
			row[k] = v
		}
		return &Result{RowsAffected: 1, Rows: []map[string]interface{}{prior}}, nil

	case OpDelete:
		row, exists := a.table(op.Entity)[op.Key]
		if !exists {
			return &Result{}, nil
		}
		delete(a.table(op.Entity), op.Key)
		return &Result{RowsAffected: 1, Rows: []map[string]interface{}{row}}, nil

	case OpFetch:
		row, exists := a.table(op.Entity)[op.Key]
		if !exists {
			return &Result{}, nil
		}
		return &Result{Rows: []map[string]interface{}{cloneDoc(row)}}, nil

	case OpFetchAll:
		res := &Result{}
		for _, row := range a.table(op.Entity) {
			if matchesFilter(row, op.Filter) {
				res.Rows = append(res.Rows, cloneDoc(row))
			}
		}
		return res, nil

	case OpCount:
		var n int64
		for _, row := range a.table(op.Entity) {
			if matchesFilter(row, op.Filter) {
				n++
			}
		}
		return &Result{Value: n}, nil

	case OpRaw:
		return nil, fmt.Errorf("%w: memory store does not execute raw statements", ErrInvalidOperation)
	}
	return nil, fmt.Errorf("%w: kind %d", ErrInvalidOperation, int(op.Kind))
}

func (a *MemoryAdapter) PrepareTransaction(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prepareCalls++
	a.prepared[transactionID] = true
	return nil
}

func (a *MemoryAdapter) CommitTransaction(ctx context.Context, transactionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commitCalls++
	if !a.prepared[transactionID] {
		return fmt.Errorf("transaction %s was not prepared", transactionID)
	}
	delete(a.prepared, transactionID)
	return nil
}

func (a *MemoryAdapter) RollbackTransaction(ctx context.Context, transactionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollbackCalls++
	delete(a.prepared, transactionID)
	return nil
}

func (a *MemoryAdapter) CanCompensate(kind OpKind) bool {
	return kind == OpInsert || kind == OpUpdate || kind == OpDelete
}

func (a *MemoryAdapter) Compensate(ctx context.Context, op Operation, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	switch op.Kind {
	case OpInsert:
		key := op.Key
		if key == "" && result != nil {
			key = fmt.Sprintf("%v", result.Value)
		}
		delete(a.table(op.Entity), key)
		return nil
	case OpUpdate, OpDelete:
		if result == nil || len(result.Rows) == 0 {
			return nil
		}
		key := op.Key
		a.table(op.Entity)[key] = cloneDoc(result.Rows[0])
		return nil
	}
	return fmt.Errorf("operation %s is not compensable", op.Kind)
}

// PhaseCalls reports how many times each phase hook has run.
func (a *MemoryAdapter) PhaseCalls() (prepare, commit, rollback int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.prepareCalls, a.commitCalls, a.rollbackCalls
}

// table returns the row map for the entity; the caller holds the lock.
func (a *MemoryAdapter) table(entity string) map[string]map[string]interface{} {
	t, ok := a.entities[entity]
	if !ok {
		t = make(map[string]map[string]interface{})
		a.entities[entity] = t
	}
	return t
}

func cloneDoc(doc map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func matchesFilter(row map[string]interface{}, filter map[string]interface{}) bool {
	for k, want := range filter {
		if row[k] != want {
			return false
		}
	}
	return true
}
