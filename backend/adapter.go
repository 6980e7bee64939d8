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
	"errors"
	"fmt"
)

// OpKind enumerates the operations an adapter can be asked to perform.
// The set is closed: dispatch inside adapters is an exhaustive switch,
// never a dynamic method lookup.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpFetch
	OpFetchAll
	OpCount
	OpRaw
)

var opKindNames = [...]string{
	"insert",
	"update",
	"delete",
	"fetch",
	"fetch_all",
	"count",
	"raw",
}

func (k OpKind) String() string {
	if k < OpInsert || k > OpRaw {
		return fmt.Sprintf("unknown-%d", int(k))
	}
	return opKindNames[k]
}

// Operation describes one store operation. Which fields are required
// depends on Kind; Validate enforces that before any adapter is touched.
type Operation struct {
	Kind   OpKind
	Entity string
	// Key is the primary key value, rendered as a string.
	Key string
	// Document carries column/field values for insert and update.
	Document map[string]interface{}
	// Filter carries equality conditions for fetch_all and count, and
	// named parameters for raw statements.
	Filter map[string]interface{}
	// Statement and Args are only used by OpRaw.
	Statement string
	Args      []interface{}
}

// ErrInvalidOperation is returned for structurally invalid operations,
// before the underlying store is touched.
var ErrInvalidOperation = errors.New("invalid storage operation")

// Validate checks the operation is structurally complete for its kind.
func (op Operation) Validate() error {
	switch op.Kind {
	case OpInsert:
		if op.Entity == "" || len(op.Document) == 0 {
			return fmt.Errorf("%w: insert requires entity and document", ErrInvalidOperation)
		}
	case OpUpdate:
		if op.Entity == "" || op.Key == "" || len(op.Document) == 0 {
			return fmt.Errorf("%w: update requires entity, key and document", ErrInvalidOperation)
		}
	case OpDelete:
		if op.Entity == "" || op.Key == "" {
			return fmt.Errorf("%w: delete requires entity and key", ErrInvalidOperation)
		}
	case OpFetch:
		if op.Entity == "" || op.Key == "" {
			return fmt.Errorf("%w: fetch requires entity and key", ErrInvalidOperation)
		}
	case OpFetchAll, OpCount:
		if op.Entity == "" {
			return fmt.Errorf("%w: %s requires entity", ErrInvalidOperation, op.Kind)
		}
	case OpRaw:
		if op.Statement == "" {
			return fmt.Errorf("%w: raw requires a statement", ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidOperation, int(op.Kind))
	}
	return nil
}

// Result is what an adapter returns from Execute. Fields not meaningful
// for the executed kind are left zero.
type Result struct {
	Rows         []map[string]interface{}
	RowsAffected int64
	// Value holds backend specific payloads, such as a generated key.
	Value interface{}
}

// Adapter is the minimal contract every backend store implements.
// Implementations own their connection handles; callers never close
// them through the coordination layer except via Close.
type Adapter interface {
	// Name identifies the adapter in participant registries and logs.
	Name() string
	Execute(ctx context.Context, op Operation) (*Result, error)
	Close() error
}

// TwoPhase is implemented by adapters able to take part in the
// prepare/commit/rollback phases of a coordinated transaction.
// Adapters without it are still usable through Execute, but only
// appear in the audit log.
type TwoPhase interface {
	PrepareTransaction(ctx context.Context, transactionID string) error
	CommitTransaction(ctx context.Context, transactionID string) error
	RollbackTransaction(ctx context.Context, transactionID string) error
}

// Compensator is implemented by adapters that can undo completed
// operations. The coordinator records {operation, result} pairs for
// every compensable operation and replays them LIFO on rollback.
type Compensator interface {
	CanCompensate(kind OpKind) bool
	Compensate(ctx context.Context, op Operation, result *Result) error
}
