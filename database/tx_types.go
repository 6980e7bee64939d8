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
	"errors"
	"fmt"
	"time"

	"github.com/opencampus/dataplane/backend"
)

// TxState represents the state of a coordinated transaction.
type TxState int32

const (
	TxStatePending TxState = iota
	TxStatePrepared
	TxStateCommitted
	TxStateAborted
)

func (s TxState) String() string {
	names := [...]string{
		"PENDING",
		"PREPARED",
		"COMMITTED",
		"ABORTED"}

	if s < TxStatePending || s > TxStateAborted {
		return fmt.Sprintf("Unknown - %d", int(s))
	}
	return names[s]
}

// Terminal reports whether the state is sticky: no further Execute is
// permitted once the transaction is committed or aborted.
func (s TxState) Terminal() bool {
	return s == TxStateCommitted || s == TxStateAborted
}

var (
	// ErrTxConcluded is returned when Execute is called on a
	// transaction that already reached a terminal state.
	ErrTxConcluded = errors.New("transaction already concluded")

	// ErrPhaseTimeout is returned when a prepare/commit/rollback
	// fan-out misses its shared deadline. The whole phase is failed,
	// regardless of which participant was slow.
	ErrPhaseTimeout = errors.New("transaction phase timed out")

	// ErrNoTransaction is returned when a unit of work is used
	// outside an active scope.
	ErrNoTransaction = errors.New("no active transaction in scope")
)

// OperationRecord is one entry in the transaction audit log. Appended
// on every successful Execute, never mutated afterward.
type OperationRecord struct {
	Adapter   string
	Operation backend.Operation
	Result    *backend.Result
	At        time.Time
}

// Status is a read-only snapshot of a transaction manager, intended
// for logging and telemetry export, not for control flow.
type Status struct {
	TransactionID   string            `json:"transaction_id"`
	State           string            `json:"state"`
	Participants    []string          `json:"participants"`
	OperationsCount int               `json:"operations_count"`
	Committed       bool              `json:"committed"`
	Aborted         bool              `json:"aborted"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
}
