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

	"github.com/emirpasic/gods/stacks/arraystack"

	"github.com/opencampus/dataplane/backend"
)

// compensation is an explicit undo record: the adapter that performed
// the operation, the operation itself, and the result it produced.
// Records are data, not closures, and are replayed by replayAll.
type compensation struct {
	adapterName string
	compensator backend.Compensator
	op          backend.Operation
	result      *backend.Result
}

// compensationStack holds undo records in registration order and
// replays them LIFO.
type compensationStack struct {
	stack *arraystack.Stack
}

func newCompensationStack() *compensationStack {
	return &compensationStack{stack: arraystack.New()}
}

func (cs *compensationStack) push(c compensation) {
	cs.stack.Push(c)
}

func (cs *compensationStack) size() int {
	return cs.stack.Size()
}

// replayAll pops and applies every recorded compensation in reverse
// registration order. Failures are logged per action and never stop
// the replay; the count of failed actions is returned for telemetry.
func (cs *compensationStack) replayAll(ctx context.Context, txID string) int {
	failed := 0
	for {
		v, ok := cs.stack.Pop()
		if !ok {
			return failed
		}
		c := v.(compensation)
		if err := c.compensator.Compensate(ctx, c.op, c.result); err != nil {
			failed++
			log.Errorf("transaction %s: compensation of %s on %s failed: %v",
				txID, c.op.Kind, c.adapterName, err)
		}
	}
}
