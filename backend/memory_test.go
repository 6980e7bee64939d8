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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/dataplane/testkit"
)

func TestMemoryInsertFetchDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter("memory")

	res, err := store.Execute(ctx, Operation{
		Kind:     OpInsert,
		Entity:   "users",
		Key:      "u1",
		Document: map[string]interface{}{"name": "ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	res, err = store.Execute(ctx, Operation{Kind: OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	testkit.AssertRowHas(t, res.Rows[0], "name", "ada")

	res, err = store.Execute(ctx, Operation{Kind: OpDelete, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	require.Len(t, res.Rows, 1, "delete must capture the prior row")

	res, err = store.Execute(ctx, Operation{Kind: OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestMemoryDuplicateInsertFails(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter("memory")
	op := Operation{Kind: OpInsert, Entity: "users", Key: "u1", Document: map[string]interface{}{"name": "ada"}}

	_, err := store.Execute(ctx, op)
	require.NoError(t, err)
	_, err = store.Execute(ctx, op)
	assert.Error(t, err)
}

func TestMemoryFilterMatching(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter("memory")
	for _, u := range []struct {
		key    string
		name   string
		active bool
	}{{"u1", "ada", true}, {"u2", "grace", false}, {"u3", "edsger", true}} {
		_, err := store.Execute(ctx, Operation{
			Kind:     OpInsert,
			Entity:   "users",
			Key:      u.key,
			Document: map[string]interface{}{"name": u.name, "active": u.active},
		})
		require.NoError(t, err)
	}

	res, err := store.Execute(ctx, Operation{
		Kind:   OpFetchAll,
		Entity: "users",
		Filter: map[string]interface{}{"active": true},
	})
	require.NoError(t, err)
	// Map iteration gives no row order; compare as sets.
	testkit.AssertRowsMatch(t, []testkit.Row{
		{"name": "ada", "active": true},
		{"name": "edsger", "active": true},
	}, res.Rows)

	res, err = store.Execute(ctx, Operation{Kind: OpCount, Entity: "users", Filter: map[string]interface{}{"active": false}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Value)
}

func TestMemoryCommitRequiresPrepare(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter("memory")

	assert.Error(t, store.CommitTransaction(ctx, "tx-1"))

	require.NoError(t, store.PrepareTransaction(ctx, "tx-1"))
	require.NoError(t, store.CommitTransaction(ctx, "tx-1"))
	// Prepared marker is consumed.
	assert.Error(t, store.CommitTransaction(ctx, "tx-1"))
}

func TestMemoryCompensateRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter("memory")

	insert := Operation{Kind: OpInsert, Entity: "users", Key: "u1", Document: map[string]interface{}{"name": "ada"}}
	insRes, err := store.Execute(ctx, insert)
	require.NoError(t, err)

	update := Operation{Kind: OpUpdate, Entity: "users", Key: "u1", Document: map[string]interface{}{"name": "grace"}}
	updRes, err := store.Execute(ctx, update)
	require.NoError(t, err)

	// Undo the update: the prior value comes back.
	require.NoError(t, store.Compensate(ctx, update, updRes))
	res, err := store.Execute(ctx, Operation{Kind: OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ada", res.Rows[0]["name"])

	// Undo the insert: the row disappears.
	require.NoError(t, store.Compensate(ctx, insert, insRes))
	res, err = store.Execute(ctx, Operation{Kind: OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestMemoryRejectsRawStatements(t *testing.T) {
	_, err := NewMemoryAdapter("memory").Execute(context.Background(), Operation{
		Kind:      OpRaw,
		Statement: "TRUNCATE users",
	})
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

func TestOperationValidate(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		ok   bool
	}{
		{"insert ok", Operation{Kind: OpInsert, Entity: "users", Document: map[string]interface{}{"a": 1}}, true},
		{"insert missing document", Operation{Kind: OpInsert, Entity: "users"}, false},
		{"update missing key", Operation{Kind: OpUpdate, Entity: "users", Document: map[string]interface{}{"a": 1}}, false},
		{"delete ok", Operation{Kind: OpDelete, Entity: "users", Key: "u1"}, true},
		{"fetch missing key", Operation{Kind: OpFetch, Entity: "users"}, false},
		{"fetch all ok", Operation{Kind: OpFetchAll, Entity: "users"}, true},
		{"count missing entity", Operation{Kind: OpCount}, false},
		{"raw ok", Operation{Kind: OpRaw, Statement: "SELECT 1"}, true},
		{"raw missing statement", Operation{Kind: OpRaw}, false},
		{"unknown kind", Operation{Kind: OpKind(99)}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.op.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidOperation))
			}
		})
	}
}
