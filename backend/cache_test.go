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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencampus/dataplane/config"
)

func newTestCache() *CacheAdapter {
	return NewCacheAdapter(config.Default().Cache)
}

func TestCacheSetAndFetch(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache()

	_, err := cache.Execute(ctx, Operation{
		Kind:     OpInsert,
		Entity:   "users",
		Key:      "u1",
		Document: map[string]interface{}{"name": "ada"},
	})
	require.NoError(t, err)

	res, err := cache.Execute(ctx, Operation{Kind: OpFetch, Entity: "users", Key: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "ada", res.Rows[0]["name"])
}

func TestCacheMissIsEmptyNotError(t *testing.T) {
	res, err := newTestCache().Execute(context.Background(), Operation{Kind: OpFetch, Entity: "users", Key: "ghost"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestCacheDeleteAndPrefixInvalidation(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache()

	for _, key := range []string{"u1", "u2"} {
		_, err := cache.Execute(ctx, Operation{
			Kind:     OpInsert,
			Entity:   "users",
			Key:      key,
			Document: map[string]interface{}{"k": key},
		})
		require.NoError(t, err)
	}
	_, err := cache.Execute(ctx, Operation{
		Kind:     OpInsert,
		Entity:   "events",
		Key:      "e1",
		Document: map[string]interface{}{"k": "e1"},
	})
	require.NoError(t, err)

	cache.InvalidatePrefix("users:")

	res, err := cache.Execute(ctx, Operation{Kind: OpCount, Entity: "users"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Value)

	res, err = cache.Execute(ctx, Operation{Kind: OpCount, Entity: "events"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Value)
}

func TestCacheRejectsRawStatements(t *testing.T) {
	_, err := newTestCache().Execute(context.Background(), Operation{Kind: OpRaw, Statement: "FLUSH"})
	assert.Error(t, err)
}

func TestCacheIsNotTransactional(t *testing.T) {
	var adapter Adapter = newTestCache()
	_, twoPhase := adapter.(TwoPhase)
	assert.False(t, twoPhase, "cache must stay outside the two-phase fan-out")
	_, compensator := adapter.(Compensator)
	assert.False(t, compensator, "cache operations are not compensable")
}
