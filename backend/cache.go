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
	"strings"

	"github.com/viccon/sturdyc"

	"github.com/opencampus/dataplane/config"
)

// CacheAdapter presents the cache store through the common adapter
// contract. It is a non-transactional side-effect participant: it
// implements neither TwoPhase nor Compensator, so the coordinator only
// records its operations in the audit log. Atomicity guarantees never
// extend to it; invalidation is eventually consistent by design.
type CacheAdapter struct {
	name   string
	client *sturdyc.Client[interface{}]
}

var _ Adapter = (*CacheAdapter)(nil)

// NewCacheAdapter builds an in-process cache store.
func NewCacheAdapter(cnf config.CacheConfig) *CacheAdapter {
	capacity := cnf.Capacity
	if capacity <= 0 {
		capacity = 10000
	}
	shards := cnf.Shards
	if shards <= 0 {
		shards = 64
	}
	ttl := cnf.TTL()
	if ttl <= 0 {
		ttl = config.Default().Cache.TTL()
	}
	return &CacheAdapter{
		name:   "cache",
		client: sturdyc.New[interface{}](capacity, shards, ttl, 10),
	}
}

func (a *CacheAdapter) Name() string { return a.name }

func (a *CacheAdapter) Close() error { return nil }

func (a *CacheAdapter) Execute(ctx context.Context, op Operation) (*Result, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch op.Kind {
	case OpInsert, OpUpdate:
		a.client.Set(a.key(op), op.Document)
		return &Result{RowsAffected: 1}, nil
	case OpDelete:
		a.client.Delete(a.key(op))
		return &Result{RowsAffected: 1}, nil
	case OpFetch:
		v, ok := a.client.Get(a.key(op))
		if !ok {
			return &Result{}, nil
		}
		res := &Result{Value: v}
		if m, isMap := v.(map[string]interface{}); isMap {
			res.Rows = []map[string]interface{}{m}
		}
		return res, nil
	case OpFetchAll:
		return a.scan(op.Entity + ":")
	case OpCount:
		res, err := a.scan(op.Entity + ":")
		if err != nil {
			return nil, err
		}
		return &Result{Value: int64(len(res.Rows))}, nil
	case OpRaw:
		return nil, fmt.Errorf("%w: cache store does not execute raw statements", ErrInvalidOperation)
	}
	return nil, fmt.Errorf("%w: kind %d", ErrInvalidOperation, int(op.Kind))
}

// InvalidatePrefix drops every key under the prefix. Used by
// repositories for write invalidation.
func (a *CacheAdapter) InvalidatePrefix(prefix string) {
	for _, key := range a.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			a.client.Delete(key)
		}
	}
}

func (a *CacheAdapter) scan(prefix string) (*Result, error) {
	res := &Result{}
	for _, key := range a.client.ScanKeys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if v, ok := a.client.Get(key); ok {
			if m, isMap := v.(map[string]interface{}); isMap {
				res.Rows = append(res.Rows, m)
			}
		}
	}
	return res, nil
}

func (a *CacheAdapter) key(op Operation) string {
	return op.Entity + ":" + op.Key
}
