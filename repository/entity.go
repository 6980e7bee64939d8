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

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencampus/dataplane/backend"
)

// ErrNotFound is returned when a record does not exist in the backing
// store.
var ErrNotFound = errors.New("record not found")

// AdapterBackend adapts a storage adapter to the generic Backend
// surface, with records as untyped documents.
type AdapterBackend struct {
	entity  string
	adapter backend.Adapter
}

var _ Backend[map[string]interface{}] = (*AdapterBackend)(nil)

func NewAdapterBackend(entity string, adapter backend.Adapter) *AdapterBackend {
	return &AdapterBackend{entity: entity, adapter: adapter}
}

func (b *AdapterBackend) FetchByID(ctx context.Context, id string) (map[string]interface{}, error) {
	res, err := b.adapter.Execute(ctx, backend.Operation{
		Kind:   backend.OpFetch,
		Entity: b.entity,
		Key:    id,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("%w: %s:%s", ErrNotFound, b.entity, id)
	}
	return res.Rows[0], nil
}

func (b *AdapterBackend) FetchList(ctx context.Context, filter map[string]interface{}) ([]map[string]interface{}, error) {
	res, err := b.adapter.Execute(ctx, backend.Operation{
		Kind:   backend.OpFetchAll,
		Entity: b.entity,
		Filter: filter,
	})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

func (b *AdapterBackend) Count(ctx context.Context, filter map[string]interface{}) (int64, error) {
	res, err := b.adapter.Execute(ctx, backend.Operation{
		Kind:   backend.OpCount,
		Entity: b.entity,
		Filter: filter,
	})
	if err != nil {
		return 0, err
	}
	n, _ := res.Value.(int64)
	return n, nil
}

// EntityRepository is the writable variant: cached reads plus write
// operations that invalidate after every write. Between the write
// completing and the invalidation landing a stale cached read is
// possible; that window is inherent to the advisory cache.
type EntityRepository struct {
	*Cached[map[string]interface{}]
	entity  string
	adapter backend.Adapter
}

// NewEntityRepository builds a writable repository over one adapter.
func NewEntityRepository(entity string, adapter backend.Adapter, store Store) *EntityRepository {
	return &EntityRepository{
		Cached:  New[map[string]interface{}](entity, NewAdapterBackend(entity, adapter), store),
		entity:  entity,
		adapter: adapter,
	}
}

func (r *EntityRepository) Create(ctx context.Context, id string, doc map[string]interface{}) (*backend.Result, error) {
	res, err := r.adapter.Execute(ctx, backend.Operation{
		Kind:     backend.OpInsert,
		Entity:   r.entity,
		Key:      id,
		Document: doc,
	})
	if err != nil {
		return nil, err
	}
	r.InvalidateID(id)
	return res, nil
}

func (r *EntityRepository) Update(ctx context.Context, id string, doc map[string]interface{}) (*backend.Result, error) {
	res, err := r.adapter.Execute(ctx, backend.Operation{
		Kind:     backend.OpUpdate,
		Entity:   r.entity,
		Key:      id,
		Document: doc,
	})
	if err != nil {
		return nil, err
	}
	r.InvalidateID(id)
	return res, nil
}

func (r *EntityRepository) Delete(ctx context.Context, id string) (*backend.Result, error) {
	res, err := r.adapter.Execute(ctx, backend.Operation{
		Kind:   backend.OpDelete,
		Entity: r.entity,
		Key:    id,
	})
	if err != nil {
		return nil, err
	}
	r.InvalidateID(id)
	return res, nil
}
