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
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/opencampus/dataplane/logging"
)

var log = logging.GetLogger("repository")

// maxLiteralKeyLen bounds cache keys before they collapse to a hash.
const maxLiteralKeyLen = 128

// Backend is the store-specific fetch surface a cached repository
// decorates. Implementations typically translate to one adapter.
type Backend[T any] interface {
	FetchByID(ctx context.Context, id string) (T, error)
	FetchList(ctx context.Context, filter map[string]interface{}) ([]T, error)
	Count(ctx context.Context, filter map[string]interface{}) (int64, error)
}

// Cached presents one read-through caching discipline over a backend.
//
// Only single-record reads are cached. ListAll and CountAll always hit
// the backend: caching collection views would serve stale membership
// far more visibly than a stale single record, so the trade-off is to
// not cache them at all.
//
// The cache is advisory. Every cache failure is logged and swallowed;
// correctness never depends on it. Writers must invalidate after every
// write, and a stale read remains possible in the window between a
// write completing and its invalidation landing. That window is an
// accepted eventual-consistency property, not something this layer
// papers over with locking.
type Cached[T any] struct {
	entity  string
	pkField string
	backend Backend[T]
	store   Store
}

// New builds a cached repository for the entity, keyed on "id".
func New[T any](entity string, backend Backend[T], store Store) *Cached[T] {
	return &Cached[T]{
		entity:  entity,
		pkField: "id",
		backend: backend,
		store:   store,
	}
}

// NewWithPK builds a cached repository keyed on a custom primary key
// field name.
func NewWithPK[T any](entity, pkField string, backend Backend[T], store Store) *Cached[T] {
	return &Cached[T]{
		entity:  entity,
		pkField: pkField,
		backend: backend,
		store:   store,
	}
}

// GetByID returns the record, serving it from cache when possible and
// populating the cache on a miss.
func (c *Cached[T]) GetByID(ctx context.Context, id string) (T, error) {
	key := c.Key(id)
	if data, ok := c.getFromCache(key); ok {
		var out T
		if err := msgpack.Unmarshal(data, &out); err == nil {
			return out, nil
		} else {
			log.Warnf("cache entry %s is undecodable, refetching: %v", key, err)
		}
	}

	out, err := c.backend.FetchByID(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	c.setCache(key, out)
	return out, nil
}

// GetByIDUncached bypasses the cache entirely, without repopulating it.
func (c *Cached[T]) GetByIDUncached(ctx context.Context, id string) (T, error) {
	return c.backend.FetchByID(ctx, id)
}

// ListAll passes straight through to the backend. Deliberately not
// cached; see the type comment.
func (c *Cached[T]) ListAll(ctx context.Context, filter map[string]interface{}) ([]T, error) {
	return c.backend.FetchList(ctx, filter)
}

// CountAll passes straight through to the backend.
func (c *Cached[T]) CountAll(ctx context.Context, filter map[string]interface{}) (int64, error) {
	return c.backend.Count(ctx, filter)
}

// InvalidateID drops the cached entry for one record. Mutating callers
// invoke this after every write.
func (c *Cached[T]) InvalidateID(id string) {
	if err := c.store.Delete(c.Key(id)); err != nil {
		log.Warnf("cache invalidate %s failed: %v", c.Key(id), err)
	}
}

// InvalidateAll drops every cached entry for the entity.
func (c *Cached[T]) InvalidateAll() {
	prefix := c.entity + ":"
	if err := c.store.DeletePrefix(prefix); err != nil {
		log.Warnf("cache invalidate prefix %s failed: %v", prefix, err)
	}
}

// Key renders the cache key for a record id. Oversized keys collapse
// to a hash to keep the key space bounded.
func (c *Cached[T]) Key(id string) string {
	key := fmt.Sprintf("%s:%s:%s", c.entity, c.pkField, id)
	if len(key) > maxLiteralKeyLen {
		return fmt.Sprintf("%s:%s:h%x", c.entity, c.pkField, xxhash.Sum64String(id))
	}
	return key
}

func (c *Cached[T]) getFromCache(key string) ([]byte, bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warnf("cache get %s panicked: %v", key, r)
		}
	}()
	return c.store.Get(key)
}

func (c *Cached[T]) setCache(key string, value T) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		log.Warnf("cache encode %s failed: %v", key, err)
		return
	}
	if err := c.store.Set(key, data); err != nil {
		log.Warnf("cache set %s failed: %v", key, err)
	}
}
