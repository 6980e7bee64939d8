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
	"strings"

	"github.com/viccon/sturdyc"

	"github.com/opencampus/dataplane/config"
)

// Store is the advisory cache surface repositories write through.
// Implementations may fail at any time; callers treat every error as
// a cache miss, never as a correctness problem.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
	DeletePrefix(prefix string) error
}

type sturdycStore struct {
	client *sturdyc.Client[[]byte]
}

// NewStore builds the default in-process cache store.
func NewStore(cnf config.CacheConfig) Store {
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
	return &sturdycStore{
		client: sturdyc.New[[]byte](capacity, shards, ttl, 10),
	}
}

func (s *sturdycStore) Get(key string) ([]byte, bool) {
	return s.client.Get(key)
}

func (s *sturdycStore) Set(key string, value []byte) error {
	s.client.Set(key, value)
	return nil
}

func (s *sturdycStore) Delete(key string) error {
	s.client.Delete(key)
	return nil
}

func (s *sturdycStore) DeletePrefix(prefix string) error {
	for _, key := range s.client.ScanKeys() {
		if strings.HasPrefix(key, prefix) {
			s.client.Delete(key)
		}
	}
	return nil
}
