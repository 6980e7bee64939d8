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

import "sync"

// Registry indexes live transaction managers so operational surfaces
// can inspect them by id. Registration is the caller's choice; a
// manager works fine unregistered.
type Registry struct {
	mu  sync.RWMutex
	txs map[string]*TxManager
}

func NewRegistry() *Registry {
	return &Registry{txs: make(map[string]*TxManager)}
}

func (r *Registry) Register(tx *TxManager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[tx.ID()] = tx
}

func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.txs, id)
}

func (r *Registry) Lookup(id string) (*TxManager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	return tx, ok
}

// Statuses snapshots every registered transaction.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.txs))
	for _, tx := range r.txs {
		out = append(out, tx.Status())
	}
	return out
}
