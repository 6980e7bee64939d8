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
	"fmt"

	"github.com/opencampus/dataplane/util"
)

// RepositoryFactory builds a domain repository bound to the scope's
// transaction manager.
type RepositoryFactory func(tx *TxManager) interface{}

// UnitOfWork binds exactly one TxManager to a set of lazily
// constructed repositories so they share a single commit/rollback
// boundary. Like the manager it wraps, it is single-caller only.
type UnitOfWork struct {
	tx        *TxManager
	inScope   bool
	factories map[string]RepositoryFactory
	repos     map[string]interface{}
}

// NewUnitOfWork creates a unit of work owning one fresh TxManager.
func NewUnitOfWork(opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{
		tx:        NewTxManager(opts...),
		factories: make(map[string]RepositoryFactory),
		repos:     make(map[string]interface{}),
	}
}

// RegisterRepository registers a factory under name. The repository is
// constructed on first Repository call, inside an active scope.
func (u *UnitOfWork) RegisterRepository(name string, factory RepositoryFactory) {
	u.factories[name] = factory
}

// Repository returns the named repository, constructing it on first
// use against the shared transaction.
func (u *UnitOfWork) Repository(name string) (interface{}, error) {
	if repo, ok := u.repos[name]; ok {
		return repo, nil
	}
	factory, ok := u.factories[name]
	if !ok {
		return nil, fmt.Errorf("no repository registered under %q", name)
	}
	tx, err := u.Transaction()
	if err != nil {
		return nil, err
	}
	repo := factory(tx)
	u.repos[name] = repo
	return repo, nil
}

// Transaction returns the scope's manager. It fails outside an active
// scope.
func (u *UnitOfWork) Transaction() (*TxManager, error) {
	if !u.inScope || u.tx.State().Terminal() {
		return nil, util.Wrapf(ErrNoTransaction, "unit of work %s", u.tx.ID())
	}
	return u.tx, nil
}

// Commit concludes the shared boundary explicitly.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	tx, err := u.Transaction()
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Rollback aborts the shared boundary explicitly.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	tx, err := u.Transaction()
	if err != nil {
		return err
	}
	return tx.Rollback(ctx)
}

// Run executes fn inside the scope. Normal return commits, an error
// rolls back and propagates unchanged. The exit logic runs exactly
// once even when fn already concluded the transaction explicitly.
func (u *UnitOfWork) Run(ctx context.Context, fn func(uow *UnitOfWork) error) error {
	if u.inScope {
		return fmt.Errorf("unit of work %s: scope already active", u.tx.ID())
	}
	if u.tx.State().Terminal() {
		return util.Wrapf(ErrTxConcluded, "unit of work %s", u.tx.ID())
	}
	u.inScope = true
	defer func() { u.inScope = false }()

	if err := fn(u); err != nil {
		if !u.tx.State().Terminal() {
			_ = u.tx.Rollback(ctx)
		}
		return err
	}
	if u.tx.State().Terminal() {
		return nil
	}
	if err := u.tx.Commit(ctx); err != nil {
		_ = u.tx.Rollback(ctx)
		return err
	}
	return nil
}

// Status proxies the wrapped manager's snapshot.
func (u *UnitOfWork) Status() Status {
	return u.tx.Status()
}
