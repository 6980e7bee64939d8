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

package routing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opencampus/dataplane/config"
)

// ReplicaType distinguishes read-only replicas, the only ones the
// router selects for reads, from read-write standbys kept in the pool
// for promotion.
type ReplicaType int

const (
	ReadOnly ReplicaType = iota
	ReadWrite
)

func (t ReplicaType) String() string {
	switch t {
	case ReadOnly:
		return "read_only"
	case ReadWrite:
		return "read_write"
	}
	return fmt.Sprintf("unknown-%d", int(t))
}

// ParseReplicaType maps the configuration strings. Anything not
// recognized is treated as read-only, the safe default.
func ParseReplicaType(s string) ReplicaType {
	if s == "read_write" {
		return ReadWrite
	}
	return ReadOnly
}

// Replica is one endpoint in the router pool.
//
// Healthy, LagSeconds and LastCheck are plain scalar fields written by
// the health-check loop and read without locks by concurrent
// selectors. A selector may observe a replica flip mid-selection; the
// selection is opportunistic, so the race is benign and accepted.
type Replica struct {
	ID     string
	Config config.ConnConfig
	Type   ReplicaType
	Weight int

	Healthy    bool
	LastCheck  time.Time
	LagSeconds float64

	conn Conn
}

func newReplica(cnf config.ReplicaConfig) *Replica {
	id := cnf.ID
	if id == "" {
		id = uuid.New().String()
	}
	return &Replica{
		ID:     id,
		Config: cnf.ConnConfig,
		Type:   ParseReplicaType(cnf.Type),
		Weight: cnf.SelectionWeight(),
	}
}

// Conn exposes the replica's owned connection.
func (r *Replica) Conn() Conn { return r.conn }

// ReplicaStat is the observability snapshot for one replica.
type ReplicaStat struct {
	ID         string    `json:"id"`
	Host       string    `json:"host"`
	Port       int       `json:"port"`
	Database   string    `json:"database"`
	Type       string    `json:"type"`
	Weight     int       `json:"weight"`
	Healthy    bool      `json:"healthy"`
	LagSeconds float64   `json:"lag_seconds"`
	LastCheck  time.Time `json:"last_check"`
}

func (r *Replica) stat() ReplicaStat {
	return ReplicaStat{
		ID:         r.ID,
		Host:       r.Config.Host,
		Port:       r.Config.Port,
		Database:   r.Config.Database,
		Type:       r.Type.String(),
		Weight:     r.Weight,
		Healthy:    r.Healthy,
		LagSeconds: r.LagSeconds,
		LastCheck:  r.LastCheck,
	}
}
