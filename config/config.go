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

package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the data-access layer.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Router      RouterConfig      `yaml:"router"`
	Cache       CacheConfig       `yaml:"cache"`
	Admin       AdminConfig       `yaml:"admin"`
}

// CoordinatorConfig controls the transaction manager.
type CoordinatorConfig struct {
	// PhaseTimeoutSeconds bounds each prepare/commit/rollback fan-out
	// as a whole, not per participant.
	PhaseTimeoutSeconds int `yaml:"phaseTimeoutSeconds"`
}

func (c CoordinatorConfig) PhaseTimeout() time.Duration {
	return time.Duration(c.PhaseTimeoutSeconds) * time.Second
}

// RouterConfig controls the read-replica router.
type RouterConfig struct {
	HealthCheckIntervalSeconds int     `yaml:"healthCheckIntervalSeconds"`
	MaxProbeLatencySeconds     float64 `yaml:"maxProbeLatencySeconds"`
	MaxLagSeconds              float64 `yaml:"maxLagSeconds"`

	Primary  ConnConfig      `yaml:"primary"`
	Replicas []ReplicaConfig `yaml:"replicas"`
}

func (c RouterConfig) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// ConnConfig identifies one PostgreSQL endpoint.
type ConnConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslMode"`
}

// DSN renders the lib/pq connection string.
func (c ConnConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.User, c.Password, sslMode)
}

// ReplicaConfig describes one replica in the router pool.
type ReplicaConfig struct {
	ID         string `yaml:"id"`
	ConnConfig `yaml:",inline"`
	// Type is "read_only" or "read_write".
	Type string `yaml:"type"`
	// Weight tunes weighted read selection. A pointer separates an
	// omitted value, which defaults to 1, from an explicit 0 that
	// drains the replica.
	Weight *int `yaml:"weight"`
}

// SelectionWeight resolves the configured weight. Omitted means 1 so a
// replica serves reads without explicit tuning; negative values clamp
// to 0.
func (c ReplicaConfig) SelectionWeight() int {
	if c.Weight == nil {
		return 1
	}
	if *c.Weight < 0 {
		return 0
	}
	return *c.Weight
}

// CacheConfig controls the advisory repository cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttlSeconds"`
	Capacity   int `yaml:"capacity"`
	Shards     int `yaml:"shards"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AdminConfig controls the operational HTTP surface.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is found.
func Default() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			PhaseTimeoutSeconds: 30,
		},
		Router: RouterConfig{
			HealthCheckIntervalSeconds: 30,
			MaxProbeLatencySeconds:     5,
			MaxLagSeconds:              60,
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
			Capacity:   10000,
			Shards:     64,
		},
		Admin: AdminConfig{
			Listen: ":8601",
		},
	}
}
