// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"time"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses Redis-backed storage for multi-replica deployments.
	TypeRedis Type = "redis"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type

	// AttemptTTL bounds the lifetime of stored authorization attempts.
	// Zero means DefaultAttemptTTL.
	AttemptTTL time.Duration

	// Redis holds connection settings when Type is TypeRedis.
	Redis RedisConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type: TypeMemory,
	}
}

// New builds a Store from the configuration.
func New(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Type {
	case TypeMemory, "":
		if cfg.AttemptTTL > 0 {
			return NewMemoryStore(WithAttemptTTL(cfg.AttemptTTL)), nil
		}
		return NewMemoryStore(), nil
	case TypeRedis:
		rc := cfg.Redis
		if rc.AttemptTTL == 0 {
			rc.AttemptTTL = cfg.AttemptTTL
		}
		return NewRedisStore(ctx, rc)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}
