// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pingmesh/authgate/pkg/storage"
)

func testViper() *viper.Viper {
	v := viper.New()
	v.Set("address", ":8085")
	v.Set("public-url", "https://mcp.globalping.io")
	v.Set("callback-path", "/auth/callback")
	v.Set("allowed-origin", []string{"https://mcp.globalping.io", "http://localhost"})
	v.Set("upstream-authorize-url", "https://auth.globalping.io/oauth/authorize")
	v.Set("upstream-token-url", "https://auth.globalping.io/oauth/token")
	v.Set("upstream-introspect-url", "https://auth.globalping.io/oauth/token/info")
	v.Set("upstream-client-id", "gateway-client")
	v.Set("storage", "memory")
	v.Set("attempt-ttl", "10m")
	v.Set("refresh-skew", "5m")
	return v
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	cfg, err := buildConfig(testViper(), true)
	require.NoError(t, err)

	assert.Equal(t, ":8085", cfg.Address)
	assert.Equal(t, "https://mcp.globalping.io/auth/callback", cfg.Upstream.RedirectURI)
	assert.Equal(t, storage.TypeMemory, cfg.Storage.Type)
	assert.Equal(t, 10*time.Minute, cfg.AttemptTTL)
	assert.True(t, cfg.Debug)
}

func TestBuildConfig_MissingPublicURL(t *testing.T) {
	t.Parallel()

	v := testViper()
	v.Set("public-url", "")

	_, err := buildConfig(v, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public URL")
}

func TestBuildConfig_RedisSettings(t *testing.T) {
	t.Parallel()

	v := testViper()
	v.Set("storage", "redis")
	v.Set("redis-addr", "redis.internal:6379")
	v.Set("redis-key-prefix", "authgate:")

	cfg, err := buildConfig(v, false)
	require.NoError(t, err)
	assert.Equal(t, storage.TypeRedis, cfg.Storage.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "authgate:", cfg.Storage.Redis.KeyPrefix)
}
