// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStoreWithClient(client, "authgate:test:", 0), mr
}

func TestRedisStore_ConsumeAuthorizationAttempt(t *testing.T) {
	t.Parallel()
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	attempt := testAttempt("state-r1")
	require.NoError(t, s.PutAuthorizationAttempt(ctx, attempt.State, attempt))

	got, err := s.ConsumeAuthorizationAttempt(ctx, attempt.State)
	require.NoError(t, err)
	assert.Equal(t, attempt.State, got.State)
	assert.Equal(t, attempt.CodeVerifier, got.CodeVerifier)
	assert.Equal(t, attempt.ClientID, got.ClientID)
	assert.JSONEq(t, string(attempt.OriginalRequest), string(got.OriginalRequest))

	// GETDEL removed the key; a replayed callback sees nothing.
	_, err = s.ConsumeAuthorizationAttempt(ctx, attempt.State)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_AttemptTTL(t *testing.T) {
	t.Parallel()
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	attempt := testAttempt("state-ttl")
	require.NoError(t, s.PutAuthorizationAttempt(ctx, attempt.State, attempt))

	// The key carries the attempt TTL.
	ttl := mr.TTL("authgate:test:attempt:state-ttl")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)

	// After the TTL elapses the entry is unreadable.
	mr.FastForward(11 * time.Minute)
	_, err := s.ConsumeAuthorizationAttempt(ctx, attempt.State)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_TokenRoundTrip(t *testing.T) {
	t.Parallel()
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	tok := testToken("access-r1", 3600)
	require.NoError(t, s.PutToken(ctx, tok.AccessToken, tok))

	// TTL tracks the token's remaining lifetime.
	ttl := mr.TTL("authgate:test:token:access-r1")
	assert.Greater(t, ttl, 59*time.Minute)

	got, err := s.GetToken(ctx, "access-r1")
	require.NoError(t, err)
	assert.Equal(t, tok.RefreshToken, got.RefreshToken)
	assert.Equal(t, "Bearer", got.TokenType)
	assert.Equal(t, "measurements", got.Scope)

	require.NoError(t, s.DeleteToken(ctx, "access-r1"))
	_, err = s.GetToken(ctx, "access-r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteToken(ctx, "access-r1"), ErrNotFound)
}

func TestRedisStore_TokenExpiresWithStore(t *testing.T) {
	t.Parallel()
	s, mr := newTestRedisStore(t)
	ctx := context.Background()

	tok := testToken("access-exp", 60)
	require.NoError(t, s.PutToken(ctx, tok.AccessToken, tok))

	mr.FastForward(2 * time.Minute)
	_, err := s.GetToken(ctx, "access-exp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_PutToken_AlreadyExpired(t *testing.T) {
	t.Parallel()
	s, _ := newTestRedisStore(t)
	ctx := context.Background()

	tok := testToken("access-dead", 60)
	tok.CreatedAt = time.Now().Add(-time.Hour)
	assert.Error(t, s.PutToken(ctx, tok.AccessToken, tok))
}

func TestRedisStore_KeyPrefixIsolation(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	a := NewRedisStoreWithClient(client, "authgate:a:", 0)
	b := NewRedisStoreWithClient(client, "authgate:b:", 0)
	ctx := context.Background()

	attempt := testAttempt("shared-state")
	require.NoError(t, a.PutAuthorizationAttempt(ctx, attempt.State, attempt))

	_, err := b.ConsumeAuthorizationAttempt(ctx, "shared-state")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = a.ConsumeAuthorizationAttempt(ctx, "shared-state")
	assert.NoError(t, err)
}

func TestNewRedisStore_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewRedisStore(context.Background(), RedisConfig{})
	assert.Error(t, err)

	_, err = NewRedisStore(context.Background(), RedisConfig{Addr: "localhost:6379"})
	assert.Error(t, err, "key prefix is required")
}
