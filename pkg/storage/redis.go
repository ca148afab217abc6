// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// Key type segments used to namespace entries within the key prefix.
const (
	keyTypeAttempt = "attempt"
	keyTypeToken   = "token"
)

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate against Redis ACLs. Optional.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces this deployment's keys, e.g. "authgate:prod:".
	KeyPrefix string

	// AttemptTTL overrides DefaultAttemptTTL when non-zero.
	AttemptTTL time.Duration

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *RedisConfig) validate() error {
	if c.Addr == "" {
		return errors.New("redis address is required")
	}
	if c.KeyPrefix == "" {
		return errors.New("key prefix is required")
	}
	return nil
}

// RedisStore implements Store with a Redis backend, enabling multiple gateway
// replicas to share attempt and token state. TTLs are enforced by Redis
// itself; consume uses GETDEL so two replicas can never both read the same
// attempt.
type RedisStore struct {
	client     redis.UniversalClient
	keyPrefix  string
	attemptTTL time.Duration
}

// Compile-time interface compliance check.
var _ Store = (*RedisStore)(nil)

// NewRedisStore creates Redis-backed storage.
// Returns an error if configuration validation fails or the connection
// cannot be established.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.AttemptTTL == 0 {
		cfg.AttemptTTL = DefaultAttemptTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{
		client:     client,
		keyPrefix:  cfg.KeyPrefix,
		attemptTTL: cfg.AttemptTTL,
	}, nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, attemptTTL time.Duration) *RedisStore {
	if attemptTTL == 0 {
		attemptTTL = DefaultAttemptTTL
	}
	return &RedisStore{
		client:     client,
		keyPrefix:  keyPrefix,
		attemptTTL: attemptTTL,
	}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(keyType, id string) string {
	return s.keyPrefix + keyType + ":" + id
}

// storedAttempt is the serialized wire form of an AuthorizationAttempt.
type storedAttempt struct {
	State             string          `json:"state"`
	CodeVerifier      string          `json:"code_verifier"`
	CodeChallenge     string          `json:"code_challenge"`
	ClientID          string          `json:"client_id"`
	ServerRedirectURI string          `json:"server_redirect_uri"`
	OriginalRequest   json.RawMessage `json:"original_request,omitempty"`
	CreatedAt         int64           `json:"created_at"`
}

// PutAuthorizationAttempt stores an in-flight authorization attempt keyed by
// its state value, with the attempt TTL enforced by Redis.
func (s *RedisStore) PutAuthorizationAttempt(ctx context.Context, state string, attempt *AuthorizationAttempt) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if attempt == nil {
		return errors.New("attempt cannot be nil")
	}

	stored := storedAttempt{
		State:             attempt.State,
		CodeVerifier:      attempt.CodeVerifier,
		CodeChallenge:     attempt.CodeChallenge,
		ClientID:          attempt.ClientID,
		ServerRedirectURI: attempt.ServerRedirectURI,
		OriginalRequest:   bytes.Clone(attempt.OriginalRequest),
		CreatedAt:         attempt.CreatedAt.Unix(),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization attempt: %w", err)
	}

	return s.client.Set(ctx, s.key(keyTypeAttempt, state), data, s.attemptTTL).Err()
}

// ConsumeAuthorizationAttempt removes and returns the attempt stored under
// state. GETDEL makes lookup and delete one atomic command, so a concurrent
// callback with the same state observes the key as already gone.
func (s *RedisStore) ConsumeAuthorizationAttempt(ctx context.Context, state string) (*AuthorizationAttempt, error) {
	data, err := s.client.GetDel(ctx, s.key(keyTypeAttempt, state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: authorization attempt", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to consume authorization attempt: %w", err)
	}

	var stored storedAttempt
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization attempt: %w", err)
	}

	createdAt := time.Unix(stored.CreatedAt, 0)

	// TTL should have evicted this already; double-check against clock skew.
	if time.Since(createdAt) > s.attemptTTL {
		return nil, ErrExpired
	}

	return &AuthorizationAttempt{
		State:             stored.State,
		CodeVerifier:      stored.CodeVerifier,
		CodeChallenge:     stored.CodeChallenge,
		ClientID:          stored.ClientID,
		ServerRedirectURI: stored.ServerRedirectURI,
		OriginalRequest:   stored.OriginalRequest,
		CreatedAt:         createdAt,
	}, nil
}

// storedToken is the serialized wire form of an UpstreamToken.
type storedToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	CreatedAt    int64  `json:"created_at"`
}

// PutToken stores an upstream token set keyed by its access-token value with
// TTL equal to the token's remaining lifetime.
func (s *RedisStore) PutToken(ctx context.Context, accessToken string, token *UpstreamToken) error {
	if accessToken == "" {
		return errors.New("access token cannot be empty")
	}
	if token == nil {
		return errors.New("token cannot be nil")
	}

	ttl := time.Until(token.ExpiresAt())
	if ttl <= 0 {
		return errors.New("token is already expired")
	}

	stored := storedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		ExpiresIn:    token.ExpiresIn,
		CreatedAt:    token.CreatedAt.Unix(),
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal upstream token: %w", err)
	}

	return s.client.Set(ctx, s.key(keyTypeToken, accessToken), data, ttl).Err()
}

// GetToken retrieves an upstream token set by access-token value.
// Returns a new UpstreamToken deserialized from Redis, which acts as a
// defensive copy - callers cannot modify the stored data by mutating the
// return value.
func (s *RedisStore) GetToken(ctx context.Context, accessToken string) (*UpstreamToken, error) {
	data, err := s.client.Get(ctx, s.key(keyTypeToken, accessToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: upstream token", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get upstream token: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upstream token: %w", err)
	}

	token := &UpstreamToken{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Scope:        stored.Scope,
		ExpiresIn:    stored.ExpiresIn,
		CreatedAt:    time.Unix(stored.CreatedAt, 0),
	}

	if token.IsExpired() {
		return nil, ErrExpired
	}

	return token, nil
}

// DeleteToken removes the token stored under accessToken.
func (s *RedisStore) DeleteToken(ctx context.Context, accessToken string) error {
	result, err := s.client.Del(ctx, s.key(keyTypeToken, accessToken)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete upstream token: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("%w: upstream token", ErrNotFound)
	}
	return nil
}
