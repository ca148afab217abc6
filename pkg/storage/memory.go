// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pingmesh/authgate/pkg/logger"
)

// timedEntry wraps a value with its creation time for TTL tracking.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStore implements Store with in-memory maps.
// This implementation is thread-safe and suitable for single-instance
// deployments and testing. Multi-instance deployments need the Redis backend
// so every replica observes the same single-use consume.
type MemoryStore struct {
	mu sync.RWMutex

	// attempts maps state value -> in-flight authorization attempt.
	attempts map[string]*timedEntry[*AuthorizationAttempt]

	// tokens maps access-token value -> upstream token set.
	tokens map[string]*timedEntry[*UpstreamToken]

	attemptTTL      time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
}

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// WithAttemptTTL overrides the TTL applied to authorization attempts.
// Intended for tests that need to observe expiry without waiting.
func WithAttemptTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.attemptTTL = ttl
	}
}

// NewMemoryStore creates a new MemoryStore with initialized maps and starts
// the background cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		attempts:        make(map[string]*timedEntry[*AuthorizationAttempt]),
		tokens:          make(map[string]*timedEntry[*UpstreamToken]),
		attemptTTL:      DefaultAttemptTTL,
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Ping is a no-op for in-memory storage since it is always available.
func (*MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries.
// Uses collect-then-delete: expired keys are collected under read lock,
// then deleted under write lock to minimize write lock hold time.
func (s *MemoryStore) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()

	var expiredAttempts []string
	for k, v := range s.attempts {
		if now.After(v.expiresAt) {
			expiredAttempts = append(expiredAttempts, k)
		}
	}

	var expiredTokens []string
	for k, v := range s.tokens {
		if now.After(v.expiresAt) {
			expiredTokens = append(expiredTokens, k)
		}
	}

	s.mu.RUnlock()

	if len(expiredAttempts) == 0 && len(expiredTokens) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredAttempts {
		delete(s.attempts, k)
	}
	for _, k := range expiredTokens {
		delete(s.tokens, k)
	}
}

// PutAuthorizationAttempt stores an in-flight authorization attempt keyed by
// its state value.
func (s *MemoryStore) PutAuthorizationAttempt(_ context.Context, state string, attempt *AuthorizationAttempt) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if attempt == nil {
		return errors.New("attempt cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	s.attempts[state] = &timedEntry[*AuthorizationAttempt]{
		value:     copyAttempt(attempt),
		createdAt: now,
		expiresAt: now.Add(s.attemptTTL),
	}
	return nil
}

// ConsumeAuthorizationAttempt removes and returns the attempt stored under
// state. Removal happens under the same write lock as the lookup, so of two
// concurrent callbacks carrying the same state exactly one gets the attempt
// and the other gets ErrNotFound.
func (s *MemoryStore) ConsumeAuthorizationAttempt(_ context.Context, state string) (*AuthorizationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.attempts[state]
	if !ok {
		logger.Debugw("authorization attempt not found")
		return nil, fmt.Errorf("%w: authorization attempt", ErrNotFound)
	}

	delete(s.attempts, state)

	if time.Now().After(entry.expiresAt) {
		logger.Debugw("authorization attempt expired")
		return nil, ErrExpired
	}

	return copyAttempt(entry.value), nil
}

// PutToken stores an upstream token set keyed by its access-token value.
// The entry lives exactly as long as the token's remaining lifetime.
func (s *MemoryStore) PutToken(_ context.Context, accessToken string, token *UpstreamToken) error {
	if accessToken == "" {
		return errors.New("access token cannot be empty")
	}
	if token == nil {
		return errors.New("token cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	s.tokens[accessToken] = &timedEntry[*UpstreamToken]{
		value:     copyToken(token),
		createdAt: now,
		expiresAt: token.ExpiresAt(),
	}
	return nil
}

// GetToken retrieves an upstream token set by access-token value.
// Returns a defensive copy to prevent aliasing issues.
func (s *MemoryStore) GetToken(_ context.Context, accessToken string) (*UpstreamToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[accessToken]
	if !ok {
		return nil, fmt.Errorf("%w: upstream token", ErrNotFound)
	}

	if time.Now().After(entry.expiresAt) {
		return nil, ErrExpired
	}

	return copyToken(entry.value), nil
}

// DeleteToken removes the token stored under accessToken.
func (s *MemoryStore) DeleteToken(_ context.Context, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[accessToken]; !ok {
		return fmt.Errorf("%w: upstream token", ErrNotFound)
	}
	delete(s.tokens, accessToken)
	return nil
}

// copyAttempt makes a defensive copy to prevent aliasing issues.
func copyAttempt(a *AuthorizationAttempt) *AuthorizationAttempt {
	if a == nil {
		return nil
	}
	cp := *a
	cp.OriginalRequest = bytes.Clone(a.OriginalRequest)
	return &cp
}

// copyToken makes a defensive copy to prevent aliasing issues.
func copyToken(t *UpstreamToken) *UpstreamToken {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
