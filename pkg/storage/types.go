// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the TTL-backed stores holding in-flight
// authorization attempts and issued upstream tokens.
package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultAttemptTTL is how long an authorization attempt may wait for the
// upstream callback before it expires.
const DefaultAttemptTTL = 10 * time.Minute

// DefaultCleanupInterval is how often the in-memory backend sweeps expired entries.
const DefaultCleanupInterval = 5 * time.Minute

var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrExpired is returned when an entry exists but its TTL has elapsed.
	ErrExpired = errors.New("expired")
)

// AuthorizationAttempt tracks a single in-flight authorization while the end
// user authenticates with the upstream OAuth server. It is keyed by State
// and consumable at most once.
type AuthorizationAttempt struct {
	// State is the opaque random value round-tripped through the upstream
	// redirect. It is both the storage key and a CSRF binding.
	State string `json:"state"`

	// CodeVerifier is the PKCE verifier. It never leaves this server.
	CodeVerifier string `json:"code_verifier"`

	// CodeChallenge is the PKCE challenge derived from CodeVerifier,
	// sent to the upstream authorization endpoint.
	CodeChallenge string `json:"code_challenge"`

	// ClientID is the identifier this gateway uses toward the upstream
	// OAuth server, not the downstream client's own id.
	ClientID string `json:"client_id"`

	// ServerRedirectURI is this gateway's own callback URL. The token
	// exchange must use this value byte-identical to the one sent in the
	// authorization request.
	ServerRedirectURI string `json:"server_redirect_uri"`

	// OriginalRequest is the opaque snapshot of the downstream client's
	// delegated-authorization request, produced by the downstream
	// authorization framework and passed through unmodified.
	OriginalRequest []byte `json:"original_request"`

	// CreatedAt is when the attempt was issued.
	CreatedAt time.Time `json:"created_at"`
}

// UpstreamToken is a token set issued by the upstream OAuth server, keyed in
// the token store by its access-token value. Entries are never mutated in
// place: a refresh writes a new entry keyed by the new access token.
type UpstreamToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`

	// ExpiresIn is the upstream-reported lifetime in seconds. It doubles
	// as the store entry's TTL.
	ExpiresIn int64 `json:"expires_in"`

	// CreatedAt is when the token was obtained.
	CreatedAt time.Time `json:"created_at"`
}

// ExpiresAt returns the absolute expiry time of the access token.
func (t *UpstreamToken) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// IsExpired returns true if the access token has expired.
// Returns true for nil receivers (treating nil tokens as expired).
func (t *UpstreamToken) IsExpired() bool {
	if t == nil {
		return true
	}
	return time.Now().After(t.ExpiresAt())
}

// ExpiresWithin reports whether the access token expires within d.
// Used by the proactive refresh path.
func (t *UpstreamToken) ExpiresWithin(d time.Duration) bool {
	if t == nil {
		return true
	}
	return time.Now().Add(d).After(t.ExpiresAt())
}

// StateStore holds in-flight authorization attempts keyed by state value.
//
// ConsumeAuthorizationAttempt is a single delete-and-return operation rather
// than separate load and delete calls: with no compare-and-swap primitive
// assumed from the backend, atomic consumption is what guarantees a second
// callback carrying the same state observes the entry as absent.
type StateStore interface {
	// PutAuthorizationAttempt stores an attempt under its state value with
	// the store's attempt TTL.
	PutAuthorizationAttempt(ctx context.Context, state string, attempt *AuthorizationAttempt) error

	// ConsumeAuthorizationAttempt removes and returns the attempt stored
	// under state. Returns ErrNotFound if no entry exists and ErrExpired
	// if the entry outlived its TTL.
	ConsumeAuthorizationAttempt(ctx context.Context, state string) (*AuthorizationAttempt, error)
}

// TokenStore holds issued upstream tokens keyed by access-token value,
// each entry living exactly as long as the token itself.
type TokenStore interface {
	// PutToken stores a token under its access-token value with
	// TTL equal to the token's remaining lifetime.
	PutToken(ctx context.Context, accessToken string, token *UpstreamToken) error

	// GetToken retrieves the token stored under accessToken. Returns
	// ErrNotFound if absent and ErrExpired if the entry outlived its TTL.
	GetToken(ctx context.Context, accessToken string) (*UpstreamToken, error)

	// DeleteToken removes the token stored under accessToken. Deleting an
	// absent key returns ErrNotFound.
	DeleteToken(ctx context.Context, accessToken string) error
}

// Store combines both stores behind one backend.
type Store interface {
	StateStore
	TokenStore

	// Ping checks backend connectivity (health check).
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
