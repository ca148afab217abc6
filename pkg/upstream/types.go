// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream implements the OAuth 2.0 client side of the gateway: it
// talks to the upstream authorization server that guards the measurement
// API, exchanging and refreshing tokens and resolving user identity through
// token introspection.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Config contains the fixed, per-deployment relationship with the upstream
// OAuth server.
type Config struct {
	// AuthorizationEndpoint is the upstream URL the user agent is sent to.
	AuthorizationEndpoint string

	// TokenEndpoint serves both authorization_code and refresh_token grants.
	TokenEndpoint string

	// IntrospectionEndpoint resolves an access token to a user identity.
	// Required; the callback cannot complete a grant without it.
	IntrospectionEndpoint string

	// ClientID is the identifier this gateway uses toward the upstream
	// server. Fixed per deployment.
	ClientID string

	// ClientSecret is the matching secret. Empty for public clients.
	ClientSecret string

	// RedirectURI is this gateway's own callback URL, registered upstream.
	RedirectURI string

	// Scopes are the fixed scopes this deployment requests upstream.
	Scopes []string
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if c.AuthorizationEndpoint == "" {
		return fmt.Errorf("authorization endpoint is required")
	}
	if c.TokenEndpoint == "" {
		return fmt.Errorf("token endpoint is required")
	}
	if c.IntrospectionEndpoint == "" {
		return fmt.Errorf("introspection endpoint is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("redirect URI is required")
	}
	return nil
}

// Tokens represents a token set issued by the upstream server, in the shape
// of its wire response.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string

	// ExpiresIn is the upstream-reported lifetime in seconds.
	ExpiresIn int64

	// CreatedAt is the issuance time, taken from the response's created_at
	// field when present and the local clock otherwise.
	CreatedAt time.Time
}

// ExpiresAt returns the absolute expiry time of the access token.
func (t *Tokens) ExpiresAt() time.Time {
	return t.CreatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Identity is the result of introspecting an access token upstream.
type Identity struct {
	// Username is the stable identifier handed to the downstream
	// authorization framework as the resolved user.
	Username string
}

// Provider handles communication with the upstream OAuth server.
type Provider interface {
	// AuthorizationURL builds the URL to redirect the user agent to.
	// state correlates the callback; codeChallenge is the PKCE challenge.
	AuthorizationURL(state, codeChallenge string) (string, error)

	// ExchangeCode redeems an authorization code. redirectURI and
	// codeVerifier must be the values stored at authorization time, never
	// values derived from the callback request.
	ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*Tokens, error)

	// RefreshTokens exchanges a refresh token for a new token set.
	RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error)

	// Introspect resolves an access token to a user identity.
	Introspect(ctx context.Context, accessToken string) (*Identity, error)
}

// HTTPClient is an interface for HTTP client operations.
// This allows for mocking in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}
