// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package downstream defines the boundary to the external authorization
// framework that owns the relationship with MCP clients. The gateway parses
// nothing of the client's own OAuth request itself: the framework parses it,
// the gateway stores the result opaquely, and the framework completes the
// grant once an upstream identity is established.
package downstream

import (
	"context"
	"encoding/json"
	"net/http"
)

// DelegatedRequest is the downstream client's own authorization request as
// parsed by the framework.
type DelegatedRequest struct {
	// ClientID is the downstream client's identifier, minted when the
	// client registered with the framework.
	ClientID string `json:"client_id"`

	// RedirectURI is where the client wants the final grant delivered.
	// The gateway validates it against its own callback URL or a loopback
	// pattern before starting a flow.
	RedirectURI string `json:"redirect_uri"`

	// Scope and ResponseType mirror the client's request verbatim.
	Scope        string `json:"scope,omitempty"`
	ResponseType string `json:"response_type,omitempty"`

	// Raw is the framework-owned snapshot of the full request. The gateway
	// persists and returns it unmodified.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// GrantProps is the payload handed to the framework when a grant completes.
// The framework embeds it into whatever token it issues to the downstream
// client; the gateway does not control that token's format.
type GrantProps struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token,omitempty"`
	ClientID        string `json:"client_id"`
	UserID          string `json:"user_id"`
	IsAuthenticated bool   `json:"is_authenticated"`
}

// Framework is the narrow interface the gateway consumes. Implementations
// live outside this module.
type Framework interface {
	// ParseDelegatedRequest extracts the downstream client's authorization
	// request from an inbound /authorize request.
	ParseDelegatedRequest(r *http.Request) (*DelegatedRequest, error)

	// CompleteAuthorization finishes the delegated grant for the resolved
	// user and returns the URL to redirect the user agent to. req must be
	// the same value ParseDelegatedRequest produced, round-tripped through
	// storage unmodified.
	CompleteAuthorization(ctx context.Context, req *DelegatedRequest, userID string, props GrantProps) (redirectTo string, err error)
}
