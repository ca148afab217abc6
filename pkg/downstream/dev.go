// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package downstream

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// devGrantTTL bounds how long an unredeemed development grant code lives.
const devGrantTTL = time.Minute

// DevFramework is a minimal in-process Framework for local development and
// deployments where the real authorization framework runs elsewhere. It
// parses the standard OAuth query parameters and, on completion, hands the
// client a single-use grant code redeemable for the grant props.
type DevFramework struct {
	mu     sync.Mutex
	grants map[string]devGrant
}

type devGrant struct {
	props     GrantProps
	createdAt time.Time
}

// NewDevFramework creates an empty DevFramework.
func NewDevFramework() *DevFramework {
	return &DevFramework{
		grants: make(map[string]devGrant),
	}
}

// ParseDelegatedRequest reads the client's OAuth parameters from the query
// string.
func (*DevFramework) ParseDelegatedRequest(r *http.Request) (*DelegatedRequest, error) {
	q := r.URL.Query()

	req := &DelegatedRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		Scope:        q.Get("scope"),
		ResponseType: q.Get("response_type"),
	}
	if req.ClientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if req.RedirectURI == "" {
		return nil, fmt.Errorf("redirect_uri is required")
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot request: %w", err)
	}
	req.Raw = raw
	return req, nil
}

// CompleteAuthorization mints a single-use grant code, remembers the props
// under it, and sends the user agent back to the client's redirect URI.
func (f *DevFramework) CompleteAuthorization(
	_ context.Context,
	req *DelegatedRequest,
	_ string,
	props GrantProps,
) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate grant code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(b)

	f.mu.Lock()
	for k, g := range f.grants {
		if time.Since(g.createdAt) > devGrantTTL {
			delete(f.grants, k)
		}
	}
	f.grants[code] = devGrant{props: props, createdAt: time.Now()}
	f.mu.Unlock()

	u, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redeem exchanges a grant code for its props. A code works at most once.
func (f *DevFramework) Redeem(code string) (GrantProps, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g, ok := f.grants[code]
	if !ok {
		return GrantProps{}, false
	}
	delete(f.grants, code)
	if time.Since(g.createdAt) > devGrantTTL {
		return GrantProps{}, false
	}
	return g.props, true
}
