// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package downstream

import (
	"context"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevFramework_ParseDelegatedRequest(t *testing.T) {
	t.Parallel()

	f := NewDevFramework()
	req := httptest.NewRequest("GET",
		"/authorize?client_id=cli&redirect_uri=http%3A%2F%2Flocalhost%3A9000%2Fcb&scope=measurements&response_type=code", nil)

	parsed, err := f.ParseDelegatedRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "cli", parsed.ClientID)
	assert.Equal(t, "http://localhost:9000/cb", parsed.RedirectURI)
	assert.Equal(t, "measurements", parsed.Scope)
	assert.Equal(t, "code", parsed.ResponseType)
	assert.NotEmpty(t, parsed.Raw)
}

func TestDevFramework_ParseDelegatedRequest_MissingParams(t *testing.T) {
	t.Parallel()

	f := NewDevFramework()

	_, err := f.ParseDelegatedRequest(httptest.NewRequest("GET", "/authorize?redirect_uri=http://localhost/cb", nil))
	assert.Error(t, err)

	_, err = f.ParseDelegatedRequest(httptest.NewRequest("GET", "/authorize?client_id=cli", nil))
	assert.Error(t, err)
}

func TestDevFramework_CompleteAndRedeem(t *testing.T) {
	t.Parallel()

	f := NewDevFramework()
	req := &DelegatedRequest{
		ClientID:    "cli",
		RedirectURI: "http://localhost:9000/cb?flow=1",
	}
	props := GrantProps{
		AccessToken:     "T",
		RefreshToken:    "R",
		ClientID:        "cli",
		UserID:          "alice",
		IsAuthenticated: true,
	}

	redirectTo, err := f.CompleteAuthorization(context.Background(), req, "alice", props)
	require.NoError(t, err)

	u, err := url.Parse(redirectTo)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "1", u.Query().Get("flow"), "existing query parameters survive")

	code := u.Query().Get("code")
	require.NotEmpty(t, code)

	got, ok := f.Redeem(code)
	require.True(t, ok)
	assert.Equal(t, props, got)

	// Single use.
	_, ok = f.Redeem(code)
	assert.False(t, ok)
}
