// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(tokenEndpoint, introspectionEndpoint string) *Config {
	if introspectionEndpoint == "" {
		introspectionEndpoint = "https://auth.example.com/oauth/introspect"
	}
	return &Config{
		AuthorizationEndpoint: "https://auth.example.com/oauth/authorize",
		TokenEndpoint:         tokenEndpoint,
		IntrospectionEndpoint: introspectionEndpoint,
		ClientID:              "gateway-client",
		ClientSecret:          "gateway-secret",
		RedirectURI:           "https://mcp.example.com/auth/callback",
		Scopes:                []string{"measurements"},
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://auth.example.com/oauth/token", "")
	require.NoError(t, cfg.Validate())

	missing := *cfg
	missing.TokenEndpoint = ""
	assert.Error(t, missing.Validate())

	missing = *cfg
	missing.ClientID = ""
	assert.Error(t, missing.Validate())

	missing = *cfg
	missing.RedirectURI = ""
	assert.Error(t, missing.Validate())

	missing = *cfg
	missing.IntrospectionEndpoint = ""
	assert.Error(t, missing.Validate())
}

func TestAuthorizationURL(t *testing.T) {
	t.Parallel()

	p, err := NewOAuth2Provider(testConfig("https://auth.example.com/oauth/token", ""))
	require.NoError(t, err)

	rawURL, err := p.AuthorizationURL("test-state", "test-challenge")
	require.NoError(t, err)

	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rawURL, "https://auth.example.com/oauth/authorize?"))

	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "gateway-client", q.Get("client_id"))
	assert.Equal(t, "https://mcp.example.com/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "test-state", q.Get("state"))
	assert.Equal(t, "test-challenge", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "measurements", q.Get("scope"))
}

func TestAuthorizationURL_RequiresStateAndChallenge(t *testing.T) {
	t.Parallel()

	p, err := NewOAuth2Provider(testConfig("https://auth.example.com/oauth/token", ""))
	require.NoError(t, err)

	_, err = p.AuthorizationURL("", "challenge")
	assert.Error(t, err)

	_, err = p.AuthorizationURL("state", "")
	assert.Error(t, err)
}

func TestExchangeCode(t *testing.T) {
	t.Parallel()

	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "at-123",
			"refresh_token": "rt-456",
			"token_type": "Bearer",
			"scope": "measurements",
			"expires_in": 3600
		}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig(srv.URL, ""))
	require.NoError(t, err)

	tokens, err := p.ExchangeCode(context.Background(), "auth-code", "http://localhost:8080/auth/callback", "verifier-abc")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", gotForm.Get("grant_type"))
	assert.Equal(t, "auth-code", gotForm.Get("code"))
	assert.Equal(t, "http://localhost:8080/auth/callback", gotForm.Get("redirect_uri"))
	assert.Equal(t, "verifier-abc", gotForm.Get("code_verifier"))
	assert.Equal(t, "gateway-client", gotForm.Get("client_id"))
	assert.Equal(t, "gateway-secret", gotForm.Get("client_secret"))

	assert.Equal(t, "at-123", tokens.AccessToken)
	assert.Equal(t, "rt-456", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tokens.ExpiresAt(), 5*time.Second)
}

func TestExchangeCode_UpstreamError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig(srv.URL, ""))
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "stale-code", "http://localhost:8080/auth/callback", "verifier")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Contains(t, err.Error(), "code expired")
}

func TestExchangeCode_SanitizedError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("stack trace with secrets"))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig(srv.URL, ""))
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "code", "http://localhost:8080/auth/callback", "verifier")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "stack trace")
	assert.Contains(t, err.Error(), "500")
}

func TestExchangeCode_RejectsNonBearer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at","token_type":"mac"}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig(srv.URL, ""))
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "code", "http://localhost:8080/auth/callback", "verifier")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token_type")
}

func TestExchangeCode_MissingAccessToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig(srv.URL, ""))
	require.NoError(t, err)

	_, err = p.ExchangeCode(context.Background(), "code", "http://localhost:8080/auth/callback", "verifier")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_token")
}

func TestRefreshTokens(t *testing.T) {
	t.Parallel()

	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"access_token": "at-new",
			"refresh_token": "rt-new",
			"token_type": "bearer",
			"expires_in": 1800
		}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig(srv.URL, ""))
	require.NoError(t, err)

	tokens, err := p.RefreshTokens(context.Background(), "rt-old")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotForm.Get("grant_type"))
	assert.Equal(t, "rt-old", gotForm.Get("refresh_token"))
	assert.Equal(t, "gateway-client", gotForm.Get("client_id"))

	assert.Equal(t, "at-new", tokens.AccessToken)
	assert.Equal(t, "rt-new", tokens.RefreshToken)
	assert.Equal(t, int64(1800), tokens.ExpiresIn)
}

func TestRefreshTokens_RequiresToken(t *testing.T) {
	t.Parallel()

	p, err := NewOAuth2Provider(testConfig("https://auth.example.com/oauth/token", ""))
	require.NoError(t, err)

	_, err = p.RefreshTokens(context.Background(), "")
	assert.Error(t, err)
}

func TestIntrospect(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "at-123", r.PostForm.Get("token"))

		user, _, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "gateway-client", user)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":true,"username":"alice"}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig(srv.URL, srv.URL+"/introspect"))
	require.NoError(t, err)

	identity, err := p.Introspect(context.Background(), "at-123")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
}

func TestIntrospect_OmittedActiveField(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"alice"}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig("https://auth.example.com/oauth/token", srv.URL))
	require.NoError(t, err)

	identity, err := p.Introspect(context.Background(), "at-123")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
}

func TestIntrospect_InactiveToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"active":false}`))
	}))
	defer srv.Close()

	p, err := NewOAuth2Provider(testConfig("https://auth.example.com/oauth/token", srv.URL))
	require.NoError(t, err)

	_, err = p.Introspect(context.Background(), "at-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not active")
}

func TestNewOAuth2Provider_RequiresIntrospectionEndpoint(t *testing.T) {
	t.Parallel()

	cfg := testConfig("https://auth.example.com/oauth/token", "")
	cfg.IntrospectionEndpoint = ""

	_, err := NewOAuth2Provider(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "introspection endpoint")
}
