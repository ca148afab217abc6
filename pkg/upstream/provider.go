// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pingmesh/authgate/pkg/crypto"
	"github.com/pingmesh/authgate/pkg/logger"
	"github.com/pingmesh/authgate/pkg/networking"
)

// maxResponseSize is the maximum allowed response size for HTTP requests to prevent DoS.
const maxResponseSize = 1024 * 1024 // 1MB

// defaultTokenLifetime is used when the upstream omits expires_in.
const defaultTokenLifetime = time.Hour

// Compile-time interface compliance check.
var _ Provider = (*OAuth2Provider)(nil)

// OAuth2Provider implements Provider against a plain OAuth 2.0
// authorization server with RFC 7662 token introspection.
type OAuth2Provider struct {
	config *Config
	client HTTPClient
}

// OAuth2ProviderOption configures an OAuth2Provider.
type OAuth2ProviderOption func(*OAuth2Provider)

// WithHTTPClient sets a custom HTTP client for the provider.
func WithHTTPClient(client HTTPClient) OAuth2ProviderOption {
	return func(p *OAuth2Provider) {
		p.client = client
	}
}

// NewOAuth2Provider creates a new upstream provider.
func NewOAuth2Provider(config *Config, opts ...OAuth2ProviderOption) (*OAuth2Provider, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := networking.NewHTTPClientBuilder().Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP client: %w", err)
	}

	p := &OAuth2Provider{
		config: config,
		client: client,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// AuthorizationURL builds the URL to redirect the user agent to the upstream
// authorization server.
func (p *OAuth2Provider) AuthorizationURL(state, codeChallenge string) (string, error) {
	if state == "" {
		return "", errors.New("state parameter is required")
	}
	if codeChallenge == "" {
		return "", errors.New("code challenge is required")
	}

	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {p.config.ClientID},
		"redirect_uri":          {p.config.RedirectURI},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {crypto.PKCEChallengeMethodS256},
	}
	if len(p.config.Scopes) > 0 {
		params.Set("scope", strings.Join(p.config.Scopes, " "))
	}

	return p.config.AuthorizationEndpoint + "?" + params.Encode(), nil
}

// ExchangeCode redeems an authorization code for tokens.
//
// redirectURI and codeVerifier come from the stored authorization attempt,
// not from the callback request.
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*Tokens, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}
	if redirectURI == "" {
		return nil, errors.New("redirect URI is required")
	}
	if codeVerifier == "" {
		return nil, errors.New("code verifier is required")
	}

	params := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {p.config.ClientID},
		"code_verifier": {codeVerifier},
	}
	if p.config.ClientSecret != "" {
		params.Set("client_secret", p.config.ClientSecret)
	}

	return p.tokenRequest(ctx, params)
}

// RefreshTokens exchanges a refresh token for a new token set.
func (p *OAuth2Provider) RefreshTokens(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	params := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {p.config.ClientID},
	}
	if p.config.ClientSecret != "" {
		params.Set("client_secret", p.config.ClientSecret)
	}

	return p.tokenRequest(ctx, params)
}

// Introspect resolves an access token to a user identity via the upstream
// introspection endpoint.
func (p *OAuth2Provider) Introspect(ctx context.Context, accessToken string) (*Identity, error) {
	if p.config.IntrospectionEndpoint == "" {
		return nil, errors.New("introspection endpoint not configured")
	}
	if accessToken == "" {
		return nil, errors.New("access token is required")
	}

	params := url.Values{
		"token": {accessToken},
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.config.IntrospectionEndpoint,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create introspection request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read introspection response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Log full response for debugging, but return a sanitized error.
		logger.Debugw("introspection request failed",
			"status", resp.StatusCode,
			"body", string(body))
		return nil, fmt.Errorf("introspection request failed with status %d", resp.StatusCode)
	}

	var intro introspectionResponse
	if err := json.Unmarshal(body, &intro); err != nil {
		return nil, fmt.Errorf("failed to parse introspection response: %w", err)
	}

	if intro.Active != nil && !*intro.Active {
		return nil, errors.New("access token is not active")
	}
	if intro.Username == "" {
		return nil, errors.New("introspection response missing username")
	}

	return &Identity{Username: intro.Username}, nil
}

func (p *OAuth2Provider) tokenRequest(ctx context.Context, params url.Values) (*Tokens, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		p.config.TokenEndpoint,
		strings.NewReader(params.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var tokenError tokenErrorResponse
		if err := json.Unmarshal(body, &tokenError); err == nil && tokenError.Error != "" {
			// OAuth error responses with error/error_description are standardized and safe to return
			return nil, fmt.Errorf("token request failed: %s - %s", tokenError.Error, tokenError.ErrorDescription)
		}
		// Log full response for debugging, but return a sanitized error.
		logger.Debugw("token request failed",
			"status", resp.StatusCode,
			"body", string(body))
		return nil, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	// Validate token_type per RFC 6749 Section 5.1, case-insensitively.
	if !strings.EqualFold(tokenResp.TokenType, "bearer") {
		return nil, fmt.Errorf("unexpected token_type: expected \"Bearer\", got %q", tokenResp.TokenType)
	}

	createdAt := time.Now()
	if tokenResp.CreatedAt > 0 {
		createdAt = time.Unix(tokenResp.CreatedAt, 0)
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn == 0 {
		expiresIn = int64(defaultTokenLifetime / time.Second)
	}

	return &Tokens{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		TokenType:    tokenResp.TokenType,
		Scope:        tokenResp.Scope,
		ExpiresIn:    expiresIn,
		CreatedAt:    createdAt,
	}, nil
}

// tokenResponse is the upstream token endpoint's success payload.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	CreatedAt    int64  `json:"created_at,omitempty"`
}

// tokenErrorResponse is the upstream token endpoint's error payload
// per RFC 6749 Section 5.2.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// introspectionResponse is the subset of RFC 7662 fields the gateway uses.
// Active is a pointer so that servers which omit the field on success are
// not mistaken for an inactive token.
type introspectionResponse struct {
	Active   *bool  `json:"active,omitempty"`
	Username string `json:"username,omitempty"`
}
