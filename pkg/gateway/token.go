// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pingmesh/authgate/pkg/logger"
	"github.com/pingmesh/authgate/pkg/storage"
)

// tokenSuccessResponse is the JSON body returned by POST /token.
type tokenSuccessResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// TokenHandler handles POST /token. Only the refresh_token grant is served
// here; issuing the downstream client's own tokens belongs to the external
// authorization framework.
func (h *Handler) TokenHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	if err := req.ParseForm(); err != nil {
		writeTokenError(w, http.StatusBadRequest, errInvalidRequest, "malformed request body")
		return
	}

	grantType := req.PostForm.Get("grant_type")
	if grantType != "refresh_token" {
		writeTokenError(w, http.StatusBadRequest, "unsupported_grant_type",
			"only grant_type=refresh_token is supported")
		return
	}

	refreshToken := req.PostForm.Get("refresh_token")
	if refreshToken == "" {
		writeTokenError(w, http.StatusBadRequest, errInvalidRequest, "refresh_token is required")
		return
	}

	tokens, err := h.upstream.RefreshTokens(ctx, refreshToken)
	if err != nil {
		logger.Errorw("upstream token refresh failed", "error", err.Error())
		tokenRefreshes.WithLabelValues("error").Inc()
		writeTokenError(w, http.StatusBadGateway, errUpstreamRefresh, "token refresh failed")
		return
	}

	// Replace wholesale: a fresh entry keyed by the new access token. The
	// caller may name the entry it was refreshing so it can be dropped
	// early instead of lingering until its TTL.
	stored := &storage.UpstreamToken{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Scope:        tokens.Scope,
		ExpiresIn:    tokens.ExpiresIn,
		CreatedAt:    tokens.CreatedAt,
	}
	if err := h.store.PutToken(ctx, tokens.AccessToken, stored); err != nil {
		logger.Errorw("failed to store refreshed token", "error", err.Error())
		tokenRefreshes.WithLabelValues("error").Inc()
		writeTokenError(w, http.StatusInternalServerError, errUpstreamRefresh, "token refresh failed")
		return
	}

	if old := req.PostForm.Get("access_token"); old != "" && old != tokens.AccessToken {
		if err := h.store.DeleteToken(ctx, old); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("failed to delete superseded token", "error", err.Error())
		}
	}

	tokenRefreshes.WithLabelValues("success").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	resp := tokenSuccessResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    tokens.ExpiresIn,
		Scope:        tokens.Scope,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorw("failed to write token response", "error", err.Error())
	}
}
