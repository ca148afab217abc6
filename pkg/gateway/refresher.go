// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pingmesh/authgate/pkg/logger"
	"github.com/pingmesh/authgate/pkg/storage"
	"github.com/pingmesh/authgate/pkg/upstream"
)

// Refresher keeps stored upstream tokens usable: it loads a token by its
// access-token key and refreshes it when expiry is near, replacing the
// stored entry wholesale.
type Refresher struct {
	store    storage.TokenStore
	upstream upstream.Provider
	skew     time.Duration
}

// NewRefresher creates a Refresher. skew controls how close to expiry a
// token is refreshed proactively; zero disables proactive refresh.
func NewRefresher(store storage.TokenStore, provider upstream.Provider, skew time.Duration) *Refresher {
	return &Refresher{
		store:    store,
		upstream: provider,
		skew:     skew,
	}
}

// EnsureFresh returns a usable token for the given access-token key,
// refreshing it upstream first when it is expired or about to expire. On
// refresh the old entry is deleted and the new token is stored under its
// own access-token value; callers must switch to the returned token.
func (r *Refresher) EnsureFresh(ctx context.Context, accessToken string) (*storage.UpstreamToken, error) {
	token, err := r.store.GetToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load token: %w", err)
	}

	if !token.IsExpired() && !token.ExpiresWithin(r.skew) {
		return token, nil
	}

	if token.RefreshToken == "" {
		return nil, fmt.Errorf("token near expiry and no refresh token available")
	}

	fresh, err := r.upstream.RefreshTokens(ctx, token.RefreshToken)
	if err != nil {
		tokenRefreshes.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("upstream refresh failed: %w", err)
	}

	stored := &storage.UpstreamToken{
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		TokenType:    fresh.TokenType,
		Scope:        fresh.Scope,
		ExpiresIn:    fresh.ExpiresIn,
		CreatedAt:    fresh.CreatedAt,
	}
	if err := r.store.PutToken(ctx, fresh.AccessToken, stored); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}

	if fresh.AccessToken != accessToken {
		if err := r.store.DeleteToken(ctx, accessToken); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warnw("failed to delete superseded token", "error", err.Error())
		}
	}

	tokenRefreshes.WithLabelValues("success").Inc()
	return stored, nil
}
