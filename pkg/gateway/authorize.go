// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pingmesh/authgate/pkg/crypto"
	"github.com/pingmesh/authgate/pkg/logger"
	"github.com/pingmesh/authgate/pkg/storage"
)

// AuthorizeHandler handles GET /authorize requests.
// It validates the downstream client's delegated request, records an
// authorization attempt, and redirects the user agent to the upstream
// authorization server.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	delegated, err := h.framework.ParseDelegatedRequest(req)
	if err != nil {
		logger.Warnw("failed to parse delegated authorization request",
			"error", err.Error(),
		)
		renderErrorPage(w, http.StatusBadRequest, errInvalidRequest, "invalid authorization request")
		return
	}

	if !h.isAllowedDelegatedRedirect(req, delegated.RedirectURI) {
		logger.Warnw("rejected delegated request with invalid redirect URI",
			"client_id", delegated.ClientID,
			"redirect_uri", delegated.RedirectURI,
		)
		renderErrorPage(w, http.StatusBadRequest, errInvalidRequest, "invalid redirect URI")
		return
	}

	state, err := crypto.GenerateState()
	if err != nil {
		logger.Errorw("failed to generate state", "error", err.Error())
		renderErrorPage(w, http.StatusInternalServerError, errInvalidRequest, "failed to start authorization")
		return
	}
	verifier := crypto.GeneratePKCEVerifier()
	challenge := crypto.ComputePKCEChallenge(verifier)

	originalRequest, err := json.Marshal(delegated)
	if err != nil {
		logger.Errorw("failed to snapshot delegated request", "error", err.Error())
		renderErrorPage(w, http.StatusInternalServerError, errInvalidRequest, "failed to start authorization")
		return
	}

	attempt := &storage.AuthorizationAttempt{
		State:             state,
		CodeVerifier:      verifier,
		CodeChallenge:     challenge,
		ClientID:          h.config.Upstream.ClientID,
		ServerRedirectURI: h.config.CallbackURL(),
		OriginalRequest:   originalRequest,
		CreatedAt:         time.Now(),
	}

	if err := h.store.PutAuthorizationAttempt(ctx, state, attempt); err != nil {
		logger.Errorw("failed to store authorization attempt", "error", err.Error())
		renderErrorPage(w, http.StatusInternalServerError, errInvalidRequest, "failed to start authorization")
		return
	}
	authorizationsStarted.Inc()

	upstreamURL, err := h.upstream.AuthorizationURL(state, challenge)
	if err != nil {
		logger.Errorw("failed to build upstream authorization URL", "error", err.Error())
		renderErrorPage(w, http.StatusInternalServerError, errInvalidRequest, "failed to start authorization")
		return
	}

	logger.Infow("redirecting to upstream authorization server",
		"downstream_client_id", delegated.ClientID,
	)
	http.Redirect(w, req, upstreamURL, http.StatusFound)
}

// isAllowedDelegatedRedirect reports whether the downstream client's
// redirect URI is acceptable: either this gateway's own callback on the
// current request's origin, or a loopback URL used by local development
// clients. Anything else would let the delegated flow be abused as an open
// redirect.
func (h *Handler) isAllowedDelegatedRedirect(req *http.Request, redirectURI string) bool {
	if redirectURI == "" {
		return false
	}

	if redirectURI == h.config.CallbackURL() {
		return true
	}
	if redirectURI == requestScheme(req)+"://"+req.Host+h.config.CallbackPath {
		return true
	}

	u, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	if u.Scheme != "http" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}

func requestScheme(req *http.Request) string {
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if req.TLS != nil {
		return "https"
	}
	return "http"
}
