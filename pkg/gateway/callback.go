// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pingmesh/authgate/pkg/downstream"
	"github.com/pingmesh/authgate/pkg/logger"
	"github.com/pingmesh/authgate/pkg/storage"
)

// CallbackHandler handles GET requests on the upstream callback path.
//
// The flow is a linear state machine with no backtracking: upstream error,
// parameter validation, single-use state consumption, code exchange with
// the stored verifier, identity resolution, then grant completion. Every
// failure is terminal for the request; the user restarts the login, which
// is safe because each attempt is single-use and time-bounded.
func (h *Handler) CallbackHandler(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	q := req.URL.Query()
	code := q.Get("code")
	state := q.Get("state")
	errorParam := q.Get("error")

	if errorParam != "" {
		logger.Warnw("upstream authorization server returned error",
			"error", errorParam,
			"error_description", q.Get("error_description"),
		)
		callbacksHandled.WithLabelValues("upstream_error").Inc()
		renderErrorPage(w, http.StatusBadGateway, errUpstreamToken, "the authorization server reported an error")
		return
	}

	if code == "" || state == "" {
		callbacksHandled.WithLabelValues(errInvalidRequest).Inc()
		renderErrorPage(w, http.StatusBadRequest, errInvalidRequest, "missing code or state parameter")
		return
	}

	// Consume deletes the attempt before any upstream call. A second
	// callback with the same state, however timed, fails here.
	attempt, err := h.store.ConsumeAuthorizationAttempt(ctx, state)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrExpired) {
			logger.Warnw("callback with unknown or expired state")
			callbacksHandled.WithLabelValues(errStateExpiredOrMissing).Inc()
			renderErrorPage(w, http.StatusBadRequest, errStateExpiredOrMissing,
				"this login attempt is outdated or was already used")
			return
		}
		logger.Errorw("failed to consume authorization attempt", "error", err.Error())
		callbacksHandled.WithLabelValues("storage_error").Inc()
		renderErrorPage(w, http.StatusInternalServerError, errStateExpiredOrMissing,
			"failed to look up this login attempt")
		return
	}

	if attempt.State != state {
		// The stored record disagrees with its own key. Surface a generic
		// message and log it as a security event.
		logger.Errorw("stored attempt state does not match callback state")
		callbacksHandled.WithLabelValues(errStateMismatch).Inc()
		renderErrorPage(w, http.StatusBadRequest, errStateMismatch, "authorization request could not be verified")
		return
	}

	// The exchange uses only stored values. Nothing from the callback
	// request besides the code itself reaches the upstream server.
	tokens, err := h.upstream.ExchangeCode(ctx, code, attempt.ServerRedirectURI, attempt.CodeVerifier)
	if err != nil {
		logger.Errorw("failed to exchange authorization code upstream", "error", err.Error())
		callbacksHandled.WithLabelValues(errUpstreamToken).Inc()
		renderErrorPage(w, http.StatusBadGateway, errUpstreamToken, "failed to complete authentication")
		return
	}

	stored := &storage.UpstreamToken{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
		Scope:        tokens.Scope,
		ExpiresIn:    tokens.ExpiresIn,
		CreatedAt:    tokens.CreatedAt,
	}
	if err := h.store.PutToken(ctx, tokens.AccessToken, stored); err != nil {
		logger.Errorw("failed to store upstream token", "error", err.Error())
		callbacksHandled.WithLabelValues("storage_error").Inc()
		renderErrorPage(w, http.StatusInternalServerError, errUpstreamToken, "failed to complete authentication")
		return
	}

	identity, err := h.upstream.Introspect(ctx, tokens.AccessToken)
	if err != nil {
		logger.Errorw("failed to resolve user identity upstream", "error", err.Error())
		callbacksHandled.WithLabelValues(errUpstreamIntrospection).Inc()
		renderErrorPage(w, http.StatusBadGateway, errUpstreamIntrospection, "failed to verify your identity")
		return
	}

	var delegated downstream.DelegatedRequest
	if err := json.Unmarshal(attempt.OriginalRequest, &delegated); err != nil {
		logger.Errorw("failed to decode stored delegated request", "error", err.Error())
		callbacksHandled.WithLabelValues(errInvalidRequest).Inc()
		renderErrorPage(w, http.StatusInternalServerError, errInvalidRequest, "failed to complete authentication")
		return
	}

	props := downstream.GrantProps{
		AccessToken:     tokens.AccessToken,
		RefreshToken:    tokens.RefreshToken,
		ClientID:        delegated.ClientID,
		UserID:          identity.Username,
		IsAuthenticated: true,
	}

	redirectTo, err := h.framework.CompleteAuthorization(ctx, &delegated, identity.Username, props)
	if err != nil {
		logger.Errorw("downstream framework failed to complete authorization", "error", err.Error())
		callbacksHandled.WithLabelValues("framework_error").Inc()
		renderErrorPage(w, http.StatusInternalServerError, errInvalidRequest, "failed to complete authentication")
		return
	}

	logger.Infow("authorization completed",
		"downstream_client_id", delegated.ClientID,
		"user", identity.Username,
		"attempt_age", time.Since(attempt.CreatedAt).String(),
	)
	callbacksHandled.WithLabelValues("success").Inc()
	http.Redirect(w, req, redirectTo, http.StatusFound)
}
