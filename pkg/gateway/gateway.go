// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway implements the delegated-authorization endpoints: it acts
// as an OAuth server toward downstream MCP clients and as an OAuth client
// toward the upstream authorization server guarding the measurement API.
package gateway

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pingmesh/authgate/pkg/config"
	"github.com/pingmesh/authgate/pkg/downstream"
	"github.com/pingmesh/authgate/pkg/origin"
	"github.com/pingmesh/authgate/pkg/storage"
	"github.com/pingmesh/authgate/pkg/upstream"
)

// Handler carries the gateway's endpoint handlers and their dependencies.
// Handlers are stateless; all cross-request state lives in the store.
type Handler struct {
	config    *config.Config
	store     storage.Store
	upstream  upstream.Provider
	framework downstream.Framework
	validator *origin.Validator
	refresher *Refresher
}

// NewHandler creates a new Handler with the given dependencies.
func NewHandler(
	cfg *config.Config,
	store storage.Store,
	provider upstream.Provider,
	framework downstream.Framework,
) (*Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("upstream provider is required")
	}
	if framework == nil {
		return nil, fmt.Errorf("downstream framework is required")
	}

	validator, err := origin.NewValidator(cfg.AllowedOrigins)
	if err != nil {
		return nil, fmt.Errorf("invalid origin allow-list: %w", err)
	}

	return &Handler{
		config:    cfg,
		store:     store,
		upstream:  provider,
		framework: framework,
		validator: validator,
		refresher: NewRefresher(store, provider, cfg.RefreshSkew),
	}, nil
}

// Refresher returns the token refresher backed by this handler's store and
// upstream provider, for callers that hold an access token outside the HTTP
// surface.
func (h *Handler) Refresher() *Refresher {
	return h.refresher
}

// Routes returns the gateway's HTTP surface. Every endpoint sits behind the
// Origin/Host validator; health is registered outside it so probes work
// regardless of the Host header they send.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthHandler)

	r.Group(func(r chi.Router) {
		r.Use(h.validator.Middleware)
		r.Get("/authorize", h.AuthorizeHandler)
		r.Get(h.config.CallbackPath, h.CallbackHandler)
		r.Post("/token", h.TokenHandler)

		// chi only routes a request into group middleware when a route
		// matches its method, so preflights need explicit OPTIONS routes.
		// The validator answers them itself; the handler below only runs
		// for OPTIONS requests carrying no Origin header.
		r.Options("/authorize", preflightFallbackHandler)
		r.Options("/token", preflightFallbackHandler)
	})

	return r
}

func preflightFallbackHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// HealthHandler reports liveness, including store reachability.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
