// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package origin

import (
	"net/http"

	"github.com/pingmesh/authgate/pkg/logger"
)

// Middleware rejects requests whose Host or Origin header fails validation
// before any business logic or store access runs. Validated browser
// requests get a single-valued Access-Control-Allow-Origin echoing the
// matched origin; requests without an Origin header get a wildcard.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.ValidateHost(r.Host) {
			logger.Warnw("rejected request with unrecognized host", "host", r.Host)
			http.Error(w, "host_rejected", http.StatusForbidden)
			return
		}

		origin := r.Header.Get("Origin")
		if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			next.ServeHTTP(w, r)
			return
		}

		matched, ok := v.MatchingOrigin(origin)
		if !ok {
			logger.Warnw("rejected request with unrecognized origin", "origin", origin)
			http.Error(w, "origin_rejected", http.StatusForbidden)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", matched)
		h.Add("Vary", "Origin")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "300")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
