// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/pingmesh/authgate/pkg/logger"
)

// Error codes surfaced by the gateway. Origin and host rejections are
// produced by the origin middleware before a handler runs.
const (
	errInvalidRequest        = "invalid_request"
	errStateExpiredOrMissing = "state_expired_or_missing"
	errStateMismatch         = "state_mismatch"
	errUpstreamToken         = "upstream_token_error"
	errUpstreamIntrospection = "upstream_introspection_error"
	errUpstreamRefresh       = "upstream_refresh_error"
)

var errorPageTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Authorization Error</title></head>
<body>
<h1>Authorization Error</h1>
<p>{{.Message}}</p>
<p>Please close this window and start the login again.</p>
</body>
</html>
`))

// renderErrorPage writes an HTML error page for browser-facing failures in
// the authorize/callback path. The message is generic; details stay in the
// logs.
func renderErrorPage(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Auth-Error", code)
	w.WriteHeader(status)

	if err := errorPageTmpl.Execute(w, struct{ Message string }{Message: message}); err != nil {
		logger.Errorw("failed to render error page", "error", err.Error())
	}
}

// writeTokenError writes an RFC 6749 style JSON error for the token
// endpoint.
func writeTokenError(w http.ResponseWriter, status int, code, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]string{"error": code}
	if description != "" {
		resp["error_description"] = description
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Errorw("failed to write token error", "error", err.Error())
	}
}
