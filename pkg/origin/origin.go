// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package origin validates the Origin and Host headers of inbound requests
// against an explicit allow-list. Exact matching on both headers defends
// against DNS rebinding: trust is never inferred from what a hostname
// currently resolves to.
package origin

import (
	"fmt"
	"net/url"
	"strings"
)

// loopbackHosts are the hostnames granted the any-port development
// exception in ValidateOrigin.
var loopbackHosts = map[string]struct{}{
	"localhost": {},
	"127.0.0.1": {},
	"::1":       {},
}

// Validator checks Origin and Host headers against a fixed allow-list of
// origins. It is immutable after construction.
type Validator struct {
	// origins maps lowercased allow-list entries to their original form.
	origins map[string]string

	// schemeHosts holds lowercased "scheme://hostname" base forms of the
	// allow-list, used for the loopback any-port exception.
	schemeHosts map[string]struct{}

	// hosts holds the lowercased hostnames derived from the allow-list,
	// in bracketed form for IPv6.
	hosts map[string]struct{}
}

// NewValidator builds a Validator from allow-listed origins such as
// "https://mcp.example.com" or "http://localhost". Entries must carry a
// scheme and a host and no path.
func NewValidator(allowedOrigins []string) (*Validator, error) {
	if len(allowedOrigins) == 0 {
		return nil, fmt.Errorf("at least one allowed origin is required")
	}

	v := &Validator{
		origins:     make(map[string]string, len(allowedOrigins)),
		schemeHosts: make(map[string]struct{}, len(allowedOrigins)),
		hosts:       make(map[string]struct{}, len(allowedOrigins)),
	}

	for _, raw := range allowedOrigins {
		entry := strings.TrimSpace(raw)
		u, err := url.Parse(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed origin %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid allowed origin %q: scheme and host are required", raw)
		}
		if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
			return nil, fmt.Errorf("invalid allowed origin %q: must not contain a path", raw)
		}

		v.origins[strings.ToLower(entry)] = entry
		v.schemeHosts[strings.ToLower(u.Scheme+"://"+u.Hostname())] = struct{}{}

		host, err := normalizeHost(u.Host)
		if err != nil {
			return nil, fmt.Errorf("invalid allowed origin %q: %w", raw, err)
		}
		v.hosts[host] = struct{}{}
	}

	return v, nil
}

// ValidateOrigin reports whether origin is acceptable: either an exact
// allow-list entry, or a loopback origin on any port whose portless base
// form is itself allow-listed. Sub-domains of allowed hosts never match.
func (v *Validator) ValidateOrigin(origin string) bool {
	_, ok := v.matchOrigin(origin)
	return ok
}

// MatchingOrigin returns the single origin value to echo back in the
// Access-Control-Allow-Origin header, or false when the origin is not
// allowed. Callers substitute "*" only when no Origin header was sent.
func (v *Validator) MatchingOrigin(origin string) (string, bool) {
	return v.matchOrigin(origin)
}

func (v *Validator) matchOrigin(origin string) (string, bool) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", false
	}

	lowered := strings.ToLower(origin)
	if entry, ok := v.origins[lowered]; ok {
		return entry, true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}

	// Loopback origins match on any port when the portless base form is
	// allow-listed, so local development clients do not need per-port
	// configuration.
	hostname := strings.ToLower(u.Hostname())
	if _, loopback := loopbackHosts[hostname]; !loopback {
		return "", false
	}
	base := strings.ToLower(u.Scheme) + "://" + hostname
	if _, ok := v.schemeHosts[base]; !ok {
		return "", false
	}

	// Echo the request's own origin so the value matches what the browser
	// compares against.
	return strings.ToLower(u.Scheme) + "://" + u.Host, true
}

// ValidateHost reports whether the Host header names this server. The
// optional port is stripped, bracket-aware for IPv6 literals, and the
// remaining hostname is compared case-insensitively against the hostnames
// derived from the allow-list.
func (v *Validator) ValidateHost(host string) bool {
	normalized, err := normalizeHost(host)
	if err != nil {
		return false
	}
	_, ok := v.hosts[normalized]
	return ok
}

// normalizeHost lowercases host and strips an optional port. IPv6 literals
// keep their brackets ("[::1]:3000" becomes "[::1]"). Bare multi-colon
// input is rejected as malformed.
func normalizeHost(host string) (string, error) {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return "", fmt.Errorf("empty host")
	}

	if strings.HasPrefix(host, "[") {
		end := strings.Index(host, "]")
		if end < 0 {
			return "", fmt.Errorf("unterminated IPv6 literal in host %q", host)
		}
		rest := host[end+1:]
		if rest != "" && !strings.HasPrefix(rest, ":") {
			return "", fmt.Errorf("malformed host %q", host)
		}
		return host[:end+1], nil
	}

	switch strings.Count(host, ":") {
	case 0:
		return host, nil
	case 1:
		name := host[:strings.Index(host, ":")]
		if name == "" {
			return "", fmt.Errorf("malformed host %q", host)
		}
		return name, nil
	default:
		// An IPv6 address without brackets is ambiguous with a port suffix.
		return "", fmt.Errorf("malformed host %q: IPv6 literals require brackets", host)
	}
}
