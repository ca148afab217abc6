// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config holds the gateway's process configuration. The struct is
// built once at startup and passed explicitly to component constructors;
// nothing reads it as ambient global state, so tests can substitute
// alternate allow-lists and endpoints freely.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pingmesh/authgate/pkg/storage"
	"github.com/pingmesh/authgate/pkg/upstream"
)

// DefaultCallbackPath is where the upstream server redirects back to.
const DefaultCallbackPath = "/auth/callback"

// Config is the full gateway configuration.
type Config struct {
	// Address is the listen address, e.g. ":8085".
	Address string

	// PublicURL is the externally visible base URL of this gateway,
	// e.g. "https://mcp.globalping.io". The upstream redirect URI is
	// PublicURL + CallbackPath.
	PublicURL string

	// CallbackPath is the path of the upstream callback endpoint.
	CallbackPath string

	// AllowedOrigins is the exact Origin/Host allow-list.
	AllowedOrigins []string

	// Upstream configures the relationship with the upstream OAuth server.
	Upstream upstream.Config

	// Storage selects and configures the backing store.
	Storage storage.Config

	// AttemptTTL bounds the lifetime of a pending authorization attempt.
	AttemptTTL time.Duration

	// RefreshSkew is how close to expiry a stored token is refreshed
	// proactively.
	RefreshSkew time.Duration

	// Debug enables debug logging.
	Debug bool
}

// Default returns a Config populated with defaults. Deployment-specific
// fields (PublicURL, allow-list, upstream endpoints, credentials) are left
// empty and must be filled in before Validate.
func Default() *Config {
	return &Config{
		Address:      ":8085",
		CallbackPath: DefaultCallbackPath,
		Storage:      *storage.DefaultConfig(),
		AttemptTTL:   storage.DefaultAttemptTTL,
		RefreshSkew:  5 * time.Minute,
	}
}

// CallbackURL returns the gateway's own upstream-facing redirect URI.
func (c *Config) CallbackURL() string {
	return strings.TrimRight(c.PublicURL, "/") + c.CallbackPath
}

// Validate checks the configuration for completeness and fills derived
// fields. It must be called before the config is handed to components.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("listen address is required")
	}

	if c.PublicURL == "" {
		return fmt.Errorf("public URL is required")
	}
	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public URL %q must be an absolute URL", c.PublicURL)
	}

	if c.CallbackPath == "" || !strings.HasPrefix(c.CallbackPath, "/") {
		return fmt.Errorf("callback path %q must start with /", c.CallbackPath)
	}

	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin is required")
	}

	if c.AttemptTTL <= 0 {
		return fmt.Errorf("attempt TTL must be positive")
	}
	if c.RefreshSkew < 0 {
		return fmt.Errorf("refresh skew must not be negative")
	}

	// The upstream redirect URI is always this gateway's own callback.
	c.Upstream.RedirectURI = c.CallbackURL()
	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	switch c.Storage.Type {
	case storage.TypeMemory, storage.TypeRedis, "":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.AttemptTTL == 0 {
		c.Storage.AttemptTTL = c.AttemptTTL
	}

	return nil
}
