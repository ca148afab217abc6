// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pingmesh/authgate/pkg/config"
	"github.com/pingmesh/authgate/pkg/downstream"
	"github.com/pingmesh/authgate/pkg/gateway"
	"github.com/pingmesh/authgate/pkg/logger"
	"github.com/pingmesh/authgate/pkg/storage"
	"github.com/pingmesh/authgate/pkg/upstream"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the delegated-authorization gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmdFunc(cmd, v)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("address", ":8085", "Listen address")
	flags.String("public-url", "", "Externally visible base URL of this gateway")
	flags.String("callback-path", config.DefaultCallbackPath, "Path of the upstream callback endpoint")
	flags.StringSlice("allowed-origin", nil, "Allow-listed origin (repeatable)")
	flags.String("upstream-authorize-url", "", "Upstream authorization endpoint")
	flags.String("upstream-token-url", "", "Upstream token endpoint")
	flags.String("upstream-introspect-url", "", "Upstream token introspection endpoint")
	flags.String("upstream-client-id", "", "Client ID toward the upstream server")
	flags.String("upstream-client-secret", "", "Client secret toward the upstream server")
	flags.StringSlice("upstream-scope", nil, "Scope requested upstream (repeatable)")
	flags.String("storage", string(storage.TypeMemory), "Storage backend: memory or redis")
	flags.String("redis-addr", "localhost:6379", "Redis address")
	flags.String("redis-username", "", "Redis username")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("redis-key-prefix", "authgate:", "Prefix for all Redis keys")
	flags.Duration("attempt-ttl", storage.DefaultAttemptTTL, "Lifetime of a pending authorization attempt")
	flags.Duration("refresh-skew", 5*time.Minute, "How close to expiry tokens are refreshed proactively")

	v.SetEnvPrefix("AUTHGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		// Flag binding only fails on programmer error.
		panic(err)
	}

	return cmd
}

func serveCmdFunc(cmd *cobra.Command, v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	debug, _ := cmd.Root().PersistentFlags().GetBool("debug")
	logger.Initialize(debug)

	cfg, err := buildConfig(v, debug)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	provider, err := upstream.NewOAuth2Provider(&cfg.Upstream)
	if err != nil {
		return fmt.Errorf("failed to initialize upstream provider: %w", err)
	}

	handler, err := gateway.NewHandler(cfg, store, provider, downstream.NewDevFramework())
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("authgate listening",
			"address", cfg.Address,
			"public_url", cfg.PublicURL,
			"storage", string(cfg.Storage.Type),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func buildConfig(v *viper.Viper, debug bool) (*config.Config, error) {
	cfg := config.Default()
	cfg.Address = v.GetString("address")
	cfg.PublicURL = v.GetString("public-url")
	cfg.CallbackPath = v.GetString("callback-path")
	cfg.AllowedOrigins = v.GetStringSlice("allowed-origin")
	cfg.AttemptTTL = v.GetDuration("attempt-ttl")
	cfg.RefreshSkew = v.GetDuration("refresh-skew")
	cfg.Debug = debug

	cfg.Upstream = upstream.Config{
		AuthorizationEndpoint: v.GetString("upstream-authorize-url"),
		TokenEndpoint:         v.GetString("upstream-token-url"),
		IntrospectionEndpoint: v.GetString("upstream-introspect-url"),
		ClientID:              v.GetString("upstream-client-id"),
		ClientSecret:          v.GetString("upstream-client-secret"),
		Scopes:                v.GetStringSlice("upstream-scope"),
	}

	cfg.Storage = storage.Config{
		Type: storage.Type(v.GetString("storage")),
		Redis: storage.RedisConfig{
			Addr:       v.GetString("redis-addr"),
			Username:   v.GetString("redis-username"),
			Password:   v.GetString("redis-password"),
			DB:         v.GetInt("redis-db"),
			KeyPrefix:  v.GetString("redis-key-prefix"),
			AttemptTTL: v.GetDuration("attempt-ttl"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
