// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the authgate command-line
// application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/pingmesh/authgate/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "authgate",
	DisableAutoGenTag: true,
	Short:             "Delegated-authorization gateway for the Pingmesh measurement API",
	Long: `authgate sits in front of the Pingmesh measurement API's MCP deployment.
It acts as an OAuth 2.0 authorization server toward MCP clients and as an
OAuth 2.0 client toward the upstream identity provider, delegating every
login upstream with PKCE and handing the resulting grant back to the
client's authorization framework.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates the root command for the authgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
