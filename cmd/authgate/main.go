// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the authgate server.
package main

import (
	"os"

	"github.com/pingmesh/authgate/cmd/authgate/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
