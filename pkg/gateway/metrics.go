// SPDX-FileCopyrightText: Copyright 2025 Pingmesh, Inc.
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authorizationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "authgate",
		Name:      "authorizations_started_total",
		Help:      "Number of delegated authorization flows started.",
	})

	callbacksHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authgate",
		Name:      "callbacks_total",
		Help:      "Upstream callback results by outcome.",
	}, []string{"outcome"})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authgate",
		Name:      "token_refreshes_total",
		Help:      "Upstream token refreshes by outcome.",
	}, []string{"outcome"})
)
