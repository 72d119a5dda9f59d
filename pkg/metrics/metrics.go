// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors exported by weaver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// OAuthCallbacks counts callback completions.
	// Labels:
	//   - platform: provider name
	//   - step: last step reached ("completed" on success)
	//   - outcome: "success" or "failure"
	OAuthCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_oauth_callbacks_total",
			Help: "Total number of OAuth callbacks processed",
		},
		[]string{"platform", "step", "outcome"},
	)

	// OAuthCallbackDuration measures the time from callback receipt to
	// account persistence.
	OAuthCallbackDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaver_oauth_callback_duration_seconds",
			Help:    "Duration of OAuth callback processing in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"platform"},
	)

	// OAuthConnects counts authorization redirects issued.
	OAuthConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_oauth_connects_total",
			Help: "Total number of OAuth connection attempts started",
		},
		[]string{"platform", "mode"},
	)

	// TokenRefreshes counts provider token refreshes.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_token_refresh_total",
			Help: "Total number of provider token refresh attempts",
		},
		[]string{"platform", "outcome"},
	)

	// ProviderRequestDuration measures provider HTTP latency.
	// Labels:
	//   - platform: provider name
	//   - op: "exchange", "refresh", "revoke" or the API path
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weaver_provider_request_duration_seconds",
			Help:    "Duration of requests to provider APIs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"platform", "op"},
	)

	// RateLimited counts requests refused locally because the per-token
	// budget was spent.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weaver_provider_rate_limited_total",
			Help: "Total number of provider requests rejected by the local rate limiter",
		},
		[]string{"platform"},
	)
)
