// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package metrics exposes Prometheus instrumentation for the HTTP surface.
// Domain packages (auth, authz, audit) register their own collectors; this
// package only covers request-level metrics shared by all endpoints.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthapi_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "healthapi_http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	httpActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "healthapi_http_active_requests",
		Help: "Number of HTTP requests currently being served.",
	})
)

// RecordHTTPRequest records one completed request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		httpActiveRequests.Inc()
	} else {
		httpActiveRequests.Dec()
	}
}
