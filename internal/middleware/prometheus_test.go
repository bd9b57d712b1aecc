// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPrometheusMetricsPassthrough(t *testing.T) {
	handler := PrometheusMetrics(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/api/v2/studies", nil))

	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
}

func TestMetricsResponseWriterDefaultsOK(t *testing.T) {
	// A handler that never calls WriteHeader should record 200.
	wrapper := &metricsResponseWriter{
		ResponseWriter: httptest.NewRecorder(),
		statusCode:     http.StatusOK,
	}
	if wrapper.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, want %d", wrapper.statusCode, http.StatusOK)
	}

	wrapper.WriteHeader(http.StatusNotFound)
	if wrapper.statusCode != http.StatusNotFound {
		t.Errorf("statusCode after WriteHeader = %d, want %d", wrapper.statusCode, http.StatusNotFound)
	}
}
