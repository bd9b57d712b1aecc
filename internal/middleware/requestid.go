// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package middleware provides HTTP middleware shared across the API surface:
// request ID propagation and Prometheus request instrumentation.
package middleware

import (
	"context"
	"net/http"

	"github.com/OpenHealthLab/HealthAPI/internal/logging"
)

type contextKey string

// RequestIDKey is the context key under which the request ID is stored.
const RequestIDKey contextKey = "request_id"

// RequestID generates a unique ID for each request and adds it to the
// response header, the request context and the logging context. An ID
// supplied by an upstream proxy via X-Request-ID is kept as-is.
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}

		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		ctx = logging.ContextWithRequestID(ctx, requestID)

		next(w, r.WithContext(ctx))
	}
}

// GetRequestID extracts the request ID from context, or "" when absent.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
