// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package api

import (
	"net/http"
	"time"
)

// Health reports liveness. It is unauthenticated so load balancers and
// monitoring can probe it.
func (router *Router) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        router.options.Version,
		"uptime_seconds": int64(time.Since(router.startedAt).Seconds()),
	})
}
