// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/OpenHealthLab/HealthAPI/internal/logging"
	"github.com/OpenHealthLab/HealthAPI/internal/middleware"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
	"github.com/OpenHealthLab/HealthAPI/internal/validation"
)

// maxBodyBytes caps request bodies. Auth payloads are small; anything
// larger is rejected before decoding.
const maxBodyBytes = 64 << 10

// sanitizeLogValue removes control characters from strings to prevent log
// injection. Newlines, carriage returns and other control characters could
// otherwise forge log entries.
func sanitizeLogValue(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			result.WriteString(fmt.Sprintf("\\x%02x", r))
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// respondJSON sends a JSON response with the standard envelope. Auth
// responses carry tokens and account state, so caching is disabled.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	respond(w, r, status, &models.APIResponse{
		Status: "success",
		Data:   data,
		Metadata: models.Metadata{
			Timestamp: time.Now(),
			RequestID: middleware.GetRequestID(r.Context()),
		},
	})
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, r *http.Request, status int, apiErr *models.APIError, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Warn().
			Str("code", sanitizeLogValue(apiErr.Code)).
			Str("error", sanitizeLogValue(err.Error())).
			Int("status", status).
			Msg("API error")
	}

	respond(w, r, status, &models.APIResponse{
		Status: "error",
		Data:   nil,
		Metadata: models.Metadata{
			Timestamp: time.Now(),
			RequestID: middleware.GetRequestID(r.Context()),
		},
		Error: apiErr,
	})
}

func respond(w http.ResponseWriter, r *http.Request, status int, response *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	data, err := json.Marshal(response)
	if err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to write JSON response")
	}
}

// decodeJSON decodes and validates a request body into v. On failure the
// error response has already been written and false is returned.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    "INVALID_JSON",
			Message: "Request body is not valid JSON",
		}, err)
		return false
	}

	if verr := validation.ValidateStruct(v); verr != nil {
		apiErr := verr.ToAPIError()
		respondError(w, r, http.StatusBadRequest, &models.APIError{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Details: apiErr.Details,
		}, nil)
		return false
	}

	return true
}

// getIntParam extracts an integer query parameter with a default value.
func getIntParam(r *http.Request, key string, defaultValue int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getTimeParam parses an RFC3339 query parameter, returning the zero time
// when absent or malformed.
func getTimeParam(r *http.Request, key string) time.Time {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// parseCommaSeparated splits a comma-separated query value into a slice.
func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
