// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package audit provides security audit logging functionality.
// It records authentication and authorization events for compliance
// and forensic analysis.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes audit events.
type EventType string

const (
	// Authentication events
	EventTypeAuthSuccess     EventType = "auth.success"
	EventTypeAuthFailure     EventType = "auth.failure"
	EventTypeAuthRateLimited EventType = "auth.rate_limited"
	EventTypeLogout          EventType = "auth.logout"
	EventTypeLogoutAll       EventType = "auth.logout_all"
	EventTypeTokenRefreshed  EventType = "auth.token_refreshed"
	EventTypeTokenRejected   EventType = "auth.token_rejected"

	// Two-factor events
	EventTypeTwoFactorEnabled  EventType = "auth.2fa_enabled"
	EventTypeTwoFactorDisabled EventType = "auth.2fa_disabled"
	EventTypeTwoFactorFailure  EventType = "auth.2fa_failure"

	// Authorization events
	EventTypeAuthzGranted EventType = "authz.granted"
	EventTypeAuthzDenied  EventType = "authz.denied"

	// Account management events
	EventTypeUserRegistered   EventType = "user.registered"
	EventTypePasswordChanged  EventType = "user.password_changed"
	EventTypeProfileUpdated   EventType = "user.profile_updated"
	EventTypeAccountDisabled  EventType = "user.deactivated"
	EventTypeAccountEnabled   EventType = "user.reactivated"
	EventTypeRoleAssigned     EventType = "user.role_assigned"
	EventTypeRoleRevoked      EventType = "user.role_revoked"
	EventTypePolicyChanged    EventType = "policy.changed"
	EventTypeAdminAction      EventType = "admin.action"
)

// Severity indicates the severity level of an audit event.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Outcome indicates whether an action succeeded or failed.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AnonymousPrincipal is recorded when an event has no authenticated
// principal, such as a failed login for an unknown username.
const AnonymousPrincipal = "anonymous"

// Event represents a security audit event.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Severity of the event.
	Severity Severity `json:"severity"`

	// Outcome indicates success or failure.
	Outcome Outcome `json:"outcome"`

	// PrincipalID identifies the acting principal, or "anonymous".
	PrincipalID string `json:"principal_id"`

	// Username of the acting principal, when known.
	Username string `json:"username,omitempty"`

	// Action describes what was attempted.
	Action string `json:"action"`

	// Resource is the target of the action, when applicable.
	Resource string `json:"resource,omitempty"`

	// ErrorKind is a stable machine-readable failure label.
	ErrorKind string `json:"error_kind,omitempty"`

	// Source of the request.
	Source Source `json:"source"`

	// Details contains event-specific metadata.
	Details json.RawMessage `json:"details,omitempty"`
}

// Source represents where a request originated.
type Source struct {
	// IPAddress of the client.
	IPAddress string `json:"ip_address,omitempty"`

	// UserAgent of the client.
	UserAgent string `json:"user_agent,omitempty"`

	// RequestID from the originating HTTP request.
	RequestID string `json:"request_id,omitempty"`
}

// Store defines the interface for audit event persistence.
type Store interface {
	// Save persists an audit event.
	Save(ctx context.Context, event *Event) error

	// Get retrieves an event by ID.
	Get(ctx context.Context, id string) (*Event, error)

	// Query retrieves events matching the filter, most recent first.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter QueryFilter) (int64, error)

	// Delete removes events older than the given time.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
}

// QueryFilter defines filtering options for audit queries.
type QueryFilter struct {
	// Types filters by event types.
	Types []EventType `json:"types,omitempty"`

	// Outcomes filters by outcome.
	Outcomes []Outcome `json:"outcomes,omitempty"`

	// PrincipalID filters by acting principal.
	PrincipalID string `json:"principal_id,omitempty"`

	// Username filters by username.
	Username string `json:"username,omitempty"`

	// SourceIP filters by source IP.
	SourceIP string `json:"source_ip,omitempty"`

	// StartTime is the beginning of the time range.
	StartTime *time.Time `json:"start_time,omitempty"`

	// EndTime is the end of the time range.
	EndTime *time.Time `json:"end_time,omitempty"`

	// RequestID filters by request ID.
	RequestID string `json:"request_id,omitempty"`

	// Limit is the maximum number of results.
	Limit int `json:"limit,omitempty"`

	// Offset for pagination.
	Offset int `json:"offset,omitempty"`
}

// DefaultQueryFilter returns a sensible default filter.
func DefaultQueryFilter() QueryFilter {
	return QueryFilter{Limit: 100}
}
