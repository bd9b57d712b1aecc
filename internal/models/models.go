// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package models defines the record shapes exchanged with the persistence
// collaborator: principals, roles, role assignments, policy rules and
// sessions. Storage mechanics live in internal/store; these types only
// describe what must be stored.
package models

import "time"

// Principal is a user account. Accounts are never hard-deleted; they are
// soft-disabled via Active=false so the audit trail stays referable.
type Principal struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name,omitempty"`
	Active       bool       `json:"active"`

	// TOTPSecret is set when 2FA provisioning starts and only considered
	// live once TOTPEnabled is true (a code must verify first).
	TOTPSecret  string `json:"-"`
	TOTPEnabled bool   `json:"totp_enabled"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Role is a named permission holder. Parent, when non-empty, names the single
// role this one inherits from. The parent links form a forest; cycles are
// rejected at assignment time.
type Role struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Description string    `json:"description,omitempty"`
	Parent      string    `json:"parent,omitempty"`
	System      bool      `json:"system"`
	CreatedAt   time.Time `json:"created_at"`
}

// RoleAssignment links a principal to a role. A principal may hold any number
// of roles; effective roles are the assigned set plus transitive parents.
type RoleAssignment struct {
	PrincipalID string    `json:"principal_id"`
	Role        string    `json:"role"`
	AssignedBy  string    `json:"assigned_by,omitempty"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// Effect is the outcome a policy rule contributes.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// PolicyRule grants or denies an action on a resource to a role.
// Resource supports hierarchical wildcards ("*" matches one path segment,
// a trailing "*" matches any suffix); Action is a regular expression
// matched against the action verb.
type PolicyRule struct {
	Role     string `json:"role"`
	Resource string `json:"resource_pattern"`
	Action   string `json:"action_pattern"`
	Effect   Effect `json:"effect"`
}

// Session records an issued token for revocation tracking, keyed by jti.
// PairJTI links the two halves of an issued token pair so revoking one
// half takes the other with it.
type Session struct {
	JTI         string    `json:"jti"`
	PairJTI     string    `json:"pair_jti,omitempty"`
	PrincipalID string    `json:"principal_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Revoked     bool      `json:"revoked"`
}

// Expired reports whether the session's token lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}
