// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package store defines the persistence collaborator consumed by the
// authentication core: principal and role lookups and mutations. The core
// only depends on these interfaces; backing storage is swappable.
package store

import (
	"context"
	"errors"

	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a uniqueness constraint would be violated.
	ErrDuplicate = errors.New("record already exists")

	// ErrImmutable is returned when a protected record would be deleted.
	ErrImmutable = errors.New("record cannot be modified")
)

// PrincipalStore persists user accounts.
type PrincipalStore interface {
	// Create inserts a new principal. Returns ErrDuplicate if the username
	// or email is already taken.
	Create(ctx context.Context, p *models.Principal) error

	// GetByID retrieves a principal by its unique identifier.
	GetByID(ctx context.Context, id string) (*models.Principal, error)

	// GetByLogin retrieves a principal by username or email. The same lookup
	// serves both so login does not distinguish the two.
	GetByLogin(ctx context.Context, login string) (*models.Principal, error)

	// Update overwrites an existing principal record.
	Update(ctx context.Context, p *models.Principal) error
}

// RoleStore persists roles and role assignments.
type RoleStore interface {
	// CreateRole inserts a new role. Returns ErrDuplicate on name collision.
	CreateRole(ctx context.Context, r *models.Role) error

	// GetRole retrieves a role by name.
	GetRole(ctx context.Context, name string) (*models.Role, error)

	// ListRoles returns all roles.
	ListRoles(ctx context.Context) ([]models.Role, error)

	// DeleteRole removes a role and its assignments. System roles cannot
	// be deleted.
	DeleteRole(ctx context.Context, name string) error

	// Assign links a role to a principal.
	Assign(ctx context.Context, a *models.RoleAssignment) error

	// Unassign removes a role from a principal.
	Unassign(ctx context.Context, principalID, role string) error

	// RolesFor returns the names of roles directly assigned to a principal
	// (inheritance closure is the policy engine's concern).
	RolesFor(ctx context.Context, principalID string) ([]string, error)
}
