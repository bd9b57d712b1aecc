// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package store

import (
	"context"
	"strings"
	"sync"

	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

// Memory implements PrincipalStore and RoleStore with in-process maps.
// Suitable for development, testing and single-instance deployments.
type Memory struct {
	mu          sync.RWMutex
	principals  map[string]*models.Principal // keyed by ID
	byUsername  map[string]string            // username -> ID
	byEmail     map[string]string            // email -> ID
	roles       map[string]*models.Role      // keyed by name
	assignments map[string]map[string]models.RoleAssignment // principalID -> role -> assignment
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		principals:  make(map[string]*models.Principal),
		byUsername:  make(map[string]string),
		byEmail:     make(map[string]string),
		roles:       make(map[string]*models.Role),
		assignments: make(map[string]map[string]models.RoleAssignment),
	}
}

func copyPrincipal(p *models.Principal) *models.Principal {
	cp := *p
	return &cp
}

// Create inserts a new principal.
func (m *Memory) Create(ctx context.Context, p *models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	username := strings.ToLower(p.Username)
	email := strings.ToLower(p.Email)

	if _, ok := m.byUsername[username]; ok {
		return ErrDuplicate
	}
	if _, ok := m.byEmail[email]; ok {
		return ErrDuplicate
	}

	m.principals[p.ID] = copyPrincipal(p)
	m.byUsername[username] = p.ID
	m.byEmail[email] = p.ID
	return nil
}

// GetByID retrieves a principal by ID.
func (m *Memory) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPrincipal(p), nil
}

// GetByLogin retrieves a principal by username or email.
func (m *Memory) GetByLogin(ctx context.Context, login string) (*models.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := strings.ToLower(login)
	id, ok := m.byUsername[key]
	if !ok {
		id, ok = m.byEmail[key]
	}
	if !ok {
		return nil, ErrNotFound
	}
	return copyPrincipal(m.principals[id]), nil
}

// Update overwrites an existing principal record.
func (m *Memory) Update(ctx context.Context, p *models.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.principals[p.ID]
	if !ok {
		return ErrNotFound
	}

	// A changed username or email must not collide with another principal.
	if id, taken := m.byUsername[strings.ToLower(p.Username)]; taken && id != p.ID {
		return ErrDuplicate
	}
	if id, taken := m.byEmail[strings.ToLower(p.Email)]; taken && id != p.ID {
		return ErrDuplicate
	}

	// Keep the lookup indexes consistent on username/email change.
	if old.Username != p.Username {
		delete(m.byUsername, strings.ToLower(old.Username))
		m.byUsername[strings.ToLower(p.Username)] = p.ID
	}
	if old.Email != p.Email {
		delete(m.byEmail, strings.ToLower(old.Email))
		m.byEmail[strings.ToLower(p.Email)] = p.ID
	}

	m.principals[p.ID] = copyPrincipal(p)
	return nil
}

// CreateRole inserts a new role.
func (m *Memory) CreateRole(ctx context.Context, r *models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := strings.ToLower(r.Name)
	if _, ok := m.roles[name]; ok {
		return ErrDuplicate
	}
	cp := *r
	cp.Name = name
	m.roles[name] = &cp
	return nil
}

// GetRole retrieves a role by name.
func (m *Memory) GetRole(ctx context.Context, name string) (*models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[strings.ToLower(name)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRoles returns all roles.
func (m *Memory) ListRoles(ctx context.Context) ([]models.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, *r)
	}
	return out, nil
}

// DeleteRole removes a role and its assignments.
func (m *Memory) DeleteRole(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = strings.ToLower(name)
	r, ok := m.roles[name]
	if !ok {
		return ErrNotFound
	}
	if r.System {
		return ErrImmutable
	}
	delete(m.roles, name)
	for _, byRole := range m.assignments {
		delete(byRole, name)
	}
	return nil
}

// Assign links a role to a principal.
func (m *Memory) Assign(ctx context.Context, a *models.RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	role := strings.ToLower(a.Role)
	if _, ok := m.roles[role]; !ok {
		return ErrNotFound
	}
	byRole, ok := m.assignments[a.PrincipalID]
	if !ok {
		byRole = make(map[string]models.RoleAssignment)
		m.assignments[a.PrincipalID] = byRole
	}
	cp := *a
	cp.Role = role
	byRole[role] = cp
	return nil
}

// Unassign removes a role from a principal.
func (m *Memory) Unassign(ctx context.Context, principalID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	byRole, ok := m.assignments[principalID]
	if !ok {
		return ErrNotFound
	}
	role = strings.ToLower(role)
	if _, ok := byRole[role]; !ok {
		return ErrNotFound
	}
	delete(byRole, role)
	return nil
}

// RolesFor returns the names of roles directly assigned to a principal.
func (m *Memory) RolesFor(ctx context.Context, principalID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byRole := m.assignments[principalID]
	out := make([]string, 0, len(byRole))
	for role := range byRole {
		out = append(out, role)
	}
	return out, nil
}
