// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package authz

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/OpenHealthLab/HealthAPI/internal/audit"
	"github.com/OpenHealthLab/HealthAPI/internal/logging"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
	"github.com/OpenHealthLab/HealthAPI/internal/store"
)

var (
	// ErrSelfRoleChange is returned when an actor tries to change their own
	// role assignments.
	ErrSelfRoleChange = errors.New("cannot modify own role assignments")

	// ErrSystemRole is returned when a system role would be deleted.
	ErrSystemRole = errors.New("system role cannot be deleted")

	// ErrInvalidRoleName is returned for role names outside the accepted
	// shape.
	ErrInvalidRoleName = errors.New("invalid role name")
)

// roleNameRe constrains role names to lowercase slug form.
var roleNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,63}$`)

// Service is the role and policy administration layer. It keeps the
// persisted role forest and the engine's in-memory snapshot in sync and
// audits every mutation.
type Service struct {
	roles    store.RoleStore
	engine   *Engine
	recorder *audit.Recorder
	now      func() time.Time
}

// NewService creates the role administration service.
func NewService(roles store.RoleStore, engine *Engine, recorder *audit.Recorder) *Service {
	return &Service{
		roles:    roles,
		engine:   engine,
		recorder: recorder,
		now:      time.Now,
	}
}

// LoadFromStore rebuilds the engine's role forest from persisted roles.
// Called at startup and after any mutation that bypassed this service.
func (s *Service) LoadFromStore(ctx context.Context, rules []models.PolicyRule) error {
	roles, err := s.roles.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}

	parents := make(map[string]string, len(roles))
	for _, r := range roles {
		if r.Parent != "" {
			parents[r.Name] = r.Parent
		}
	}
	return s.engine.Load(rules, parents)
}

// CreateRole persists a new role and links it into the engine's forest.
// A parent that would close an inheritance cycle is rejected before
// anything is written.
func (s *Service) CreateRole(ctx context.Context, role *models.Role) error {
	role.Name = strings.ToLower(strings.TrimSpace(role.Name))
	role.Parent = strings.ToLower(strings.TrimSpace(role.Parent))
	if !roleNameRe.MatchString(role.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidRoleName, role.Name)
	}

	if role.Parent != "" {
		if _, err := s.roles.GetRole(ctx, role.Parent); err != nil {
			return fmt.Errorf("parent role %q: %w", role.Parent, err)
		}
	}
	if err := s.engine.SetParent(role.Name, role.Parent); err != nil {
		return err
	}

	role.CreatedAt = s.now()
	if err := s.roles.CreateRole(ctx, role); err != nil {
		// Roll the forest back so engine and store stay in step.
		if rbErr := s.engine.SetParent(role.Name, ""); rbErr != nil {
			logging.Ctx(ctx).Error().Err(rbErr).Str("role", role.Name).Msg("Failed to roll back role parent")
		}
		return err
	}

	logging.Ctx(ctx).Info().Str("role", role.Name).Str("parent", role.Parent).Msg("Role created")
	return nil
}

// DeleteRole removes a non-system role and detaches it from the forest.
func (s *Service) DeleteRole(ctx context.Context, name string) error {
	name = strings.ToLower(name)

	role, err := s.roles.GetRole(ctx, name)
	if err != nil {
		return err
	}
	if role.System {
		return ErrSystemRole
	}

	if err := s.roles.DeleteRole(ctx, name); err != nil {
		return err
	}
	if err := s.engine.SetParent(name, ""); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("role", name).Msg("Failed to detach deleted role")
	}
	return nil
}

// ListRoles returns all persisted roles.
func (s *Service) ListRoles(ctx context.Context) ([]models.Role, error) {
	return s.roles.ListRoles(ctx)
}

// AssignRole links a role to a principal. Actors cannot change their own
// assignments; privilege changes always require a second pair of hands.
func (s *Service) AssignRole(ctx context.Context, principalID, role, actorID, actorName string, source audit.Source) error {
	if principalID == actorID {
		return ErrSelfRoleChange
	}
	role = strings.ToLower(role)

	if err := s.roles.Assign(ctx, &models.RoleAssignment{
		PrincipalID: principalID,
		Role:        role,
		AssignedBy:  actorID,
		AssignedAt:  s.now(),
	}); err != nil {
		return err
	}

	s.recorder.RecordAccountEvent(ctx, audit.EventTypeRoleAssigned, actorID, actorName, "assign_role:"+role, audit.OutcomeSuccess, "", source)
	logging.Ctx(ctx).Info().Str("principal_id", principalID).Str("role", role).Str("actor", actorID).Msg("Role assigned")
	return nil
}

// UnassignRole removes a role from a principal, with the same self-change
// guard as AssignRole.
func (s *Service) UnassignRole(ctx context.Context, principalID, role, actorID, actorName string, source audit.Source) error {
	if principalID == actorID {
		return ErrSelfRoleChange
	}
	role = strings.ToLower(role)

	if err := s.roles.Unassign(ctx, principalID, role); err != nil {
		return err
	}

	s.recorder.RecordAccountEvent(ctx, audit.EventTypeRoleRevoked, actorID, actorName, "unassign_role:"+role, audit.OutcomeSuccess, "", source)
	logging.Ctx(ctx).Info().Str("principal_id", principalID).Str("role", role).Str("actor", actorID).Msg("Role unassigned")
	return nil
}

// RolesFor returns the roles directly assigned to a principal.
func (s *Service) RolesFor(ctx context.Context, principalID string) ([]string, error) {
	return s.roles.RolesFor(ctx, principalID)
}

// EffectiveRolesFor returns the assigned roles expanded through inheritance.
func (s *Service) EffectiveRolesFor(ctx context.Context, principalID string) ([]string, error) {
	assigned, err := s.roles.RolesFor(ctx, principalID)
	if err != nil {
		return nil, err
	}
	return s.engine.EffectiveRoles(assigned), nil
}

// AddRule adds a policy rule to the engine and audits the change.
func (s *Service) AddRule(ctx context.Context, rule models.PolicyRule, actorID, actorName string, source audit.Source) error {
	if err := s.engine.AddRule(rule); err != nil {
		return err
	}
	s.recorder.RecordAccountEvent(ctx, audit.EventTypePolicyChanged, actorID, actorName, "add_rule", audit.OutcomeSuccess, "", source)
	return nil
}

// RemoveRule removes a policy rule from the engine and audits the change.
func (s *Service) RemoveRule(ctx context.Context, rule models.PolicyRule, actorID, actorName string, source audit.Source) error {
	if err := s.engine.RemoveRule(rule); err != nil {
		return err
	}
	s.recorder.RecordAccountEvent(ctx, audit.EventTypePolicyChanged, actorID, actorName, "remove_rule", audit.OutcomeSuccess, "", source)
	return nil
}

// Rules returns the current policy rule set.
func (s *Service) Rules() []models.PolicyRule {
	return s.engine.Rules()
}
