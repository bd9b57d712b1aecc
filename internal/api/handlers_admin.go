// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// handlers_admin.go - role, policy and audit administration endpoints.
// All routes here sit behind the Authorize middleware, so reaching a
// handler means the policy engine already granted the request.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/OpenHealthLab/HealthAPI/internal/audit"
	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	DisplayName string `json:"display_name" validate:"omitempty,max=128"`
	Description string `json:"description" validate:"omitempty,max=256"`
	Parent      string `json:"parent" validate:"omitempty,max=64"`
}

type roleAssignmentRequest struct {
	PrincipalID string `json:"principal_id" validate:"required"`
	Role        string `json:"role" validate:"required"`
}

type policyRuleRequest struct {
	Role     string `json:"role" validate:"required"`
	Resource string `json:"resource" validate:"required"`
	Action   string `json:"action" validate:"required"`
	Effect   string `json:"effect" validate:"required,oneof=allow deny"`
}

// ListRoles returns every defined role.
func (router *Router) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := router.authz.ListRoles(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, roles)
}

// CreateRole defines a new role, optionally inheriting from a parent.
func (router *Router) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	role := &models.Role{
		Name:        req.Name,
		DisplayName: req.DisplayName,
		Description: req.Description,
		Parent:      req.Parent,
	}
	if err := router.authz.CreateRole(r.Context(), role); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, role)
}

// DeleteRole removes a role. System roles are protected.
func (router *Router) DeleteRole(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := router.authz.DeleteRole(r.Context(), name); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "role deleted"})
}

// AssignRole grants a role to a principal. Administrators cannot change
// their own assignments.
func (router *Router) AssignRole(w http.ResponseWriter, r *http.Request) {
	var req roleAssignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := ClaimsFromContext(r.Context())

	err := router.authz.AssignRole(r.Context(), req.PrincipalID, req.Role, claims.Subject, claims.Username, requestSource(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "role assigned"})
}

// UnassignRole removes a role from a principal.
func (router *Router) UnassignRole(w http.ResponseWriter, r *http.Request) {
	var req roleAssignmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := ClaimsFromContext(r.Context())

	err := router.authz.UnassignRole(r.Context(), req.PrincipalID, req.Role, claims.Subject, claims.Username, requestSource(r))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "role unassigned"})
}

// ListRules returns the active policy rule set.
func (router *Router) ListRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, http.StatusOK, router.authz.Rules())
}

// AddRule adds a policy rule and activates it immediately.
func (router *Router) AddRule(w http.ResponseWriter, r *http.Request) {
	var req policyRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule := models.PolicyRule{
		Role:     req.Role,
		Resource: req.Resource,
		Action:   req.Action,
		Effect:   models.Effect(req.Effect),
	}

	claims := ClaimsFromContext(r.Context())

	if err := router.authz.AddRule(r.Context(), rule, claims.Subject, claims.Username, requestSource(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusCreated, rule)
}

// RemoveRule deletes a policy rule. The rule is matched exactly on role,
// resource, action and effect.
func (router *Router) RemoveRule(w http.ResponseWriter, r *http.Request) {
	var req policyRuleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rule := models.PolicyRule{
		Role:     req.Role,
		Resource: req.Resource,
		Action:   req.Action,
		Effect:   models.Effect(req.Effect),
	}

	claims := ClaimsFromContext(r.Context())

	if err := router.authz.RemoveRule(r.Context(), rule, claims.Subject, claims.Username, requestSource(r)); err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]string{"message": "rule removed"})
}

// QueryAudit returns audit events matching the query filters, newest first.
//
// Supported query parameters: types, outcomes (comma-separated), principal_id,
// username, ip, request_id, start, end (RFC3339), limit, offset.
func (router *Router) QueryAudit(w http.ResponseWriter, r *http.Request) {
	filter := audit.DefaultQueryFilter()

	for _, t := range parseCommaSeparated(r.URL.Query().Get("types")) {
		filter.Types = append(filter.Types, audit.EventType(t))
	}
	for _, o := range parseCommaSeparated(r.URL.Query().Get("outcomes")) {
		filter.Outcomes = append(filter.Outcomes, audit.Outcome(o))
	}

	filter.PrincipalID = r.URL.Query().Get("principal_id")
	filter.Username = r.URL.Query().Get("username")
	filter.SourceIP = r.URL.Query().Get("ip")
	filter.RequestID = r.URL.Query().Get("request_id")
	filter.Limit = getIntParam(r, "limit", filter.Limit)
	filter.Offset = getIntParam(r, "offset", 0)

	if start := getTimeParam(r, "start"); !start.IsZero() {
		filter.StartTime = &start
	}
	if end := getTimeParam(r, "end"); !end.IsZero() {
		filter.EndTime = &end
	}

	events, err := router.recorder.Query(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	total, err := router.recorder.Count(r.Context(), filter)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, r, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}
