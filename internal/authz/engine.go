// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package authz

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/OpenHealthLab/HealthAPI/internal/models"
)

// maxInheritanceDepth caps the walk up a role's parent chain. Cycles are
// rejected at assignment time, so this bound only guards against forests
// deeper than any sane deployment.
const maxInheritanceDepth = 16

var (
	// ErrRoleCycle is returned when setting a parent would close a cycle in
	// the role forest.
	ErrRoleCycle = errors.New("role inheritance cycle")

	// ErrRuleNotFound is returned when removing a rule that does not exist.
	ErrRuleNotFound = errors.New("policy rule not found")
)

// compiledRule is a policy rule with its patterns pre-compiled.
type compiledRule struct {
	rule     models.PolicyRule
	resource resourcePattern
	action   *regexp.Regexp
}

// snapshot is an immutable view of the rule set and role forest. Evaluation
// reads exactly one snapshot, so it never sees a partial update.
type snapshot struct {
	rules   []compiledRule
	parents map[string]string // role -> parent role
}

// emptySnapshot has no rules and no roles: everything is denied.
var emptySnapshot = &snapshot{parents: map[string]string{}}

// Engine evaluates (roles, resource, action) triples against the current
// policy snapshot. Reads are lock-free; administrative updates serialize on
// a mutex and publish a fresh snapshot atomically.
type Engine struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[snapshot]
}

// NewEngine creates an engine with an empty rule set (default deny).
func NewEngine() *Engine {
	e := &Engine{}
	e.current.Store(emptySnapshot)
	return e
}

// Load replaces the entire rule set and role forest in one swap.
func (e *Engine) Load(rules []models.PolicyRule, parents map[string]string) error {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
	}

	normalized := make(map[string]string, len(parents))
	for role, parent := range parents {
		normalized[strings.ToLower(role)] = strings.ToLower(parent)
	}
	if role, ok := findCycle(normalized); ok {
		return fmt.Errorf("%w: involving role %q", ErrRoleCycle, role)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.current.Store(&snapshot{rules: compiled, parents: normalized})
	return nil
}

func compileRule(r models.PolicyRule) (compiledRule, error) {
	if r.Effect != models.EffectAllow && r.Effect != models.EffectDeny {
		return compiledRule{}, fmt.Errorf("policy rule for role %q: bad effect %q", r.Role, r.Effect)
	}
	res, err := compileResource(r.Resource)
	if err != nil {
		return compiledRule{}, err
	}
	act, err := compileAction(r.Action)
	if err != nil {
		return compiledRule{}, err
	}
	r.Role = strings.ToLower(r.Role)
	return compiledRule{rule: r, resource: res, action: act}, nil
}

// AddRule adds a policy rule and publishes a new snapshot.
func (e *Engine) AddRule(r models.PolicyRule) error {
	cr, err := compileRule(r)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	rules := make([]compiledRule, len(old.rules), len(old.rules)+1)
	copy(rules, old.rules)
	rules = append(rules, cr)
	e.current.Store(&snapshot{rules: rules, parents: old.parents})
	return nil
}

// RemoveRule removes the first rule equal to r. Returns ErrRuleNotFound when
// no rule matches.
func (e *Engine) RemoveRule(r models.PolicyRule) error {
	r.Role = strings.ToLower(r.Role)

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	rules := make([]compiledRule, 0, len(old.rules))
	removed := false
	for _, cr := range old.rules {
		if !removed && cr.rule == r {
			removed = true
			continue
		}
		rules = append(rules, cr)
	}
	if !removed {
		return ErrRuleNotFound
	}
	e.current.Store(&snapshot{rules: rules, parents: old.parents})
	return nil
}

// Rules returns a copy of the current rule set.
func (e *Engine) Rules() []models.PolicyRule {
	snap := e.current.Load()
	out := make([]models.PolicyRule, len(snap.rules))
	for i, cr := range snap.rules {
		out[i] = cr.rule
	}
	return out
}

// SetParent records that role inherits from parent. An empty parent detaches
// the role. Returns ErrRoleCycle when the link would close a cycle; the
// forest is left unchanged in that case.
func (e *Engine) SetParent(role, parent string) error {
	role = strings.ToLower(role)
	parent = strings.ToLower(parent)

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.current.Load()
	parents := make(map[string]string, len(old.parents)+1)
	for k, v := range old.parents {
		parents[k] = v
	}
	if parent == "" {
		delete(parents, role)
	} else {
		parents[role] = parent
	}

	if r, ok := findCycle(parents); ok {
		return fmt.Errorf("%w: involving role %q", ErrRoleCycle, r)
	}

	e.current.Store(&snapshot{rules: old.rules, parents: parents})
	return nil
}

// Parent returns the parent of a role, or "" when the role has none.
func (e *Engine) Parent(role string) string {
	return e.current.Load().parents[strings.ToLower(role)]
}

// findCycle walks every chain in the forest and reports a role on a cycle,
// if any. Also catches chains longer than maxInheritanceDepth.
func findCycle(parents map[string]string) (string, bool) {
	for start := range parents {
		role := start
		for depth := 0; ; depth++ {
			parent, ok := parents[role]
			if !ok {
				break
			}
			if parent == start || depth >= maxInheritanceDepth {
				return start, true
			}
			role = parent
		}
	}
	return "", false
}

// EffectiveRoles returns the assigned roles plus every transitive parent,
// deduplicated, in stable assigned-then-inherited order.
func (e *Engine) EffectiveRoles(assigned []string) []string {
	return e.current.Load().effectiveRoles(assigned)
}

func (s *snapshot) effectiveRoles(assigned []string) []string {
	seen := make(map[string]struct{}, len(assigned))
	out := make([]string, 0, len(assigned))

	var add func(role string, depth int)
	add = func(role string, depth int) {
		role = strings.ToLower(role)
		if role == "" || depth > maxInheritanceDepth {
			return
		}
		if _, ok := seen[role]; ok {
			return
		}
		seen[role] = struct{}{}
		out = append(out, role)
		if parent, ok := s.parents[role]; ok {
			add(parent, depth+1)
		}
	}

	for _, role := range assigned {
		add(role, 0)
	}
	return out
}

// IsAllowed decides whether principals holding the given roles may perform
// action on resource. Evaluation is deterministic and side-effect-free:
// the role closure is computed over the snapshot's forest, matching rules
// are collected, any deny wins, otherwise any allow grants, and no match
// denies (fail closed).
func (e *Engine) IsAllowed(assigned []string, resource, action string) bool {
	snap := e.current.Load()
	closure := snap.effectiveRoles(assigned)

	roleSet := make(map[string]struct{}, len(closure))
	for _, r := range closure {
		roleSet[r] = struct{}{}
	}

	allowed := false
	for _, cr := range snap.rules {
		if _, ok := roleSet[cr.rule.Role]; !ok {
			continue
		}
		if !cr.resource.match(resource) || !cr.action.MatchString(action) {
			continue
		}
		if cr.rule.Effect == models.EffectDeny {
			decisionsTotal.WithLabelValues("deny").Inc()
			return false
		}
		allowed = true
	}

	if allowed {
		decisionsTotal.WithLabelValues("allow").Inc()
	} else {
		decisionsTotal.WithLabelValues("default_deny").Inc()
	}
	return allowed
}
