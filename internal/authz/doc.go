// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package authz implements the RBAC policy engine: role inheritance over a
// single-parent forest, hierarchical resource patterns with regular-expression
// action matching, and deny-overrides evaluation with default deny.
//
// The engine evaluates against an immutable snapshot swapped atomically on
// administrative updates, so concurrent decisions never observe a partially
// updated rule set and evaluation itself is pure.
package authz
