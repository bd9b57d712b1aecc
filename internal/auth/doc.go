// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

// Package auth implements the authentication core: credential hashing,
// TOTP second-factor verification, JWT issuance and verification, the
// session registry used for revocation, login rate limiting, and the
// Service facade that ties them together.
//
// Authorization decisions live in internal/authz; auth only carries role
// names inside token claims.
package auth
