// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package config

import (
	"fmt"
	"unicode"
)

// PasswordPolicy defines requirements for password strength, enforced before
// a password is ever hashed or stored.
type PasswordPolicy struct {
	// MinLength is the minimum password length.
	MinLength int `koanf:"min_length"`

	// RequireUppercase requires at least one uppercase letter.
	RequireUppercase bool `koanf:"require_uppercase"`

	// RequireLowercase requires at least one lowercase letter.
	RequireLowercase bool `koanf:"require_lowercase"`

	// RequireDigit requires at least one digit.
	RequireDigit bool `koanf:"require_digit"`

	// RequireSpecial requires at least one symbol or punctuation character.
	RequireSpecial bool `koanf:"require_special"`
}

// DefaultPasswordPolicy returns the standard policy: 8+ characters with all
// four character classes.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
	}
}

// charClasses holds the results of character class analysis.
type charClasses struct {
	hasUpper   bool
	hasLower   bool
	hasDigit   bool
	hasSpecial bool
}

// analyzeCharClasses examines a password and records which classes appear.
func analyzeCharClasses(password string) charClasses {
	var cc charClasses
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			cc.hasUpper = true
		case unicode.IsLower(r):
			cc.hasLower = true
		case unicode.IsDigit(r):
			cc.hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			cc.hasSpecial = true
		}
	}
	return cc
}

// Validate checks a password against the policy and returns the list of
// unmet rules. An empty slice means the password is acceptable.
func (p PasswordPolicy) Validate(password string) []string {
	var unmet []string

	if len(password) < p.MinLength {
		unmet = append(unmet,
			fmt.Sprintf("password must be at least %d characters long", p.MinLength))
	}

	cc := analyzeCharClasses(password)
	if p.RequireUppercase && !cc.hasUpper {
		unmet = append(unmet, "password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !cc.hasLower {
		unmet = append(unmet, "password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !cc.hasDigit {
		unmet = append(unmet, "password must contain at least one digit")
	}
	if p.RequireSpecial && !cc.hasSpecial {
		unmet = append(unmet, "password must contain at least one special character")
	}

	return unmet
}
