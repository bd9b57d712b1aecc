// HealthAPI - Medical Imaging Analysis REST Backend
// Copyright 2026 OpenHealthLab
// SPDX-License-Identifier: Apache-2.0
// https://github.com/OpenHealthLab/HealthAPI

package authz

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentKind tags how one compiled path segment matches.
type segmentKind int

const (
	// segLiteral matches its text exactly.
	segLiteral segmentKind = iota

	// segSingle ("*" mid-path) matches exactly one path component.
	segSingle

	// segSuffix ("*" or "**" at the tail) matches one or more trailing
	// components.
	segSuffix
)

type segment struct {
	kind segmentKind
	text string
}

// resourcePattern is the compiled form of a hierarchical resource pattern
// such as "/api/v1/*" or "/api/v2/users/*/sessions".
type resourcePattern struct {
	raw      string
	segments []segment
}

// compileResource parses a resource pattern. Patterns are "/"-separated;
// "*" in the middle matches a single component, "*" or "**" at the tail
// matches any non-empty suffix.
func compileResource(pattern string) (resourcePattern, error) {
	if pattern == "" {
		return resourcePattern{}, fmt.Errorf("empty resource pattern")
	}

	parts := splitPath(pattern)
	segs := make([]segment, 0, len(parts))
	for i, part := range parts {
		last := i == len(parts)-1
		switch {
		case part == "**":
			if !last {
				return resourcePattern{}, fmt.Errorf("resource pattern %q: %q only allowed at the tail", pattern, part)
			}
			segs = append(segs, segment{kind: segSuffix})
		case part == "*":
			if last {
				segs = append(segs, segment{kind: segSuffix})
			} else {
				segs = append(segs, segment{kind: segSingle})
			}
		case strings.Contains(part, "*"):
			return resourcePattern{}, fmt.Errorf("resource pattern %q: partial wildcard %q not supported", pattern, part)
		default:
			segs = append(segs, segment{kind: segLiteral, text: part})
		}
	}
	return resourcePattern{raw: pattern, segments: segs}, nil
}

// match reports whether the resource path satisfies the pattern.
func (p resourcePattern) match(resource string) bool {
	parts := splitPath(resource)

	for i, seg := range p.segments {
		switch seg.kind {
		case segSuffix:
			// Matches the rest, as long as at least one component remains.
			return len(parts) > i
		case segSingle:
			if len(parts) <= i {
				return false
			}
		case segLiteral:
			if len(parts) <= i || parts[i] != seg.text {
				return false
			}
		}
	}
	return len(parts) == len(p.segments)
}

// splitPath breaks a path into components, ignoring leading/trailing slashes.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// compileAction compiles an action pattern as an anchored regular expression,
// so "read|list" matches exactly "read" or "list" and nothing containing them.
func compileAction(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty action pattern")
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("action pattern %q: %w", pattern, err)
	}
	return re, nil
}
