package valueobjects

import (
	"strings"
)

// PatternKind classifies how a permission URI is matched
type PatternKind int

const (
	PatternLiteral PatternKind = iota
	PatternTemplate
	PatternGlob
)

func (k PatternKind) String() string {
	switch k {
	case PatternLiteral:
		return "literal"
	case PatternTemplate:
		return "template"
	case PatternGlob:
		return "glob"
	default:
		return "unknown"
	}
}

// URIPattern is a permission's resource pattern. Matching is anchored and
// case-insensitive. Three forms are supported:
//   - literal:  /api/users/42
//   - template: /api/users/{id}   ({name} matches one path segment)
//   - glob:     /api/users/*      (* matches any sequence, including /)
type URIPattern struct {
	raw  string
	kind PatternKind
}

// NewURIPattern classifies a raw pattern string
func NewURIPattern(raw string) URIPattern {
	kind := PatternLiteral
	if strings.Contains(raw, "*") {
		kind = PatternGlob
	} else if strings.Contains(raw, "{") {
		kind = PatternTemplate
	}
	return URIPattern{raw: raw, kind: kind}
}

// String returns the raw pattern
func (p URIPattern) String() string { return p.raw }

// Kind returns the pattern classification
func (p URIPattern) Kind() PatternKind { return p.kind }

// Matches reports whether the pattern matches the given URI
func (p URIPattern) Matches(uri string) bool {
	pattern := strings.ToLower(p.raw)
	target := strings.ToLower(uri)

	switch p.kind {
	case PatternLiteral:
		return pattern == target
	case PatternTemplate:
		return templateMatch(pattern, target)
	case PatternGlob:
		return globMatch(pattern, target)
	default:
		return false
	}
}

// Specificity orders patterns for tie-breaking: literal beats template
// beats glob, and longer globs beat shorter ones. Higher is more specific.
func (p URIPattern) Specificity() int {
	switch p.kind {
	case PatternLiteral:
		return 3<<20 + len(p.raw)
	case PatternTemplate:
		return 2<<20 + len(p.raw)
	default:
		return 1<<20 + len(p.raw)
	}
}

// templateMatch compares segment by segment; a {name} segment matches
// exactly one non-empty segment of the target.
func templateMatch(pattern, target string) bool {
	pSegs := strings.Split(pattern, "/")
	tSegs := strings.Split(target, "/")
	if len(pSegs) != len(tSegs) {
		return false
	}
	for i, ps := range pSegs {
		if strings.HasPrefix(ps, "{") && strings.HasSuffix(ps, "}") && len(ps) > 2 {
			if tSegs[i] == "" {
				return false
			}
			continue
		}
		if ps != tSegs[i] {
			return false
		}
	}
	return true
}

// globMatch implements anchored * matching where * crosses segment
// boundaries. Iterative two-pointer algorithm, no allocation.
func globMatch(pattern, target string) bool {
	pi, ti := 0, 0
	star, mark := -1, 0

	for ti < len(target) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = ti
			pi++
		case pi < len(pattern) && pattern[pi] == target[ti]:
			pi++
			ti++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
