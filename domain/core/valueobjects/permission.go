package valueobjects

import (
	"errors"
	"strings"
	"time"
)

// Permission is the (uri, verb, grant, deny, scheme) tuple attached to an
// entity. Grant and deny are independent; both false means "no opinion",
// both true is illegal. Priority feeds the HIGHEST_PRIORITY conflict
// strategy; ValidFrom/ValidUntil bound temporary permissions; Condition
// is an attribute-equality predicate evaluated against a caller context.
type Permission struct {
	ID         int64             `json:"id"`
	URI        string            `json:"uri"`
	Verb       Verb              `json:"verb"`
	Grant      bool              `json:"grant"`
	Deny       bool              `json:"deny"`
	Scheme     string            `json:"scheme"`
	Priority   int               `json:"priority,omitempty"`
	ValidFrom  *time.Time        `json:"validFrom,omitempty"`
	ValidUntil *time.Time        `json:"validUntil,omitempty"`
	Condition  map[string]string `json:"condition,omitempty"`
}

// PermissionKey identifies a permission within one entity's set.
// No two permissions on an entity may share a key.
type PermissionKey struct {
	URI    string
	Verb   Verb
	Scheme string
}

// DefaultScheme tags plain API URI authorization
const DefaultScheme = "api"

// Validate checks structural legality of the tuple
func (p Permission) Validate() error {
	if strings.TrimSpace(p.URI) == "" {
		return errors.New("permission URI must not be empty")
	}
	if !p.Verb.IsValid() {
		return errors.New("permission verb is invalid")
	}
	if p.Grant && p.Deny {
		return errors.New("permission cannot both grant and deny")
	}
	if p.ValidFrom != nil && p.ValidUntil != nil && p.ValidUntil.Before(*p.ValidFrom) {
		return errors.New("permission validUntil precedes validFrom")
	}
	return nil
}

// Key returns the uniqueness key within an entity's permission set
func (p Permission) Key() PermissionKey {
	scheme := p.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	return PermissionKey{
		URI:    strings.ToLower(p.URI),
		Verb:   p.Verb,
		Scheme: scheme,
	}
}

// Pattern returns the classified URI pattern
func (p Permission) Pattern() URIPattern {
	return NewURIPattern(p.URI)
}

// Matches reports whether this permission applies to the uri/verb pair
func (p Permission) Matches(uri string, verb Verb) bool {
	return p.Verb == verb && p.Pattern().Matches(uri)
}

// IsTemporary reports whether the permission carries a validity window
func (p Permission) IsTemporary() bool {
	return p.ValidFrom != nil || p.ValidUntil != nil
}

// IsConditional reports whether the permission carries a predicate
func (p Permission) IsConditional() bool {
	return len(p.Condition) > 0
}

// ActiveAt reports whether a temporary permission's window contains t.
// Permissions without a window are always active.
func (p Permission) ActiveAt(t time.Time) bool {
	if p.ValidFrom != nil && t.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && t.After(*p.ValidUntil) {
		return false
	}
	return true
}

// ConditionHolds evaluates the attribute-equality predicate against the
// supplied context. An empty condition always holds.
func (p Permission) ConditionHolds(ctx map[string]string) bool {
	for k, want := range p.Condition {
		if got, ok := ctx[k]; !ok || got != want {
			return false
		}
	}
	return true
}
