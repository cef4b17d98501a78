package valueobjects

import (
	"fmt"
	"strings"
)

// Verb is the HTTP-style action a permission authorizes
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPut    Verb = "PUT"
	VerbDelete Verb = "DELETE"
	VerbPatch  Verb = "PATCH"
)

// AllVerbs lists every supported verb, used by the reporting matrix
var AllVerbs = []Verb{VerbGet, VerbPost, VerbPut, VerbDelete, VerbPatch}

// ParseVerb normalizes and validates a verb string
func ParseVerb(s string) (Verb, error) {
	v := Verb(strings.ToUpper(strings.TrimSpace(s)))
	if !v.IsValid() {
		return "", fmt.Errorf("invalid verb %q", s)
	}
	return v, nil
}

// IsValid reports whether the verb is one of the supported set
func (v Verb) IsValid() bool {
	switch v {
	case VerbGet, VerbPost, VerbPut, VerbDelete, VerbPatch:
		return true
	default:
		return false
	}
}

// String returns the string representation
func (v Verb) String() string {
	return string(v)
}
