package valueobjects

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewURIPattern_Classification(t *testing.T) {
	tests := []struct {
		raw  string
		kind PatternKind
	}{
		{"/api/users/42", PatternLiteral},
		{"/api/users/{id}", PatternTemplate},
		{"/api/users/*", PatternGlob},
		{"/api/{section}/*", PatternGlob}, // star wins over template
		{"/", PatternLiteral},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.kind, NewURIPattern(tt.raw).Kind())
		})
	}
}

func TestURIPattern_Matches(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		uri     string
		want    bool
	}{
		{"literal exact", "/api/users/42", "/api/users/42", true},
		{"literal case-insensitive", "/API/Users/42", "/api/users/42", true},
		{"literal mismatch", "/api/users/42", "/api/users/43", false},
		{"literal no prefix match", "/api/users", "/api/users/42", false},

		{"template one segment", "/api/users/{id}", "/api/users/42", true},
		{"template any value", "/api/users/{id}", "/api/users/abc", true},
		{"template rejects extra segment", "/api/users/{id}", "/api/users/42/posts", false},
		{"template rejects empty segment", "/api/users/{id}", "/api/users/", false},
		{"template middle segment", "/api/{section}/list", "/api/users/list", true},
		{"template literal tail mismatch", "/api/{section}/list", "/api/users/detail", false},

		{"glob tail", "/api/users/*", "/api/users/42", true},
		{"glob crosses segments", "/api/users/*", "/api/users/42/posts/7", true},
		{"glob empty remainder", "/api/users/*", "/api/users/", true},
		{"glob prefix mismatch", "/api/users/*", "/api/groups/1", false},
		{"glob middle", "/api/*/list", "/api/users/list", true},
		{"glob middle crosses segments", "/api/*/list", "/api/a/b/list", true},
		{"glob everything", "*", "/anything/at/all", true},

		{"verb-agnostic uri only", "/api/users/{id}", "/api/USERS/42", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewURIPattern(tt.pattern).Matches(tt.uri))
		})
	}
}

func TestURIPattern_Specificity(t *testing.T) {
	literal := NewURIPattern("/api/users/42")
	template := NewURIPattern("/api/users/{id}")
	glob := NewURIPattern("/api/users/*")
	shortGlob := NewURIPattern("/api/*")

	assert.Greater(t, literal.Specificity(), template.Specificity())
	assert.Greater(t, template.Specificity(), glob.Specificity())
	assert.Greater(t, glob.Specificity(), shortGlob.Specificity())
}
