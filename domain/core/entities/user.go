package entities

import (
	"strings"
	"time"

	pkgerrors "acs-backend/pkg/errors"
)

// Credentials carries the user's credential metadata. Hashing and
// verification happen outside the core; the graph only stores and
// round-trips these fields.
type Credentials struct {
	PasswordHash        string
	Salt                string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
}

// User is a principal. Users may have group and role parents and no
// children.
type User struct {
	base
	name        string
	email       string
	credentials Credentials
	isActive    bool
}

// NewUser creates a user entity. The email is lowercase-normalized;
// uniqueness is enforced by the graph aggregate.
func NewUser(id ID, name, email string) (*User, error) {
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.NewInvalidArgumentError("user name cannot be empty")
	}
	return &User{
		base:     newBase(id, KindUser),
		name:     name,
		email:    strings.ToLower(strings.TrimSpace(email)),
		isActive: true,
	}, nil
}

// Name returns the user's display name
func (u *User) Name() string { return u.name }

// Email returns the normalized email, empty when unset
func (u *User) Email() string { return u.email }

// IsActive reports whether the user may be evaluated against
func (u *User) IsActive() bool { return u.isActive }

// Credentials returns the stored credential metadata
func (u *User) Credentials() Credentials { return u.credentials }

// Rename updates the display name
func (u *User) Rename(name string) error {
	if strings.TrimSpace(name) == "" {
		return pkgerrors.NewInvalidArgumentError("user name cannot be empty")
	}
	u.name = name
	u.Touch()
	return nil
}

// SetEmail updates the normalized email; uniqueness is the graph's job
func (u *User) SetEmail(email string) {
	u.email = strings.ToLower(strings.TrimSpace(email))
	u.Touch()
}

// SetActive toggles the active flag
func (u *User) SetActive(active bool) {
	u.isActive = active
	u.Touch()
}

// SetCredentials replaces the credential metadata
func (u *User) SetCredentials(c Credentials) {
	u.credentials = c
	u.Touch()
}
