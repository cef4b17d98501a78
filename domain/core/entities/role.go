package entities

import (
	"strings"

	pkgerrors "acs-backend/pkg/errors"
)

// Role is a permission bundle. Roles may be children of groups and
// parents of users (a user assigned to a role inherits its permissions).
type Role struct {
	base
	name        string
	description string
}

// NewRole creates a role entity
func NewRole(id ID, name, description string) (*Role, error) {
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.NewInvalidArgumentError("role name cannot be empty")
	}
	return &Role{
		base:        newBase(id, KindRole),
		name:        name,
		description: description,
	}, nil
}

// Name returns the role name
func (r *Role) Name() string { return r.name }

// Description returns the role description
func (r *Role) Description() string { return r.description }

// Rename updates the role name
func (r *Role) Rename(name string) error {
	if strings.TrimSpace(name) == "" {
		return pkgerrors.NewInvalidArgumentError("role name cannot be empty")
	}
	r.name = name
	r.Touch()
	return nil
}

// SetDescription updates the description
func (r *Role) SetDescription(description string) {
	r.description = description
	r.Touch()
}
