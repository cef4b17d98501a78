package entities

import (
	"strings"

	pkgerrors "acs-backend/pkg/errors"
)

// Group is a container entity. Groups may have group parents and
// user, group, or role children. Group containment is the only part of
// the graph that can form cycles, so group->group links pass through the
// aggregate's cycle check.
type Group struct {
	base
	name        string
	description string
}

// NewGroup creates a group entity
func NewGroup(id ID, name, description string) (*Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, pkgerrors.NewInvalidArgumentError("group name cannot be empty")
	}
	return &Group{
		base:        newBase(id, KindGroup),
		name:        name,
		description: description,
	}, nil
}

// Name returns the group name
func (g *Group) Name() string { return g.name }

// Description returns the group description
func (g *Group) Description() string { return g.description }

// Rename updates the group name
func (g *Group) Rename(name string) error {
	if strings.TrimSpace(name) == "" {
		return pkgerrors.NewInvalidArgumentError("group name cannot be empty")
	}
	g.name = name
	g.Touch()
	return nil
}

// SetDescription updates the description
func (g *Group) SetDescription(description string) {
	g.description = description
	g.Touch()
}
