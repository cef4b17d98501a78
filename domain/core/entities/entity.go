package entities

import (
	"time"

	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"
)

// Kind discriminates the closed set of entity variants
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
	KindRole  Kind = "role"
)

// IsValid reports whether the kind is one of the known variants
func (k Kind) IsValid() bool {
	switch k {
	case KindUser, KindGroup, KindRole:
		return true
	default:
		return false
	}
}

// ID is the stable integer identifier, unique across all entities
type ID int64

// Entity is the shared surface of users, groups, and roles. Neighbor
// sets are relational (id -> kind), not owning references, so the
// naturally cyclic access graph carries no reference cycles.
type Entity interface {
	ID() ID
	Kind() Kind
	Name() string
	CreatedAt() time.Time
	UpdatedAt() time.Time

	// Parents and Children return the live neighbor sets. They are owned
	// by the entity graph and must only be read under the single-writer
	// dispatcher; callers must not mutate them.
	Parents() map[ID]Kind
	Children() map[ID]Kind

	// Permissions returns a copy of the entity's permission set
	Permissions() []valueobjects.Permission
	PermissionByKey(key valueobjects.PermissionKey) (valueobjects.Permission, bool)

	// Mutators, called only by the graph aggregate
	AttachParent(id ID, kind Kind)
	DetachParent(id ID)
	AttachChild(id ID, kind Kind)
	DetachChild(id ID)
	AddPermission(p valueobjects.Permission) error
	RemovePermission(key valueobjects.PermissionKey) bool
	Touch()
}

// base factors the capability every entity kind shares
type base struct {
	id          ID
	kind        Kind
	permissions map[valueobjects.PermissionKey]valueobjects.Permission
	parents     map[ID]Kind
	children    map[ID]Kind
	createdAt   time.Time
	updatedAt   time.Time
}

func newBase(id ID, kind Kind) base {
	now := time.Now()
	return base{
		id:          id,
		kind:        kind,
		permissions: make(map[valueobjects.PermissionKey]valueobjects.Permission),
		parents:     make(map[ID]Kind),
		children:    make(map[ID]Kind),
		createdAt:   now,
		updatedAt:   now,
	}
}

func (b *base) ID() ID               { return b.id }
func (b *base) Kind() Kind           { return b.kind }
func (b *base) CreatedAt() time.Time { return b.createdAt }
func (b *base) UpdatedAt() time.Time { return b.updatedAt }

func (b *base) Parents() map[ID]Kind  { return b.parents }
func (b *base) Children() map[ID]Kind { return b.children }

// Permissions returns a copy of the permission set
func (b *base) Permissions() []valueobjects.Permission {
	out := make([]valueobjects.Permission, 0, len(b.permissions))
	for _, p := range b.permissions {
		out = append(out, p)
	}
	return out
}

// PermissionByKey looks up a permission by its uniqueness key
func (b *base) PermissionByKey(key valueobjects.PermissionKey) (valueobjects.Permission, bool) {
	p, ok := b.permissions[key]
	return p, ok
}

// AttachParent records a parent edge on this side
func (b *base) AttachParent(id ID, kind Kind) {
	b.parents[id] = kind
	b.updatedAt = time.Now()
}

// DetachParent removes a parent edge on this side
func (b *base) DetachParent(id ID) {
	delete(b.parents, id)
	b.updatedAt = time.Now()
}

// AttachChild records a child edge on this side
func (b *base) AttachChild(id ID, kind Kind) {
	b.children[id] = kind
	b.updatedAt = time.Now()
}

// DetachChild removes a child edge on this side
func (b *base) DetachChild(id ID) {
	delete(b.children, id)
	b.updatedAt = time.Now()
}

// AddPermission attaches a permission; duplicates by (uri, verb, scheme)
// are rejected.
func (b *base) AddPermission(p valueobjects.Permission) error {
	if err := p.Validate(); err != nil {
		return pkgerrors.NewInvalidArgumentError(err.Error())
	}
	key := p.Key()
	if _, exists := b.permissions[key]; exists {
		return pkgerrors.NewAlreadyExistsError("permission")
	}
	b.permissions[key] = p
	b.updatedAt = time.Now()
	return nil
}

// RemovePermission detaches the permission with the given key
func (b *base) RemovePermission(key valueobjects.PermissionKey) bool {
	if _, exists := b.permissions[key]; !exists {
		return false
	}
	delete(b.permissions, key)
	b.updatedAt = time.Now()
	return true
}

// Touch bumps the update timestamp
func (b *base) Touch() {
	b.updatedAt = time.Now()
}

// CanHaveParent encodes the legal edge table (child -> parent):
// user->group, user->role, group->group, role->group.
func CanHaveParent(child, parent Kind) bool {
	switch child {
	case KindUser:
		return parent == KindGroup || parent == KindRole
	case KindGroup:
		return parent == KindGroup
	case KindRole:
		return parent == KindGroup
	default:
		return false
	}
}
