package commands

import (
	"github.com/go-playground/validator/v10"

	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"
)

// validate is the shared validator instance; command structs carry
// go-playground tags and Validate() funnels through it.
var validate = validator.New()

// Kind names each command variant. The dispatcher switches on the
// concrete type; Kind feeds logging, metrics, and the dead-letter queue.
type Kind string

const (
	KindCreateUser  Kind = "CreateUser"
	KindGetUser     Kind = "GetUser"
	KindUpdateUser  Kind = "UpdateUser"
	KindDeleteUser  Kind = "DeleteUser"
	KindCreateGroup Kind = "CreateGroup"
	KindGetGroup    Kind = "GetGroup"
	KindUpdateGroup Kind = "UpdateGroup"
	KindDeleteGroup Kind = "DeleteGroup"
	KindCreateRole  Kind = "CreateRole"
	KindGetRole     Kind = "GetRole"
	KindUpdateRole  Kind = "UpdateRole"
	KindDeleteRole  Kind = "DeleteRole"

	KindAddUserToGroup       Kind = "AddUserToGroup"
	KindRemoveUserFromGroup  Kind = "RemoveUserFromGroup"
	KindAssignUserToRole     Kind = "AssignUserToRole"
	KindUnassignUserFromRole Kind = "UnassignUserFromRole"
	KindAddRoleToGroup       Kind = "AddRoleToGroup"
	KindRemoveRoleFromGroup  Kind = "RemoveRoleFromGroup"
	KindAddGroupToGroup      Kind = "AddGroupToGroup"
	KindRemoveGroupFromGroup Kind = "RemoveGroupFromGroup"

	KindAddPermission    Kind = "AddPermissionToEntity"
	KindRemovePermission Kind = "RemovePermissionFromEntity"
	KindCheckPermission  Kind = "CheckPermission"
	KindGetEntity        Kind = "GetEntity"
)

// Command is one typed mutation or query serialized through the
// single-writer dispatcher.
type Command interface {
	CommandKind() Kind
	Validate() error
}

// IsQuery reports whether the command reads without mutating; queries
// never reach the persistence coordinator.
func IsQuery(c Command) bool {
	switch c.CommandKind() {
	case KindGetUser, KindGetGroup, KindGetRole, KindGetEntity, KindCheckPermission:
		return true
	default:
		return false
	}
}

func structError(err error) error {
	if err == nil {
		return nil
	}
	return pkgerrors.NewInvalidArgumentError(err.Error())
}

// ----------------------------------------------------------------------
// Entity CRUD
// ----------------------------------------------------------------------

// CreateUser creates a user entity
type CreateUser struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (c CreateUser) CommandKind() Kind { return KindCreateUser }
func (c CreateUser) Validate() error   { return structError(validate.Struct(c)) }

// GetUser fetches a user by id
type GetUser struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (c GetUser) CommandKind() Kind { return KindGetUser }
func (c GetUser) Validate() error   { return structError(validate.Struct(c)) }

// UpdateUser updates the optional attributes of a user
type UpdateUser struct {
	ID       int64   `json:"id" validate:"required,gt=0"`
	Name     *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	IsActive *bool   `json:"isActive,omitempty"`
}

func (c UpdateUser) CommandKind() Kind { return KindUpdateUser }
func (c UpdateUser) Validate() error   { return structError(validate.Struct(c)) }

// DeleteUser removes a user and its incident edges
type DeleteUser struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (c DeleteUser) CommandKind() Kind { return KindDeleteUser }
func (c DeleteUser) Validate() error   { return structError(validate.Struct(c)) }

// CreateGroup creates a group entity
type CreateGroup struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (c CreateGroup) CommandKind() Kind { return KindCreateGroup }
func (c CreateGroup) Validate() error   { return structError(validate.Struct(c)) }

// GetGroup fetches a group by id
type GetGroup struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (c GetGroup) CommandKind() Kind { return KindGetGroup }
func (c GetGroup) Validate() error   { return structError(validate.Struct(c)) }

// UpdateGroup updates the optional attributes of a group
type UpdateGroup struct {
	ID          int64   `json:"id" validate:"required,gt=0"`
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string `json:"description,omitempty"`
}

func (c UpdateGroup) CommandKind() Kind { return KindUpdateGroup }
func (c UpdateGroup) Validate() error   { return structError(validate.Struct(c)) }

// DeleteGroup removes a group and its incident edges
type DeleteGroup struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (c DeleteGroup) CommandKind() Kind { return KindDeleteGroup }
func (c DeleteGroup) Validate() error   { return structError(validate.Struct(c)) }

// CreateRole creates a role entity
type CreateRole struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (c CreateRole) CommandKind() Kind { return KindCreateRole }
func (c CreateRole) Validate() error   { return structError(validate.Struct(c)) }

// GetRole fetches a role by id
type GetRole struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (c GetRole) CommandKind() Kind { return KindGetRole }
func (c GetRole) Validate() error   { return structError(validate.Struct(c)) }

// UpdateRole updates the optional attributes of a role
type UpdateRole struct {
	ID          int64   `json:"id" validate:"required,gt=0"`
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1"`
	Description *string `json:"description,omitempty"`
}

func (c UpdateRole) CommandKind() Kind { return KindUpdateRole }
func (c UpdateRole) Validate() error   { return structError(validate.Struct(c)) }

// DeleteRole removes a role and its incident edges
type DeleteRole struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (c DeleteRole) CommandKind() Kind { return KindDeleteRole }
func (c DeleteRole) Validate() error   { return structError(validate.Struct(c)) }

// ----------------------------------------------------------------------
// Edges
// ----------------------------------------------------------------------

// AddUserToGroup links user as a child of group. Idempotent.
type AddUserToGroup struct {
	UserID  int64 `json:"userId" validate:"required,gt=0"`
	GroupID int64 `json:"groupId" validate:"required,gt=0"`
}

func (c AddUserToGroup) CommandKind() Kind { return KindAddUserToGroup }
func (c AddUserToGroup) Validate() error   { return structError(validate.Struct(c)) }

// RemoveUserFromGroup unlinks user from group
type RemoveUserFromGroup struct {
	UserID  int64 `json:"userId" validate:"required,gt=0"`
	GroupID int64 `json:"groupId" validate:"required,gt=0"`
}

func (c RemoveUserFromGroup) CommandKind() Kind { return KindRemoveUserFromGroup }
func (c RemoveUserFromGroup) Validate() error   { return structError(validate.Struct(c)) }

// AssignUserToRole links user as a child of role. Idempotent.
type AssignUserToRole struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
	RoleID int64 `json:"roleId" validate:"required,gt=0"`
}

func (c AssignUserToRole) CommandKind() Kind { return KindAssignUserToRole }
func (c AssignUserToRole) Validate() error   { return structError(validate.Struct(c)) }

// UnassignUserFromRole unlinks user from role
type UnassignUserFromRole struct {
	UserID int64 `json:"userId" validate:"required,gt=0"`
	RoleID int64 `json:"roleId" validate:"required,gt=0"`
}

func (c UnassignUserFromRole) CommandKind() Kind { return KindUnassignUserFromRole }
func (c UnassignUserFromRole) Validate() error   { return structError(validate.Struct(c)) }

// AddRoleToGroup links role as a child of group. Idempotent.
type AddRoleToGroup struct {
	RoleID  int64 `json:"roleId" validate:"required,gt=0"`
	GroupID int64 `json:"groupId" validate:"required,gt=0"`
}

func (c AddRoleToGroup) CommandKind() Kind { return KindAddRoleToGroup }
func (c AddRoleToGroup) Validate() error   { return structError(validate.Struct(c)) }

// RemoveRoleFromGroup unlinks role from group
type RemoveRoleFromGroup struct {
	RoleID  int64 `json:"roleId" validate:"required,gt=0"`
	GroupID int64 `json:"groupId" validate:"required,gt=0"`
}

func (c RemoveRoleFromGroup) CommandKind() Kind { return KindRemoveRoleFromGroup }
func (c RemoveRoleFromGroup) Validate() error   { return structError(validate.Struct(c)) }

// AddGroupToGroup links child group under parent group; runs the cycle
// check before committing.
type AddGroupToGroup struct {
	ParentID int64 `json:"parentId" validate:"required,gt=0"`
	ChildID  int64 `json:"childId" validate:"required,gt=0"`
}

func (c AddGroupToGroup) CommandKind() Kind { return KindAddGroupToGroup }
func (c AddGroupToGroup) Validate() error {
	if err := validate.Struct(c); err != nil {
		return structError(err)
	}
	if c.ParentID == c.ChildID {
		return pkgerrors.NewInvalidArgumentError("a group cannot contain itself")
	}
	return nil
}

// RemoveGroupFromGroup unlinks child group from parent group
type RemoveGroupFromGroup struct {
	ParentID int64 `json:"parentId" validate:"required,gt=0"`
	ChildID  int64 `json:"childId" validate:"required,gt=0"`
}

func (c RemoveGroupFromGroup) CommandKind() Kind { return KindRemoveGroupFromGroup }
func (c RemoveGroupFromGroup) Validate() error   { return structError(validate.Struct(c)) }

// ----------------------------------------------------------------------
// Permissions
// ----------------------------------------------------------------------

// AddPermission attaches a permission to an entity
type AddPermission struct {
	EntityID   int64                   `json:"entityId" validate:"required,gt=0"`
	Permission valueobjects.Permission `json:"permission"`
}

func (c AddPermission) CommandKind() Kind { return KindAddPermission }
func (c AddPermission) Validate() error {
	if err := validate.Struct(c); err != nil {
		return structError(err)
	}
	if err := c.Permission.Validate(); err != nil {
		return pkgerrors.NewInvalidArgumentError(err.Error())
	}
	return nil
}

// RemovePermission detaches the permission identified by its key
type RemovePermission struct {
	EntityID int64             `json:"entityId" validate:"required,gt=0"`
	URI      string            `json:"uri" validate:"required"`
	Verb     valueobjects.Verb `json:"verb" validate:"required"`
	Scheme   string            `json:"scheme"`
}

func (c RemovePermission) CommandKind() Kind { return KindRemovePermission }
func (c RemovePermission) Validate() error {
	if err := validate.Struct(c); err != nil {
		return structError(err)
	}
	if !c.Verb.IsValid() {
		return pkgerrors.NewInvalidArgumentError("invalid verb " + string(c.Verb))
	}
	return nil
}

// Key returns the permission uniqueness key the command targets
func (c RemovePermission) Key() valueobjects.PermissionKey {
	return valueobjects.Permission{URI: c.URI, Verb: c.Verb, Scheme: c.Scheme}.Key()
}

// CheckPermission asks whether the entity may perform verb on URI.
// A non-nil Context admits conditional and temporary permissions.
type CheckPermission struct {
	EntityID int64             `json:"entityId" validate:"required,gt=0"`
	URI      string            `json:"uri" validate:"required"`
	Verb     valueobjects.Verb `json:"verb" validate:"required"`
	Context  map[string]string `json:"context,omitempty"`
}

func (c CheckPermission) CommandKind() Kind { return KindCheckPermission }
func (c CheckPermission) Validate() error {
	if err := validate.Struct(c); err != nil {
		return structError(err)
	}
	if !c.Verb.IsValid() {
		return pkgerrors.NewInvalidArgumentError("invalid verb " + string(c.Verb))
	}
	return nil
}

// GetEntity fetches any entity by id, whatever its kind
type GetEntity struct {
	ID int64 `json:"id" validate:"required,gt=0"`
}

func (c GetEntity) CommandKind() Kind { return KindGetEntity }
func (c GetEntity) Validate() error   { return structError(validate.Struct(c)) }
