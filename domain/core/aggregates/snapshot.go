package aggregates

import (
	"fmt"
	"time"

	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
)

// EntityRecord is the flat persistence form of one entity
type EntityRecord struct {
	ID          int64                 `json:"id"`
	Kind        entities.Kind         `json:"kind"`
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Email       string                `json:"email,omitempty"`
	IsActive    bool                  `json:"isActive"`
	Credentials *entities.Credentials `json:"credentials,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// EdgeRecord is the flat persistence form of one child->parent edge
type EdgeRecord struct {
	ParentID int64  `json:"parentId"`
	ChildID  int64  `json:"childId"`
	Kind     string `json:"kind"`
}

// PermissionRecord ties a permission to its owning entity
type PermissionRecord struct {
	EntityID   int64                   `json:"entityId"`
	Permission valueobjects.Permission `json:"permission"`
}

// Snapshot is the store's complete view of the graph, loaded once at
// startup in dependency order: entities, then edges, then permissions.
// Slices are totally ordered by entity id.
type Snapshot struct {
	Entities    []EntityRecord
	Edges       []EdgeRecord
	Permissions []PermissionRecord
}

// EdgeKindFor names the typed edge between a child and parent kind
func EdgeKindFor(child, parent entities.Kind) string {
	return fmt.Sprintf("%s_%s", child, parent)
}
