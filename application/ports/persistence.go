package ports

import (
	"context"
	"time"

	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/valueobjects"
)

// Tx is one durable transaction against the store. Operations are
// buffered or applied per the driver; Commit makes them durable,
// Rollback discards them.
type Tx interface {
	SaveEntity(ctx context.Context, rec aggregates.EntityRecord) error
	DeleteEntity(ctx context.Context, id int64) error
	SaveEdge(ctx context.Context, rec aggregates.EdgeRecord) error
	DeleteEdge(ctx context.Context, rec aggregates.EdgeRecord) error
	SavePermission(ctx context.Context, rec aggregates.PermissionRecord) error
	DeletePermission(ctx context.Context, entityID int64, key valueobjects.PermissionKey) error
	Commit(ctx context.Context) error
	Rollback() error
}

// Store is the persistence port. Any engine that can round-trip the
// domain model through these operations may sit behind it.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)

	// LoadSnapshot returns the complete persisted graph, totally ordered
	// by entity id, for one-shot hydration at startup.
	LoadSnapshot(ctx context.Context) (*aggregates.Snapshot, error)

	// Dead-letter persistence, replayed by the coordinator on restart
	SaveDeadLetter(ctx context.Context, fc FailedCommand) error
	DeleteDeadLetter(ctx context.Context, id string) error
	LoadDeadLetters(ctx context.Context) ([]FailedCommand, error)

	Close() error
}

// PermissionDelete identifies a permission to remove from the store
type PermissionDelete struct {
	EntityID int64                      `json:"entityId"`
	Key      valueobjects.PermissionKey `json:"key"`
}

// ChangeSet is the minimal set of store operations reflecting one
// accepted mutation. The dispatcher builds it after applying the command
// to the graph; the coordinator applies it inside a single transaction.
type ChangeSet struct {
	CorrelationID string `json:"correlationId"`
	CommandType   string `json:"commandType"`

	// EntityID is the primary entity the mutation touched; persistence
	// order is guaranteed per entity id.
	EntityID int64 `json:"entityId"`

	SaveEntities      []aggregates.EntityRecord     `json:"saveEntities,omitempty"`
	DeleteEntities    []int64                       `json:"deleteEntities,omitempty"`
	SaveEdges         []aggregates.EdgeRecord       `json:"saveEdges,omitempty"`
	DeleteEdges       []aggregates.EdgeRecord       `json:"deleteEdges,omitempty"`
	SavePermissions   []aggregates.PermissionRecord `json:"savePermissions,omitempty"`
	DeletePermissions []PermissionDelete            `json:"deletePermissions,omitempty"`
}

// Empty reports whether the change set carries no store operations
func (c *ChangeSet) Empty() bool {
	return len(c.SaveEntities) == 0 &&
		len(c.DeleteEntities) == 0 &&
		len(c.SaveEdges) == 0 &&
		len(c.DeleteEdges) == 0 &&
		len(c.SavePermissions) == 0 &&
		len(c.DeletePermissions) == 0
}

// FailedCommand is one dead-letter queue entry: a change set whose
// transaction failed, scheduled for retry with backoff until it
// succeeds, exhausts its attempts, or expires.
type FailedCommand struct {
	ID                string    `json:"id"`
	CommandType       string    `json:"commandType"`
	SerializedCommand []byte    `json:"serializedCommand"`
	FirstFailureAt    time.Time `json:"firstFailureAt"`
	LastAttemptAt     time.Time `json:"lastAttemptAt"`
	NextRetryAt       time.Time `json:"nextRetryAt"`
	Attempts          int       `json:"attempts"`
	ErrorChain        []string  `json:"errorChain"`
	ExpiresAt         time.Time `json:"expiresAt"`
}
