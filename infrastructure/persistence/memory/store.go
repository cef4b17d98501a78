// Package memory implements the persistence port on in-process maps.
// It is the default driver for development and the backing store for
// tests; transactions buffer their operations and apply on commit.
package memory

import (
	"context"
	"sort"
	"sync"

	"acs-backend/application/ports"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/valueobjects"
)

type edgeKey struct {
	parentID int64
	childID  int64
}

type permKey struct {
	entityID int64
	key      valueobjects.PermissionKey
}

// Store keeps the persisted graph in maps guarded by one RWMutex
type Store struct {
	mu          sync.RWMutex
	entities    map[int64]aggregates.EntityRecord
	edges       map[edgeKey]aggregates.EdgeRecord
	permissions map[permKey]aggregates.PermissionRecord
	deadLetters map[string]ports.FailedCommand
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{
		entities:    make(map[int64]aggregates.EntityRecord),
		edges:       make(map[edgeKey]aggregates.EdgeRecord),
		permissions: make(map[permKey]aggregates.PermissionRecord),
		deadLetters: make(map[string]ports.FailedCommand),
	}
}

// op is one buffered mutation, applied under the store lock on commit
type op func(s *Store)

type tx struct {
	store *Store
	ops   []op
	done  bool
}

// BeginTx starts a buffered transaction
func (s *Store) BeginTx(ctx context.Context) (ports.Tx, error) {
	return &tx{store: s}, nil
}

func (t *tx) SaveEntity(ctx context.Context, rec aggregates.EntityRecord) error {
	t.ops = append(t.ops, func(s *Store) { s.entities[rec.ID] = rec })
	return nil
}

func (t *tx) DeleteEntity(ctx context.Context, id int64) error {
	t.ops = append(t.ops, func(s *Store) {
		delete(s.entities, id)
		for k := range s.edges {
			if k.parentID == id || k.childID == id {
				delete(s.edges, k)
			}
		}
		for k := range s.permissions {
			if k.entityID == id {
				delete(s.permissions, k)
			}
		}
	})
	return nil
}

func (t *tx) SaveEdge(ctx context.Context, rec aggregates.EdgeRecord) error {
	t.ops = append(t.ops, func(s *Store) {
		s.edges[edgeKey{rec.ParentID, rec.ChildID}] = rec
	})
	return nil
}

func (t *tx) DeleteEdge(ctx context.Context, rec aggregates.EdgeRecord) error {
	t.ops = append(t.ops, func(s *Store) {
		delete(s.edges, edgeKey{rec.ParentID, rec.ChildID})
	})
	return nil
}

func (t *tx) SavePermission(ctx context.Context, rec aggregates.PermissionRecord) error {
	t.ops = append(t.ops, func(s *Store) {
		s.permissions[permKey{rec.EntityID, rec.Permission.Key()}] = rec
	})
	return nil
}

func (t *tx) DeletePermission(ctx context.Context, entityID int64, key valueobjects.PermissionKey) error {
	t.ops = append(t.ops, func(s *Store) {
		delete(s.permissions, permKey{entityID, key})
	})
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, apply := range t.ops {
		apply(t.store)
	}
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}

// LoadSnapshot returns the full persisted graph ordered by entity id
func (s *Store) LoadSnapshot(ctx context.Context) (*aggregates.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &aggregates.Snapshot{}
	for _, rec := range s.entities {
		snap.Entities = append(snap.Entities, rec)
	}
	sort.Slice(snap.Entities, func(i, j int) bool {
		return snap.Entities[i].ID < snap.Entities[j].ID
	})
	for _, rec := range s.edges {
		snap.Edges = append(snap.Edges, rec)
	}
	sort.Slice(snap.Edges, func(i, j int) bool {
		if snap.Edges[i].ChildID != snap.Edges[j].ChildID {
			return snap.Edges[i].ChildID < snap.Edges[j].ChildID
		}
		return snap.Edges[i].ParentID < snap.Edges[j].ParentID
	})
	for _, rec := range s.permissions {
		snap.Permissions = append(snap.Permissions, rec)
	}
	sort.Slice(snap.Permissions, func(i, j int) bool {
		if snap.Permissions[i].EntityID != snap.Permissions[j].EntityID {
			return snap.Permissions[i].EntityID < snap.Permissions[j].EntityID
		}
		return snap.Permissions[i].Permission.ID < snap.Permissions[j].Permission.ID
	})
	return snap, nil
}

func (s *Store) SaveDeadLetter(ctx context.Context, fc ports.FailedCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters[fc.ID] = fc
	return nil
}

func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deadLetters, id)
	return nil
}

func (s *Store) LoadDeadLetters(ctx context.Context) ([]ports.FailedCommand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.FailedCommand, 0, len(s.deadLetters))
	for _, fc := range s.deadLetters {
		out = append(out, fc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstFailureAt.Before(out[j].FirstFailureAt)
	})
	return out, nil
}

func (s *Store) Close() error { return nil }
