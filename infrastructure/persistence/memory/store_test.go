package memory

import (
	"context"
	"testing"
	"time"

	"acs-backend/application/ports"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CommitRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.SaveEntity(ctx, aggregates.EntityRecord{ID: 2, Kind: entities.KindGroup, Name: "team"}))
	require.NoError(t, tx.SaveEntity(ctx, aggregates.EntityRecord{ID: 1, Kind: entities.KindUser, Name: "alice"}))
	require.NoError(t, tx.SaveEdge(ctx, aggregates.EdgeRecord{ParentID: 2, ChildID: 1, Kind: "user_group"}))
	require.NoError(t, tx.SavePermission(ctx, aggregates.PermissionRecord{
		EntityID:   2,
		Permission: valueobjects.Permission{ID: 1, URI: "/api/docs/*", Verb: valueobjects.VerbGet, Grant: true},
	}))

	// nothing visible before commit
	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)

	require.NoError(t, tx.Commit(ctx))

	snap, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Entities, 2)
	assert.Equal(t, int64(1), snap.Entities[0].ID, "snapshot ordered by entity id")
	assert.Equal(t, int64(2), snap.Entities[1].ID)
	require.Len(t, snap.Edges, 1)
	require.Len(t, snap.Permissions, 1)
}

func TestStore_RollbackDiscards(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveEntity(ctx, aggregates.EntityRecord{ID: 1, Kind: entities.KindUser, Name: "alice"}))
	require.NoError(t, tx.Rollback())

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
}

func TestStore_DeleteEntityCascades(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	tx, _ := s.BeginTx(ctx)
	_ = tx.SaveEntity(ctx, aggregates.EntityRecord{ID: 1, Kind: entities.KindUser, Name: "alice"})
	_ = tx.SaveEntity(ctx, aggregates.EntityRecord{ID: 2, Kind: entities.KindGroup, Name: "team"})
	_ = tx.SaveEdge(ctx, aggregates.EdgeRecord{ParentID: 2, ChildID: 1, Kind: "user_group"})
	_ = tx.SavePermission(ctx, aggregates.PermissionRecord{
		EntityID:   1,
		Permission: valueobjects.Permission{ID: 1, URI: "/api/x", Verb: valueobjects.VerbGet, Grant: true},
	})
	require.NoError(t, tx.Commit(ctx))

	tx, _ = s.BeginTx(ctx)
	require.NoError(t, tx.DeleteEntity(ctx, 1))
	require.NoError(t, tx.Commit(ctx))

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, int64(2), snap.Entities[0].ID)
	assert.Empty(t, snap.Edges, "incident edges removed with the entity")
	assert.Empty(t, snap.Permissions)
}

func TestStore_DeadLetters(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	first := ports.FailedCommand{ID: "a", CommandType: "CreateUser", FirstFailureAt: time.Now().Add(-time.Hour)}
	second := ports.FailedCommand{ID: "b", CommandType: "AddUserToGroup", FirstFailureAt: time.Now()}
	require.NoError(t, s.SaveDeadLetter(ctx, second))
	require.NoError(t, s.SaveDeadLetter(ctx, first))

	out, err := s.LoadDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID, "ordered by first failure time")

	// saving under the same id overwrites
	first.Attempts = 2
	require.NoError(t, s.SaveDeadLetter(ctx, first))
	out, _ = s.LoadDeadLetters(ctx)
	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].Attempts)

	require.NoError(t, s.DeleteDeadLetter(ctx, "a"))
	out, _ = s.LoadDeadLetters(ctx)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)

	assert.NoError(t, s.Close())
}
