// Package sqlite implements the persistence port on an embedded SQLite
// database through bun. Suitable for single-node deployments where the
// graph must survive restarts without external infrastructure.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"acs-backend/application/ports"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	pkgerrors "acs-backend/pkg/errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // SQLite driver
)

type entityRow struct {
	bun.BaseModel `bun:"table:entities,alias:e"`

	ID          int64     `bun:"id,pk"`
	Kind        string    `bun:"kind,notnull"`
	Name        string    `bun:"name,notnull"`
	Description string    `bun:"description"`
	Email       string    `bun:"email"`
	IsActive    bool      `bun:"is_active,notnull"`
	Credentials []byte    `bun:"credentials"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

type edgeRow struct {
	bun.BaseModel `bun:"table:edges,alias:ed"`

	ParentID int64  `bun:"parent_id,pk"`
	ChildID  int64  `bun:"child_id,pk"`
	Kind     string `bun:"kind,notnull"`
}

type permissionRow struct {
	bun.BaseModel `bun:"table:permissions,alias:p"`

	EntityID int64  `bun:"entity_id,pk"`
	URI      string `bun:"uri,pk"`
	Verb     string `bun:"verb,pk"`
	Scheme   string `bun:"scheme,pk"`
	Payload  []byte `bun:"payload,notnull"`
}

type deadLetterRow struct {
	bun.BaseModel `bun:"table:dead_letters,alias:dl"`

	ID             string    `bun:"id,pk"`
	CommandType    string    `bun:"command_type,notnull"`
	Payload        []byte    `bun:"payload,notnull"`
	FirstFailureAt time.Time `bun:"first_failure_at,notnull"`
	LastAttemptAt  time.Time `bun:"last_attempt_at,notnull"`
	NextRetryAt    time.Time `bun:"next_retry_at,notnull"`
	Attempts       int       `bun:"attempts,notnull"`
	ErrorChain     []byte    `bun:"error_chain,notnull"`
	ExpiresAt      time.Time `bun:"expires_at,notnull"`
}

// Store implements the persistence port over a bun SQLite connection
type Store struct {
	db *bun.DB
}

// NewStore opens the database at dsn and ensures the schema exists
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "opening sqlite database")
	}
	// Single writer connection; readers share it.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqldb.Close()
		return nil, pkgerrors.Wrap(err, "enabling foreign keys")
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		sqldb.Close()
		return nil, pkgerrors.Wrap(err, "enabling WAL mode")
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	models := []interface{}{
		(*entityRow)(nil),
		(*edgeRow)(nil),
		(*permissionRow)(nil),
		(*deadLetterRow)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return pkgerrors.Wrap(err, "creating schema")
		}
	}
	return nil
}

type tx struct {
	bun bun.Tx
}

// BeginTx opens a database transaction
func (s *Store) BeginTx(ctx context.Context) (ports.Tx, error) {
	bunTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "beginning transaction")
	}
	return &tx{bun: bunTx}, nil
}

func (t *tx) SaveEntity(ctx context.Context, rec aggregates.EntityRecord) error {
	var creds []byte
	if rec.Credentials != nil {
		var err error
		creds, err = json.Marshal(rec.Credentials)
		if err != nil {
			return pkgerrors.Wrap(err, "encoding credentials")
		}
	}
	row := &entityRow{
		ID:          rec.ID,
		Kind:        string(rec.Kind),
		Name:        rec.Name,
		Description: rec.Description,
		Email:       rec.Email,
		IsActive:    rec.IsActive,
		Credentials: creds,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	_, err := t.bun.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("name = EXCLUDED.name").
		Set("description = EXCLUDED.description").
		Set("email = EXCLUDED.email").
		Set("is_active = EXCLUDED.is_active").
		Set("credentials = EXCLUDED.credentials").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (t *tx) DeleteEntity(ctx context.Context, id int64) error {
	if _, err := t.bun.NewDelete().Model((*entityRow)(nil)).Where("id = ?", id).Exec(ctx); err != nil {
		return err
	}
	if _, err := t.bun.NewDelete().Model((*edgeRow)(nil)).
		Where("parent_id = ? OR child_id = ?", id, id).Exec(ctx); err != nil {
		return err
	}
	_, err := t.bun.NewDelete().Model((*permissionRow)(nil)).Where("entity_id = ?", id).Exec(ctx)
	return err
}

func (t *tx) SaveEdge(ctx context.Context, rec aggregates.EdgeRecord) error {
	row := &edgeRow{ParentID: rec.ParentID, ChildID: rec.ChildID, Kind: rec.Kind}
	_, err := t.bun.NewInsert().Model(row).
		On("CONFLICT (parent_id, child_id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Exec(ctx)
	return err
}

func (t *tx) DeleteEdge(ctx context.Context, rec aggregates.EdgeRecord) error {
	_, err := t.bun.NewDelete().Model((*edgeRow)(nil)).
		Where("parent_id = ? AND child_id = ?", rec.ParentID, rec.ChildID).
		Exec(ctx)
	return err
}

func (t *tx) SavePermission(ctx context.Context, rec aggregates.PermissionRecord) error {
	payload, err := json.Marshal(rec.Permission)
	if err != nil {
		return pkgerrors.Wrap(err, "encoding permission")
	}
	key := rec.Permission.Key()
	row := &permissionRow{
		EntityID: rec.EntityID,
		URI:      key.URI,
		Verb:     string(key.Verb),
		Scheme:   key.Scheme,
		Payload:  payload,
	}
	_, err = t.bun.NewInsert().Model(row).
		On("CONFLICT (entity_id, uri, verb, scheme) DO UPDATE").
		Set("payload = EXCLUDED.payload").
		Exec(ctx)
	return err
}

func (t *tx) DeletePermission(ctx context.Context, entityID int64, key valueobjects.PermissionKey) error {
	_, err := t.bun.NewDelete().Model((*permissionRow)(nil)).
		Where("entity_id = ? AND uri = ? AND verb = ? AND scheme = ?",
			entityID, key.URI, string(key.Verb), key.Scheme).
		Exec(ctx)
	return err
}

func (t *tx) Commit(ctx context.Context) error {
	return t.bun.Commit()
}

func (t *tx) Rollback() error {
	return t.bun.Rollback()
}

// LoadSnapshot reads the complete graph, entities ordered by id
func (s *Store) LoadSnapshot(ctx context.Context) (*aggregates.Snapshot, error) {
	snap := &aggregates.Snapshot{}

	var entityRows []entityRow
	if err := s.db.NewSelect().Model(&entityRows).Order("id ASC").Scan(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "loading entities")
	}
	for _, row := range entityRows {
		rec := aggregates.EntityRecord{
			ID:          row.ID,
			Kind:        entities.Kind(row.Kind),
			Name:        row.Name,
			Description: row.Description,
			Email:       row.Email,
			IsActive:    row.IsActive,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		}
		if len(row.Credentials) > 0 {
			var creds entities.Credentials
			if err := json.Unmarshal(row.Credentials, &creds); err != nil {
				return nil, pkgerrors.Wrapf(err, "decoding credentials for entity %d", row.ID)
			}
			rec.Credentials = &creds
		}
		snap.Entities = append(snap.Entities, rec)
	}

	var edgeRows []edgeRow
	if err := s.db.NewSelect().Model(&edgeRows).
		Order("child_id ASC", "parent_id ASC").Scan(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "loading edges")
	}
	for _, row := range edgeRows {
		snap.Edges = append(snap.Edges, aggregates.EdgeRecord{
			ParentID: row.ParentID,
			ChildID:  row.ChildID,
			Kind:     row.Kind,
		})
	}

	var permRows []permissionRow
	if err := s.db.NewSelect().Model(&permRows).Order("entity_id ASC").Scan(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "loading permissions")
	}
	for _, row := range permRows {
		var perm valueobjects.Permission
		if err := json.Unmarshal(row.Payload, &perm); err != nil {
			return nil, pkgerrors.Wrapf(err, "decoding permission for entity %d", row.EntityID)
		}
		snap.Permissions = append(snap.Permissions, aggregates.PermissionRecord{
			EntityID:   row.EntityID,
			Permission: perm,
		})
	}
	return snap, nil
}

func (s *Store) SaveDeadLetter(ctx context.Context, fc ports.FailedCommand) error {
	chain, err := json.Marshal(fc.ErrorChain)
	if err != nil {
		return pkgerrors.Wrap(err, "encoding error chain")
	}
	row := &deadLetterRow{
		ID:             fc.ID,
		CommandType:    fc.CommandType,
		Payload:        fc.SerializedCommand,
		FirstFailureAt: fc.FirstFailureAt,
		LastAttemptAt:  fc.LastAttemptAt,
		NextRetryAt:    fc.NextRetryAt,
		Attempts:       fc.Attempts,
		ErrorChain:     chain,
		ExpiresAt:      fc.ExpiresAt,
	}
	_, err = s.db.NewInsert().Model(row).
		On("CONFLICT (id) DO UPDATE").
		Set("last_attempt_at = EXCLUDED.last_attempt_at").
		Set("next_retry_at = EXCLUDED.next_retry_at").
		Set("attempts = EXCLUDED.attempts").
		Set("error_chain = EXCLUDED.error_chain").
		Exec(ctx)
	return err
}

func (s *Store) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().Model((*deadLetterRow)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

func (s *Store) LoadDeadLetters(ctx context.Context) ([]ports.FailedCommand, error) {
	var rows []deadLetterRow
	if err := s.db.NewSelect().Model(&rows).Order("first_failure_at ASC").Scan(ctx); err != nil {
		return nil, pkgerrors.Wrap(err, "loading dead letters")
	}

	out := make([]ports.FailedCommand, 0, len(rows))
	for _, row := range rows {
		var chain []string
		if err := json.Unmarshal(row.ErrorChain, &chain); err != nil {
			return nil, pkgerrors.Wrapf(err, "decoding error chain for %s", row.ID)
		}
		out = append(out, ports.FailedCommand{
			ID:                row.ID,
			CommandType:       row.CommandType,
			SerializedCommand: row.Payload,
			FirstFailureAt:    row.FirstFailureAt,
			LastAttemptAt:     row.LastAttemptAt,
			NextRetryAt:       row.NextRetryAt,
			Attempts:          row.Attempts,
			ErrorChain:        chain,
			ExpiresAt:         row.ExpiresAt,
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
