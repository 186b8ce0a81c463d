// Package state manages the SQLite database that holds the per-source import
// ledger: every remote ID ever observed for a tracked source, the subset that
// was imported, and the one-shot backfill flag.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/njoerd114/mediarelay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS tracked_sources (
    provider           TEXT    NOT NULL,
    source_id          TEXT    NOT NULL,
    title              TEXT    NOT NULL DEFAULT '',
    post_target        TEXT    NOT NULL DEFAULT 'dedicated',
    content_instance   TEXT    NOT NULL DEFAULT '',
    category_id        TEXT    NOT NULL DEFAULT '',
    backfill_completed INTEGER NOT NULL DEFAULT 0,
    created_at         TEXT    NOT NULL DEFAULT '',
    last_synced_at     TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (provider, source_id)
);

CREATE TABLE IF NOT EXISTS source_ids (
    provider  TEXT    NOT NULL,
    source_id TEXT    NOT NULL,
    remote_id TEXT    NOT NULL,
    imported  INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (provider, source_id, remote_id),
    FOREIGN KEY (provider, source_id) REFERENCES tracked_sources (provider, source_id)
);
`

// ErrSourceExists is returned by [Store.Create] when the source is already
// registered.
var ErrSourceExists = errors.New("source already registered")

// ErrNotRegistered is returned by [Store.Commit] for a source that was never
// created. Commit overwrites; it never registers.
var ErrNotRegistered = errors.New("source not registered")

// Store is the SQLite-backed ledger repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the state database:
// ~/.local/share/mediarelay/state.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "mediarelay", "state.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Load returns the ledger record for the given source, or (nil, nil) if the
// source was never registered.
func (s *Store) Load(ctx context.Context, provider model.Provider, sourceID string) (*model.TrackedSource, error) {
	const q = `
		SELECT provider, source_id, title, post_target, content_instance,
		       category_id, backfill_completed, created_at, last_synced_at
		FROM tracked_sources WHERE provider = ? AND source_id = ?`
	src, err := scanSource(s.db.QueryRowContext(ctx, q, string(provider), sourceID))
	if err != nil || src == nil {
		return nil, err
	}
	if err := s.loadIDs(ctx, src); err != nil {
		return nil, err
	}
	return src, nil
}

// List returns every registered source with its ledger, ordered by provider
// then source ID.
func (s *Store) List(ctx context.Context) ([]*model.TrackedSource, error) {
	const q = `
		SELECT provider, source_id, title, post_target, content_instance,
		       category_id, backfill_completed, created_at, last_synced_at
		FROM tracked_sources ORDER BY provider, source_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []*model.TrackedSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The store runs on a single connection, which the rows above hold until
	// iteration ends. ID sets are therefore loaded in a second step.
	for _, src := range sources {
		if err := s.loadIDs(ctx, src); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

// Create registers a new source together with its initial ledger.
func (s *Store) Create(ctx context.Context, src *model.TrackedSource) error {
	existing, err := s.Load(ctx, src.Provider, src.SourceID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("creating %s source %q: %w", src.Provider, src.SourceID, ErrSourceExists)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		const q = `
			INSERT INTO tracked_sources
			    (provider, source_id, title, post_target, content_instance,
			     category_id, backfill_completed, created_at, last_synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q, sourceArgs(src)...); err != nil {
			return fmt.Errorf("inserting source %q: %w", src.SourceID, err)
		}
		return writeIDs(ctx, tx, src)
	})
}

// Commit overwrites the full ledger record of an existing source in a single
// transaction. The caller supplies the complete updated record; nothing is
// merged with what is stored.
func (s *Store) Commit(ctx context.Context, src *model.TrackedSource) error {
	if !src.AllKnown.Contains(src.Imported) {
		return fmt.Errorf("committing %s source %q: imported IDs are not a subset of known IDs", src.Provider, src.SourceID)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		const q = `
			UPDATE tracked_sources SET
			    title              = ?,
			    post_target        = ?,
			    content_instance   = ?,
			    category_id        = ?,
			    backfill_completed = ?,
			    created_at         = ?,
			    last_synced_at     = ?
			WHERE provider = ? AND source_id = ?`
		res, err := tx.ExecContext(ctx, q,
			src.Title,
			string(src.PostTarget),
			src.ContentInstance,
			src.CategoryID,
			src.BackfillCompleted,
			formatTime(src.CreatedAt),
			formatTime(src.LastSyncedAt),
			string(src.Provider),
			src.SourceID,
		)
		if err != nil {
			return fmt.Errorf("updating source %q: %w", src.SourceID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("committing %s source %q: %w", src.Provider, src.SourceID, ErrNotRegistered)
		}

		const del = `DELETE FROM source_ids WHERE provider = ? AND source_id = ?`
		if _, err := tx.ExecContext(ctx, del, string(src.Provider), src.SourceID); err != nil {
			return fmt.Errorf("clearing IDs of %q: %w", src.SourceID, err)
		}
		return writeIDs(ctx, tx, src)
	})
}

// --- helpers -----------------------------------------------------------------

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Store) loadIDs(ctx context.Context, src *model.TrackedSource) error {
	const q = `SELECT remote_id, imported FROM source_ids WHERE provider = ? AND source_id = ?`
	rows, err := s.db.QueryContext(ctx, q, string(src.Provider), src.SourceID)
	if err != nil {
		return fmt.Errorf("querying IDs of %q: %w", src.SourceID, err)
	}
	defer func() { _ = rows.Close() }()

	src.AllKnown = model.NewIDSet()
	src.Imported = model.NewIDSet()
	for rows.Next() {
		var id string
		var imported bool
		if err := rows.Scan(&id, &imported); err != nil {
			return fmt.Errorf("scanning ID row: %w", err)
		}
		src.AllKnown.Add(id)
		if imported {
			src.Imported.Add(id)
		}
	}
	return rows.Err()
}

func writeIDs(ctx context.Context, tx *sql.Tx, src *model.TrackedSource) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO source_ids (provider, source_id, remote_id, imported) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing ID insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, id := range src.AllKnown.Sorted() {
		if _, err := stmt.ExecContext(ctx, string(src.Provider), src.SourceID, id, src.Imported.Has(id)); err != nil {
			return fmt.Errorf("inserting ID %q: %w", id, err)
		}
	}
	return nil
}

func sourceArgs(src *model.TrackedSource) []any {
	return []any{
		string(src.Provider),
		src.SourceID,
		src.Title,
		string(src.PostTarget),
		src.ContentInstance,
		src.CategoryID,
		src.BackfillCompleted,
		formatTime(src.CreatedAt),
		formatTime(src.LastSyncedAt),
	}
}

// scanner matches both *sql.Row and *sql.Rows so scanSource can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func scanSource(s scanner) (*model.TrackedSource, error) {
	var src model.TrackedSource
	var provider, postTarget, createdAt, syncedAt string

	err := s.Scan(
		&provider,
		&src.SourceID,
		&src.Title,
		&postTarget,
		&src.ContentInstance,
		&src.CategoryID,
		&src.BackfillCompleted,
		&createdAt,
		&syncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning source row: %w", err)
	}

	src.Provider = model.Provider(provider)
	src.PostTarget = model.PostTargetKind(postTarget)
	src.CreatedAt, _ = parseTime(createdAt)
	src.LastSyncedAt, _ = parseTime(syncedAt)

	return &src, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
