package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/z-recorder/backend/internal/model/recording"
)

var (
	// ErrNotFound is returned for names that do not match a completed artifact.
	ErrNotFound = errors.New("artifact not found")
	// ErrExists is returned when a session already has an artifact.
	ErrExists = errors.New("artifact already registered")
)

const schema = `
CREATE TABLE IF NOT EXISTS artifacts (
    session_id     TEXT PRIMARY KEY,
    name           TEXT NOT NULL UNIQUE,
    path           TEXT NOT NULL,
    size           INTEGER NOT NULL DEFAULT 0,
    fragment_count INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_created_at ON artifacts(created_at DESC);
`

// Catalog lists and serves merged artifacts. Rows are inserted only after the artifact
// file is complete, so anything the catalog returns is safe to read.
type Catalog struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the catalog database and applies the schema.
func Open(path string) (*Catalog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection serialises writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	return &Catalog{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Register records a completed artifact. Each session may register exactly once.
func (c *Catalog) Register(ctx context.Context, a recording.Artifact) error {
	if a.SessionID == "" || a.Name == "" || a.Path == "" {
		return errors.New("artifact session id, name and path are required")
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin register: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artifacts WHERE session_id = ? OR name = ?`,
		a.SessionID, a.Name,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check existing artifact: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: session %s", ErrExists, a.SessionID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO artifacts (session_id, name, path, size, fragment_count, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		a.SessionID, a.Name, a.Path, a.Size, a.FragmentCount, a.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return tx.Commit()
}

// Lookup returns the artifact produced for a session, if any.
func (c *Catalog) Lookup(ctx context.Context, sessionID string) (recording.Artifact, bool, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT session_id, name, path, size, fragment_count, created_at
         FROM artifacts WHERE session_id = ?`, sessionID)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return recording.Artifact{}, false, nil
	}
	if err != nil {
		return recording.Artifact{}, false, err
	}
	return a, true, nil
}

// List returns all artifacts, newest first.
func (c *Catalog) List(ctx context.Context) ([]recording.Artifact, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT session_id, name, path, size, fragment_count, created_at
         FROM artifacts ORDER BY created_at DESC, name DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	artifacts := make([]recording.Artifact, 0)
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return artifacts, nil
}

// Open returns a readable handle on a registered artifact by file name.
func (c *Catalog) Open(ctx context.Context, name string) (*os.File, recording.Artifact, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT session_id, name, path, size, fragment_count, created_at
         FROM artifacts WHERE name = ?`, name)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, recording.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, recording.Artifact{}, err
	}

	f, err := os.Open(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, recording.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, recording.Artifact{}, fmt.Errorf("open artifact %s: %w", name, err)
	}
	return f, a, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (recording.Artifact, error) {
	var (
		a         recording.Artifact
		createdAt int64
	)
	if err := s.Scan(&a.SessionID, &a.Name, &a.Path, &a.Size, &a.FragmentCount, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return recording.Artifact{}, err
		}
		return recording.Artifact{}, fmt.Errorf("scan artifact: %w", err)
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	return a, nil
}
