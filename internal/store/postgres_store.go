package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kneutral-org/davlock/internal/locking"
)

const schema = `
CREATE TABLE IF NOT EXISTS dav_objects (
	path          TEXT PRIMARY KEY,
	folder        BOOLEAN NOT NULL,
	null_resource BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
INSERT INTO dav_objects (path, folder) VALUES ('/', TRUE) ON CONFLICT (path) DO NOTHING;
`

// PostgresStore is a PostgreSQL implementation of ResourceStore.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed resource store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the objects table and the root folder if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// GetObject implements ResourceStore.GetObject.
func (s *PostgresStore) GetObject(ctx context.Context, path string) (*Object, error) {
	var obj Object
	err := s.db.QueryRow(ctx,
		"SELECT path, folder, null_resource, created_at FROM dav_objects WHERE path = $1",
		locking.CleanPath(path),
	).Scan(&obj.Path, &obj.Folder, &obj.NullResource, &obj.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// CreateFolder implements ResourceStore.CreateFolder.
func (s *PostgresStore) CreateFolder(ctx context.Context, path string) (*Object, error) {
	return s.create(ctx, path, true)
}

// CreateResource implements ResourceStore.CreateResource.
func (s *PostgresStore) CreateResource(ctx context.Context, path string) (*Object, error) {
	return s.create(ctx, path, false)
}

// create inserts the object only when its parent is a folder. When nothing
// is inserted a follow-up lookup tells a duplicate from a missing parent.
func (s *PostgresStore) create(ctx context.Context, path string, folder bool) (*Object, error) {
	path = locking.CleanPath(path)

	query := `
		INSERT INTO dav_objects (path, folder)
		SELECT $1, $2
		WHERE EXISTS (SELECT 1 FROM dav_objects WHERE path = $3 AND folder)
		ON CONFLICT (path) DO NOTHING
		RETURNING path, folder, null_resource, created_at
	`

	var obj Object
	err := s.db.QueryRow(ctx, query, path, folder, locking.ParentPath(path)).
		Scan(&obj.Path, &obj.Folder, &obj.NullResource, &obj.CreatedAt)
	if err == nil {
		return &obj, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	existing, err := s.GetObject(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrExists
	}
	return nil, ErrParentNotFound
}

// SetNullResource implements ResourceStore.SetNullResource.
func (s *PostgresStore) SetNullResource(ctx context.Context, path string, null bool) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE dav_objects SET null_resource = $2 WHERE path = $1",
		locking.CleanPath(path), null,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteObject implements ResourceStore.DeleteObject.
func (s *PostgresStore) DeleteObject(ctx context.Context, path string) error {
	path = locking.CleanPath(path)
	if path == "/" {
		return nil
	}
	_, err := s.db.Exec(ctx,
		"DELETE FROM dav_objects WHERE path = $1 OR path LIKE $2",
		path, escapeLike(path)+"/%",
	)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
