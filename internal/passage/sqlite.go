package passage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
)

// SQLiteStore persists passages in a local sqlite database.
// The pure-Go driver keeps the binary CGO-free.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS passages (
	scope  TEXT NOT NULL,
	id     TEXT NOT NULL,
	text   TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (scope, id)
);
`

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, coreerrors.New(coreerrors.ErrCodeStoreUnusable,
			fmt.Sprintf("open passage db %s: %v", path, err), err)
	}

	// WAL allows readers to proceed during reindex writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, coreerrors.New(coreerrors.ErrCodeStoreUnusable,
			fmt.Sprintf("enable WAL on %s: %v", path, err), err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, coreerrors.New(coreerrors.ErrCodeStoreUnusable,
			fmt.Sprintf("create passage schema: %v", err), err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, scope, id string) (Passage, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT text, source FROM passages WHERE scope = ? AND id = ?", scope, id)

	p := Passage{ID: id, Scope: scope}
	if err := row.Scan(&p.Text, &p.Source); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Passage{}, false, nil
		}
		return Passage{}, false, fmt.Errorf("get passage %s/%s: %w", scope, id, err)
	}
	return p, true, nil
}

// Put implements Store. All passages go in one transaction.
func (s *SQLiteStore) Put(ctx context.Context, passages []Passage) error {
	if len(passages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin passage upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO passages (scope, id, text, source) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, id) DO UPDATE SET text = excluded.text, source = excluded.source`)
	if err != nil {
		return fmt.Errorf("prepare passage upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range passages {
		if _, err := stmt.ExecContext(ctx, p.Scope, p.ID, p.Text, p.Source); err != nil {
			return fmt.Errorf("upsert passage %s/%s: %w", p.Scope, p.ID, err)
		}
	}
	return tx.Commit()
}

// Replace implements Store. Delete and insert share one transaction so
// readers never observe a half-replaced scope.
func (s *SQLiteStore) Replace(ctx context.Context, scope string, passages []Passage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin passage replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM passages WHERE scope = ?", scope); err != nil {
		return fmt.Errorf("clear passages for %s: %w", scope, err)
	}

	if len(passages) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO passages (scope, id, text, source) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare passage insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, p := range passages {
			if _, err := stmt.ExecContext(ctx, scope, p.ID, p.Text, p.Source); err != nil {
				return fmt.Errorf("insert passage %s/%s: %w", scope, p.ID, err)
			}
		}
	}
	return tx.Commit()
}

// Count implements Store.
func (s *SQLiteStore) Count(ctx context.Context, scope string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM passages WHERE scope = ?", scope).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count passages for %s: %w", scope, err)
	}
	return n, nil
}
