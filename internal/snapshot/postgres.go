package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fruitsalade/aftp/internal/fstree"
)

const schema = `
CREATE TABLE IF NOT EXISTS tree_snapshots (
	name       TEXT PRIMARY KEY,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps the snapshot as one JSONB row.
type PostgresStore struct {
	db   *sql.DB
	name string
}

// NewPostgresStore connects and creates the snapshot table if missing.
// name selects the row, so several trees may share one database.
func NewPostgresStore(ctx context.Context, databaseURL, name string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}
	if name == "" {
		name = fstree.RootName
	}
	return &PostgresStore{db: db, name: name}, nil
}

// Persist upserts the document row.
func (s *PostgresStore) Persist(ctx context.Context, root *fstree.Tree) error {
	data, err := Encode(root)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tree_snapshots (name, document, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = NOW()`,
		s.name, string(data))
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Load reads the document row.
func (s *PostgresStore) Load(ctx context.Context) (*fstree.Tree, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM tree_snapshots WHERE name = $1`, s.name).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return Decode([]byte(doc))
}

// Type returns "postgres".
func (s *PostgresStore) Type() string { return "postgres" }

// Close closes the database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }
