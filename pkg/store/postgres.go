package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS blockgraph_documents (
    name       TEXT PRIMARY KEY,
    body       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresStore keeps documents in the blockgraph_documents table
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The caller owns the schema.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to url and makes sure the schema exists.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return s, nil
}

// CreateSchema creates the documents table if it doesn't exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the documents table.
func (s *PostgresStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS blockgraph_documents;`)
	return err
}

func (s *PostgresStore) Save(ctx context.Context, name string, doc []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO blockgraph_documents (name, body) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`,
		name, string(doc))
	if err != nil {
		return fmt.Errorf("store: save %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var body string
	err := s.db.QueryRow(ctx, `SELECT body::text FROM blockgraph_documents WHERE name = $1`, name).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", name, err)
	}
	return []byte(body), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name, octet_length(body::text), updated_at
		FROM blockgraph_documents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	infos := make([]Info, 0)
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.Name, &info.Size, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM blockgraph_documents WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("store: delete %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Close releases the pool
func (s *PostgresStore) Close() {
	s.db.Close()
}
