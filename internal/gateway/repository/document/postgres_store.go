package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type PostgresStore struct {
	db         *sql.DB
	schemaOnce sync.Once
	schemaErr  error
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens dsn with the pgx driver and checks the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS preview_documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
    PRIMARY KEY (collection, id)
);
`)
	})
	return s.schemaErr
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	collection, id, err := normalizeKey(collection, id)
	if err != nil {
		return nil, err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT data FROM preview_documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (s *PostgresStore) GetMany(ctx context.Context, collection string, ids []string) (map[string]Document, error) {
	collection = normalizeCollection(collection)
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	ids = normalizeIDs(ids)
	out := make(map[string]Document, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM preview_documents WHERE collection = $1 AND id = ANY($2)`,
		collection, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, collection, id string, doc Document) error {
	collection, id, err := normalizeKey(collection, id)
	if err != nil {
		return err
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	raw, err := encode(id, doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO preview_documents (collection, id, data, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (collection, id)
DO UPDATE SET data=EXCLUDED.data, updated_at=EXCLUDED.updated_at
`, collection, id, string(raw), time.Now())
	return err
}
