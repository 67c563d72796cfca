package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresConfig holds connection settings for the document store.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
}

// PostgresStore is a DocumentStore over a single JSONB-backed table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and ensures the schema exists.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresStore{db: db}
	if err := s.createTables(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection VARCHAR(255) NOT NULL,
			id VARCHAR(255) NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			indexed JSONB NOT NULL DEFAULT '{}',
			body JSONB NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_at ON documents (collection, at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_indexed ON documents USING GIN (indexed)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, collection string, doc Document) error {
	indexed, err := json.Marshal(doc.Indexed)
	if err != nil {
		return fmt.Errorf("marshal indexed fields: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, at, indexed, body)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (collection, id)
		DO UPDATE SET at = $3, indexed = $4, body = $5`,
		collection, doc.ID, doc.At, indexed, doc.Body)
	if err != nil {
		return fmt.Errorf("put document %s/%s: %w", collection, doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, at, indexed, body FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	sqlQuery := `SELECT id, at, indexed, body FROM documents WHERE collection = $1`
	args := []interface{}{collection}
	argIdx := 2

	if len(q.Filters) > 0 {
		filters, err := json.Marshal(q.Filters)
		if err != nil {
			return nil, fmt.Errorf("marshal filters: %w", err)
		}
		sqlQuery += fmt.Sprintf(" AND indexed @> $%d", argIdx)
		args = append(args, filters)
		argIdx++
	}
	if !q.From.IsZero() {
		sqlQuery += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, q.From)
		argIdx++
	}
	if !q.To.IsZero() {
		sqlQuery += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, q.To)
		argIdx++
	}

	sqlQuery += " ORDER BY at DESC"
	if q.Limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) Collections(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM documents WHERE collection LIKE $1 ORDER BY collection`,
		prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Ping verifies the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	var indexed []byte
	if err := row.Scan(&doc.ID, &doc.At, &indexed, &doc.Body); err != nil {
		return Document{}, err
	}
	if err := json.Unmarshal(indexed, &doc.Indexed); err != nil {
		return Document{}, fmt.Errorf("unmarshal indexed fields: %w", err)
	}
	return doc, nil
}
