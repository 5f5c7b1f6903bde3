// Package pgvector implements embedding.Client's similarity half with the
// pgvector extension: Similarity has Postgres compute the cosine score of
// the two vectors passed in, and Nearest queries a pgvector-indexed
// table/column. Embed delegates to an upstream
// completion-style embedding model passed at construction, since pgvector
// itself only indexes and scores vectors. Grounded on the teacher pack's
// haasonsaas-nexus pgvector store for the lib/pq + pgvector-go wiring
// idiom, trimmed of its document/migration machinery (spec §1 keeps vector
// storage "configured through the core" but unspecified in algorithm).
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	pgv "github.com/pgvector/pgvector-go"

	"goa.design/agentswarm/runtime/schema"
)

// Embedder produces the raw vector for a piece of text; pgvector itself
// only stores and scores vectors, so this is required to implement
// schema.EmbeddingClient.Embed.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config configures a Client.
type Config struct {
	// DSN is the Postgres connection string. Required unless DB is set.
	DSN string

	// DB reuses an existing connection; when set, DSN is ignored and the
	// Client does not own (close) it.
	DB *sql.DB

	// Table and Column name the pgvector-indexed table/column queried by
	// Nearest.
	Table  string
	Column string

	// Embedder computes vectors for Embed calls.
	Embedder Embedder
}

// Client implements schema.EmbeddingClient against Postgres/pgvector.
type Client struct {
	db       *sql.DB
	ownsDB   bool
	table    string
	column   string
	embedder Embedder
}

// New constructs a Client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.Embedder == nil {
		return nil, errors.New("pgvector: embedder is required")
	}
	if cfg.Table == "" || cfg.Column == "" {
		return nil, errors.New("pgvector: table and column are required")
	}
	var db *sql.DB
	var ownsDB bool
	if cfg.DB != nil {
		db = cfg.DB
	} else {
		if cfg.DSN == "" {
			return nil, errors.New("pgvector: DSN or DB is required")
		}
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("pgvector: open: %w", err)
		}
		ownsDB = true
	}
	return &Client{db: db, ownsDB: ownsDB, table: cfg.Table, column: cfg.Column, embedder: cfg.Embedder}, nil
}

var _ schema.EmbeddingClient = (*Client)(nil)

// Embed delegates to the configured Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embedder.Embed(ctx, text)
}

// Similarity scores a against b using pgvector's cosine-distance operator
// executed against the database rather than in-process. It does not read
// the configured table; a query error yields 0.
func (c *Client) Similarity(a, b []float32) float32 {
	var score float64
	query := fmt.Sprintf("SELECT 1 - ($1::vector <=> $2::vector)")
	row := c.db.QueryRowContext(context.Background(), query, pgv.NewVector(a), pgv.NewVector(b))
	if err := row.Scan(&score); err != nil {
		return 0
	}
	return float32(score)
}

// Nearest returns the row ids closest to query, ordered by ascending
// cosine distance over the configured table/column. Storage search does
// not call it.
func (c *Client) Nearest(ctx context.Context, query []float32, limit int) ([]string, error) {
	sqlText := fmt.Sprintf("SELECT id FROM %s ORDER BY %s <=> $1::vector LIMIT $2", c.table, c.column)
	rows, err := c.db.QueryContext(ctx, sqlText, pgv.NewVector(query), limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector: nearest: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the underlying connection if this Client opened it.
func (c *Client) Close() error {
	if c.ownsDB && c.db != nil {
		return c.db.Close()
	}
	return nil
}
