package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/models"
)

type DatabaseClient struct {
	db  *sql.DB
	dim int
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
	}

	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db, dim: cfg.EmbedDim}, nil
}

// buildDSN appends certificate verification to the URL when a CA cert is given.
func buildDSN(databaseURL, certPath string) (string, error) {
	if certPath == "" {
		return databaseURL, nil
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", certPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) Dimension() int { return c.dim }

// Upsert writes one batch in a single transaction. Record ids are
// deterministic, so a re-ingested chunk overwrites its previous row.
func (c *DatabaseClient) Upsert(ctx context.Context, records []models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO embedding_records
			(id, document_id, chunk_index, text, page_estimate, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			document_id   = EXCLUDED.document_id,
			chunk_index   = EXCLUDED.chunk_index,
			text          = EXCLUDED.text,
			page_estimate = EXCLUDED.page_estimate,
			embedding     = EXCLUDED.embedding,
			created_at    = now()
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		vec := pgvector.NewVector(r.Vector)
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Metadata.DocumentID, r.Metadata.ChunkIndex, r.Metadata.Text, r.Metadata.PageEstimate, vec,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Query returns the topK records closest to vector by cosine distance.
func (c *DatabaseClient) Query(ctx context.Context, vector []float32, topK int, filter models.QueryFilter) ([]models.Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(vector)

	var (
		rows *sql.Rows
		err  error
	)
	if filter.DocumentID != "" {
		rows, err = c.db.QueryContext(ctx, `
			SELECT id, document_id, chunk_index, text, page_estimate, 1 - (embedding <=> $1) AS score
			FROM embedding_records
			WHERE document_id = $3
			ORDER BY embedding <=> $1
			LIMIT $2
		`, vec, topK, filter.DocumentID)
	} else {
		rows, err = c.db.QueryContext(ctx, `
			SELECT id, document_id, chunk_index, text, page_estimate, 1 - (embedding <=> $1) AS score
			FROM embedding_records
			ORDER BY embedding <=> $1
			LIMIT $2
		`, vec, topK)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Match
	for rows.Next() {
		var (
			m     models.Match
			score float64
		)
		if err := rows.Scan(&m.ID, &m.Metadata.DocumentID, &m.Metadata.ChunkIndex,
			&m.Metadata.Text, &m.Metadata.PageEstimate, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) Records(ctx context.Context, documentID string) ([]models.EmbeddingRecord, error) {
	const q = `
		SELECT id, document_id, chunk_index, text, page_estimate, embedding
		FROM embedding_records
		WHERE document_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.EmbeddingRecord
	for rows.Next() {
		var (
			r   models.EmbeddingRecord
			emb pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &r.Metadata.DocumentID, &r.Metadata.ChunkIndex,
			&r.Metadata.Text, &r.Metadata.PageEstimate, &emb); err != nil {
			return nil, err
		}
		r.Vector = emb.Slice()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, documentID string, fromChunk int) error {
	const q = `DELETE FROM embedding_records WHERE document_id = $1 AND chunk_index >= $2`
	_, err := c.db.ExecContext(ctx, q, documentID, fromChunk)
	return err
}

// ReportStatus updates the document row the web app reads.
func (c *DatabaseClient) ReportStatus(ctx context.Context, documentID string, status models.DocumentStatus, pageCount int, errMsg string) error {
	const q = `
		UPDATE documents
		SET status = $2,
		    page_count = CASE WHEN $3 > 0 THEN $3 ELSE page_count END,
		    error_message = NULLIF($4, ''),
		    updated_at = now()
		WHERE id = $1
	`
	res, err := c.db.ExecContext(ctx, q, documentID, string(status), pageCount, errMsg)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document not found: %s", documentID)
	}
	return nil
}

var _ DbClient = (*DatabaseClient)(nil)
