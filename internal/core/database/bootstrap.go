package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/docindex/internal/core"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

const dimPlaceholder = "{{EMBED_DIM}}"

// EnsureBootstrapped installs the schema once, then checks that the stored
// vector column matches the configured embedding dimension.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, dim int) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var exists bool
	err := db.QueryRowContext(ctxBoot, `
		SELECT EXISTS (
		  SELECT 1 FROM information_schema.tables
		  WHERE table_name = 'docindex_meta'
		)`).
		Scan(&exists)
	if err != nil {
		return fmt.Errorf("meta table check failed: %w", err)
	}

	hasVersion := false
	if exists {
		if err := db.QueryRowContext(ctxBoot, `SELECT EXISTS (SELECT 1 FROM docindex_meta WHERE version = 1)`).Scan(&hasVersion); err != nil {
			return fmt.Errorf("meta version check failed: %w", err)
		}
	}
	if !hasVersion {
		log.Info().Int("dim", dim).Msg("bootstrapping vector schema")
		if err := runBootstrap(ctxBoot, db, dim); err != nil {
			return err
		}
	}

	return checkDimension(ctxBoot, db, dim)
}

func renderBootstrap(dim int) (string, error) {
	if dim <= 0 {
		return "", fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return "", fmt.Errorf("read initdb.sql: %w", err)
	}
	return strings.ReplaceAll(string(sqlBytes), dimPlaceholder, strconv.Itoa(dim)), nil
}

func runBootstrap(ctx context.Context, db *sql.DB, dim int) error {
	script, err := renderBootstrap(dim)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}

// checkDimension reads the declared size of embedding_records.embedding.
// pgvector stores it as the column's type modifier.
func checkDimension(ctx context.Context, db *sql.DB, dim int) error {
	var typmod int
	err := db.QueryRowContext(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		WHERE c.relname = 'embedding_records'
		  AND a.attname = 'embedding'
		  AND NOT a.attisdropped`).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("read embedding column dimension: %w", err)
	}
	if typmod != dim {
		return fmt.Errorf("%w: embedding_records.embedding is vector(%d), EMBED_DIM is %d",
			core.ErrDimensionMismatch, typmod, dim)
	}
	return nil
}
