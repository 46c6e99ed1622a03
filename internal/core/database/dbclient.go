package db

import (
	"github.com/markdave123-py/docindex/internal/core"
)

// DbClient is the Postgres side of the worker: a pgvector-backed vector index
// plus the documents table the worker reports terminal status to.
type DbClient interface {
	core.VectorIndex
	core.DocumentRegistry

	Close() error
}
