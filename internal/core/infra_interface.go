package core

import (
	"context"

	"github.com/markdave123-py/docindex/internal/models"
)

// BlobFetcher retrieves raw document bytes from object storage.
type BlobFetcher interface {
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// VectorIndex abstracts pgvector/chromem so the pipeline never depends on a specific store.
type VectorIndex interface {
	// Dimension is the vector size the index was created with.
	Dimension() int
	Upsert(ctx context.Context, records []models.EmbeddingRecord) error
	Query(ctx context.Context, vector []float32, topK int, filter models.QueryFilter) ([]models.Match, error)
	// Records returns a document's records ordered by chunk index.
	Records(ctx context.Context, documentID string) ([]models.EmbeddingRecord, error)
	// DeleteDocument removes the document's records with chunk index >= fromChunk.
	DeleteDocument(ctx context.Context, documentID string, fromChunk int) error
}

// DocumentRegistry receives exactly one terminal status per ingestion job.
type DocumentRegistry interface {
	ReportStatus(ctx context.Context, documentID string, status models.DocumentStatus, pageCount int, errMsg string) error
}
