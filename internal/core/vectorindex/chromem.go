package vectorindex

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

const (
	metaDocumentID   = "documentId"
	metaChunkIndex   = "chunkIndex"
	metaText         = "text"
	metaPageEstimate = "pageEstimate"
)

// ChromemIndex is an embedded vector index. With an empty path it lives in
// memory; otherwise every write is persisted under path.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	dim        int
}

func NewChromemIndex(path, collectionName string, compress bool, dim int) (*ChromemIndex, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	// Vectors are always supplied, so the collection needs no embedding func.
	c, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	log.Info().Str("collection", collectionName).Str("path", path).Int("documents", c.Count()).Msg("chromem index ready")

	return &ChromemIndex{db: db, collection: c, dim: dim}, nil
}

func (x *ChromemIndex) Dimension() int { return x.dim }

func (x *ChromemIndex) Upsert(ctx context.Context, records []models.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		if len(r.Vector) != x.dim {
			return fmt.Errorf("%s: %w: got %d, want %d", r.ID, core.ErrDimensionMismatch, len(r.Vector), x.dim)
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Metadata.Text,
			Metadata:  toMetadata(r.Metadata),
			Embedding: r.Vector,
		})
	}
	if err := x.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (x *ChromemIndex) Query(ctx context.Context, vector []float32, topK int, filter models.QueryFilter) ([]models.Match, error) {
	n := topK
	if count := x.collection.Count(); n > count {
		n = count
	}
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if filter.DocumentID != "" {
		where = map[string]string{metaDocumentID: filter.DocumentID}
	}
	results, err := x.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.Match, 0, len(results))
	for _, r := range results {
		out = append(out, models.Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: fromMetadata(r.Metadata, r.Content),
		})
	}
	return out, nil
}

// Records walks the contiguous id sequence <doc>_chunk_0, _1, ... which the
// batch indexer guarantees for a successfully indexed document.
func (x *ChromemIndex) Records(ctx context.Context, documentID string) ([]models.EmbeddingRecord, error) {
	var out []models.EmbeddingRecord
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := x.collection.GetByID(ctx, models.RecordID(documentID, i))
		if err != nil {
			break
		}
		out = append(out, models.EmbeddingRecord{
			ID:       doc.ID,
			Vector:   doc.Embedding,
			Metadata: fromMetadata(doc.Metadata, doc.Content),
		})
	}
	return out, nil
}

func (x *ChromemIndex) DeleteDocument(ctx context.Context, documentID string, fromChunk int) error {
	if fromChunk <= 0 {
		if err := x.collection.Delete(ctx, map[string]string{metaDocumentID: documentID}, nil); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", documentID, err)
		}
		return nil
	}

	var ids []string
	for i := fromChunk; ; i++ {
		id := models.RecordID(documentID, i)
		if _, err := x.collection.GetByID(ctx, id); err != nil {
			break
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := x.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to prune document %s: %w", documentID, err)
	}
	return nil
}

func toMetadata(m models.RecordMetadata) map[string]string {
	return map[string]string{
		metaDocumentID:   m.DocumentID,
		metaChunkIndex:   strconv.Itoa(m.ChunkIndex),
		metaText:         m.Text,
		metaPageEstimate: strconv.Itoa(m.PageEstimate),
	}
}

func fromMetadata(m map[string]string, content string) models.RecordMetadata {
	md := models.RecordMetadata{
		DocumentID: m[metaDocumentID],
		Text:       m[metaText],
	}
	md.ChunkIndex, _ = strconv.Atoi(m[metaChunkIndex])
	md.PageEstimate, _ = strconv.Atoi(m[metaPageEstimate])
	if md.Text == "" {
		md.Text = content
	}
	return md
}

var _ core.VectorIndex = (*ChromemIndex)(nil)
