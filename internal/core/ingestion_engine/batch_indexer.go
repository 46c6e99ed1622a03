package ingestion_engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
	"github.com/markdave123-py/docindex/internal/telemetry"
)

// ProgressFunc receives human-readable phase labels as a job advances.
type ProgressFunc func(phase string)

// BatchIndexer embeds chunks in sequential batches, items within a batch in
// parallel, and upserts each batch before starting the next one.
type BatchIndexer struct {
	embedder core.Embedder
	index    core.VectorIndex
	cfg      *IngestConfig
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

func NewBatchIndexer(embedder core.Embedder, index core.VectorIndex, cfg *IngestConfig, metrics *telemetry.Metrics, log zerolog.Logger) *BatchIndexer {
	return &BatchIndexer{embedder: embedder, index: index, cfg: cfg, metrics: metrics, log: log}
}

// Index writes one record per chunk and returns how many were indexed. On any
// failure the document's records are removed, so a document is either fully
// indexed or not indexed at all.
func (b *BatchIndexer) Index(ctx context.Context, documentID string, chunks []models.TextChunk, pageCount int, progress ProgressFunc) (int, error) {
	total := len(chunks)
	if total == 0 {
		return 0, nil
	}
	if progress == nil {
		progress = func(string) {}
	}

	size := b.cfg.BatchSizeFor(total)
	batches := (total + size - 1) / size
	logger := b.log.With().Str("document_id", documentID).Int("chunks", total).Int("batch_size", size).Logger()
	logger.Info().Int("batches", batches).Msg("indexing document")

	indexed := 0
	for bi := 0; bi < batches; bi++ {
		start := bi * size
		end := min(start+size, total)
		progress(fmt.Sprintf("Generating embeddings: batch %d/%d", bi+1, batches))

		if err := b.runBatch(ctx, documentID, chunks[start:end], bi, total, pageCount); err != nil {
			b.rollback(ctx, documentID, logger)
			return 0, err
		}
		indexed += end - start
		b.metrics.RecordChunksIndexed(ctx, end-start)
		logger.Debug().Int("batch", bi+1).Int("indexed", indexed).Msg("batch upserted")

		if bi < batches-1 && b.cfg.BatchPause > 0 {
			if err := sleepCtx(ctx, b.cfg.BatchPause); err != nil {
				b.rollback(ctx, documentID, logger)
				return 0, core.IndexingError("pause between batches", err)
			}
		}
	}

	// A previous, longer ingestion may have left records past the new tail.
	if err := b.index.DeleteDocument(ctx, documentID, total); err != nil {
		b.rollback(ctx, documentID, logger)
		return 0, core.IndexingError("prune stale records", err)
	}
	return indexed, nil
}

func (b *BatchIndexer) runBatch(ctx context.Context, documentID string, batch []models.TextChunk, bi, total, pageCount int) error {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.batch")
	span.SetAttributes(
		attribute.String("document.id", documentID),
		attribute.Int("batch.index", bi),
		attribute.Int("batch.size", len(batch)),
	)

	records, err := b.embedBatch(ctx, documentID, batch, total, pageCount)
	if err == nil {
		if uerr := b.index.Upsert(ctx, records); uerr != nil {
			err = core.IndexingError(fmt.Sprintf("upsert batch %d", bi+1), uerr)
		}
	}
	endSpan(span, err)
	return err
}

// embedBatch embeds every chunk of the batch concurrently. The first failure
// cancels the rest of the batch.
func (b *BatchIndexer) embedBatch(ctx context.Context, documentID string, batch []models.TextChunk, total, pageCount int) ([]models.EmbeddingRecord, error) {
	records := make([]models.EmbeddingRecord, len(batch))
	dim := b.index.Dimension()

	limit := len(batch)
	if b.cfg.EmbedWorkers > 0 && b.cfg.EmbedWorkers < limit {
		limit = b.cfg.EmbedWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, ch := range batch {
		g.Go(func() error {
			vec, err := b.embedder.Embed(gctx, ch.Text)
			if err != nil {
				return core.IndexingError(fmt.Sprintf("embed chunk %d", ch.Index), err)
			}
			if len(vec) != dim {
				return core.IndexingError(fmt.Sprintf("embed chunk %d", ch.Index),
					fmt.Errorf("%w: got %d, index expects %d", core.ErrDimensionMismatch, len(vec), dim))
			}
			records[i] = models.EmbeddingRecord{
				ID:     models.RecordID(documentID, ch.Index),
				Vector: vec,
				Metadata: models.RecordMetadata{
					DocumentID:   documentID,
					ChunkIndex:   ch.Index,
					Text:         models.TruncateText(ch.Text, b.cfg.MetadataTextChars),
					PageEstimate: models.PageEstimate(ch.Index, total, pageCount),
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

// rollback runs even when ctx is already cancelled.
func (b *BatchIndexer) rollback(ctx context.Context, documentID string, logger zerolog.Logger) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := b.index.DeleteDocument(rctx, documentID, 0); err != nil {
		logger.Error().Err(err).Msg("rollback of partial index failed")
		return
	}
	logger.Warn().Msg("partial index rolled back")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
