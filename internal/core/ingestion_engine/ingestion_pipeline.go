package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/docindex/internal/core"
	objectclient "github.com/markdave123-py/docindex/internal/core/object-client"
	"github.com/markdave123-py/docindex/internal/models"
	"github.com/markdave123-py/docindex/internal/telemetry"
)

// Timings breaks a run down by phase.
type Timings struct {
	Download time.Duration `json:"download"`
	Parse    time.Duration `json:"parse"`
	Chunk    time.Duration `json:"chunk"`
	Embed    time.Duration `json:"embed"`
	Total    time.Duration `json:"total"`
}

// Result is the success variant of a pipeline run.
type Result struct {
	PageCount  int
	ChunkCount int
	Timings    Timings
}

// Pipeline runs fetch, extract, chunk and index for one document.
type Pipeline struct {
	fetcher   core.BlobFetcher
	extractor core.DocumentExtractor
	chunker   *Chunker
	indexer   *BatchIndexer
	cfg       *IngestConfig
	log       zerolog.Logger
}

func NewPipeline(fetcher core.BlobFetcher, extractor core.DocumentExtractor, indexer *BatchIndexer, cfg *IngestConfig, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		fetcher:   fetcher,
		extractor: extractor,
		chunker:   NewChunker(cfg.Chunking),
		indexer:   indexer,
		cfg:       cfg,
		log:       log,
	}
}

var _ Ingestor = (*Pipeline)(nil)

// Run returns a *Result on success or a *core.PipelineError naming the failed stage.
func (p *Pipeline) Run(ctx context.Context, job models.IngestJob, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(string) {}
	}
	logger := p.log.With().Str("job_id", job.ID).Str("document_id", job.DocumentID).Logger()
	var tm Timings
	start := time.Now()

	// fetch
	progress("Downloading PDF...")
	phase := time.Now()
	data, err := p.fetch(ctx, job.BlobKey)
	if err != nil {
		return nil, err
	}
	tm.Download = time.Since(phase)
	logger.Info().Int("bytes", len(data)).Dur("duration", tm.Download).Msg("downloaded")

	if int64(len(data)) > p.cfg.MaxBytes {
		return nil, core.ExtractionError("size check",
			fmt.Errorf("%w: %d bytes, limit %d", core.ErrDocumentTooLarge, len(data), p.cfg.MaxBytes))
	}
	if p.cfg.LargeFileBytes > 0 && int64(len(data)) > p.cfg.LargeFileBytes {
		logMemory(logger, "large file downloaded")
	}

	// extract
	progress("Extracting text...")
	phase = time.Now()
	extracted, err := p.extract(ctx, data)
	if err != nil {
		return nil, err
	}
	data = nil // release the blob before chunking
	tm.Parse = time.Since(phase)
	logger.Info().Int("pages", extracted.PageCount).Int("chars", len(extracted.Text)).Dur("duration", tm.Parse).Msg("extracted")

	if p.cfg.MaxPages > 0 && extracted.PageCount > p.cfg.MaxPages {
		return nil, core.ExtractionError("page check",
			fmt.Errorf("%w: %d pages, limit %d", core.ErrDocumentTooLarge, extracted.PageCount, p.cfg.MaxPages))
	}

	// chunk
	progress("Creating chunks...")
	phase = time.Now()
	_, span := telemetry.Tracer().Start(ctx, "ingest.chunk")
	chunks := p.chunker.Chunk(extracted.Text)
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	span.End()
	tm.Chunk = time.Since(phase)
	if len(chunks) == 0 {
		return nil, core.ExtractionError("chunk", core.ErrNoIndexableText)
	}
	logger.Info().Int("chunks", len(chunks)).Dur("duration", tm.Chunk).Msg("chunked")

	// index
	phase = time.Now()
	ictx, span := telemetry.Tracer().Start(ctx, "ingest.index")
	n, err := p.indexer.Index(ictx, job.DocumentID, chunks, extracted.PageCount, progress)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	tm.Embed = time.Since(phase)
	tm.Total = time.Since(start)

	logger.Info().
		Dur("download", tm.Download).
		Dur("parse", tm.Parse).
		Dur("chunk", tm.Chunk).
		Dur("embed", tm.Embed).
		Dur("duration", tm.Total).
		Msg("document indexed")

	return &Result{PageCount: extracted.PageCount, ChunkCount: n, Timings: tm}, nil
}

func (p *Pipeline) fetch(ctx context.Context, blobKey string) ([]byte, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.fetch")
	data, err := func() ([]byte, error) {
		bucket, key, err := objectclient.SplitBlobKey(p.cfg.DefaultBucket, blobKey)
		if err != nil {
			return nil, core.FetchError("resolve blob key", fmt.Errorf("%w: %v", core.ErrInvalidRequest, err))
		}
		span.SetAttributes(attribute.String("blob.bucket", bucket), attribute.String("blob.key", key))
		data, err := p.fetcher.GetFile(ctx, bucket, key)
		if err != nil {
			return nil, core.FetchError("download", err)
		}
		if len(data) == 0 {
			return nil, core.FetchError("download", errors.New("blob is empty"))
		}
		return data, nil
	}()
	endSpan(span, err)
	return data, err
}

func (p *Pipeline) extract(ctx context.Context, data []byte) (*core.ExtractedText, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.extract")
	out, err := p.extractor.Extract(ctx, data)
	if err != nil && core.KindOf(err) == core.KindUnknown {
		err = core.ExtractionError("extract", err)
	}
	endSpan(span, err)
	return out, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func logMemory(logger zerolog.Logger, msg string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("heap_alloc_mb", m.HeapAlloc>>20).
		Uint64("heap_sys_mb", m.HeapSys>>20).
		Uint32("gc_cycles", m.NumGC).
		Msg(msg)
}
