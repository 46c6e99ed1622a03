package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

type memIndex struct {
	mu          sync.Mutex
	dim         int
	records     map[string]models.EmbeddingRecord
	upsertSizes []int
	failUpsert  int // 1-based upsert call that fails, 0 = never
	calls       int
}

func newMemIndex(dim int) *memIndex {
	return &memIndex{dim: dim, records: map[string]models.EmbeddingRecord{}}
}

func (m *memIndex) Dimension() int { return m.dim }

func (m *memIndex) Upsert(_ context.Context, records []models.EmbeddingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failUpsert > 0 && m.calls == m.failUpsert {
		return errors.New("index unavailable")
	}
	m.upsertSizes = append(m.upsertSizes, len(records))
	for _, r := range records {
		m.records[r.ID] = r
	}
	return nil
}

func (m *memIndex) Query(context.Context, []float32, int, models.QueryFilter) ([]models.Match, error) {
	return nil, nil
}

func (m *memIndex) Records(_ context.Context, documentID string) ([]models.EmbeddingRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EmbeddingRecord
	for _, r := range m.records {
		if r.Metadata.DocumentID == documentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Metadata.ChunkIndex < out[j].Metadata.ChunkIndex })
	return out, nil
}

func (m *memIndex) DeleteDocument(_ context.Context, documentID string, fromChunk int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.records {
		if r.Metadata.DocumentID == documentID && r.Metadata.ChunkIndex >= fromChunk {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *memIndex) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// fakeEmbedder returns a dim-sized vector and tracks peak concurrency.
type fakeEmbedder struct {
	dim      int
	delay    time.Duration
	failOn   string
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, core.EmbeddingError("embed", errors.New("provider down"))
	}
	vec := make([]float32, f.dim)
	vec[0] = float32(len(text))
	return vec, nil
}

type memFetcher struct {
	blobs map[string][]byte
}

func (f *memFetcher) GetFile(_ context.Context, bucket, key string) ([]byte, error) {
	b, ok := f.blobs[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, core.ErrBlobNotFound)
	}
	return b, nil
}

// textExtractor treats the blob as already-extracted text.
type textExtractor struct {
	pages int
	err   error
}

func (e *textExtractor) Extract(_ context.Context, data []byte) (*core.ExtractedText, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &core.ExtractedText{Text: string(data), PageCount: e.pages}, nil
}

func testConfig() *IngestConfig {
	cfg := FromTuning(config.DefaultTuning(), "docs")
	cfg.Chunking = config.ChunkingConfig{MinChars: 10, IdealChars: 40, MaxChars: 60, OverlapWords: 8, NoiseFloor: 5}
	cfg.BatchTiers = []config.BatchTier{{Above: 0, Size: 3}, {Above: 10, Size: 2}}
	cfg.BatchPause = time.Millisecond
	cfg.MetadataTextChars = 20
	return cfg
}

func makeChunks(n int) []models.TextChunk {
	out := make([]models.TextChunk, n)
	for i := range out {
		out[i] = models.TextChunk{Index: i, Text: fmt.Sprintf("chunk number %d with some body text", i)}
	}
	return out
}
