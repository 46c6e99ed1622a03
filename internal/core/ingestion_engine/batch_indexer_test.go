package ingestion_engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

func newIndexer(emb core.Embedder, idx core.VectorIndex) *BatchIndexer {
	return NewBatchIndexer(emb, idx, testConfig(), nil, zerolog.Nop())
}

func TestIndex_WritesEveryChunkInBatches(t *testing.T) {
	idx := newMemIndex(4)
	emb := &fakeEmbedder{dim: 4}
	var (
		mu     sync.Mutex
		phases []string
	)
	progress := func(p string) {
		mu.Lock()
		phases = append(phases, p)
		mu.Unlock()
	}

	n, err := newIndexer(emb, idx).Index(context.Background(), "doc1", makeChunks(7), 3, progress)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if n != 7 {
		t.Fatalf("indexed %d, want 7", n)
	}
	if !reflect.DeepEqual(idx.upsertSizes, []int{3, 3, 1}) {
		t.Fatalf("upsert sizes = %v", idx.upsertSizes)
	}
	want := []string{
		"Generating embeddings: batch 1/3",
		"Generating embeddings: batch 2/3",
		"Generating embeddings: batch 3/3",
	}
	if !reflect.DeepEqual(phases, want) {
		t.Fatalf("phases = %v", phases)
	}

	recs, _ := idx.Records(context.Background(), "doc1")
	for i, r := range recs {
		if r.ID != models.RecordID("doc1", i) || r.Metadata.ChunkIndex != i {
			t.Fatalf("record %d = %+v", i, r)
		}
		if r.Metadata.DocumentID != "doc1" {
			t.Fatalf("record %d document = %q", i, r.Metadata.DocumentID)
		}
		if len([]rune(r.Metadata.Text)) > 20 {
			t.Fatalf("metadata text not truncated: %q", r.Metadata.Text)
		}
		if want := models.PageEstimate(i, 7, 3); r.Metadata.PageEstimate != want {
			t.Fatalf("record %d page = %d, want %d", i, r.Metadata.PageEstimate, want)
		}
	}
	if recs[0].Metadata.PageEstimate != 1 || recs[6].Metadata.PageEstimate != 3 {
		t.Fatalf("page range %d..%d", recs[0].Metadata.PageEstimate, recs[6].Metadata.PageEstimate)
	}
}

func TestIndex_UsesSmallerBatchesForLargerDocuments(t *testing.T) {
	idx := newMemIndex(4)
	_, err := newIndexer(&fakeEmbedder{dim: 4}, idx).Index(context.Background(), "big", makeChunks(11), 1, nil)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	for _, s := range idx.upsertSizes {
		if s > 2 {
			t.Fatalf("batch of %d for an 11-chunk document, want <= 2", s)
		}
	}
}

func TestIndex_ConcurrencyBoundedByBatchSize(t *testing.T) {
	idx := newMemIndex(4)
	emb := &fakeEmbedder{dim: 4, delay: 5 * time.Millisecond}
	if _, err := newIndexer(emb, idx).Index(context.Background(), "doc1", makeChunks(9), 1, nil); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if p := emb.peak.Load(); p > 3 {
		t.Fatalf("peak concurrency %d exceeds batch size 3", p)
	}
}

func TestIndex_IsIdempotent(t *testing.T) {
	idx := newMemIndex(4)
	ix := newIndexer(&fakeEmbedder{dim: 4}, idx)
	chunks := makeChunks(5)
	for i := 0; i < 2; i++ {
		if _, err := ix.Index(context.Background(), "doc1", chunks, 2, nil); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if idx.count() != 5 {
		t.Fatalf("index holds %d records after two runs, want 5", idx.count())
	}
}

func TestIndex_PrunesStaleTail(t *testing.T) {
	idx := newMemIndex(4)
	ix := newIndexer(&fakeEmbedder{dim: 4}, idx)
	if _, err := ix.Index(context.Background(), "doc1", makeChunks(8), 2, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(context.Background(), "doc1", makeChunks(3), 2, nil); err != nil {
		t.Fatal(err)
	}
	recs, _ := idx.Records(context.Background(), "doc1")
	if len(recs) != 3 {
		t.Fatalf("got %d records after shorter re-ingest, want 3", len(recs))
	}
}

func TestIndex_EmbeddingFailureRollsBack(t *testing.T) {
	idx := newMemIndex(4)
	// leave another document in place to check the rollback is scoped
	other := newIndexer(&fakeEmbedder{dim: 4}, idx)
	if _, err := other.Index(context.Background(), "other", makeChunks(2), 1, nil); err != nil {
		t.Fatal(err)
	}

	emb := &fakeEmbedder{dim: 4, failOn: "chunk number 5 "}
	_, err := newIndexer(emb, idx).Index(context.Background(), "doc1", makeChunks(7), 1, nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if core.KindOf(err) != core.KindIndexing {
		t.Fatalf("outer kind = %v, want indexing", core.KindOf(err))
	}
	if !core.IsKind(err, core.KindEmbedding) {
		t.Fatalf("embedding cause lost: %v", err)
	}
	if recs, _ := idx.Records(context.Background(), "doc1"); len(recs) != 0 {
		t.Fatalf("%d partial records left behind", len(recs))
	}
	if recs, _ := idx.Records(context.Background(), "other"); len(recs) != 2 {
		t.Fatalf("rollback touched another document: %d records", len(recs))
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	idx := newMemIndex(8)
	_, err := newIndexer(&fakeEmbedder{dim: 4}, idx).Index(context.Background(), "doc1", makeChunks(2), 1, nil)
	if !errors.Is(err, core.ErrDimensionMismatch) {
		t.Fatalf("want ErrDimensionMismatch, got %v", err)
	}
	if idx.count() != 0 {
		t.Fatal("mismatched vectors were written")
	}
}

func TestIndex_UpsertFailureRollsBack(t *testing.T) {
	idx := newMemIndex(4)
	idx.failUpsert = 2
	_, err := newIndexer(&fakeEmbedder{dim: 4}, idx).Index(context.Background(), "doc1", makeChunks(7), 1, nil)
	if err == nil || !strings.Contains(err.Error(), "upsert batch 2") {
		t.Fatalf("err = %v", err)
	}
	if idx.count() != 0 {
		t.Fatalf("%d records survived a failed ingest", idx.count())
	}
}

func TestIndex_NoChunks(t *testing.T) {
	idx := newMemIndex(4)
	n, err := newIndexer(&fakeEmbedder{dim: 4}, idx).Index(context.Background(), "doc1", nil, 1, nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}
