package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/models"
)

type fakeJobs struct {
	submitted []string
	submitErr error
	jobs      map[string]models.IngestJob
}

func (f *fakeJobs) Submit(documentID, blobKey string) (models.IngestJob, error) {
	f.submitted = append(f.submitted, documentID+"|"+blobKey)
	if documentID == "" || blobKey == "" {
		return models.IngestJob{}, core.ErrInvalidRequest
	}
	if f.submitErr != nil {
		return models.IngestJob{ID: "job_active"}, f.submitErr
	}
	return models.IngestJob{ID: "job_new", DocumentID: documentID, BlobKey: blobKey, State: models.JobPending}, nil
}

func (f *fakeJobs) Job(id string) (models.IngestJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return models.IngestJob{}, core.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeJobs) Counts() ingestion_engine.JobCounts {
	return ingestion_engine.JobCounts{Pending: 1, Processing: 1, Completed: 3}
}

func (f *fakeJobs) Outstanding() []ingestion_engine.JobProgress {
	return []ingestion_engine.JobProgress{{DocumentID: "doc9", Progress: "Generating embeddings: batch 1/2"}}
}

type fakeIndex struct {
	core.VectorIndex
	records []models.EmbeddingRecord
	err     error
}

func (f *fakeIndex) Records(context.Context, string) ([]models.EmbeddingRecord, error) {
	return f.records, f.err
}

func newRouter(h *JobHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/jobs", h.SubmitJob)
	r.Get("/jobs/{jobId}", h.GetJob)
	r.Get("/health", h.Health)
	r.Get("/verify/{documentId}", h.VerifyDocument)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec, out
}

func TestSubmitJob(t *testing.T) {
	cases := []struct {
		name      string
		body      string
		submitErr error
		want      int
		submitted string
	}{
		{"blobKey", `{"documentId":"doc1","blobKey":"u/a.pdf"}`, nil, http.StatusOK, "doc1|u/a.pdf"},
		{"legacy s3Key", `{"documentId":"doc1","s3Key":"u/b.pdf"}`, nil, http.StatusOK, "doc1|u/b.pdf"},
		{"missing key", `{"documentId":"doc1"}`, nil, http.StatusBadRequest, "doc1|"},
		{"bad json", `{`, nil, http.StatusBadRequest, ""},
		{"duplicate", `{"documentId":"doc1","blobKey":"a"}`, fmt.Errorf("%w: job_active", core.ErrJobActive), http.StatusConflict, "doc1|a"},
		{"internal", `{"documentId":"doc1","blobKey":"a"}`, errors.New("boom"), http.StatusInternalServerError, "doc1|a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			jobs := &fakeJobs{submitErr: tc.submitErr}
			rec, out := do(t, newRouter(NewJobHandler(jobs, &fakeIndex{}, "worker", zerolog.Nop())), http.MethodPost, "/jobs", tc.body)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tc.want, out)
			}
			if tc.submitted != "" && (len(jobs.submitted) != 1 || jobs.submitted[0] != tc.submitted) {
				t.Fatalf("submitted = %v", jobs.submitted)
			}
			if tc.want == http.StatusOK && (out["success"] != true || out["jobId"] != "job_new") {
				t.Fatalf("body = %v", out)
			}
			if tc.want == http.StatusConflict && out["jobId"] != "job_active" {
				t.Fatalf("body = %v", out)
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]models.IngestJob{
		"job_1": {ID: "job_1", DocumentID: "doc1", State: models.JobCompleted, Progress: "Ready! Processed in 1.2s", PageCount: 4},
	}}
	r := newRouter(NewJobHandler(jobs, &fakeIndex{}, "worker", zerolog.Nop()))

	rec, out := do(t, r, http.MethodGet, "/jobs/job_1", "")
	if rec.Code != http.StatusOK || out["status"] != "completed" || out["pageCount"] != float64(4) {
		t.Fatalf("got %d %v", rec.Code, out)
	}

	rec, _ = do(t, r, http.MethodGet, "/jobs/job_2", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(NewJobHandler(&fakeJobs{}, &fakeIndex{}, "pdf-worker", zerolog.Nop()))
	rec, out := do(t, r, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || out["status"] != "healthy" || out["service"] != "pdf-worker" {
		t.Fatalf("got %d %v", rec.Code, out)
	}
	jobs := out["jobs"].(map[string]any)
	if jobs["pending"] != float64(1) || jobs["completed"] != float64(3) || jobs["failed"] != float64(0) {
		t.Fatalf("jobs = %v", jobs)
	}
	current := out["currentJobs"].([]any)
	if len(current) != 1 || current[0].(map[string]any)["documentId"] != "doc9" {
		t.Fatalf("currentJobs = %v", current)
	}
}

func TestVerifyDocument(t *testing.T) {
	long := strings.Repeat("a", 150)
	idx := &fakeIndex{records: []models.EmbeddingRecord{
		{ID: "doc1_chunk_2", Metadata: models.RecordMetadata{DocumentID: "doc1", ChunkIndex: 2, Text: "tail", PageEstimate: 5}},
		{ID: "doc1_chunk_0", Metadata: models.RecordMetadata{DocumentID: "doc1", ChunkIndex: 0, Text: long, PageEstimate: 1}},
		{ID: "doc1_chunk_1", Metadata: models.RecordMetadata{DocumentID: "doc1", ChunkIndex: 1, Text: "mid", PageEstimate: 3}},
	}}
	r := newRouter(NewJobHandler(&fakeJobs{}, idx, "worker", zerolog.Nop()))

	rec, out := do(t, r, http.MethodGet, "/verify/doc1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["message"] != "Found 3 chunks covering pages 1-5" {
		t.Fatalf("message = %v", out["message"])
	}
	chunks := out["analysis"].(map[string]any)["documentChunks"].([]any)
	for i, c := range chunks {
		if c.(map[string]any)["chunkIndex"] != float64(i) {
			t.Fatalf("chunks not sorted: %v", chunks)
		}
	}
	first := chunks[0].(map[string]any)
	if first["textPreview"] != strings.Repeat("a", 100)+"..." || first["textLength"] != float64(150) {
		t.Fatalf("preview = %v", first)
	}

	idx.err = errors.New("index down")
	if rec, _ := do(t, r, http.MethodGet, "/verify/doc1", ""); rec.Code != http.StatusInternalServerError {
		t.Fatalf("error status = %d", rec.Code)
	}
}

func TestVerifyDocument_Empty(t *testing.T) {
	r := newRouter(NewJobHandler(&fakeJobs{}, &fakeIndex{}, "worker", zerolog.Nop()))
	_, out := do(t, r, http.MethodGet, "/verify/none", "")
	if out["message"] != "Found 0 chunks covering pages 0-0" {
		t.Fatalf("message = %v", out["message"])
	}
}
