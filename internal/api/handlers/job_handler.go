package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/models"
)

const previewChars = 100

// JobCoordinator is the part of the coordinator the HTTP layer drives.
type JobCoordinator interface {
	Submit(documentID, blobKey string) (models.IngestJob, error)
	Job(id string) (models.IngestJob, error)
	Counts() ingestion_engine.JobCounts
	Outstanding() []ingestion_engine.JobProgress
}

type JobHandler struct {
	jobs    JobCoordinator
	index   core.VectorIndex
	service string
	log     zerolog.Logger
}

func NewJobHandler(jobs JobCoordinator, index core.VectorIndex, service string, log zerolog.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, index: index, service: service, log: log}
}

type submitRequest struct {
	DocumentID string `json:"documentId"`
	BlobKey    string `json:"blobKey"`
	S3Key      string `json:"s3Key"`
}

// SubmitJob queues a document for ingestion.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	key := req.BlobKey
	if key == "" {
		key = req.S3Key
	}

	job, err := h.jobs.Submit(req.DocumentID, key)
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Missing blobKey or documentId")
		return
	case errors.Is(err, core.ErrJobActive):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "jobId": job.ID})
		return
	case err != nil:
		h.log.Error().Err(err).Str("document_id", req.DocumentID).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, "could not queue job")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobId": job.ID})
}

func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Job(chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type healthResponse struct {
	Status      string                         `json:"status"`
	Service     string                         `json:"service"`
	Timestamp   string                         `json:"timestamp"`
	Jobs        ingestion_engine.JobCounts     `json:"jobs"`
	CurrentJobs []ingestion_engine.JobProgress `json:"currentJobs"`
}

func (h *JobHandler) Health(w http.ResponseWriter, r *http.Request) {
	current := h.jobs.Outstanding()
	if current == nil {
		current = []ingestion_engine.JobProgress{}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		Service:     h.service,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Jobs:        h.jobs.Counts(),
		CurrentJobs: current,
	})
}

type chunkPreview struct {
	ID           string `json:"id"`
	ChunkIndex   int    `json:"chunkIndex"`
	PageEstimate int    `json:"pageEstimate"`
	TextPreview  string `json:"textPreview"`
	TextLength   int    `json:"textLength"`
}

type pageRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type indexAnalysis struct {
	TotalChunks    int            `json:"totalChunks"`
	DocumentChunks []chunkPreview `json:"documentChunks"`
	PageRange      pageRange      `json:"pageRange"`
}

// VerifyDocument reports what the vector index holds for one document.
func (h *JobHandler) VerifyDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentId")
	records, err := h.index.Records(r.Context(), documentID)
	if err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("verify failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a := analyze(records)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"documentId": documentID,
		"analysis":   a,
		"message":    fmt.Sprintf("Found %d chunks covering pages %d-%d", a.TotalChunks, a.PageRange.Min, a.PageRange.Max),
	})
}

func analyze(records []models.EmbeddingRecord) indexAnalysis {
	a := indexAnalysis{TotalChunks: len(records), DocumentChunks: make([]chunkPreview, 0, len(records))}
	for i, rec := range records {
		m := rec.Metadata
		preview := models.TruncateText(m.Text, previewChars)
		if preview != m.Text {
			preview += "..."
		}
		a.DocumentChunks = append(a.DocumentChunks, chunkPreview{
			ID:           rec.ID,
			ChunkIndex:   m.ChunkIndex,
			PageEstimate: m.PageEstimate,
			TextPreview:  preview,
			TextLength:   len([]rune(m.Text)),
		})
		if i == 0 || m.PageEstimate < a.PageRange.Min {
			a.PageRange.Min = m.PageEstimate
		}
		if m.PageEstimate > a.PageRange.Max {
			a.PageRange.Max = m.PageEstimate
		}
	}
	sort.Slice(a.DocumentChunks, func(i, j int) bool {
		return a.DocumentChunks[i].ChunkIndex < a.DocumentChunks[j].ChunkIndex
	})
	return a
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
