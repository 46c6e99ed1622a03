package models

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// JobState is the lifecycle state of an ingestion job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether moving from s to next keeps the lifecycle monotonic.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobProcessing
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// DocumentStatus is the terminal status pushed to the document registry.
type DocumentStatus string

const (
	DocumentReady  DocumentStatus = "ready"
	DocumentFailed DocumentStatus = "failed"
)

// IngestJob represents one document's pipeline run.
type IngestJob struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"documentId"`
	BlobKey     string     `json:"blobKey"`
	State       JobState   `json:"status"`
	Progress    string     `json:"progress"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	PageCount   int        `json:"pageCount,omitempty"`
	ChunkCount  int        `json:"chunkCount,omitempty"`
	Error       string     `json:"error,omitempty"`
	FailureKind string     `json:"failureKind,omitempty"`
}

// TextChunk is an ordered unit of extracted text.
//
// Index: 0-based, defines retrieval and citation order.
// Text:  raw chunk content.
type TextChunk struct {
	Index int
	Text  string
}

// RecordMetadata is stored next to each vector. The json keys are the ones the
// retrieval path filters and cites on.
type RecordMetadata struct {
	DocumentID   string `json:"documentId"`
	ChunkIndex   int    `json:"chunkIndex"`
	Text         string `json:"text"`
	PageEstimate int    `json:"pageEstimate"`
}

// EmbeddingRecord is the unit persisted to the vector index.
type EmbeddingRecord struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"values,omitempty"`
	Metadata RecordMetadata `json:"metadata"`
}

// Match is one similarity hit returned by a vector index query.
type Match struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata RecordMetadata `json:"metadata"`
}

// QueryFilter narrows a vector query. An empty DocumentID searches the whole index.
type QueryFilter struct {
	DocumentID string
}

// RecordID derives the deterministic vector id for a chunk, so re-ingesting a
// document overwrites its records instead of duplicating them.
func RecordID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, chunkIndex)
}

// PageEstimate projects a chunk index onto a 1-based page number.
func PageEstimate(chunkIndex, totalChunks, pageCount int) int {
	if totalChunks <= 0 || pageCount <= 0 {
		return 1
	}
	page := chunkIndex*pageCount/totalChunks + 1
	if page < 1 {
		return 1
	}
	if page > pageCount {
		return pageCount
	}
	return page
}

// TruncateText cuts s to at most n runes.
func TruncateText(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
