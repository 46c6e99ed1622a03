package ingestion_engine

import (
	"time"

	"github.com/markdave123-py/docindex/internal/config"
)

// IngestConfig tunes the pipeline.
//
// Chunking:          chunk size thresholds and overlap.
// BatchTiers:        chunk-count ranges mapped to batch sizes, ascending by Above.
// BatchPause:        pause between batches for rate-limit headroom.
// EmbedWorkers:      cap on concurrent embedding calls in a batch (0 = batch size).
// MaxBytes:          blobs above this are rejected before parsing.
// LargeFileBytes:    blobs above this get memory usage logged.
// MetadataTextChars: chunk text stored with each vector is cut to this many runes.
// JobTimeout:        deadline for one document's whole pipeline run.
// DefaultBucket:     bucket used for bare blob keys.
type IngestConfig struct {
	Chunking          config.ChunkingConfig
	BatchTiers        []config.BatchTier
	BatchPause        time.Duration
	EmbedWorkers      int
	MaxBytes          int64
	MaxPages          int
	LargeFileBytes    int64
	MetadataTextChars int
	JobTimeout        time.Duration
	DefaultBucket     string
}

func FromTuning(t *config.Tuning, defaultBucket string) *IngestConfig {
	return &IngestConfig{
		Chunking:          t.Chunking,
		BatchTiers:        t.Batching.Tiers,
		BatchPause:        t.Batching.Pause,
		EmbedWorkers:      t.Embedding.Workers,
		MaxBytes:          t.Limits.MaxBytes,
		MaxPages:          t.Limits.MaxPages,
		LargeFileBytes:    t.Limits.LargeFileBytes,
		MetadataTextChars: t.Limits.MetadataTextChars,
		JobTimeout:        t.Coordinator.JobTimeout,
		DefaultBucket:     defaultBucket,
	}
}

// BatchSizeFor picks the size of the highest tier whose threshold total exceeds.
func (c *IngestConfig) BatchSizeFor(total int) int {
	if len(c.BatchTiers) == 0 {
		return 1
	}
	size := c.BatchTiers[0].Size
	for _, tier := range c.BatchTiers {
		if total > tier.Above {
			size = tier.Size
		}
	}
	return size
}
