package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/docindex/internal/models"
)

// Ingestor runs one job's pipeline. The coordinator only depends on this.
type Ingestor interface {
	Run(ctx context.Context, job models.IngestJob, progress ProgressFunc) (*Result, error)
}
