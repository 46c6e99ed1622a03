package registry

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

// LogRegistry only logs the status. Used when no web app is attached.
type LogRegistry struct {
	log zerolog.Logger
}

func NewLogRegistry(l zerolog.Logger) *LogRegistry {
	return &LogRegistry{log: l}
}

func (r *LogRegistry) ReportStatus(_ context.Context, documentID string, status models.DocumentStatus, pageCount int, errMsg string) error {
	ev := r.log.Info()
	if status == models.DocumentFailed {
		ev = r.log.Error()
	}
	ev.Str("document_id", documentID).
		Str("status", string(status)).
		Int("page_count", pageCount).
		Str("message", errMsg).
		Msg("document status")
	return nil
}

var _ core.DocumentRegistry = (*LogRegistry)(nil)
