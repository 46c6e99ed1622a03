package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/docindex/internal/core/object-client"
	"github.com/markdave123-py/docindex/internal/models"
)

// IngestLocal uploads data to the client's default bucket, runs it through
// coord and waits for the outcome. An upload whose run did not complete is
// deleted again so no orphaned object is left behind.
func IngestLocal(ctx context.Context, objects objectclient.ObjectClient, coord *ingestion_engine.Coordinator, documentID, key string, data []byte, logger zerolog.Logger) (models.IngestJob, error) {
	bucket := objects.Bucket()
	url, err := objects.UploadFile(ctx, bucket, key, data, "application/pdf")
	if err != nil {
		return models.IngestJob{}, err
	}
	logger.Info().Str("url", url).Int("bytes", len(data)).Msg("uploaded")

	job, err := coord.Submit(documentID, key)
	if err != nil {
		removeUpload(ctx, objects, bucket, key, logger)
		return job, err
	}

	coord.Scan(ctx)
	stopErr := coord.Stop(ctx)

	job, err = coord.Job(job.ID)
	if err != nil {
		return job, err
	}
	if job.State != models.JobCompleted {
		removeUpload(ctx, objects, bucket, key, logger)
	}
	return job, stopErr
}

func removeUpload(ctx context.Context, objects objectclient.ObjectClient, bucket, key string, logger zerolog.Logger) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := objects.DeleteFile(dctx, bucket, key); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("could not remove upload")
		return
	}
	logger.Info().Str("key", key).Msg("removed upload")
}
