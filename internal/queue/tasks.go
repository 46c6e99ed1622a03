package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
)

const TaskIngestDocument = "document:ingest"

type IngestPayload struct {
	DocumentID string `json:"documentId"`
	BlobKey    string `json:"blobKey"`
}

// Submitter accepts ingestion requests. The coordinator implements it.
type Submitter interface {
	Submit(documentID, blobKey string) (models.IngestJob, error)
}

// NewIngestTask builds a document:ingest task.
func NewIngestTask(documentID, blobKey string) (*asynq.Task, error) {
	if documentID == "" || blobKey == "" {
		return nil, fmt.Errorf("%w: documentId and blobKey are required", core.ErrInvalidRequest)
	}
	payload, err := json.Marshal(IngestPayload{DocumentID: documentID, BlobKey: blobKey})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIngestDocument,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(time.Minute),
		asynq.Queue("critical"),
	), nil
}

// Consumer hands queued ingestion requests to the coordinator. The task only
// covers the hand-off; the job itself runs on the coordinator's schedule.
type Consumer struct {
	submitter Submitter
	log       zerolog.Logger
}

func NewConsumer(submitter Submitter, log zerolog.Logger) *Consumer {
	return &Consumer{submitter: submitter, log: log}
}

func (c *Consumer) HandleIngest(_ context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	job, err := c.submitter.Submit(payload.DocumentID, payload.BlobKey)
	switch {
	case errors.Is(err, core.ErrInvalidRequest):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case errors.Is(err, core.ErrJobActive):
		c.log.Warn().Str("document_id", payload.DocumentID).Msg("duplicate ingest task dropped")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		return err
	}

	c.log.Info().Str("job_id", job.ID).Str("document_id", job.DocumentID).Msg("ingest task accepted")
	return nil
}

// NewServeMux registers the consumer's handlers.
func NewServeMux(c *Consumer) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskIngestDocument, c.HandleIngest)
	return mux
}

// NewServer builds the asynq server for the worker.
func NewServer(redisAddr string, log zerolog.Logger) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error().Err(err).Str("task", task.Type()).Msg("task failed")
			}),
		},
	)
}

// Enqueue pushes a document:ingest task to Redis.
func Enqueue(ctx context.Context, redisAddr, documentID, blobKey string) (*asynq.TaskInfo, error) {
	task, err := NewIngestTask(documentID, blobKey)
	if err != nil {
		return nil, err
	}
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer client.Close()
	return client.EnqueueContext(ctx, task)
}
