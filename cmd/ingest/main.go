// Command ingest uploads a local PDF and indexes it, either in-process or by
// handing it to a running worker through the queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/docindex/internal/app"
	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/docindex/internal/core/object-client"
	"github.com/markdave123-py/docindex/internal/core/registry"
	"github.com/markdave123-py/docindex/internal/models"
	"github.com/markdave123-py/docindex/internal/queue"
)

func main() {
	var (
		file       = flag.String("file", "", "path to the PDF to ingest")
		documentID = flag.String("document", "", "document id (default: random uuid)")
		key        = flag.String("key", "", "object key (default: uploads/<document>/<file name>)")
		enqueue    = flag.Bool("enqueue", false, "push a document:ingest task to REDIS_ADDR instead of running in-process")
	)
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	// The CLI prints outcomes itself; no web app registry is needed.
	if _, set := os.LookupEnv("REGISTRY_BACKEND"); !set {
		os.Setenv("REGISTRY_BACKEND", config.RegistryLog)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadConfig()
	logger := app.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	if *documentID == "" {
		*documentID = uuid.NewString()
	}
	if *key == "" {
		*key = fmt.Sprintf("uploads/%s/%s", *documentID, filepath.Base(*file))
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Msg("read file")
	}

	if *enqueue && cfg.RedisAddr == "" {
		log.Fatal().Msg("REDIS_ADDR not set (required by -enqueue)")
	}

	objects, err := objectclient.NewS3Client(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("object client")
	}

	if *enqueue {
		url, err := objects.UploadFile(ctx, objects.Bucket(), *key, data, "application/pdf")
		if err != nil {
			log.Fatal().Err(err).Msg("upload failed")
		}
		logger.Info().Str("url", url).Int("bytes", len(data)).Msg("uploaded")

		info, err := queue.Enqueue(ctx, cfg.RedisAddr, *documentID, *key)
		if err != nil {
			log.Fatal().Err(err).Msg("enqueue failed")
		}
		logger.Info().Str("task_id", info.ID).Str("queue", info.Queue).Str("document_id", *documentID).Msg("enqueued")
		return
	}

	comps, err := app.BuildPipeline(ctx, cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("build pipeline")
	}
	defer comps.Close()

	coord := ingestion_engine.NewCoordinator(comps.Pipeline, registry.NewLogRegistry(logger), ingestion_engine.CoordinatorOptions{
		JobTimeout: cfg.Tuning.Coordinator.JobTimeout,
		Metrics:    comps.Metrics,
		Logger:     logger,
	})
	job, err := app.IngestLocal(ctx, objects, coord, *documentID, *key, data, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("ingest did not finish cleanly")
	}

	out, _ := json.MarshalIndent(job, "", "  ")
	fmt.Println(string(out))
	if job.State != models.JobCompleted {
		comps.Close()
		os.Exit(1)
	}
}
