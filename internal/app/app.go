package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/core"
	db "github.com/markdave123-py/docindex/internal/core/database"
	"github.com/markdave123-py/docindex/internal/core/ingestion_engine"
	"github.com/markdave123-py/docindex/internal/core/llm"
	objectclient "github.com/markdave123-py/docindex/internal/core/object-client"
	"github.com/markdave123-py/docindex/internal/core/registry"
	"github.com/markdave123-py/docindex/internal/core/vectorindex"
	"github.com/markdave123-py/docindex/internal/queue"
	"github.com/markdave123-py/docindex/internal/telemetry"
)

const serviceName = "docindex-worker"

// Components are the pipeline's collaborators, built from configuration.
type Components struct {
	Objects  objectclient.ObjectClient
	DBClient db.DbClient
	Index    core.VectorIndex
	Embedder core.Embedder
	Pipeline *ingestion_engine.Pipeline
	Metrics  *telemetry.Metrics

	closers []func() error
}

// BuildPipeline wires blob fetcher, extractor, embedding client and vector
// index into a pipeline.
func BuildPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	c.Metrics = metrics

	objects, err := objectclient.NewS3Client(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("object client: %w", err)
	}
	c.Objects = objects
	logger.Info().Str("bucket", cfg.BucketName).Msg("object client initialized and ready")

	if cfg.VectorBackend == config.BackendPgvector || cfg.RegistryBackend == config.RegistryPostgres {
		dbClient, err := db.NewDatabaseClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		c.DBClient = dbClient
		c.closers = append(c.closers, dbClient.Close)
		logger.Info().Int("dim", cfg.EmbedDim).Msg("database initialized and ready")
	}

	switch cfg.VectorBackend {
	case config.BackendChromem:
		idx, err := vectorindex.NewChromemIndex(cfg.ChromemPath, cfg.ChromemCollection, cfg.ChromemCompress, cfg.EmbedDim)
		if err != nil {
			return nil, fmt.Errorf("chromem index: %w", err)
		}
		c.Index = idx
	default:
		c.Index = c.DBClient
	}

	provider, err := newProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}
	if cl, ok := provider.(interface{ Close() error }); ok {
		c.closers = append(c.closers, cl.Close)
	}

	t := cfg.Tuning
	opts := []llm.EmbedderOption{
		llm.WithRetryBackoff(t.Embedding.RetryBackoff),
		llm.WithRequestsPerMinute(t.Embedding.RequestsPerMinute),
		llm.WithMetrics(metrics),
		llm.WithLogger(logger),
	}
	if t.Embedding.Breaker {
		opts = append(opts, llm.WithCircuitBreaker(cfg.EmbedProvider))
	}
	c.Embedder = llm.NewRetryingEmbedder(provider, opts...)

	var extractor core.DocumentExtractor
	switch cfg.Extractor {
	case config.ExtractorDocconv:
		extractor = ingestion_engine.NewDocconvExtractor(false, t.Limits.MaxPages)
	default:
		extractor = ingestion_engine.NewPDFExtractor(t.Limits.MaxPages)
	}

	ingCfg := ingestion_engine.FromTuning(t, cfg.BucketName)
	indexer := ingestion_engine.NewBatchIndexer(c.Embedder, c.Index, ingCfg, metrics, logger)
	c.Pipeline = ingestion_engine.NewPipeline(objects, extractor, indexer, ingCfg, logger)

	ok = true
	return c, nil
}

func newProvider(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel)
	default:
		return llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
	}
}

// Registry returns the document registry selected by REGISTRY_BACKEND.
func (c *Components) Registry(cfg *config.Config, logger zerolog.Logger) core.DocumentRegistry {
	switch cfg.RegistryBackend {
	case config.RegistryHTTP:
		return registry.NewHTTPRegistry(cfg.RegistryURL, cfg.RegistryToken)
	case config.RegistryLog:
		return registry.NewLogRegistry(logger)
	default:
		return c.DBClient
	}
}

func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i]()
	}
	c.closers = nil
}

// taskServer is the queue consumer's lifecycle; *asynq.Server implements it.
type taskServer interface {
	Start(handler asynq.Handler) error
	Shutdown()
}

// App is the long-running worker: HTTP API, optional queue consumer and the
// job coordinator.
type App struct {
	cfg         *config.Config
	log         zerolog.Logger
	components  *Components
	Coordinator *ingestion_engine.Coordinator
	Server      *Server
	queue       taskServer

	shutdownTelemetry func(context.Context) error
}

func NewApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(appCtx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	shutdownMeter, err := telemetry.InitMeterProvider(appCtx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("init meter provider: %w", err)
	}
	shutdownTelemetry := func(ctx context.Context) error {
		return errors.Join(shutdownMeter(ctx), shutdownTracer(ctx))
	}

	comps, err := BuildPipeline(appCtx, cfg, logger)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, err
	}

	coord := ingestion_engine.NewCoordinator(comps.Pipeline, comps.Registry(cfg, logger), ingestion_engine.CoordinatorOptions{
		ScanInterval: cfg.Tuning.Coordinator.ScanInterval,
		JobTimeout:   cfg.Tuning.Coordinator.JobTimeout,
		Metrics:      comps.Metrics,
		Logger:       logger.With().Str("component", "coordinator").Logger(),
	})

	a := &App{
		cfg:               cfg,
		log:               logger,
		components:        comps,
		Coordinator:       coord,
		Server:            NewServer(cfg, coord, comps.Index, logger),
		shutdownTelemetry: shutdownTelemetry,
	}
	if cfg.RedisAddr != "" {
		a.queue = queue.NewServer(cfg.RedisAddr, logger)
	}
	return a, nil
}

// Run starts every service and blocks until ctx is cancelled or a service
// fails, then shuts everything down within ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	if err := a.Coordinator.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Server.Start() }()

	var runErr error
	if err := a.startQueue(); err != nil {
		runErr = err
	} else {
		select {
		case <-ctx.Done():
		case runErr = <-errCh:
		}
	}

	return errors.Join(runErr, a.shutdown())
}

func (a *App) startQueue() error {
	if a.queue == nil {
		return nil
	}
	consumer := queue.NewConsumer(a.Coordinator, a.log.With().Str("component", "queue").Logger())
	if err := a.queue.Start(queue.NewServeMux(consumer)); err != nil {
		a.queue = nil
		return fmt.Errorf("start queue consumer: %w", err)
	}
	a.log.Info().Str("redis", a.cfg.RedisAddr).Msg("queue consumer started")
	return nil
}

// shutdown stops intake first, then lets in-flight jobs finish.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	a.log.Info().Dur("timeout", a.cfg.ShutdownTimeout).Msg("shutting down")

	var err error
	if a.queue != nil {
		a.queue.Shutdown()
	}
	if serr := a.Server.Shutdown(ctx); serr != nil {
		err = errors.Join(err, serr)
	}
	if cerr := a.Coordinator.Stop(ctx); cerr != nil {
		err = errors.Join(err, fmt.Errorf("in-flight jobs: %w", cerr))
	}
	return err
}

func (a *App) Close() {
	a.components.Close()
	if a.shutdownTelemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.shutdownTelemetry(ctx)
	}
}
