package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const exportInterval = 15 * time.Second

// InitMeterProvider installs a global meter provider that pushes to the OTLP
// collector at endpoint. With an empty endpoint the no-op provider stays in
// place and the returned shutdown does nothing.
func InitMeterProvider(ctx context.Context, serviceName, endpoint string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := newResource(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	log.Info().Str("endpoint", endpoint).Msg("metrics enabled")

	return mp.Shutdown, nil
}

// Metrics holds the ingestion instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsTotal        metric.Int64Counter
	ChunksIndexed    metric.Int64Counter
	EmbeddingRetries metric.Int64Counter
	PipelineDuration metric.Float64Histogram
}

// InitMetrics registers instruments on the global meter provider.
func InitMetrics() (*Metrics, error) {
	return NewMetrics(otel.GetMeterProvider())
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)

	jobsTotal, err := meter.Int64Counter(
		"ingest.jobs.total",
		metric.WithDescription("Ingestion jobs finished, by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	chunksIndexed, err := meter.Int64Counter(
		"ingest.chunks.indexed",
		metric.WithDescription("Chunks embedded and written to the vector index"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter(
		"ingest.embedding.retries",
		metric.WithDescription("Embedding calls retried after a failure"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ingest.pipeline.duration",
		metric.WithDescription("End-to-end pipeline duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		JobsTotal:        jobsTotal,
		ChunksIndexed:    chunksIndexed,
		EmbeddingRetries: retries,
		PipelineDuration: duration,
	}, nil
}

// RecordJob records a job reaching a terminal status.
func (m *Metrics) RecordJob(ctx context.Context, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.PipelineDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) RecordChunksIndexed(ctx context.Context, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ChunksIndexed.Add(ctx, int64(n))
}

func (m *Metrics) RecordEmbeddingRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.EmbeddingRetries.Add(ctx, 1)
}
