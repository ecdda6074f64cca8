package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fyrsmithlabs/corpusd/internal/embeddings"

// embeddingMetrics holds the otel instruments for embedding calls.
type embeddingMetrics struct {
	requests  metric.Int64Counter
	failures  metric.Int64Counter
	retries   metric.Int64Counter
	batchSize metric.Int64Histogram
	latency   metric.Float64Histogram
}

func newEmbeddingMetrics() (*embeddingMetrics, error) {
	meter := otel.Meter(meterName)

	requests, err := meter.Int64Counter("embeddings.requests",
		metric.WithDescription("Embedding batch requests"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("embeddings.failures",
		metric.WithDescription("Failed embedding batch requests"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("embeddings.retries",
		metric.WithDescription("Embedding request retries"))
	if err != nil {
		return nil, err
	}
	batchSize, err := meter.Int64Histogram("embeddings.batch_size",
		metric.WithDescription("Texts per embedding batch"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("embeddings.latency",
		metric.WithDescription("Embedding batch latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &embeddingMetrics{
		requests:  requests,
		failures:  failures,
		retries:   retries,
		batchSize: batchSize,
		latency:   latency,
	}, nil
}

func (m *embeddingMetrics) record(ctx context.Context, batchLen int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.failures.Add(ctx, 1)
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.requests.Add(ctx, 1, attrs)
	m.batchSize.Record(ctx, int64(batchLen), attrs)
	m.latency.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *embeddingMetrics) recordRetry(ctx context.Context) {
	m.retries.Add(ctx, 1)
}
