package embeddings

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdapterConfig configures batching, retry, and rate limiting.
type AdapterConfig struct {
	// VectorSize is the expected dimensionality of returned vectors.
	VectorSize int

	// MaxBatchSize caps the number of texts per request.
	MaxBatchSize int

	// MaxPayloadBytes caps the total text bytes per request. A single
	// text larger than the cap still goes out alone.
	MaxPayloadBytes int

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// RetryBackoff is the base delay, doubled per attempt with jitter.
	RetryBackoff time.Duration

	// RequestsPerSecond throttles outbound requests. Zero disables
	// throttling.
	RequestsPerSecond float64
}

// Validate validates the configuration.
func (c AdapterConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("%w: max batch size must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Adapter wraps a BatchClient with batching, retry with exponential
// backoff and jitter, rate limiting, and dimension validation.
type Adapter struct {
	client  BatchClient
	config  AdapterConfig
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *embeddingMetrics
}

// NewAdapter creates an embedding adapter around client.
func NewAdapter(client BatchClient, config AdapterConfig, logger *zap.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: client cannot be nil", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = time.Second
	}

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}

	metrics, err := newEmbeddingMetrics()
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	return &Adapter{
		client:  client,
		config:  config,
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// VectorSize returns the expected vector dimensionality.
func (a *Adapter) VectorSize() int {
	return a.config.VectorSize
}

// EmbedDocuments embeds texts, preserving order. The result is aligned
// with the input: result[i] embeds texts[i].
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range a.splitBatches(texts) {
		got, err := a.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, got...)
	}

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrCountMismatch, len(texts), len(vectors))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// splitBatches partitions texts by count and payload size limits.
func (a *Adapter) splitBatches(texts []string) [][]string {
	var batches [][]string
	var cur []string
	curBytes := 0

	for _, t := range texts {
		overCount := len(cur) >= a.config.MaxBatchSize
		overBytes := a.config.MaxPayloadBytes > 0 && len(cur) > 0 && curBytes+len(t) > a.config.MaxPayloadBytes
		if overCount || overBytes {
			batches = append(batches, cur)
			cur = nil
			curBytes = 0
		}
		cur = append(cur, t)
		curBytes += len(t)
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

// embedBatch sends one batch with rate limiting and retries, then
// validates the response shape.
func (a *Adapter) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	start := time.Now()

	vectors, err := a.embedWithRetry(ctx, batch)
	a.metrics.record(ctx, len(batch), time.Since(start), err)
	if err != nil {
		return nil, err
	}

	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrCountMismatch, len(batch), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != a.config.VectorSize {
			return nil, fmt.Errorf("%w: expected %d dimensions, got %d (vector %d)",
				ErrDimensionMismatch, a.config.VectorSize, len(v), i)
		}
	}
	return vectors, nil
}

func (a *Adapter) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := a.backoff(attempt)
			a.logger.Warn("retrying embedding request",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			a.metrics.recordRetry(ctx)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		vectors, err := a.client.Embed(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, a.config.MaxRetries+1, lastErr)
}

// backoff returns the delay before the given retry attempt: base doubled
// per attempt, scaled by a jitter factor in [0.75, 1.25).
func (a *Adapter) backoff(attempt int) time.Duration {
	delay := a.config.RetryBackoff << (attempt - 1)
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(delay) * jitter)
}
