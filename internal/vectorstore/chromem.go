package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded vector
// database.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/corpusd/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection name.
	// Default: "corpusd_default"
	Collection string

	// VectorSize is the expected embedding dimension. Must match the
	// embedder's output dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/corpusd/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "corpusd_default"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements the Store interface using chromem-go, an
// embeddable pure-Go vector database with gob file persistence. It
// needs no external service, which makes it the default backend.
//
// Entries arrive with precomputed embeddings, so the chromem embedding
// function is never invoked; queries use QueryEmbedding directly.
type ChromemStore struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if err := ValidateCollectionName(config.Collection); err != nil {
		return nil, fmt.Errorf("validating collection name: %w", err)
	}

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:     db,
		config: config,
		logger: logger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection", config.Collection),
	)

	return store, nil
}

// expandChromemPath expands ~ to the home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// stubEmbeddingFunc is passed to chromem so it never falls back to its
// default OpenAI embedder. All embeddings are precomputed upstream.
func stubEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store only accepts precomputed embeddings")
}

// collection returns the configured collection, creating it if needed.
func (s *ChromemStore) collection() (*chromem.Collection, error) {
	c, err := s.db.GetOrCreateCollection(s.config.Collection, nil, stubEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", s.config.Collection, err)
	}
	return c, nil
}

// EnsureCollection creates the collection if it does not exist.
func (s *ChromemStore) EnsureCollection(ctx context.Context) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureCollection")
	defer span.End()

	if _, err := s.collection(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert inserts or overwrites entries by ID.
func (s *ChromemStore) Upsert(ctx context.Context, entries []Entry) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()

	span.SetAttributes(
		attribute.Int("entry_count", len(entries)),
		attribute.String("collection", s.config.Collection),
	)

	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		if len(e.Vector) != s.config.VectorSize {
			return fmt.Errorf("%w: entry %s has %d dimensions, expected %d",
				ErrInvalidConfig, e.ID, len(e.Vector), s.config.VectorSize)
		}
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Text,
			Embedding: e.Vector,
			Metadata:  entryMetadata(e),
		}
	}

	// Concurrency of 1: embeddings are already attached, nothing to
	// parallelize.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("upserted entries to chromem",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(entries)),
	)

	return nil
}

// DeleteByPath removes every entry whose source file is path.
func (s *ChromemStore) DeleteByPath(ctx context.Context, path string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteByPath")
	defer span.End()

	span.SetAttributes(
		attribute.String("path", path),
		attribute.String("collection", s.config.Collection),
	)

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return err
	}

	if collection.Count() == 0 {
		span.SetStatus(codes.Ok, "empty collection")
		return nil
	}

	if err := collection.Delete(ctx, map[string]string{metaPath: path}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting entries for %s: %w", path, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// QueryVector performs similarity search restricted by filter.
func (s *ChromemStore) QueryVector(ctx context.Context, vector []float32, filter Filter, limit int) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.QueryVector")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("limit", limit),
	)

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	candidates, err := s.queryEmbedding(ctx, vector, filter, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	span.SetAttributes(attribute.Int("results_count", len(candidates)))
	span.SetStatus(codes.Ok, "success")
	return candidates, nil
}

// QueryText ranks stored chunks by lexical relevance to the query.
//
// chromem has no keyword search, so this pulls the filtered entries via
// a probe vector and scores them client side.
func (s *ChromemStore) QueryText(ctx context.Context, query string, filter Filter, limit int) ([]Result, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.QueryText")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.Collection),
		attribute.Int("limit", limit),
	)

	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	probe := make([]float32, s.config.VectorSize)
	probe[0] = 1

	// Fetch everything matching the filter; similarity to the probe is
	// irrelevant, only membership matters.
	candidates, err := s.queryEmbedding(ctx, probe, filter, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := rankByKeywords(query, candidates, limit)

	span.SetAttributes(attribute.Int("results_count", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// queryEmbedding runs a chromem embedding query with the exact-match
// part of the filter pushed down and the list-valued part applied on
// the results. A limit of 0 means fetch all matching entries; the
// caller truncates. Any list filter also forces a full fetch so
// post-filtering cannot starve the result set.
func (s *ChromemStore) queryEmbedding(ctx context.Context, vector []float32, filter Filter, limit int) ([]Result, error) {
	collection, err := s.collection()
	if err != nil {
		return nil, err
	}

	total := collection.Count()
	if total == 0 {
		return nil, nil
	}

	nResults := total
	if limit > 0 && filter.WorkItem == "" && filter.Keyword == "" && limit < total {
		nResults = limit
	}

	where := make(map[string]string)
	if filter.Path != "" {
		where[metaPath] = filter.Path
	}
	if filter.Context != "" {
		where[metaContext] = filter.Context
	}

	hits, err := collection.QueryEmbedding(ctx, vector, nResults, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		r := resultFromMetadata(h.ID, h.Content, h.Metadata)
		r.Score = h.Similarity
		if !matchesListFilters(filter, r) {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// Count returns the number of stored entries matching filter. A
// filtered count enumerates via a probe vector, the same way QueryText
// does; a zero filter reads the collection size directly.
func (s *ChromemStore) Count(ctx context.Context, filter Filter) (int, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Count")
	defer span.End()

	collection, err := s.collection()
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	if filter.IsZero() {
		count := collection.Count()
		span.SetAttributes(attribute.Int("count", count))
		span.SetStatus(codes.Ok, "success")
		return count, nil
	}

	probe := make([]float32, s.config.VectorSize)
	probe[0] = 1

	matches, err := s.queryEmbedding(ctx, probe, filter, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	span.SetAttributes(attribute.Int("count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return len(matches), nil
}

// Reset drops and recreates the collection.
func (s *ChromemStore) Reset(ctx context.Context) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Reset")
	defer span.End()

	span.SetAttributes(attribute.String("collection", s.config.Collection))

	if err := s.db.DeleteCollection(s.config.Collection); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", s.config.Collection, err)
	}

	if err := s.EnsureCollection(ctx); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Info("chromem collection reset",
		zap.String("collection", s.config.Collection),
	)

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Close closes the ChromemStore. chromem-go persists on every write, so
// there is nothing to flush.
func (s *ChromemStore) Close() error {
	s.logger.Info("chromem store closed")
	return nil
}

// Metadata keys stored with every chromem document. List-valued fields
// are comma-joined because chromem metadata is map[string]string.
const (
	metaPath      = "path"
	metaContext   = "context"
	metaTitle     = "title"
	metaOrdinal   = "ordinal"
	metaKeywords  = "keywords"
	metaWorkItems = "work_items"
)

func entryMetadata(e Entry) map[string]string {
	return map[string]string{
		metaPath:      e.Path,
		metaContext:   e.Context,
		metaTitle:     e.Title,
		metaOrdinal:   strconv.Itoa(e.Ordinal),
		metaKeywords:  strings.Join(e.Keywords, ","),
		metaWorkItems: strings.Join(e.WorkItems, ","),
	}
}

func resultFromMetadata(id, content string, metadata map[string]string) Result {
	r := Result{
		ID:      id,
		Text:    content,
		Path:    metadata[metaPath],
		Context: metadata[metaContext],
		Title:   metadata[metaTitle],
	}
	r.Ordinal, _ = strconv.Atoi(metadata[metaOrdinal])
	if v := metadata[metaKeywords]; v != "" {
		r.Keywords = strings.Split(v, ",")
	}
	if v := metadata[metaWorkItems]; v != "" {
		r.WorkItems = strings.Split(v, ",")
	}
	return r
}

// Ensure ChromemStore implements Store interface.
var _ Store = (*ChromemStore)(nil)
