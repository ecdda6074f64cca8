// Package vectorstore provides chunk storage implementations over
// embedded chromem-go and external Qdrant.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyEntries indicates empty or nil entries.
	ErrEmptyEntries = errors.New("empty or nil entries")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against naming rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Entry is one indexed chunk with its precomputed embedding.
//
// The ID must be a UUID string: Qdrant only accepts UUIDs (or unsigned
// integers) as point IDs. Callers derive deterministic UUIDs from the
// chunk identity so re-upserts overwrite in place.
type Entry struct {
	ID        string
	Vector    []float32
	Text      string
	Path      string
	Context   string
	Title     string
	Keywords  []string
	WorkItems []string
	Ordinal   int
}

// Result is one search hit.
type Result struct {
	ID        string
	Text      string
	Path      string
	Context   string
	Title     string
	Keywords  []string
	WorkItems []string
	Ordinal   int
	Score     float32
}

// Filter restricts a query to entries matching every set field. Zero
// values mean no restriction.
type Filter struct {
	// Path matches the exact source file path.
	Path string

	// Context matches the context label.
	Context string

	// WorkItem matches entries whose work item list contains the value.
	WorkItem string

	// Keyword matches entries whose keyword list contains the value.
	Keyword string
}

// IsZero reports whether no filter field is set.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Store is the interface for chunk storage operations.
//
// Implementations receive precomputed embeddings; they never call an
// embedding service themselves. This keeps batching and retry policy in
// one place upstream.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant gRPC client
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context) error

	// Upsert inserts or overwrites entries by ID.
	Upsert(ctx context.Context, entries []Entry) error

	// DeleteByPath removes every entry whose source file is path.
	// Deleting a path with no entries is not an error.
	DeleteByPath(ctx context.Context, path string) error

	// QueryVector returns up to limit entries most similar to vector,
	// restricted by filter, ordered by similarity (highest first).
	QueryVector(ctx context.Context, vector []float32, filter Filter, limit int) ([]Result, error)

	// QueryText returns up to limit entries ranked by lexical relevance
	// to the query terms, restricted by filter.
	QueryText(ctx context.Context, query string, filter Filter, limit int) ([]Result, error)

	// Count returns the number of stored entries matching filter. A zero
	// filter counts everything.
	Count(ctx context.Context, filter Filter) (int, error)

	// Reset drops and recreates the collection.
	Reset(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
