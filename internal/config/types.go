package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for corpusd.
type Config struct {
	Corpus      CorpusConfig      `koanf:"corpus"`
	Chunking    ChunkingConfig    `koanf:"chunking"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Sync        SyncConfig        `koanf:"sync"`
	Search      SearchConfig      `koanf:"search"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// CorpusConfig describes the document tree to index.
type CorpusConfig struct {
	// Root is the corpus root directory.
	Root string `koanf:"root"`

	// Extensions are the file extensions considered documents.
	// Default: .md, .markdown, .txt
	Extensions []string `koanf:"extensions"`

	// MaxFileSize is the largest file (bytes) that will be indexed.
	// Default: 1MB, maximum: 10MB.
	MaxFileSize int64 `koanf:"max_file_size"`

	// WorkItemPattern recognizes work-item style directory names
	// (e.g. PROJ-123). Matching directory names propagate to every
	// descendant file as a filterable attribute.
	WorkItemPattern string `koanf:"work_item_pattern"`
}

// ChunkingConfig controls document segmentation.
type ChunkingConfig struct {
	// MaxChars is the maximum segment size in characters.
	MaxChars int `koanf:"max_chars"`

	// Overlap is the number of trailing characters repeated at the
	// start of the next segment. Must be smaller than MaxChars.
	Overlap int `koanf:"overlap"`
}

// EmbeddingsConfig configures the embedding client adapter.
type EmbeddingsConfig struct {
	// BaseURL is the TEI-compatible embedding endpoint.
	BaseURL string `koanf:"base_url"`

	// Model is the embedding model name (informational, used in metrics).
	Model string `koanf:"model"`

	// VectorSize is the expected embedding dimensionality.
	// A response with a different dimension is a fatal configuration error.
	VectorSize int `koanf:"vector_size"`

	// MaxBatchSize is the maximum number of texts per embed request.
	MaxBatchSize int `koanf:"max_batch_size"`

	// MaxPayloadBytes is the maximum total text bytes per embed request.
	MaxPayloadBytes int `koanf:"max_payload_bytes"`

	// MaxRetries is the retry budget for transient failures per request.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per attempt with jitter.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// RequestsPerSecond throttles embed calls. 0 disables throttling.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// VectorStoreConfig selects and configures the store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string `koanf:"provider"`

	// Collection is the collection documents are written to.
	Collection string `koanf:"collection"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory.
	Path string `koanf:"path"`

	// Compress enables gzip compression of persisted data.
	Compress bool `koanf:"compress"`
}

// QdrantConfig configures the remote Qdrant store.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`

	// MaxRetries bounds retry attempts for transient gRPC failures.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial retry backoff, doubled per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

// SyncConfig controls synchronization runs.
type SyncConfig struct {
	// StatePath is where the change-tracker snapshot lives.
	// Default: ~/.config/corpusd/state.json
	StatePath string `koanf:"state_path"`

	// Workers bounds concurrent per-file processing.
	Workers int `koanf:"workers"`
}

// SearchConfig controls hybrid retrieval.
type SearchConfig struct {
	// TextWeight and VectorWeight weight the keyword and vector
	// contributions during fusion.
	TextWeight   float64 `koanf:"text_weight"`
	VectorWeight float64 `koanf:"vector_weight"`

	// Overfetch multiplies topK for the per-source queries so fusion
	// has enough candidates after merging.
	Overfetch int `koanf:"overfetch"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Validate validates the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Chunking.MaxChars <= 0 {
		return fmt.Errorf("chunking.max_chars must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxChars {
		return fmt.Errorf("chunking.overlap must be in [0, max_chars)")
	}
	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings.base_url is required")
	}
	if c.Embeddings.VectorSize <= 0 {
		return fmt.Errorf("embeddings.vector_size must be positive")
	}
	if c.Corpus.MaxFileSize > 10*1024*1024 {
		return fmt.Errorf("corpus.max_file_size cannot exceed 10MB")
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("vectorstore.provider must be chromem or qdrant, got %q", c.VectorStore.Provider)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Search.Overfetch <= 0 {
		return fmt.Errorf("search.overfetch must be positive")
	}
	return nil
}
