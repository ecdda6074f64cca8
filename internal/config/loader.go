// Package config provides configuration loading for corpusd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration from a YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (CORPUS_ROOT, EMBEDDINGS_BASE_URL, ...)
//  2. YAML config file (~/.config/corpusd/config.yaml by default)
//  3. Defaults
//
// Environment variables map section-first: the part before the first
// underscore is the section, the rest is the field.
//
//	CORPUS_ROOT            -> corpus.root
//	EMBEDDINGS_BASE_URL    -> embeddings.base_url
//	VECTORSTORE_PROVIDER   -> vectorstore.provider
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "corpusd", "config.yaml")
	}

	if info, err := os.Stat(configPath); err == nil {
		if info.Size() > maxConfigFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
		}
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		lower := strings.ToLower(s)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if len(cfg.Corpus.Extensions) == 0 {
		cfg.Corpus.Extensions = []string{".md", ".markdown", ".txt"}
	}
	if cfg.Corpus.MaxFileSize == 0 {
		cfg.Corpus.MaxFileSize = 1024 * 1024
	}
	if cfg.Corpus.WorkItemPattern == "" {
		cfg.Corpus.WorkItemPattern = `^[A-Za-z][A-Za-z0-9]*-\d+$`
	}

	if cfg.Chunking.MaxChars == 0 {
		cfg.Chunking.MaxChars = 1000
	}
	if cfg.Chunking.Overlap == 0 {
		cfg.Chunking.Overlap = 100
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.VectorSize == 0 {
		cfg.Embeddings.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.Embeddings.MaxBatchSize == 0 {
		cfg.Embeddings.MaxBatchSize = 32
	}
	if cfg.Embeddings.MaxPayloadBytes == 0 {
		cfg.Embeddings.MaxPayloadBytes = 512 * 1024
	}
	if cfg.Embeddings.MaxRetries == 0 {
		cfg.Embeddings.MaxRetries = 3
	}
	if cfg.Embeddings.RetryBackoff == 0 {
		cfg.Embeddings.RetryBackoff = time.Second
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "corpusd_default"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/corpusd/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.MaxRetries == 0 {
		cfg.VectorStore.Qdrant.MaxRetries = 3
	}
	if cfg.VectorStore.Qdrant.RetryBackoff == 0 {
		cfg.VectorStore.Qdrant.RetryBackoff = time.Second
	}

	if cfg.Sync.StatePath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.Sync.StatePath = filepath.Join(home, ".config", "corpusd", "state.json")
		}
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 4
	}

	if cfg.Search.TextWeight == 0 && cfg.Search.VectorWeight == 0 {
		cfg.Search.TextWeight = 0.4
		cfg.Search.VectorWeight = 0.6
	}
	if cfg.Search.Overfetch == 0 {
		cfg.Search.Overfetch = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
