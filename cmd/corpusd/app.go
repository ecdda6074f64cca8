package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/chunker"
	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/discover"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/metadata"
	"github.com/fyrsmithlabs/corpusd/internal/search"
	"github.com/fyrsmithlabs/corpusd/internal/syncer"
	"github.com/fyrsmithlabs/corpusd/internal/tracker"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// app holds the fully wired pipeline shared by the subcommands.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     vectorstore.Store
	syncer    *syncer.Syncer
	retriever *search.Retriever
}

// buildApp loads configuration and wires the indexing pipeline:
// discoverer, change tracker, metadata extractor, chunker, embedding
// adapter, vector store, syncer, and retriever.
func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if cfg.Corpus.Root == "" {
		return nil, fmt.Errorf("corpus.root is required (set CORPUS_ROOT or corpus.root in the config file)")
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	discoverer, err := discover.New(discover.Config{
		Extensions:  cfg.Corpus.Extensions,
		MaxFileSize: cfg.Corpus.MaxFileSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing discoverer: %w", err)
	}

	trk, err := tracker.New(cfg.Sync.StatePath, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing change tracker: %w", err)
	}

	extractor, err := metadata.NewExtractor(cfg.Corpus.WorkItemPattern)
	if err != nil {
		return nil, fmt.Errorf("initializing metadata extractor: %w", err)
	}

	chk, err := chunker.New(cfg.Chunking.MaxChars, cfg.Chunking.Overlap)
	if err != nil {
		return nil, fmt.Errorf("initializing chunker: %w", err)
	}

	client, err := embeddings.NewClient(embeddings.ClientConfig{
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing embedding client: %w", err)
	}

	adapter, err := embeddings.NewAdapter(client, embeddings.AdapterConfig{
		VectorSize:        cfg.Embeddings.VectorSize,
		MaxBatchSize:      cfg.Embeddings.MaxBatchSize,
		MaxPayloadBytes:   cfg.Embeddings.MaxPayloadBytes,
		MaxRetries:        cfg.Embeddings.MaxRetries,
		RetryBackoff:      cfg.Embeddings.RetryBackoff,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding adapter: %w", err)
	}

	store, err := vectorstore.NewStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	sync, err := syncer.New(syncer.Config{
		Root:    cfg.Corpus.Root,
		Workers: cfg.Sync.Workers,
	}, discoverer, trk, extractor, chk, adapter, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing syncer: %w", err)
	}

	retriever, err := search.New(search.Config{
		TextWeight:   cfg.Search.TextWeight,
		VectorWeight: cfg.Search.VectorWeight,
		Overfetch:    cfg.Search.Overfetch,
	}, adapter, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("initializing retriever: %w", err)
	}

	logger.Debug("pipeline wired",
		zap.String("root", cfg.Corpus.Root),
		zap.String("provider", cfg.VectorStore.Provider),
		zap.String("embeddings_url", cfg.Embeddings.BaseURL),
	)

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		syncer:    sync,
		retriever: retriever,
	}, nil
}

// Close releases the store and flushes the logger.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing vector store", zap.Error(err))
	}
	_ = a.logger.Sync()
}
