package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

// NewStore creates a Store based on the configuration.
//
// The VectorStore.Provider field selects the implementation:
//   - "chromem" (default): embedded ChromemStore, no external services
//   - "qdrant": QdrantStore, requires a running Qdrant server
func NewStore(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.VectorStore.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.VectorStore.Chromem.Path,
			Compress:   cfg.VectorStore.Chromem.Compress,
			Collection: cfg.VectorStore.Collection,
			VectorSize: cfg.Embeddings.VectorSize,
		}, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:         cfg.VectorStore.Qdrant.Host,
			Port:         cfg.VectorStore.Qdrant.Port,
			Collection:   cfg.VectorStore.Collection,
			VectorSize:   uint64(cfg.Embeddings.VectorSize),
			UseTLS:       cfg.VectorStore.Qdrant.UseTLS,
			MaxRetries:   cfg.VectorStore.Qdrant.MaxRetries,
			RetryBackoff: cfg.VectorStore.Qdrant.RetryBackoff,
		})

	default:
		return nil, fmt.Errorf("unsupported vectorstore provider: %s (supported: chromem, qdrant)", cfg.VectorStore.Provider)
	}
}
