package store

import (
	"context"
	"fmt"
	"log/slog"

	"repoindex/config"
	"repoindex/model"
)

const tokenizerEncoding = "cl100k_base"

// Open connects the configured chunk store, creates its tables and wraps it into a
// Datastore. The caller closes the returned ChunkStore.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Datastore, ChunkStore, error) {
	var chunks ChunkStore
	switch cfg.Datastore {
	case "sqlite":
		s, err := NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		if err := s.Init(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("error to create tables: %w", err)
		}
		chunks = s
	default:
		p, err := NewPostgresStore(ctx, cfg.PostgresDSN, cfg.EmbeddingDim)
		if err != nil {
			return nil, nil, fmt.Errorf("error to connect to Postgres database: %w", err)
		}
		if err := p.Init(ctx); err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("error to create tables: %w", err)
		}
		chunks = p
	}

	tok, err := NewTiktokenTokenizer(tokenizerEncoding)
	if err != nil {
		chunks.Close()
		return nil, nil, err
	}
	embedder := model.NewOllamaEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel)
	ds := NewDatastore(chunks, embedder, tok, cfg.ChunkTokens, cfg.Namespace).WithLogger(logger)
	logger.Info("datastore ready", "backend", cfg.Datastore, "namespace", cfg.Namespace)
	return ds, chunks, nil
}
