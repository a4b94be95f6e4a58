package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"repoindex/model"
	"repoindex/types"

	"github.com/google/uuid"
)

var (
	ErrNotIndexed   = errors.New("namespace is not indexed")
	ErrEmptyQueries = errors.New("no queries given")
)

// DataStore is the document-level contract used by the HTTP layer and the ingestion pipeline.
type DataStore interface {
	Upsert(ctx context.Context, docs []types.Document) ([]string, error)
	Query(ctx context.Context, queries []types.Query) ([]types.QueryResult, error)
	Delete(ctx context.Context, ids []string, filter *types.DocumentMetadataFilter, deleteAll bool) (bool, error)
}

// NamespacedStore hands out a DataStore scoped to one index (e.g. one GitHub repository).
type NamespacedStore interface {
	DataStore
	Namespaced(namespace string) DataStore
}

// ChunkStore persists embedded chunks. Implementations: PostgresStore, SQLiteStore.
type ChunkStore interface {
	UpsertChunks(ctx context.Context, namespace string, chunks map[string][]types.DocumentChunk) ([]string, error)
	QueryChunks(ctx context.Context, namespace string, queries []types.QueryWithEmbedding) ([]types.QueryResult, error)
	DeleteChunks(ctx context.Context, namespace string, ids []string, filter *types.DocumentMetadataFilter, deleteAll bool) error
	CountChunks(ctx context.Context, namespace string) (int, error)
	Close() error
}

type Datastore struct {
	chunks    ChunkStore
	embedder  model.EmbedderInterface
	tokenizer Tokenizer
	chunkSize int
	namespace string
	logger    *slog.Logger
}

func NewDatastore(chunks ChunkStore, embedder model.EmbedderInterface, tokenizer Tokenizer, chunkSize int, namespace string) *Datastore {
	return &Datastore{
		chunks:    chunks,
		embedder:  embedder,
		tokenizer: tokenizer,
		chunkSize: chunkSize,
		namespace: namespace,
		logger:    slog.Default(),
	}
}

func (d *Datastore) WithLogger(l *slog.Logger) *Datastore {
	cp := *d
	cp.logger = l
	return &cp
}

func (d *Datastore) Namespace() string {
	return d.namespace
}

func (d *Datastore) Namespaced(namespace string) DataStore {
	cp := *d
	cp.namespace = namespace
	return &cp
}

// Upsert replaces any chunks already stored for the given document ids,
// then chunks, embeds and stores the documents. Documents without an id get a fresh one.
func (d *Datastore) Upsert(ctx context.Context, docs []types.Document) ([]string, error) {
	var ids []string
	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		ids = append(ids, docs[i].ID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if err := d.chunks.DeleteChunks(ctx, d.namespace, ids, nil, false); err != nil {
		return nil, fmt.Errorf("delete existing chunks: %w", err)
	}

	chunks := make(map[string][]types.DocumentChunk, len(docs))
	total := 0
	for _, doc := range docs {
		docChunks := CreateDocumentChunks(d.tokenizer, doc, d.chunkSize)
		for i := range docChunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			emb, err := d.embedder.Embed(ctx, docChunks[i].Text)
			if err != nil {
				return nil, fmt.Errorf("embed chunk %s: %w", docChunks[i].ID, err)
			}
			docChunks[i].Embedding = emb
		}
		chunks[doc.ID] = docChunks
		total += len(docChunks)
	}

	d.logger.Debug("upserting chunks", "namespace", d.namespace, "documents", len(docs), "chunks", total)
	if _, err := d.chunks.UpsertChunks(ctx, d.namespace, chunks); err != nil {
		return nil, err
	}
	return ids, nil
}

func (d *Datastore) Query(ctx context.Context, queries []types.Query) ([]types.QueryResult, error) {
	if len(queries) == 0 {
		return nil, ErrEmptyQueries
	}

	n, err := d.chunks.CountChunks(ctx, d.namespace)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, d.namespace)
	}

	withEmb := make([]types.QueryWithEmbedding, len(queries))
	for i, q := range queries {
		if q.TopK <= 0 {
			q.TopK = types.DefaultTopK
		}
		emb, err := d.embedder.Embed(ctx, q.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		withEmb[i] = types.QueryWithEmbedding{Query: q, Embedding: emb}
	}
	return d.chunks.QueryChunks(ctx, d.namespace, withEmb)
}

func (d *Datastore) Delete(ctx context.Context, ids []string, filter *types.DocumentMetadataFilter, deleteAll bool) (bool, error) {
	if err := d.chunks.DeleteChunks(ctx, d.namespace, ids, filter, deleteAll); err != nil {
		return false, err
	}
	return true, nil
}
