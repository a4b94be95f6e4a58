package store

import (
	"context"
	"fmt"
	"log"

	"repoindex/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPostgresStore(ctx context.Context, connStr string, dim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
		dim:  dim,
	}, nil
}

func (p *PostgresStore) UpsertChunks(ctx context.Context, namespace string, chunks map[string][]types.DocumentChunk) ([]string, error) {
	query := `
	INSERT INTO document_chunks (namespace, id, document_id, text, embedding, source, source_id, url, created_at, author)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (namespace, id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		text = EXCLUDED.text,
		embedding = EXCLUDED.embedding,
		source = EXCLUDED.source,
		source_id = EXCLUDED.source_id,
		url = EXCLUDED.url,
		created_at = EXCLUDED.created_at,
		author = EXCLUDED.author
	`

	batch := &pgx.Batch{}
	ids := make([]string, 0, len(chunks))
	for docID, docChunks := range chunks {
		ids = append(ids, docID)
		for _, c := range docChunks {
			m := c.Metadata
			batch.Queue(query,
				namespace, c.ID, m.DocumentID, c.Text, pgvector.NewVector(c.Embedding),
				string(m.Source), m.SourceID, m.URL, m.CreatedAt, m.Author,
			)
		}
	}
	if batch.Len() == 0 {
		return ids, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	br := tx.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *PostgresStore) QueryChunks(ctx context.Context, namespace string, queries []types.QueryWithEmbedding) ([]types.QueryResult, error) {
	results := make([]types.QueryResult, 0, len(queries))
	for _, q := range queries {
		where, args := whereClause(namespace, nil, q.Filter, dollarPlaceholder, 1)
		query := fmt.Sprintf(`
		SELECT id, document_id, text, source, source_id, url, created_at, author,
		       1 - (embedding <=> $1) AS score
		FROM document_chunks
		WHERE embedding IS NOT NULL AND %s
		ORDER BY embedding <=> $1
		LIMIT %d
		`, where, q.TopK)

		rows, err := p.pool.Query(ctx, query, append([]any{pgvector.NewVector(q.Embedding)}, args...)...)
		if err != nil {
			return nil, err
		}

		res := types.QueryResult{Query: q.Query.Query}
		for rows.Next() {
			var (
				c      types.DocumentChunkWithScore
				source string
			)
			if err := rows.Scan(
				&c.ID,
				&c.Metadata.DocumentID,
				&c.Text,
				&source,
				&c.Metadata.SourceID,
				&c.Metadata.URL,
				&c.Metadata.CreatedAt,
				&c.Metadata.Author,
				&c.Score); err != nil {
				rows.Close()
				return nil, err
			}
			c.Metadata.Source = types.Source(source)
			res.Results = append(res.Results, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *PostgresStore) DeleteChunks(ctx context.Context, namespace string, ids []string, filter *types.DocumentMetadataFilter, deleteAll bool) error {
	if !deleteAll && len(ids) == 0 && filter.IsEmpty() {
		return nil
	}
	var (
		where string
		args  []any
	)
	if deleteAll {
		where, args = whereClause(namespace, nil, nil, dollarPlaceholder, 0)
	} else {
		where, args = whereClause(namespace, ids, filter, dollarPlaceholder, 0)
	}
	_, err := p.pool.Exec(ctx, "DELETE FROM document_chunks WHERE "+where, args...)
	return err
}

func (p *PostgresStore) CountChunks(ctx context.Context, namespace string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "SELECT count(*) FROM document_chunks WHERE namespace = $1", namespace).Scan(&n)
	return n, err
}

func (p *PostgresStore) createRagTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS document_chunks (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding vector(%d),
		source TEXT,
		source_id TEXT,
		url TEXT,
		created_at TEXT,
		author TEXT,
		PRIMARY KEY (namespace, id)
	);

	-- Индекс для быстрого поиска по вектору
	CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);

	-- Индексы для фильтрации
	CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks(namespace, document_id);
	CREATE INDEX IF NOT EXISTS idx_document_chunks_source ON document_chunks(source, source_id);
	`, p.dim)
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createRagTables(ctx)
}

// Close закрывает пул подключений
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		log.Println("Postgres connection pool is closed")
	}
	return nil
}
