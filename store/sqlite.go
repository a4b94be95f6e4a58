package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"repoindex/types"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps chunks in a local SQLite file and ranks them in process.
// Meant for development and small indexes; there is no ANN index.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases consistent
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS document_chunks (
		namespace TEXT NOT NULL,
		id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB,
		source TEXT NOT NULL DEFAULT '',
		source_id TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (namespace, id)
	);
	CREATE INDEX IF NOT EXISTS idx_document_chunks_document_id ON document_chunks(namespace, document_id);
	`)
	return err
}

func (s *SQLiteStore) UpsertChunks(ctx context.Context, namespace string, chunks map[string][]types.DocumentChunk) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO document_chunks (namespace, id, document_id, text, embedding, source, source_id, url, created_at, author)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (namespace, id) DO UPDATE SET
		document_id = excluded.document_id,
		text = excluded.text,
		embedding = excluded.embedding,
		source = excluded.source,
		source_id = excluded.source_id,
		url = excluded.url,
		created_at = excluded.created_at,
		author = excluded.author
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(chunks))
	for docID, docChunks := range chunks {
		ids = append(ids, docID)
		for _, c := range docChunks {
			m := c.Metadata
			if _, err := stmt.ExecContext(ctx,
				namespace, c.ID, m.DocumentID, c.Text, encodeVector(c.Embedding),
				string(m.Source), m.SourceID, m.URL, m.CreatedAt, m.Author,
			); err != nil {
				return nil, fmt.Errorf("insert chunk %s: %w", c.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLiteStore) QueryChunks(ctx context.Context, namespace string, queries []types.QueryWithEmbedding) ([]types.QueryResult, error) {
	results := make([]types.QueryResult, 0, len(queries))
	for _, q := range queries {
		where, args := whereClause(namespace, nil, q.Filter, questionPlaceholder, 0)
		rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, text, embedding, source, source_id, url, created_at, author
		FROM document_chunks
		WHERE embedding IS NOT NULL AND `+where, args...)
		if err != nil {
			return nil, err
		}

		var scored []types.DocumentChunkWithScore
		for rows.Next() {
			var (
				c      types.DocumentChunkWithScore
				blob   []byte
				source string
			)
			if err := rows.Scan(&c.ID, &c.Metadata.DocumentID, &c.Text, &blob, &source,
				&c.Metadata.SourceID, &c.Metadata.URL, &c.Metadata.CreatedAt, &c.Metadata.Author); err != nil {
				rows.Close()
				return nil, err
			}
			c.Metadata.Source = types.Source(source)
			c.Score = cosine(q.Embedding, decodeVector(blob))
			scored = append(scored, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Score > scored[j].Score
		})
		if len(scored) > q.TopK {
			scored = scored[:q.TopK]
		}
		results = append(results, types.QueryResult{Query: q.Query.Query, Results: scored})
	}
	return results, nil
}

func (s *SQLiteStore) DeleteChunks(ctx context.Context, namespace string, ids []string, filter *types.DocumentMetadataFilter, deleteAll bool) error {
	if !deleteAll && len(ids) == 0 && filter.IsEmpty() {
		return nil
	}
	var (
		where string
		args  []any
	)
	if deleteAll {
		where, args = whereClause(namespace, nil, nil, questionPlaceholder, 0)
	} else {
		where, args = whereClause(namespace, ids, filter, questionPlaceholder, 0)
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM document_chunks WHERE "+where, args...)
	return err
}

func (s *SQLiteStore) CountChunks(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM document_chunks WHERE namespace = ?", namespace).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
