package store

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"

	"repoindex/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runeTokenizer treats every rune as one token.
type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	rs := make([]rune, len(tokens))
	for i, t := range tokens {
		rs[i] = rune(t)
	}
	return string(rs)
}

// hashEmbedder maps every word to one of 16 buckets.
type hashEmbedder struct {
	calls int
	err   error
}

func (e *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vec := make([]float32, 16)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[h.Sum32()%16]++
	}
	return vec, nil
}

func TestChunkText(t *testing.T) {
	t.Run("empty text", func(t *testing.T) {
		assert.Empty(t, ChunkText(runeTokenizer{}, "  \n ", 10))
	})

	t.Run("short text is a single chunk", func(t *testing.T) {
		chunks := ChunkText(runeTokenizer{}, "hello world\nagain", 200)
		assert.Equal(t, []string{"hello world again"}, chunks)
	})

	t.Run("splits by token budget", func(t *testing.T) {
		text := strings.Repeat("abcdefghij", 5)
		chunks := ChunkText(runeTokenizer{}, text, 20)
		require.Len(t, chunks, 3)
		assert.Equal(t, text, strings.Join(chunks, ""))
	})

	t.Run("cuts on punctuation past the minimum size", func(t *testing.T) {
		first := strings.Repeat("a", 400) + "."
		text := first + " " + strings.Repeat("b", 80)
		chunks := ChunkText(runeTokenizer{}, text, 450)
		require.Len(t, chunks, 2)
		assert.Equal(t, first, chunks[0])
		assert.Equal(t, strings.Repeat("b", 80), chunks[1])
	})

	t.Run("drops tiny chunks", func(t *testing.T) {
		assert.Empty(t, ChunkText(runeTokenizer{}, "abc", 200))
	})
}

func TestCreateDocumentChunks(t *testing.T) {
	doc := types.Document{
		ID:       "doc1",
		Text:     strings.Repeat("0123456789", 3),
		Metadata: types.DocumentMetadata{Source: types.SourceFile, SourceID: "a.txt"},
	}
	chunks := CreateDocumentChunks(runeTokenizer{}, doc, 10)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, "doc1_"+string(rune('0'+i)), c.ID)
		assert.Equal(t, "doc1", c.Metadata.DocumentID)
		assert.Equal(t, "a.txt", c.Metadata.SourceID)
	}
}

func TestWhereClause(t *testing.T) {
	filter := &types.DocumentMetadataFilter{Source: types.SourceFile, StartDate: "2024-01-01"}

	where, args := whereClause("ns", []string{"a", "b"}, filter, dollarPlaceholder, 1)
	assert.Equal(t, "namespace = $2 AND document_id IN ($3, $4) AND source = $5 AND created_at >= $6", where)
	assert.Equal(t, []any{"ns", "a", "b", "file", "2024-01-01"}, args)

	where, args = whereClause("ns", nil, nil, questionPlaceholder, 0)
	assert.Equal(t, "namespace = ?", where)
	assert.Equal(t, []any{"ns"}, args)
}

func newSQLiteDatastore(t *testing.T, emb *hashEmbedder) (*Datastore, *SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	s, err := NewSQLiteStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Init(ctx))
	return NewDatastore(s, emb, runeTokenizer{}, 200, "default"), s
}

func TestDatastoreUpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	ds, chunks := newSQLiteDatastore(t, &hashEmbedder{})

	docs := []types.Document{
		{ID: "go", Text: "gophers write concurrent servers", Metadata: types.DocumentMetadata{Source: types.SourceFile, SourceID: "go.md"}},
		{Text: "pandas and notebooks for data science", Metadata: types.DocumentMetadata{Source: types.SourceChat, Author: "ann"}},
	}
	ids, err := ds.Upsert(ctx, docs)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "go", ids[0], "ids follow document order")
	assert.NotEmpty(t, docs[1].ID, "missing ids are generated")

	res, err := ds.Query(ctx, []types.Query{{Query: "gophers write servers", TopK: 1}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Len(t, res[0].Results, 1)
	assert.Equal(t, "go", res[0].Results[0].Metadata.DocumentID)
	assert.Equal(t, "go.md", res[0].Results[0].Metadata.SourceID)

	filtered, err := ds.Query(ctx, []types.Query{{
		Query:  "gophers",
		Filter: &types.DocumentMetadataFilter{Author: "ann"},
	}})
	require.NoError(t, err)
	require.Len(t, filtered[0].Results, 1)
	assert.Equal(t, types.SourceChat, filtered[0].Results[0].Metadata.Source)

	ok, err := ds.Delete(ctx, []string{"go"}, nil, false)
	require.NoError(t, err)
	assert.True(t, ok)
	n, err := chunks.CountChunks(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDatastoreUpsertReplacesExistingChunks(t *testing.T) {
	ctx := context.Background()
	ds, chunks := newSQLiteDatastore(t, &hashEmbedder{})

	long := types.Document{ID: "d", Text: strings.Repeat("word ", 100)}
	_, err := ds.Upsert(ctx, []types.Document{long})
	require.NoError(t, err)
	before, _ := chunks.CountChunks(ctx, "default")
	require.Greater(t, before, 1)

	_, err = ds.Upsert(ctx, []types.Document{{ID: "d", Text: "short replacement"}})
	require.NoError(t, err)
	after, _ := chunks.CountChunks(ctx, "default")
	assert.Equal(t, 1, after)
}

func TestDatastoreNamespaces(t *testing.T) {
	ctx := context.Background()
	ds, _ := newSQLiteDatastore(t, &hashEmbedder{})

	repo := ds.Namespaced("octo-repo")
	assert.Equal(t, "default", ds.Namespace())
	assert.Equal(t, "octo-repo", repo.(*Datastore).Namespace())
	_, err := repo.Upsert(ctx, []types.Document{{ID: "r", Text: "readme for the repository"}})
	require.NoError(t, err)

	_, err = ds.Query(ctx, []types.Query{{Query: "readme"}})
	assert.ErrorIs(t, err, ErrNotIndexed)

	res, err := repo.Query(ctx, []types.Query{{Query: "readme"}})
	require.NoError(t, err)
	require.Len(t, res[0].Results, 1)

	ok, err := repo.Delete(ctx, nil, nil, true)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = repo.Query(ctx, []types.Query{{Query: "readme"}})
	assert.ErrorIs(t, err, ErrNotIndexed)
}

func TestDatastoreEmbedFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("ollama down")
	ds, chunks := newSQLiteDatastore(t, &hashEmbedder{err: boom})

	_, err := ds.Upsert(ctx, []types.Document{{ID: "x", Text: "some text to embed"}})
	assert.ErrorIs(t, err, boom)
	n, _ := chunks.CountChunks(ctx, "default")
	assert.Zero(t, n)
}

func TestVectorRoundTripAndCosine(t *testing.T) {
	v := []float32{1, -2.5, 0}
	assert.Equal(t, v, decodeVector(encodeVector(v)))
	assert.InDelta(t, 1.0, cosine(v, v), 1e-9)
	assert.Zero(t, cosine(v, []float32{1}))
}
