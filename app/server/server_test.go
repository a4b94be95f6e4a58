package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"repoindex/config"
	"repoindex/github"
	"repoindex/loader/service"
	"repoindex/store"
	"repoindex/types"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeStore struct {
	upserted []types.Document
	queries  []types.Query
	deleted  []string
	indexed  map[string]bool
	space    string
}

func (s *fakeStore) Upsert(_ context.Context, docs []types.Document) ([]string, error) {
	ids := make([]string, 0, len(docs))
	for i, d := range docs {
		s.upserted = append(s.upserted, d)
		ids = append(ids, fmt.Sprintf("doc-%d", i))
	}
	return ids, nil
}

func (s *fakeStore) Query(_ context.Context, queries []types.Query) ([]types.QueryResult, error) {
	if s.space != "" && !s.indexed[s.space] {
		return nil, fmt.Errorf("query %s: %w", s.space, store.ErrNotIndexed)
	}
	s.queries = append(s.queries, queries...)
	results := make([]types.QueryResult, 0, len(queries))
	for _, q := range queries {
		results = append(results, types.QueryResult{Query: q.Query, Results: []types.DocumentChunkWithScore{}})
	}
	return results, nil
}

func (s *fakeStore) Delete(_ context.Context, ids []string, _ *types.DocumentMetadataFilter, _ bool) (bool, error) {
	s.deleted = append(s.deleted, ids...)
	return true, nil
}

func (s *fakeStore) Namespaced(ns string) store.DataStore {
	cp := *s
	cp.space = ns
	return &cp
}

type fakeIndexer struct {
	report *service.Report
	err    error
	urls   []string
}

func (f *fakeIndexer) Index(_ context.Context, repoURL string) (*service.Report, error) {
	f.urls = append(f.urls, repoURL)
	return f.report, f.err
}

func newTestApp(t *testing.T, ds *fakeStore, indexer *fakeIndexer) *fiber.App {
	t.Helper()
	cfg := &config.Config{
		ServerAddr: ":8000",
		PublicURL:  "http://localhost:8000",
		StaticDir:  t.TempDir(),
		Datastore:  "sqlite",
	}
	extract := func(path string) (string, error) {
		data, err := os.ReadFile(path)
		return string(data), err
	}
	app, err := NewApp(cfg, Deps{Store: ds, Indexer: indexer, Extract: extract})
	require.NoError(t, err)
	return app
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthy(t *testing.T) {
	app := newTestApp(t, &fakeStore{}, &fakeIndexer{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/check/healthy", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, map[string]string{"result": "ok", "datastore": "sqlite"}, body)
}

func TestManifestAndOpenAPI(t *testing.T) {
	app := newTestApp(t, &fakeStore{}, &fakeIndexer{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/ai-plugin.json", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var manifest map[string]any
	decode(t, resp, &manifest)
	assert.Equal(t, "repo_retrieval", manifest["name_for_model"])
	assert.Equal(t, "http://localhost:8000/.well-known/openapi.yaml", manifest["api"].(map[string]any)["url"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/openapi.yaml", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/yaml")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var spec struct {
		Servers []struct {
			URL string `yaml:"url"`
		} `yaml:"servers"`
		Paths map[string]any `yaml:"paths"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &spec))
	require.Len(t, spec.Servers, 1)
	assert.Equal(t, "http://localhost:8000", spec.Servers[0].URL)
	assert.Contains(t, spec.Paths, "/index-repo")
	assert.Contains(t, spec.Paths, "/query")
}

func TestStaticFiles(t *testing.T) {
	ds := &fakeStore{}
	cfg := &config.Config{ServerAddr: ":8000", PublicURL: "http://localhost:8000", StaticDir: t.TempDir()}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StaticDir, "logo.png"), []byte("png"), 0o644))
	app, err := NewApp(cfg, Deps{Store: ds, Indexer: &fakeIndexer{}})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/logo.png", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "png", string(body))

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/missing.png", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSAllowsLocalhostAndChat(t *testing.T) {
	app := newTestApp(t, &fakeStore{}, &fakeIndexer{})

	for _, origin := range []string{"http://localhost:8000", "https://chat.openai.com"} {
		req := httptest.NewRequest(http.MethodGet, "/check/healthy", nil)
		req.Header.Set("Origin", origin)
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, origin, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	}

	req := httptest.NewRequest(http.MethodGet, "/check/healthy", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUpsertValidation(t *testing.T) {
	ds := &fakeStore{}
	app := newTestApp(t, ds, &fakeIndexer{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/upsert", `{"documents":[]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/upsert", `{"documents":[{"text":"hello","metadata":{"source":"chat"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body types.UpsertResponse
	decode(t, resp, &body)
	assert.Equal(t, []string{"doc-0"}, body.IDs)
	require.Len(t, ds.upserted, 1)
	assert.Equal(t, types.SourceChat, ds.upserted[0].Metadata.Source)
}

func TestUpsertFile(t *testing.T) {
	ds := &fakeStore{}
	app := newTestApp(t, ds, &fakeIndexer{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("meeting notes"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("metadata", `{"source_id":"notes.txt","author":"jo"}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upsert-file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, ds.upserted, 1)
	assert.Equal(t, "meeting notes", ds.upserted[0].Text)
	assert.Equal(t, "jo", ds.upserted[0].Metadata.Author)
}

func TestUpsertFileRequiresFile(t *testing.T) {
	app := newTestApp(t, &fakeStore{}, &fakeIndexer{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("metadata", `{}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upsert-file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueryNamespaces(t *testing.T) {
	ds := &fakeStore{indexed: map[string]bool{"acme-widgets": true}}
	app := newTestApp(t, ds, &fakeIndexer{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/query", `{"queries":[{"query":"how to build"}]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body types.QueryResponse
	decode(t, resp, &body)
	require.Len(t, body.Results, 1)
	assert.Equal(t, "how to build", body.Results[0].Query)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/query",
		`{"queries":[{"query":"how"}],"repo_url":"https://github.com/acme/widgets"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(jsonRequest(http.MethodPost, "/query",
		`{"queries":[{"query":"how"}],"repo_url":"https://github.com/acme/gadgets"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueryRejectsBadJSON(t *testing.T) {
	app := newTestApp(t, &fakeStore{}, &fakeIndexer{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/query", `{"queries":`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteRequiresCriteria(t *testing.T) {
	ds := &fakeStore{}
	app := newTestApp(t, ds, &fakeIndexer{})

	resp, err := app.Test(jsonRequest(http.MethodDelete, "/delete", `{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var apiErr map[string]any
	decode(t, resp, &apiErr)
	assert.Contains(t, apiErr["error"], "delete_all")

	resp, err = app.Test(jsonRequest(http.MethodDelete, "/delete", `{"ids":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"a", "b"}, ds.deleted)
}

func TestIndexRepo(t *testing.T) {
	indexer := &fakeIndexer{report: &service.Report{
		Built:    3,
		Upserted: 3,
		Batches:  1,
		Success:  true,
		Skipped:  []service.Skip{{Path: "widgets-main/logo.png", Reason: "extract_failed"}},
	}}
	app := newTestApp(t, &fakeStore{}, indexer)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/index-repo", `{"repo_url":"https://github.com/acme/widgets"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body types.IndexResponse
	decode(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, 3, body.Documents)
	assert.Equal(t, []string{"widgets-main/logo.png"}, body.Skipped)
	assert.Equal(t, []string{"https://github.com/acme/widgets"}, indexer.urls)
}

func TestIndexRepoErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"missing url", `{}`, nil, http.StatusUnprocessableEntity},
		{"not a url", `{"repo_url":"widgets"}`, nil, http.StatusUnprocessableEntity},
		{"repo not found", `{"repo_url":"https://github.com/acme/nope"}`,
			fmt.Errorf("%w: %w", github.ErrRepoNotFound, &github.APIError{StatusCode: http.StatusNotFound}), http.StatusNotFound},
		{"token rejected", `{"repo_url":"https://github.com/acme/widgets"}`,
			&github.APIError{StatusCode: http.StatusUnauthorized}, http.StatusBadGateway},
		{"bad archive", `{"repo_url":"https://github.com/acme/widgets"}`,
			fmt.Errorf("stage: %w", service.ErrArchiveUnreadable), http.StatusBadGateway},
		{"datastore down", `{"repo_url":"https://github.com/acme/widgets"}`,
			errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, &fakeStore{}, &fakeIndexer{report: &service.Report{}, err: tc.err})
			resp, err := app.Test(jsonRequest(http.MethodPost, "/index-repo", tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestIndexRepoPartialFailureKeepsCounts(t *testing.T) {
	indexer := &fakeIndexer{
		report: &service.Report{
			Built:    120,
			Upserted: 50,
			Batches:  2,
			Skipped:  []service.Skip{{Path: "widgets-main/logo.png", Reason: "extract_failed"}},
		},
		err: fmt.Errorf("%w: batch 2/3: %w", service.ErrBatchUpsert, errors.New("connection reset")),
	}
	app := newTestApp(t, &fakeStore{}, indexer)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/index-repo", `{"repo_url":"https://github.com/acme/widgets"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body types.IndexResponse
	decode(t, resp, &body)
	assert.False(t, body.Success)
	assert.Equal(t, 50, body.Documents)
	assert.Equal(t, []string{"widgets-main/logo.png"}, body.Skipped)
	assert.Equal(t, "internal service error", body.Error)
}

func TestShippedLogoIsServed(t *testing.T) {
	cfg := &config.Config{ServerAddr: ":8000", PublicURL: "http://localhost:8000", StaticDir: "../../static"}
	app, err := NewApp(cfg, Deps{Store: &fakeStore{}, Indexer: &fakeIndexer{}})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/logo.png", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestStaticFilesDoNotShadowManifest(t *testing.T) {
	cfg := &config.Config{ServerAddr: ":8000", PublicURL: "http://localhost:8000", StaticDir: t.TempDir()}
	require.NoError(t, os.WriteFile(filepath.Join(cfg.StaticDir, "ai-plugin.json"), []byte(`{"stale":true}`), 0o644))
	app, err := NewApp(cfg, Deps{Store: &fakeStore{}, Indexer: &fakeIndexer{}})
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/ai-plugin.json", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var manifest map[string]any
	decode(t, resp, &manifest)
	assert.Equal(t, "repo_retrieval", manifest["name_for_model"])
	assert.NotContains(t, manifest, "stale")
}
