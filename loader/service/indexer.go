package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"repoindex/github"
	"repoindex/store"
)

// RepoDownloader fetches the default-branch archive of a repository into dir.
type RepoDownloader interface {
	DownloadDefaultBranch(ctx context.Context, repo github.Repo, dir string) (string, error)
}

// RepoIndexer rebuilds the index of one GitHub repository from its default branch.
type RepoIndexer struct {
	logger     *slog.Logger
	downloader RepoDownloader
	store      store.NamespacedStore
	pipeline   *Pipeline
	opts       Options
	// DownloadDir holds archives while they are ingested; empty means os.TempDir().
	DownloadDir string
}

func NewRepoIndexer(downloader RepoDownloader, ds store.NamespacedStore, pipeline *Pipeline, opts Options) *RepoIndexer {
	return &RepoIndexer{
		logger:     slog.Default(),
		downloader: downloader,
		store:      ds,
		pipeline:   pipeline,
		opts:       opts,
	}
}

func (ri *RepoIndexer) WithLogger(l *slog.Logger) *RepoIndexer {
	cp := *ri
	cp.logger = l
	return &cp
}

// Index replaces the namespace of repoURL with a fresh ingestion of its default branch.
func (ri *RepoIndexer) Index(ctx context.Context, repoURL string) (*Report, error) {
	repo, err := github.ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	name := repo.IndexName()
	ri.logger.Info("indexing repository", "repo", repo.URL, "index", name)

	archive, err := ri.downloader.DownloadDefaultBranch(ctx, repo, ri.DownloadDir)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", repo.URL, err)
	}
	defer func() {
		if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
			ri.logger.Warn("error removing archive", "path", archive, "err", err)
		}
	}()

	ns := ri.store.Namespaced(name)
	if _, err := ns.Delete(ctx, nil, nil, true); err != nil {
		return nil, fmt.Errorf("reset index %s: %w", name, err)
	}

	opts := ri.opts
	if opts.CustomMetadata == nil {
		opts.CustomMetadata = map[string]string{"url": repo.URL}
	}
	return ri.pipeline.WithStore(ns).Run(ctx, archive, opts)
}
