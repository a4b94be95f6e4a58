package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"repoindex/loader/internal"
	"repoindex/services"
	"repoindex/types"
)

const progressEvery = 20

// Errors callers outside the loader match on.
var (
	ErrArchiveUnreadable = internal.ErrArchiveUnreadable
	ErrUnsafeArchive     = internal.ErrUnsafeArchive
	ErrInvalidOverride   = internal.ErrInvalidOverride
	ErrBatchUpsert       = internal.ErrBatchUpsert
)

// Skip records one archive entry that produced no document.
type Skip = internal.Skip

// TextExtractor returns the plain text of one staged file.
type TextExtractor func(path string) (string, error)

type Options struct {
	CustomMetadata  map[string]string
	ScreenForPII    bool
	ExtractMetadata bool
	BatchSize       int
	Exclude         []string
	// ScratchDir is the parent of the per-run scratch directory; empty means os.TempDir().
	ScratchDir string
}

// Report describes one run. Skipped paths are relative to the archive root.
type Report struct {
	Built    int
	Upserted int
	Batches  int
	Skipped  []internal.Skip
	Success  bool
	// CleanupErr is set when the scratch directory could not be fully removed.
	// It never affects Success.
	CleanupErr error
}

func (r *Report) SkippedPaths() []string {
	paths := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		paths = append(paths, s.Path)
	}
	return paths
}

type Pipeline struct {
	logger   *slog.Logger
	store    internal.Upserter
	extract  TextExtractor
	screener internal.Screener
	metadata internal.MetadataExtractor
	cleanup  func(*internal.Scratch) error
}

func NewPipeline(store internal.Upserter, screener internal.Screener, metadata internal.MetadataExtractor) *Pipeline {
	return &Pipeline{
		logger:   slog.Default(),
		store:    store,
		extract:  services.ExtractTextFromFilepath,
		screener: screener,
		metadata: metadata,
		cleanup:  (*internal.Scratch).Cleanup,
	}
}

func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	cp := *p
	cp.logger = l
	return &cp
}

// WithStore returns a copy of p that upserts into store.
func (p *Pipeline) WithStore(store internal.Upserter) *Pipeline {
	cp := *p
	cp.store = store
	return &cp
}

func (p *Pipeline) WithExtractor(fn TextExtractor) *Pipeline {
	cp := *p
	cp.extract = fn
	return &cp
}

// Run ingests one zip archive. Files are processed one at a time in enumeration order,
// built documents are upserted in batches and the scratch directory is always removed.
// The returned error is the fatal one (bad options, unreadable archive, cancellation,
// failed batch); per-file problems only show up in Report.Skipped.
func (p *Pipeline) Run(ctx context.Context, archivePath string, opts Options) (*Report, error) {
	report := &Report{}

	if _, err := internal.ApplyOverrides(types.DocumentMetadata{}, opts.CustomMetadata); err != nil {
		return report, err
	}
	if opts.ScreenForPII && p.screener == nil {
		return report, errors.New("pii screening requested but no screener configured")
	}
	if opts.ExtractMetadata && p.metadata == nil {
		return report, errors.New("metadata extraction requested but no extractor configured")
	}

	scratch, err := internal.Stage(ctx, archivePath, internal.StageOptions{
		ParentDir: opts.ScratchDir,
		Exclude:   opts.Exclude,
	})
	if err != nil {
		p.logger.Error("staging failed", "archive", archivePath, "err", err)
		return report, fmt.Errorf("stage %s: %w", archivePath, err)
	}
	defer func() {
		if err := p.cleanup(scratch); err != nil {
			report.CleanupErr = err
			p.logger.Warn("scratch cleanup incomplete", "dir", scratch.Dir, "err", err)
		}
	}()
	p.logger.Info("archive staged", "archive", archivePath, "dir", scratch.Dir, "files", len(scratch.Files))

	builder := internal.NewBuilder(opts.CustomMetadata, opts.ExtractMetadata, p.metadata)
	docs := make([]types.Document, 0, len(scratch.Files))

	for _, path := range scratch.Files {
		if err := ctx.Err(); err != nil {
			report.Built = len(docs)
			p.summarize(report)
			return report, err
		}

		res := p.processFile(ctx, builder, path, opts.ScreenForPII)
		if res.Skip != nil {
			if rel, err := filepath.Rel(scratch.Dir, res.Skip.Path); err == nil {
				res.Skip.Path = filepath.ToSlash(rel)
			}
			report.Skipped = append(report.Skipped, *res.Skip)
			p.logger.Debug("file skipped", "path", res.Skip.Path, "reason", res.Skip.Reason, "err", res.Skip.Err)
			continue
		}

		docs = append(docs, *res.Document)
		if len(docs)%progressEvery == 0 {
			p.logger.Info("documents built", "count", len(docs))
		}
	}
	report.Built = len(docs)

	batches, err := internal.UpsertBatches(ctx, p.store, docs, opts.BatchSize, p.logger)
	report.Batches = batches.Calls
	report.Upserted = batches.Upserted
	if err != nil {
		p.logger.Error("bulk upsert aborted", "upserted", batches.Upserted, "built", report.Built, "err", err)
		p.summarize(report)
		return report, err
	}

	report.Success = true
	p.summarize(report)
	return report, nil
}

// processFile never panics: a panic in a parser or collaborator becomes a skip of this file.
func (p *Pipeline) processFile(ctx context.Context, builder *internal.Builder, path string, screen bool) (res internal.FileResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing file", "path", path, "panic", r)
			res = internal.Skipped(path, internal.SkipBuildFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	text, err := p.extract(path)
	if err != nil {
		return internal.Skipped(path, internal.SkipExtractFailed, err)
	}
	if screen {
		if res := internal.Screen(ctx, p.screener, path, text); res != nil {
			return *res
		}
	}
	return builder.Build(ctx, path, text)
}

func (p *Pipeline) summarize(r *Report) {
	p.logger.Info("ingestion finished",
		"success", r.Success,
		"built", r.Built,
		"upserted", r.Upserted,
		"batches", r.Batches,
		"skipped", len(r.Skipped),
	)
	if len(r.Skipped) > 0 {
		p.logger.Info("skipped files", "paths", r.SkippedPaths())
	}
}
