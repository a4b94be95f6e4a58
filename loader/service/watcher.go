package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"repoindex/config"
)

const pollInterval = time.Second

type fileState int

const (
	stateArchived fileState = iota
	stateBad
)

// Watcher polls the source directory for zip dumps and ingests each one once it has
// stopped changing for MonitoringTime.
type Watcher struct {
	logger   *slog.Logger
	cfg      config.LoaderConfig
	pipeline *Pipeline
	opts     Options
	now      func() time.Time

	firstSeen map[string]seenFile
}

type seenFile struct {
	at   time.Time
	size int64
}

func NewWatcher(cfg config.LoaderConfig, pipeline *Pipeline, opts Options) (*Watcher, error) {
	for _, dir := range []string{cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Watcher{
		logger:    slog.Default(),
		cfg:       cfg,
		pipeline:  pipeline,
		opts:      opts,
		now:       time.Now,
		firstSeen: make(map[string]seenFile),
	}, nil
}

func (w *Watcher) WithLogger(l *slog.Logger) *Watcher {
	cp := *w
	cp.logger = l
	return &cp
}

// Watch blocks until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	w.logger.Info("start monitoring folder", "dir", w.cfg.SourceDir, "settle", w.cfg.MonitoringTime)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("file watcher stopped")
			return nil
		case <-ticker.C:
			for _, path := range w.scan() {
				if ctx.Err() != nil {
					return nil
				}
				w.ingest(ctx, path)
			}
		}
	}
}

// scan returns the archives that have kept the same size for MonitoringTime.
func (w *Watcher) scan() []string {
	entries, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		w.logger.Error("error while reading source directory", "err", err)
		return nil
	}

	now := w.now()
	current := make(map[string]bool)
	var ready []string

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".zip") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.cfg.SourceDir, e.Name())
		current[path] = true

		seen, ok := w.firstSeen[path]
		if !ok || seen.size != info.Size() {
			// новый файл или он ещё дописывается
			w.firstSeen[path] = seenFile{at: now, size: info.Size()}
			if !ok {
				w.logger.Info("new dump detected", "path", path)
			}
			continue
		}
		if now.Sub(seen.at) >= w.cfg.MonitoringTime {
			ready = append(ready, path)
		}
	}

	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
		}
	}
	sort.Strings(ready)
	return ready
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	w.logger.Info("processing dump", "path", path)
	delete(w.firstSeen, path)

	report, err := w.pipeline.Run(ctx, path, w.opts)
	if ctx.Err() != nil {
		// оставляем архив в source, он будет обработан при следующем запуске
		return
	}

	state := stateArchived
	if err != nil {
		w.logger.Error("dump ingestion failed", "path", path, "err", err)
		state = stateBad
	} else {
		w.logger.Info("dump ingested", "path", path, "documents", report.Upserted, "skipped", len(report.Skipped))
	}

	dest, err := w.MoveToArchive(path, state)
	if err != nil {
		w.logger.Error("error moving dump", "path", path, "err", err)
		return
	}
	w.logger.Info("dump moved", "dest", dest)
}

// MoveToArchive moves path into <ArchiveDir|BadDir>/<YYYY-MM-DD>/, adding a numeric
// suffix when the name is taken.
func (w *Watcher) MoveToArchive(path string, state fileState) (string, error) {
	root := w.cfg.ArchiveDir
	if state == stateBad {
		root = w.cfg.BadDir
	}

	destDir := filepath.Join(root, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(path))
	ext := filepath.Ext(destPath)
	baseName := strings.TrimSuffix(filepath.Base(destPath), ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
	}

	if err := os.Rename(path, destPath); err == nil {
		return destPath, nil
	}
	// rename fails across devices; fall back to copy + remove
	if err := copyFile(path, destPath); err != nil {
		return "", err
	}
	return destPath, os.Remove(path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
