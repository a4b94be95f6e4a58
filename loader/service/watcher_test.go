package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"repoindex/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T, store *memoryStore) (*Watcher, *time.Time) {
	t.Helper()
	root := t.TempDir()
	cfg := config.LoaderConfig{
		MonitoringTime: 5 * time.Second,
		SourceDir:      filepath.Join(root, "source"),
		ArchiveDir:     filepath.Join(root, "archive"),
		BadDir:         filepath.Join(root, "bad"),
	}
	p := NewPipeline(store, nil, nil).WithLogger(quietLogger())
	w, err := NewWatcher(cfg, p, Options{ScratchDir: t.TempDir()})
	require.NoError(t, err)
	w = w.WithLogger(quietLogger())

	clock := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }
	return w, &clock
}

func TestWatcherWaitsForDumpToSettle(t *testing.T) {
	w, clock := newTestWatcher(t, &memoryStore{})
	archive := writeArchive(t, textFiles(1)...)
	dump := filepath.Join(w.cfg.SourceDir, "repo.zip")
	require.NoError(t, os.Rename(archive, dump))
	require.NoError(t, os.WriteFile(filepath.Join(w.cfg.SourceDir, "notes.txt"), []byte("x"), 0o644))

	assert.Empty(t, w.scan(), "first sighting only starts the clock")

	*clock = clock.Add(2 * time.Second)
	assert.Empty(t, w.scan())

	*clock = clock.Add(4 * time.Second)
	assert.Equal(t, []string{dump}, w.scan())
}

func TestWatcherRestartsClockWhenDumpGrows(t *testing.T) {
	w, clock := newTestWatcher(t, &memoryStore{})
	dump := filepath.Join(w.cfg.SourceDir, "partial.zip")
	require.NoError(t, os.WriteFile(dump, []byte("PK"), 0o644))

	assert.Empty(t, w.scan())
	*clock = clock.Add(10 * time.Second)
	require.NoError(t, os.WriteFile(dump, []byte("PK more bytes"), 0o644))
	assert.Empty(t, w.scan())

	*clock = clock.Add(5 * time.Second)
	assert.Equal(t, []string{dump}, w.scan())
}

func TestWatcherIngestMovesDumps(t *testing.T) {
	store := &memoryStore{}
	w, _ := newTestWatcher(t, store)

	good := filepath.Join(w.cfg.SourceDir, "good.zip")
	require.NoError(t, os.Rename(writeArchive(t, textFiles(2)...), good))
	bad := filepath.Join(w.cfg.SourceDir, "bad.zip")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0o644))

	w.ingest(context.Background(), good)
	w.ingest(context.Background(), bad)

	assert.Len(t, store.stored, 2)
	assert.FileExists(t, filepath.Join(w.cfg.ArchiveDir, "2024-03-09", "good.zip"))
	assert.FileExists(t, filepath.Join(w.cfg.BadDir, "2024-03-09", "bad.zip"))
	assert.NoFileExists(t, good)
	assert.NoFileExists(t, bad)
}

func TestMoveToArchiveAddsSuffix(t *testing.T) {
	w, _ := newTestWatcher(t, &memoryStore{})

	for i := 0; i < 3; i++ {
		src := filepath.Join(w.cfg.SourceDir, "dump.zip")
		require.NoError(t, os.WriteFile(src, []byte{byte(i)}, 0o644))
		_, err := w.MoveToArchive(src, stateArchived)
		require.NoError(t, err)
	}

	dir := filepath.Join(w.cfg.ArchiveDir, "2024-03-09")
	assert.FileExists(t, filepath.Join(dir, "dump.zip"))
	assert.FileExists(t, filepath.Join(dir, "dump_1.zip"))
	assert.FileExists(t, filepath.Join(dir, "dump_2.zip"))
}

func TestWatcherWithLoggerReturnsCopy(t *testing.T) {
	w, _ := newTestWatcher(t, &memoryStore{})
	l := quietLogger()

	cp := w.WithLogger(l)
	assert.NotSame(t, w, cp)
	assert.Same(t, l, cp.logger)
	assert.NotSame(t, l, w.logger)
}
