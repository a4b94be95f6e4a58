package internal

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	ErrArchiveUnreadable = errors.New("archive is unreadable")
	ErrUnsafeArchive     = errors.New("archive entry escapes the scratch directory")
)

type StageOptions struct {
	// ParentDir holds the per-run scratch directory; empty means os.TempDir().
	ParentDir string
	// Exclude lists doublestar globs matched against slash-separated entry names.
	Exclude []string
}

// Scratch is the extraction target of one ingestion run.
type Scratch struct {
	Dir   string
	Files []string
}

// Stage extracts the zip archive at archivePath into a fresh scratch directory and
// enumerates every regular file in it. On failure the partially created directory
// is removed before returning.
func Stage(ctx context.Context, archivePath string, opts StageOptions) (*Scratch, error) {
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	zr, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsafeArchive, archivePath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveUnreadable, archivePath, err)
	}
	defer zr.Close()

	dir, err := os.MkdirTemp(opts.ParentDir, "dump-")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	scratch := &Scratch{Dir: dir}

	if err := scratch.extract(ctx, zr, opts.Exclude); err != nil {
		if cerr := scratch.Cleanup(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}

	files, err := listFiles(dir)
	if err != nil {
		if cerr := scratch.Cleanup(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		return nil, err
	}
	scratch.Files = files
	return scratch, nil
}

func (s *Scratch) extract(ctx context.Context, zr *zip.ReadCloser, exclude []string) error {
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if excluded(f.Name, exclude) {
			continue
		}

		target, err := s.entryPath(f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrArchiveUnreadable, f.Name, err)
			}
		case mode.IsRegular():
			if err := extractFile(f, target); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrArchiveUnreadable, f.Name, err)
			}
		default:
			// symlinks and devices are not materialized
		}
	}
	return nil
}

func (s *Scratch) entryPath(name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	target := filepath.Join(s.Dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.Dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}
	return target, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func excluded(name string, patterns []string) bool {
	name = strings.TrimSuffix(name, "/")
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate scratch directory: %w", err)
	}
	return files, nil
}

// Cleanup removes every file, then every directory deepest first, then the scratch
// directory itself. It keeps going past individual failures and reports them joined.
func (s *Scratch) Cleanup() error {
	var (
		dirs []string
		errs []error
	)
	walkErr := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			errs = append(errs, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == s.Dir {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, err)
		}
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		errs = append(errs, walkErr)
	}

	sort.Slice(dirs, func(i, j int) bool {
		return strings.Count(dirs[i], string(filepath.Separator)) > strings.Count(dirs[j], string(filepath.Separator))
	})
	for _, d := range dirs {
		if err := os.Remove(d); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.Remove(s.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
