package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"repoindex/types"

	"github.com/google/uuid"
)

var (
	ErrEmptyText       = errors.New("extracted text is empty")
	ErrInvalidOverride = errors.New("invalid metadata override")
	ErrMetadataParse   = errors.New("inferred metadata could not be parsed")
)

type SkipReason string

const (
	SkipExtractFailed  SkipReason = "extract_failed"
	SkipPII            SkipReason = "pii"
	SkipScreenFailed   SkipReason = "screen_failed"
	SkipMetadataFailed SkipReason = "metadata_failed"
	SkipBuildFailed    SkipReason = "build_failed"
)

// Skip records a file left out of the upsert. Err is nil for policy skips.
type Skip struct {
	Path   string
	Reason SkipReason
	Err    error
}

func (s Skip) String() string {
	if s.Err == nil {
		return fmt.Sprintf("%s (%s)", s.Path, s.Reason)
	}
	return fmt.Sprintf("%s (%s: %v)", s.Path, s.Reason, s.Err)
}

// FileResult is the outcome of processing one staged file: exactly one of Document and Skip is set.
type FileResult struct {
	Document *types.Document
	Skip     *Skip
}

func Built(doc types.Document) FileResult {
	return FileResult{Document: &doc}
}

func Skipped(path string, reason SkipReason, err error) FileResult {
	return FileResult{Skip: &Skip{Path: path, Reason: reason, Err: err}}
}

// MetadataExtractor infers metadata for a prompt and returns it as a JSON object.
type MetadataExtractor interface {
	ExtractMetadata(ctx context.Context, prompt string) (string, error)
}

type metadataSetter func(m *types.DocumentMetadata, value string) error

// metadataFields is the closed set of fields that custom metadata may override.
var metadataFields = map[string]metadataSetter{
	"source": func(m *types.DocumentMetadata, v string) error {
		src, err := types.ParseSource(v)
		if err != nil {
			return err
		}
		m.Source = src
		return nil
	},
	"source_id":  func(m *types.DocumentMetadata, v string) error { m.SourceID = v; return nil },
	"url":        func(m *types.DocumentMetadata, v string) error { m.URL = v; return nil },
	"created_at": func(m *types.DocumentMetadata, v string) error { m.CreatedAt = v; return nil },
	"author":     func(m *types.DocumentMetadata, v string) error { m.Author = v; return nil },
}

// ApplyOverrides sets every recognized field named in overrides. Unknown keys are ignored.
func ApplyOverrides(meta types.DocumentMetadata, overrides map[string]string) (types.DocumentMetadata, error) {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		set, ok := metadataFields[k]
		if !ok {
			continue
		}
		if err := set(&meta, overrides[k]); err != nil {
			return meta, fmt.Errorf("%w: %s: %v", ErrInvalidOverride, k, err)
		}
	}
	return meta, nil
}

// ParseMetadata decodes an inferred metadata object. Unknown fields are dropped.
func ParseMetadata(raw string) (types.DocumentMetadata, error) {
	var meta types.DocumentMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return types.DocumentMetadata{}, fmt.Errorf("%w: %v", ErrMetadataParse, err)
	}
	return meta, nil
}

type Builder struct {
	Overrides       map[string]string
	ExtractMetadata bool
	Extractor       MetadataExtractor
	NewID           func() string
}

func NewBuilder(overrides map[string]string, extractMetadata bool, extractor MetadataExtractor) *Builder {
	return &Builder{
		Overrides:       overrides,
		ExtractMetadata: extractMetadata,
		Extractor:       extractor,
		NewID:           uuid.NewString,
	}
}

// Build turns the extracted text of one file into a Document.
func (b *Builder) Build(ctx context.Context, path, text string) FileResult {
	if strings.TrimSpace(text) == "" {
		return Skipped(path, SkipBuildFailed, ErrEmptyText)
	}

	meta := types.DocumentMetadata{
		Source:   types.SourceFile,
		SourceID: filepath.Base(path),
	}

	meta, err := ApplyOverrides(meta, b.Overrides)
	if err != nil {
		return Skipped(path, SkipBuildFailed, err)
	}

	if b.ExtractMetadata {
		if b.Extractor == nil {
			return Skipped(path, SkipMetadataFailed, errors.New("no metadata extractor configured"))
		}
		raw, err := b.Extractor.ExtractMetadata(ctx, fmt.Sprintf("Text: %s; Metadata: %s", text, meta.String()))
		if err != nil {
			return Skipped(path, SkipMetadataFailed, err)
		}
		if meta, err = ParseMetadata(raw); err != nil {
			return Skipped(path, SkipMetadataFailed, err)
		}
	}

	return Built(types.Document{
		ID:       b.NewID(),
		Text:     text,
		Metadata: meta,
	})
}
