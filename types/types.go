package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Source string

const (
	SourceEmail Source = "email"
	SourceFile  Source = "file"
	SourceChat  Source = "chat"
)

func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourceEmail, SourceFile, SourceChat:
		return src, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

func (s *Source) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = ""
		return nil
	}
	src, err := ParseSource(raw)
	if err != nil {
		return err
	}
	*s = src
	return nil
}

type DocumentMetadata struct {
	Source    Source `json:"source,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	URL       string `json:"url,omitempty"`
	CreatedAt string `json:"created_at,omitempty"` // ISO-8601 date as reported by the source
	Author    string `json:"author,omitempty"`
}

// String renders the metadata the way it is embedded into enrichment prompts.
func (m DocumentMetadata) String() string {
	return fmt.Sprintf("source=%q source_id=%q url=%q created_at=%q author=%q",
		m.Source, m.SourceID, m.URL, m.CreatedAt, m.Author)
}

type Document struct {
	ID       string           `json:"id,omitempty"`
	Text     string           `json:"text" validate:"required"`
	Metadata DocumentMetadata `json:"metadata"`
}

type DocumentChunkMetadata struct {
	DocumentMetadata
	DocumentID string `json:"document_id"`
}

type DocumentChunk struct {
	ID        string                `json:"id"`
	Text      string                `json:"text"`
	Metadata  DocumentChunkMetadata `json:"metadata"`
	Embedding []float32             `json:"embedding,omitempty"`
}

type DocumentChunkWithScore struct {
	DocumentChunk
	Score float64 `json:"score"`
}

type DocumentMetadataFilter struct {
	DocumentID string `json:"document_id,omitempty"`
	Source     Source `json:"source,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
	Author     string `json:"author,omitempty"`
	StartDate  string `json:"start_date,omitempty"`
	EndDate    string `json:"end_date,omitempty"`
}

func (f *DocumentMetadataFilter) IsEmpty() bool {
	return f == nil || *f == DocumentMetadataFilter{}
}

const DefaultTopK = 3

type Query struct {
	Query  string                  `json:"query" validate:"required"`
	Filter *DocumentMetadataFilter `json:"filter,omitempty"`
	TopK   int                     `json:"top_k,omitempty" validate:"gte=0,lte=100"`
}

type QueryWithEmbedding struct {
	Query
	Embedding []float32
}

type QueryResult struct {
	Query   string                   `json:"query"`
	Results []DocumentChunkWithScore `json:"results"`
}
