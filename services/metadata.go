package services

import (
	"context"

	"repoindex/model"
)

const metadataSystemPrompt = `Given a document from a user, try to extract the following metadata:
- source: string, one of email, file, or chat
- source_id: string or don't specify
- url: string or don't specify
- created_at: string in YYYY-MM-DD format or don't specify
- author: string or don't specify

Respond with a JSON object containing the extracted metadata in key value pairs.
If you don't find a metadata field, don't specify it. Output ONLY the JSON object.`

const metadataMaxAttempts = 3

// MetadataExtractor infers document metadata with an LLM.
type MetadataExtractor struct {
	gen model.Generator
}

func NewMetadataExtractor(gen model.Generator) *MetadataExtractor {
	return &MetadataExtractor{gen: gen}
}

// ExtractMetadata returns the raw JSON object produced for prompt.
func (e *MetadataExtractor) ExtractMetadata(ctx context.Context, prompt string) (string, error) {
	return model.GenerateJSON(ctx, e.gen, metadataSystemPrompt, prompt, metadataMaxAttempts)
}
