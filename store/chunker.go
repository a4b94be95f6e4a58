package store

import (
	"fmt"
	"strings"

	"repoindex/types"

	"github.com/pkoukk/tiktoken-go"
)

const (
	DefaultChunkTokens = 200
	// chunks shorter than this are cut back to the last sentence boundary only past this point
	minChunkSizeChars = 350
	// chunks with fewer characters are not embedded
	minChunkLengthToEmbed = 5
	maxChunksPerDocument  = 10000
)

type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type TiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return &TiktokenTokenizer{enc: enc}, nil
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// ChunkText splits text into pieces of at most chunkSize tokens, preferring to end
// a piece on sentence punctuation or a newline.
func ChunkText(tok Tokenizer, text string, chunkSize int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkTokens
	}

	tokens := tok.Encode(text)
	var chunks []string

	for len(tokens) > 0 && len(chunks) < maxChunksPerDocument {
		n := min(chunkSize, len(tokens))
		chunkText := tok.Decode(tokens[:n])

		if strings.TrimSpace(chunkText) == "" {
			tokens = tokens[n:]
			continue
		}

		lastPunct := strings.LastIndexAny(chunkText, ".?!\n")
		if lastPunct != -1 && lastPunct > minChunkSizeChars {
			chunkText = chunkText[:lastPunct+1]
		}

		if cleaned := normalizeChunk(chunkText); len(cleaned) > minChunkLengthToEmbed {
			chunks = append(chunks, cleaned)
		}

		consumed := len(tok.Encode(chunkText))
		if consumed == 0 || consumed > len(tokens) {
			consumed = n
		}
		tokens = tokens[consumed:]
	}

	if len(tokens) > 0 {
		if rest := normalizeChunk(tok.Decode(tokens)); len(rest) > minChunkLengthToEmbed {
			chunks = append(chunks, rest)
		}
	}
	return chunks
}

func normalizeChunk(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

// CreateDocumentChunks splits one document into chunks carrying the document metadata.
// Chunk ids are "<document id>_<n>".
func CreateDocumentChunks(tok Tokenizer, doc types.Document, chunkSize int) []types.DocumentChunk {
	texts := ChunkText(tok, doc.Text, chunkSize)
	chunks := make([]types.DocumentChunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, types.DocumentChunk{
			ID:   fmt.Sprintf("%s_%d", doc.ID, i),
			Text: text,
			Metadata: types.DocumentChunkMetadata{
				DocumentMetadata: doc.Metadata,
				DocumentID:       doc.ID,
			},
		})
	}
	return chunks
}
