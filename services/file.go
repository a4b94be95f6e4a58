package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

// extractor turns the bytes of one detected content type into plain text.
type extractor interface {
	CanExtract(mtype *mimetype.MIME) bool
	Extract(path string, data []byte) (string, error)
}

// registry order matters: more specific types come before their text/plain parent.
var registry = []extractor{
	pdfExtractor{},
	docxExtractor{},
	pptxExtractor{},
	csvExtractor{},
	plainTextExtractor{},
}

// ExtractTextFromFilepath sniffs the content type of path and returns its text.
// Unknown or binary content yields ErrUnsupportedFileType.
func ExtractTextFromFilepath(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	mtype := mimetype.Detect(data)

	for _, e := range registry {
		if e.CanExtract(mtype) {
			text, err := e.Extract(path, data)
			if err != nil {
				return "", fmt.Errorf("extract %s: %w", mtype.String(), err)
			}
			return text, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, mtype.String())
}

func isText(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

type plainTextExtractor struct{}

func (plainTextExtractor) CanExtract(mtype *mimetype.MIME) bool {
	return isText(mtype)
}

func (plainTextExtractor) Extract(_ string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: invalid utf-8 text", ErrUnsupportedFileType)
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimPrefix(text, "\ufeff"), nil
}

type csvExtractor struct{}

func (csvExtractor) CanExtract(mtype *mimetype.MIME) bool {
	return mtype.Is("text/csv") || mtype.Is("text/tab-separated-values")
}

func (csvExtractor) Extract(_ string, data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if mimetype.Detect(data).Is("text/tab-separated-values") {
		r.Comma = '\t'
	}

	var b strings.Builder
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		b.WriteString(strings.Join(row, " "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
