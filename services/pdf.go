package services

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

var ErrNoPDFText = errors.New("pdf has no extractable text")

type pdfExtractor struct{}

func (pdfExtractor) CanExtract(mtype *mimetype.MIME) bool {
	return mtype.Is("application/pdf")
}

// Extract dumps the page content streams with pdfcpu and collects the string
// operands of the text showing operators. Scanned PDFs without a text layer fail.
func (pdfExtractor) Extract(path string, _ []byte) (string, error) {
	outDir, err := os.MkdirTemp("", "pdf-content-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(outDir)

	conf := api.LoadConfiguration()
	if err := api.ExtractContentFile(path, outDir, nil, conf); err != nil {
		return "", fmt.Errorf("extract content: %w", err)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		return "", err
	}
	sort.Slice(entries, func(i, j int) bool {
		return pageNumber(entries[i].Name()) < pageNumber(entries[j].Name())
	})

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		stream, err := os.ReadFile(filepath.Join(outDir, e.Name()))
		if err != nil {
			return "", err
		}
		b.WriteString(contentStreamText(stream))
		b.WriteByte('\n')
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", ErrNoPDFText
	}
	return text, nil
}

// pageNumber pulls the trailing page index out of names like "doc_Content_page_12.txt".
func pageNumber(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.LastIndexByte(base, '_'); i >= 0 {
		base = base[i+1:]
	}
	n, err := strconv.Atoi(base)
	if err != nil {
		return -1
	}
	return n
}

// contentStreamText is a small content stream scanner: string operands are buffered and
// flushed on Tj, TJ, ' and "; text positioning operators start a new line.
func contentStreamText(stream []byte) string {
	var (
		out     strings.Builder
		pending [][]byte
	)
	newline := func() {
		if out.Len() > 0 && !strings.HasSuffix(out.String(), "\n") {
			out.WriteByte('\n')
		}
	}

	for i := 0; i < len(stream); {
		c := stream[i]
		switch {
		case c == '(':
			s, next := readLiteral(stream, i+1)
			pending = append(pending, s)
			i = next
		case c == '<' && i+1 < len(stream) && stream[i+1] == '<':
			i += 2
		case c == '<':
			end := bytes.IndexByte(stream[i+1:], '>')
			if end < 0 {
				return out.String()
			}
			pending = append(pending, decodeHexString(stream[i+1:i+1+end]))
			i += end + 2
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case isOperatorByte(c):
			start := i
			for i < len(stream) && isOperatorByte(stream[i]) {
				i++
			}
			switch string(stream[start:i]) {
			case "Tj", "TJ":
				for _, s := range pending {
					out.WriteString(pdfBytesToString(s))
				}
			case "'", "\"":
				newline()
				for _, s := range pending {
					out.WriteString(pdfBytesToString(s))
				}
			case "T*", "Td", "TD", "Tm", "ET":
				newline()
			}
			pending = pending[:0]
		default:
			i++
		}
	}
	return out.String()
}

func isOperatorByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '*' || c == '\'' || c == '"'
}

func readLiteral(stream []byte, i int) ([]byte, int) {
	var (
		buf   []byte
		depth = 1
	)
	for i < len(stream) {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 >= len(stream) {
				return buf, len(stream)
			}
			i++
			switch e := stream[i]; e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					j := i
					for j < len(stream) && j < i+3 && stream[j] >= '0' && stream[j] <= '7' {
						j++
					}
					v, _ := strconv.ParseUint(string(stream[i:j]), 8, 8)
					buf = append(buf, byte(v))
					i = j
					continue
				}
				buf = append(buf, e)
			}
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return buf, i + 1
			}
			buf = append(buf, c)
		default:
			buf = append(buf, c)
		}
		i++
	}
	return buf, i
}

func decodeHexString(h []byte) []byte {
	clean := make([]byte, 0, len(h))
	for _, c := range h {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			clean = append(clean, c)
		}
	}
	if len(clean)%2 == 1 {
		clean = append(clean, '0')
	}
	out := make([]byte, len(clean)/2)
	if _, err := hex.Decode(out, clean); err != nil {
		return nil
	}
	return out
}

// pdfBytesToString keeps UTF-8 as is and reads anything else as Latin-1.
func pdfBytesToString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	rs := make([]rune, len(b))
	for i, c := range b {
		rs[i] = rune(c)
	}
	return string(rs)
}
