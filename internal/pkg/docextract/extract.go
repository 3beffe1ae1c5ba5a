// Package docextract turns uploaded files into plain text.
package docextract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrEmptyDocument       = errors.New("document contains no extractable text")
	// ErrUnreadableDocument means the bytes do not parse as the format the
	// extension claims.
	ErrUnreadableDocument = errors.New("document could not be read")
)

type extractFunc func(data []byte) (string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".html": extractHTML,
	".htm":  extractHTML,
	".txt":  extractText,
	".md":   extractText,
}

// Ext returns the lower-cased extension used to pick an extractor.
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func Supported(filename string) bool {
	_, ok := extractors[Ext(filename)]
	return ok
}

// Extract picks an extractor by file extension and returns normalised text.
func Extract(filename string, data []byte) (string, error) {
	fn, ok := extractors[Ext(filename)]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Ext(filename))
	}
	text, err := fn(data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnreadableDocument, filepath.Base(filename), err)
	}
	text = normalize(strings.ToValidUTF8(text, ""))
	if text == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

func extractText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("text is not valid UTF-8")
	}
	return string(data), nil
}

// normalize unifies line endings and collapses runs of blank lines so the
// splitter sees paragraph breaks as exactly "\n\n".
func normalize(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
