package app

import (
	"errors"
	"unicode/utf8"

	"ragchat/internal/ai"
	"ragchat/internal/pkg/docextract"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrMessageEmpty        = errors.New("message is empty")
	ErrAPIKeyRequired      = errors.New("api key is required")
	ErrFileTooLarge        = errors.New("file too large")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrModelNotAllowed     = errors.New("model not allowed")
	ErrIndexingFailed      = errors.New("indexing failed")
	ErrUnsupportedFileType = docextract.ErrUnsupportedFileType
	ErrEmptyDocument       = docextract.ErrEmptyDocument
	ErrUnreadableDocument  = docextract.ErrUnreadableDocument
	ErrInvalidAPIKey       = ai.ErrInvalidAPIKey
)

// Column widths of model.Document and model.ChatTurn.
const (
	MaxSessionIDLength = 64
	MaxFilenameLength  = 256
)

func tooLong(s string, limit int) bool {
	return utf8.RuneCountInString(s) > limit
}
