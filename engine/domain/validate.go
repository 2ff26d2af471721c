package domain

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	// MaxUploadBytes is the largest PDF accepted for indexing (16 MiB).
	MaxUploadBytes = 16 << 20
	// MaxQueryRunes bounds the query text sent to the embedding service.
	MaxQueryRunes = 2000
)

// AllowedExtensions lists the upload extensions accepted for indexing.
var AllowedExtensions = map[string]bool{
	".pdf": true,
}

// ValidateQuery checks a user question before it reaches the pipeline and
// returns the trimmed text.
func ValidateQuery(text string) (string, error) {
	q := strings.TrimSpace(text)
	if q == "" {
		return "", NewValidationError("query", text, ErrEmptyQuery)
	}
	if n := utf8.RuneCountInString(q); n > MaxQueryRunes {
		return "", NewValidationError("query", fmt.Sprintf("%d runes", n), ErrQueryTooLong)
	}
	return q, nil
}

// ValidateUpload checks an uploaded file name and size.
func ValidateUpload(name string, size int64) error {
	if strings.TrimSpace(name) == "" {
		return NewValidationError("filename", name, ErrInvalidUpload)
	}
	if !AllowedExtensions[strings.ToLower(filepath.Ext(name))] {
		return NewValidationError("filename", name, ErrUnsupportedFile)
	}
	if size <= 0 {
		return NewValidationError("size", fmt.Sprint(size), ErrEmptyFile)
	}
	if size > MaxUploadBytes {
		return NewValidationError("size", fmt.Sprint(size), ErrFileTooLarge)
	}
	return nil
}
