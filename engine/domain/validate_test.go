package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateQuery_Trims(t *testing.T) {
	q, err := ValidateQuery("  installation steps \n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q != "installation steps" {
		t.Errorf("expected trimmed query, got %q", q)
	}
}

func TestValidateQuery_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n"} {
		_, err := ValidateQuery(in)
		if !errors.Is(err, ErrEmptyQuery) {
			t.Errorf("ValidateQuery(%q): expected ErrEmptyQuery, got %v", in, err)
		}
	}
}

func TestValidateQuery_TooLong(t *testing.T) {
	_, err := ValidateQuery(strings.Repeat("é", MaxQueryRunes+1))
	if !errors.Is(err, ErrQueryTooLong) {
		t.Fatalf("expected ErrQueryTooLong, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "query" {
		t.Fatalf("expected ValidationError on field query, got %#v", err)
	}
}

func TestValidateUpload(t *testing.T) {
	tests := []struct {
		name string
		file string
		size int64
		want error
	}{
		{"ok", "manual.pdf", 1024, nil},
		{"upper ext", "MANUAL.PDF", 1024, nil},
		{"no name", " ", 10, ErrInvalidUpload},
		{"wrong ext", "notes.docx", 10, ErrUnsupportedFile},
		{"no ext", "manual", 10, ErrUnsupportedFile},
		{"empty", "manual.pdf", 0, ErrEmptyFile},
		{"at limit", "big.pdf", MaxUploadBytes, nil},
		{"too big", "big.pdf", MaxUploadBytes + 1, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUpload(tt.file, tt.size)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestStageError(t *testing.T) {
	err := NewStageError("extract", "manual.pdf", ErrExtraction)
	if !errors.Is(err, ErrExtraction) {
		t.Fatal("StageError should unwrap to its sentinel")
	}
	if got := err.Error(); got != "extract manual.pdf: pdf extraction failed" {
		t.Errorf("unexpected message: %s", got)
	}
	bare := NewStageError("upsert", "", ErrIndex)
	if got := bare.Error(); got != "upsert: vector index failed" {
		t.Errorf("unexpected message: %s", got)
	}
}
