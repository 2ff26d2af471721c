// Package pdfpage converts PDF documents into page-image records with stable
// identifiers and stores each page as a PNG for later evidence lookup.
package pdfpage

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/WessleyAI/pagerag/engine/domain"
)

// PageRecord is one rendered page of a source document.
type PageRecord struct {
	DocID      int         `json:"doc_id"`
	Filename   string      `json:"filename"`
	PageNumber int         `json:"page_number"`
	Image      image.Image `json:"-"`
	ImagePath  string      `json:"image_path"`
}

// Extractor renders PDFs and persists their pages under a single directory.
type Extractor struct {
	dir    string
	render Renderer
	ids    *DocIDs
	logger *slog.Logger
}

// New creates an Extractor writing page images into dir (created if absent).
// A nil ids starts a fresh allocator at 1.
func New(dir string, render Renderer, ids *DocIDs, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if render == nil {
		render = PopplerRenderer{}
	}
	if ids == nil {
		ids = NewDocIDs(1)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("pdfpage: create image dir %s: %w", dir, err)
	}
	return &Extractor{dir: dir, render: render, ids: ids, logger: logger}, nil
}

// Dir returns the page image directory.
func (e *Extractor) Dir() string { return e.dir }

// Extract converts every page of the PDF at path. The document id is claimed
// only after all pages rendered, so a document that fails to render consumes
// no id. On failure the error wraps domain.ErrExtraction, the returned slice
// is empty and no page image of the document is left on disk; callers
// processing batches may log and continue.
func (e *Extractor) Extract(ctx context.Context, path string) ([]PageRecord, error) {
	return e.extract(ctx, path, 0)
}

// ExtractWithID is Extract with a caller-supplied document id.
func (e *Extractor) ExtractWithID(ctx context.Context, path string, docID int) ([]PageRecord, error) {
	if docID < 1 {
		return nil, fmt.Errorf("pdfpage: doc id %d: %w", docID, domain.ErrExtraction)
	}
	return e.extract(ctx, path, docID)
}

func (e *Extractor) extract(ctx context.Context, path string, docID int) ([]PageRecord, error) {
	name := filepath.Base(path)
	images, err := e.renderPages(ctx, path)
	if err != nil {
		e.logger.Error("pdfpage: failed to convert", "file", name, "err", err)
		return []PageRecord{}, domain.NewStageError("extract", name, fmt.Errorf("%w: %w", domain.ErrExtraction, err))
	}

	if docID == 0 {
		if docID, err = e.ids.Claim(e.dir); err != nil {
			e.logger.Error("pdfpage: failed to claim doc id", "file", name, "err", err)
			return []PageRecord{}, domain.NewStageError("extract", name, fmt.Errorf("%w: %w", domain.ErrExtraction, err))
		}
	}
	records := make([]PageRecord, 0, len(images))
	for i, img := range images {
		page := i + 1
		out := ImagePath(e.dir, docID, page, name)
		if err := writePNG(out, img); err != nil {
			e.logger.Error("pdfpage: failed to store page", "file", name, "page", page, "err", err)
			for _, r := range records {
				if rmErr := os.Remove(r.ImagePath); rmErr != nil {
					e.logger.Warn("pdfpage: cannot remove partial page", "path", r.ImagePath, "err", rmErr)
				}
			}
			return []PageRecord{}, domain.NewStageError("extract", name, fmt.Errorf("%w: %w", domain.ErrExtraction, err))
		}
		records = append(records, PageRecord{
			DocID:      docID,
			Filename:   name,
			PageNumber: page,
			Image:      img,
			ImagePath:  out,
		})
	}
	e.logger.Info("pdfpage: extracted", "file", name, "doc_id", docID, "pages", len(records))
	return records, nil
}

// renderPages rasterises into a scratch dir and decodes the pages as RGBA.
func (e *Extractor) renderPages(ctx context.Context, path string) ([]*image.RGBA, error) {
	tmp, err := os.MkdirTemp("", "pdfpage-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	files, err := e.render.Render(ctx, path, tmp)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no pages rendered")
	}
	out := make([]*image.RGBA, len(files))
	for i, f := range files {
		img, err := decodePNG(f)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		out[i] = toRGBA(img)
	}
	return out, nil
}

// toRGBA normalises the colour model of a rendered page.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// LoadImage decodes a stored page image.
func LoadImage(path string) (image.Image, error) {
	return decodePNG(path)
}
