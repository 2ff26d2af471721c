package pdfpage

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultDPI matches the pdf2image default resolution.
const DefaultDPI = 200

// Renderer rasterises every page of a PDF into PNG files under outDir and
// returns their paths in page order.
type Renderer interface {
	Render(ctx context.Context, pdfPath, outDir string) ([]string, error)
}

// PopplerRenderer shells out to poppler-utils (pdfinfo, pdftoppm).
type PopplerRenderer struct {
	// BinDir optionally points at the poppler binaries; empty uses $PATH.
	BinDir string
	DPI    int
}

var pagesRe = regexp.MustCompile(`^Pages:\s+(\d+)`)

func (r PopplerRenderer) bin(name string) string {
	if r.BinDir == "" {
		return name
	}
	return filepath.Join(r.BinDir, name)
}

// PageCount runs pdfinfo and parses the page count.
func (r PopplerRenderer) PageCount(ctx context.Context, pdfPath string) (int, error) {
	var out, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin("pdfinfo"), pdfPath)
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("pdfinfo: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		if m := pagesRe.FindStringSubmatch(sc.Text()); m != nil {
			return strconv.Atoi(m[1])
		}
	}
	return 0, fmt.Errorf("pdfinfo: no page count for %s", pdfPath)
}

// Render implements Renderer.
func (r PopplerRenderer) Render(ctx context.Context, pdfPath, outDir string) ([]string, error) {
	pages, err := r.PageCount(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	if pages == 0 {
		return nil, fmt.Errorf("pdftoppm: %s has no pages", pdfPath)
	}

	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin("pdftoppm"),
		"-png", "-r", strconv.Itoa(dpi),
		pdfPath, filepath.Join(outDir, "page"))
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := sortedPageFiles(outDir)
	if err != nil {
		return nil, err
	}
	if len(files) != pages {
		return nil, fmt.Errorf("pdftoppm: rendered %d of %d pages", len(files), pages)
	}
	return files, nil
}

// sortedPageFiles orders pdftoppm output (page-1.png, page-01.png, ...) by
// the numeric suffix rather than lexically.
func sortedPageFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: list output: %w", err)
	}
	type page struct {
		path string
		num  int
	}
	pages := make([]page, 0, len(matches))
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".png")
		n, err := strconv.Atoi(base[strings.LastIndexByte(base, '-')+1:])
		if err != nil {
			continue
		}
		pages = append(pages, page{path: m, num: n})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].num < pages[j].num })
	out := make([]string, len(pages))
	for i, p := range pages {
		out[i] = p.path
	}
	return out, nil
}
