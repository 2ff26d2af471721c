package pdfpage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// imageNameRe matches names produced by ImageName.
var imageNameRe = regexp.MustCompile(`^doc_(\d+)_page_(\d+)_(.*)\.png$`)

// ImageName returns the stored file name for one rendered page:
// doc_{docID}_page_{page}_{stem}.png, where stem is the PDF base name with
// every ".pdf" removed. The evidence resolver depends on this exact layout.
func ImageName(docID, page int, filename string) string {
	stem := strings.ReplaceAll(filepath.Base(filename), ".pdf", "")
	return fmt.Sprintf("doc_%d_page_%d_%s.png", docID, page, stem)
}

// ImagePath joins dir and ImageName.
func ImagePath(dir string, docID, page int, filename string) string {
	return filepath.Join(dir, ImageName(docID, page, filename))
}

// ParseImageName extracts the doc id and page number from a stored page name.
func ParseImageName(name string) (docID, page int, ok bool) {
	m := imageNameRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, 0, false
	}
	d, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return d, p, true
}
