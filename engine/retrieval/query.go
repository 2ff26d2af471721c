package retrieval

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"time"

	"github.com/WessleyAI/pagerag/engine/domain"
	"github.com/WessleyAI/pagerag/engine/pdfpage"
	"github.com/WessleyAI/pagerag/engine/semantic"
)

// Status reports whether local retrieval produced usable evidence.
type Status string

const (
	StatusFound    Status = "FOUND"
	StatusNotFound Status = "NOT_FOUND"
)

// NoRelevantInfo is the local answer text when nothing relevant was found.
const NoRelevantInfo = "No relevant information found"

// EvidenceMeta describes where an evidence image came from.
type EvidenceMeta struct {
	DocID      int     `json:"doc_id"`
	PageNumber int     `json:"page_number"`
	Filename   string  `json:"filename"`
	Score      float32 `json:"score"`
}

// Evidence is a stored page image backing a local answer.
type Evidence struct {
	Image     image.Image  `json:"-"`
	ImagePath string       `json:"image_path"`
	Metadata  EvidenceMeta `json:"metadata"`
}

// Retrieval is the outcome of SearchAndRetrieve.
type Retrieval struct {
	Status   Status                  `json:"status"`
	Text     string                  `json:"text"`
	Evidence []Evidence              `json:"evidence"`
	Results  []semantic.SearchResult `json:"results"`
}

// Query embeds text and searches the index. Failures are logged and yield an
// empty slice. Results are ordered by descending normalised score.
func (e *Engine) Query(ctx context.Context, text string) []semantic.SearchResult {
	results, err := e.query(ctx, text)
	if err != nil {
		e.logger.Warn("retrieval: query failed", "error", err)
		return []semantic.SearchResult{}
	}
	return results
}

func (e *Engine) query(ctx context.Context, text string) ([]semantic.SearchResult, error) {
	if err := e.Ensure(ctx); err != nil {
		return nil, err
	}
	qv, err := e.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, e.opts.SearchTimeout)
	defer cancel()
	start := time.Now()
	results, err := e.index.Search(searchCtx, qv, e.opts.SearchLimit)
	e.opts.Metrics.Stage("search", start)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w: %w", domain.ErrIndex, err)
	}
	n := float32(len(qv))
	for i := range results {
		results[i].Score /= n
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if results == nil {
		results = []semantic.SearchResult{}
	}
	return results, nil
}

// SearchAndRetrieve runs Query, keeps at most topK hits scoring at least
// Options.MinScore, and loads the stored image of each. Hits whose image
// cannot be loaded are dropped with a warning. A topK of zero or less uses
// Options.TopK.
func (e *Engine) SearchAndRetrieve(ctx context.Context, text string, topK int) Retrieval {
	if topK <= 0 {
		topK = e.opts.TopK
	}
	results := e.Query(ctx, text)
	if len(results) > topK {
		results = results[:topK]
	}

	kept := make([]semantic.SearchResult, 0, len(results))
	evidence := make([]Evidence, 0, len(results))
	for _, r := range results {
		if r.Score < e.opts.MinScore {
			continue
		}
		kept = append(kept, r)
		path := pdfpage.ImagePath(e.opts.ImageDir, r.Payload.DocID, r.Payload.PageNum, r.Payload.Source)
		img, err := e.opts.LoadImage(path)
		if err != nil {
			e.opts.Metrics.MissingEvidence()
			e.logger.Warn("retrieval: evidence image unavailable",
				"path", path, "doc_id", r.Payload.DocID, "page", r.Payload.PageNum,
				"error", fmt.Errorf("%w: %w", domain.ErrEvidence, err))
			continue
		}
		evidence = append(evidence, Evidence{
			Image:     img,
			ImagePath: path,
			Metadata: EvidenceMeta{
				DocID:      r.Payload.DocID,
				PageNumber: r.Payload.PageNum,
				Filename:   r.Payload.Source,
				Score:      r.Score,
			},
		})
	}

	if len(evidence) == 0 {
		return Retrieval{Status: StatusNotFound, Text: NoRelevantInfo, Evidence: evidence, Results: kept}
	}
	return Retrieval{Status: StatusFound, Text: summarize(evidence), Evidence: evidence, Results: kept}
}

func summarize(evidence []Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant page(s):", len(evidence))
	for _, ev := range evidence {
		m := ev.Metadata
		fmt.Fprintf(&b, "\n- %s, page %d (score %.3f)", m.Filename, m.PageNumber, m.Score)
	}
	return b.String()
}
