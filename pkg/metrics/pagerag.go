package metrics

import "time"

// RAG groups the metrics recorded by the indexing and query paths.
// A nil *RAG is valid and records nothing.
type RAG struct {
	reg *Registry

	PagesExtracted *Counter
	PagesIndexed   *Counter
	FailedBatches  *Counter
	EvidenceMissed *Counter
	IndexedPoints  *Gauge
}

// NewRAG registers the pagerag metric families on reg.
func NewRAG(reg *Registry) *RAG {
	return &RAG{
		reg:            reg,
		PagesExtracted: reg.Counter("pagerag_pages_extracted_total", "Pages rendered from uploaded PDFs"),
		PagesIndexed:   reg.Counter("pagerag_pages_indexed_total", "Pages embedded and upserted"),
		FailedBatches:  reg.Counter("pagerag_failed_batches_total", "Embedding batches that could not be stored"),
		EvidenceMissed: reg.Counter("pagerag_evidence_missing_total", "Search hits whose page image could not be loaded"),
		IndexedPoints:  reg.Gauge("pagerag_points", "Points in the collection as last seen"),
	}
}

// Answer counts an answered query by route ("local" or "web") and status.
func (m *RAG) Answer(route, status string) {
	if m == nil {
		return
	}
	m.reg.Counter(WithLabels("pagerag_answers_total", "route", route, "status", status), "Answered queries").Inc()
}

// Stage observes the duration of a pipeline stage.
func (m *RAG) Stage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.reg.Histogram(WithLabels("pagerag_stage_duration_seconds", "stage", stage), "Per-stage duration", nil).Since(start)
}

// Pages records extracted and indexed page counts.
func (m *RAG) Pages(extracted, indexed, failedBatches int) {
	if m == nil {
		return
	}
	m.PagesExtracted.Add(int64(extracted))
	m.PagesIndexed.Add(int64(indexed))
	m.FailedBatches.Add(int64(failedBatches))
}

// MissingEvidence counts a dropped evidence entry.
func (m *RAG) MissingEvidence() {
	if m == nil {
		return
	}
	m.EvidenceMissed.Inc()
}

// Points sets the last observed collection size.
func (m *RAG) Points(n uint64) {
	if m == nil {
		return
	}
	m.IndexedPoints.Set(int64(n))
}
