package semantic

// MultiVector is one embedding made of several equally sized vectors (one per
// image patch or query token), compared with max-sim.
type MultiVector [][]float32

// Dim returns the width of the vectors, or 0 for an empty multivector.
func (m MultiVector) Dim() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Payload is the metadata stored with every page point.
type Payload struct {
	DocID   int    `json:"doc_id"`
	PageNum int    `json:"page_num"`
	Source  string `json:"source"`
}

// Point is a single page embedding to store in Qdrant. ID is a UUID string,
// so independent writers never collide.
type Point struct {
	ID      string
	Vector  MultiVector
	Payload Payload
}

// SearchResult represents a single vector search hit.
type SearchResult struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}
