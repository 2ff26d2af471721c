// Package agent routes questions between local page retrieval and web
// search, and is the entry point for indexing uploaded documents.
package agent

import "github.com/WessleyAI/pagerag/engine/retrieval"

// State is a step of the answer policy.
type State int

const (
	// LocalRetrieval searches the indexed documents. It is the initial state.
	LocalRetrieval State = iota
	// WebFallback answers from the web-search provider. It is terminal.
	WebFallback
)

func (s State) String() string {
	switch s {
	case LocalRetrieval:
		return "local_retrieval"
	case WebFallback:
		return "web_fallback"
	default:
		return "unknown"
	}
}

// Route names the source of an answer.
func (s State) Route() string {
	if s == WebFallback {
		return RouteWeb
	}
	return RouteLocal
}

// Policy decides when local retrieval is insufficient.
type Policy struct{}

// Next returns the state that follows s given the local retrieval outcome.
// Local retrieval falls back to the web when it found nothing; WebFallback
// never transitions.
func (Policy) Next(s State, r retrieval.Retrieval) State {
	if s == LocalRetrieval && r.Status != retrieval.StatusFound {
		return WebFallback
	}
	return s
}
