package agent

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/WessleyAI/pagerag/engine/domain"
	"github.com/WessleyAI/pagerag/engine/retrieval"
	"github.com/WessleyAI/pagerag/engine/websearch"
	"github.com/WessleyAI/pagerag/pkg/fn"
)

const tracerName = "github.com/WessleyAI/pagerag/engine/agent"

// Answer resolves a question. It always returns exactly one AnswerResult:
// local evidence when retrieval found any, otherwise the web provider's
// snippets. Provider failures become a degraded answer carrying the error.
func (o *Orchestrator) Answer(ctx context.Context, query string) AnswerResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "agent.answer")
	defer span.End()

	q, err := domain.ValidateQuery(query)
	if err != nil {
		return AnswerResult{Status: StatusNoResults, Route: RouteLocal, Text: err.Error()}
	}

	state := LocalRetrieval
	local := o.engine.SearchAndRetrieve(ctx, q, o.opts.TopK)
	state = o.policy.Next(state, local)
	span.SetAttributes(attribute.String("route", state.Route()))

	var res AnswerResult
	if state == LocalRetrieval {
		res = AnswerResult{Status: StatusOK, Route: RouteLocal, Text: local.Text, Evidence: local.Evidence}
	} else {
		res = o.webFallback(ctx, q)
	}
	o.opts.Metrics.Answer(res.Route, res.Status)
	o.logger.Info("agent: answered", "route", res.Route, "status", res.Status, "evidence", len(res.Evidence), "degraded", res.Degraded)
	return res
}

func (o *Orchestrator) webFallback(ctx context.Context, q string) AnswerResult {
	search := fn.TracedStage("agent.web_search", fn.Lift(func(ctx context.Context, q string) (snippets []string, err error) {
		if o.web == nil {
			return nil, errNoProvider
		}
		// A misbehaving provider must not take the request down with it.
		defer func() {
			if r := recover(); r != nil {
				snippets, err = nil, fmt.Errorf("provider panic: %v", r)
			}
		}()
		return o.web.Search(ctx, q, o.opts.MaxWebResults)
	}))

	snippets, err := search(ctx, q).Unwrap()
	if err != nil {
		o.logger.Error("agent: web search failed", "error", fmt.Errorf("%w: %w", domain.ErrFallbackProvider, err))
		return AnswerResult{Status: StatusNoResults, Route: RouteWeb, Text: fmt.Sprintf(searchFailedFmt, err), Degraded: true}
	}
	if len(snippets) == 0 {
		return AnswerResult{Status: StatusNoResults, Route: RouteWeb, Text: retrieval.NoRelevantInfo}
	}
	return AnswerResult{Status: StatusOK, Route: RouteWeb, Text: websearch.Join(snippets)}
}
