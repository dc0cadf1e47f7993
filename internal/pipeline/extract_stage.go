package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/protocol-pilot/internal/llm"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

// windowSpan is the per-window half-span for a single extraction call.
// Widening grows the seed set, not the window; keeping the window tight
// keeps each call inside the capability's reliable context size.
const windowSpan = 1

// ExtractStage collects field candidates from page windows. Every
// candidate is anchored to literal evidence text; items without an
// anchor are dropped before they reach the log.
type ExtractStage struct {
	proposer llm.Proposer
	logger   *slog.Logger
}

func NewExtractStage(proposer llm.Proposer, logger *slog.Logger) *ExtractStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStage{proposer: proposer, logger: logger}
}

// Collect runs one extraction call per seed page and returns the merged
// accepted candidates. Per-window capability failures are absorbed; the
// returned count reports how many windows produced nothing because of
// them. Collect is deterministic in seed order.
func (e *ExtractStage) Collect(ctx context.Context, d *protocol.Domain, pages []protocol.Page, seeds []int) ([]protocol.Candidate, int) {
	system := extractSystem(d)
	maxIdx := protocol.MaxPageIndex(pages)
	var all []protocol.Candidate
	failed := 0

	for _, seed := range seeds {
		window, center := protocol.BuildWindow(pages, seed, windowSpan)
		if strings.TrimSpace(window) == "" {
			continue
		}
		res := e.proposer.Propose(ctx, system, extractUser(window, center), llm.CandidatesSchema)
		if !res.Ok() {
			failed++
			e.logger.Warn("extract.window.failed",
				"seed", seed, "outcome", res.Outcome, "error", res.Err)
			continue
		}
		var cr llm.CandidatesResponse
		if err := res.Decode(&cr); err != nil {
			failed++
			e.logger.Warn("extract.window.decode_error", "seed", seed, "error", err)
			continue
		}
		accepted := e.accept(d, cr.Candidates, seed, maxIdx)
		e.logger.Info("extract.window.done",
			"seed", seed, "proposed", len(cr.Candidates), "accepted", len(accepted))
		all = append(all, accepted...)
	}
	return all, failed
}

// accept filters raw items down to candidates the pipeline will trust:
// known field, non-empty raw span and evidence, confidence clamped to
// [0,1]. A page anchor that is absent or outside the document falls
// back to the window seed.
func (e *ExtractStage) accept(d *protocol.Domain, items []llm.CandidateItem, seed, maxIdx int) []protocol.Candidate {
	var out []protocol.Candidate
	for _, it := range items {
		name := strings.TrimSpace(it.Field)
		if _, ok := d.Field(name); !ok {
			e.logger.Debug("extract.candidate.unknown_field", "field", it.Field, "seed", seed)
			continue
		}
		if strings.TrimSpace(it.RawSpan) == "" || strings.TrimSpace(it.Evidence) == "" {
			continue
		}
		conf := it.Confidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		page := seed
		if it.Page != nil && *it.Page >= 0 && *it.Page <= maxIdx {
			page = *it.Page
		}
		out = append(out, protocol.Candidate{
			Field:      name,
			Page:       page,
			RawSpan:    strings.TrimSpace(it.RawSpan),
			Value:      it.Value,
			Units:      strings.TrimSpace(it.Units),
			Evidence:   strings.TrimSpace(it.Evidence),
			Confidence: conf,
			Notes:      it.Notes,
		})
	}
	return out
}
