package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/llm"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

// SeedPageCount bounds how many pages classification may nominate as
// extraction seeds.
const SeedPageCount = 6

// DocFlags is the preflight verdict artifact (doc_flags.json).
type DocFlags struct {
	SchemaVersion   int      `json:"schema_version"`
	IsImaging       bool     `json:"is_imaging"`
	Modalities      []string `json:"modalities"`
	Confidence      float64  `json:"confidence"`
	Reasons         []string `json:"reasons,omitempty"`
	CounterSignals  []string `json:"counter_signals,omitempty"`
	Title           string   `json:"title,omitempty"`
	TitleConfidence float64  `json:"title_confidence,omitempty"`
}

// PageSection is one classified page inside sections.json.
type PageSection struct {
	Page       int      `json:"page"`
	Labels     []string `json:"labels"`
	Modalities []string `json:"modalities,omitempty"`
	Score      float64  `json:"score"`
	Evidence   []string `json:"evidence,omitempty"`
}

// Sections is the page-classification artifact (sections.json).
type Sections struct {
	SchemaVersion int           `json:"schema_version"`
	Pages         []PageSection `json:"pages"`
	SeedPages     []int         `json:"seed_pages"`
}

// TriageStage runs preflight screening: the imaging verdict, title
// inference, and per-page classification that seeds extraction.
// Preflight never charges the step budget.
type TriageStage struct {
	proposer llm.Proposer
	logger   *slog.Logger
}

func NewTriageStage(proposer llm.Proposer, logger *slog.Logger) *TriageStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriageStage{proposer: proposer, logger: logger}
}

// Verdict decides whether the document is in scope at all. A capability
// failure is returned as an error; a malformed verdict is treated as
// "cannot tell" and reported as not imaging with zero confidence.
func (t *TriageStage) Verdict(ctx context.Context, pages []protocol.Page) (*DocFlags, error) {
	res := t.proposer.Propose(ctx, verdictSystem, verdictUser(pages), llm.VerdictSchema)
	switch res.Outcome {
	case llm.OutcomeValid:
	case llm.OutcomeMalformed:
		t.logger.Warn("triage.verdict.malformed", "error", res.Err)
		return &DocFlags{SchemaVersion: constants.SchemaVersion}, nil
	default:
		return nil, fmt.Errorf("imaging verdict: %w", res.Err)
	}

	var vr llm.VerdictResponse
	if err := res.Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	flags := &DocFlags{
		SchemaVersion:  constants.SchemaVersion,
		IsImaging:      vr.IsImaging,
		Confidence:     vr.Confidence,
		Reasons:        vr.Reasons,
		CounterSignals: vr.CounterSignals,
	}
	for _, m := range vr.Modalities {
		if cm, ok := constants.CanonicalModality(m); ok {
			flags.Modalities = append(flags.Modalities, string(cm))
		}
	}
	return flags, nil
}

// Title infers the paper title from the first pages. Best effort: any
// failure just leaves the title empty.
func (t *TriageStage) Title(ctx context.Context, pages []protocol.Page) (string, float64) {
	res := t.proposer.Propose(ctx, titleSystem, titleUser(pages), llm.TitleSchema)
	if !res.Ok() {
		t.logger.Warn("triage.title.failed", "outcome", res.Outcome, "error", res.Err)
		return "", 0
	}
	var tr llm.TitleResponse
	if err := res.Decode(&tr); err != nil {
		return "", 0
	}
	return strings.TrimSpace(tr.Title), tr.Confidence
}

// ClassifyPages labels every non-empty page and nominates seed pages by
// protocol-detail score. Per-page failures are absorbed: an unreadable
// page simply contributes no labels and no seed.
func (t *TriageStage) ClassifyPages(ctx context.Context, pages []protocol.Page) *Sections {
	out := &Sections{SchemaVersion: constants.SchemaVersion}
	scores := map[int]float64{}

	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		res := t.proposer.Propose(ctx, pageClassSystem, pageClassUser(p), llm.PageClassSchema)
		if !res.Ok() {
			t.logger.Warn("triage.page_class.failed", "page", p.Index, "outcome", res.Outcome, "error", res.Err)
			continue
		}
		var pc llm.PageClassResponse
		if err := res.Decode(&pc); err != nil {
			t.logger.Warn("triage.page_class.decode_error", "page", p.Index, "error", err)
			continue
		}
		out.Pages = append(out.Pages, PageSection{
			Page:       p.Index,
			Labels:     pc.Labels,
			Modalities: pc.Modalities,
			Score:      pc.Score,
			Evidence:   pc.Evidence,
		})
		if pc.Score > 0 {
			scores[p.Index] = pc.Score
		}
	}

	out.SeedPages = topPages(scores, SeedPageCount)
	t.logger.Info("triage.page_class.done",
		"pages_classified", len(out.Pages), "seed_pages", out.SeedPages)
	return out
}
