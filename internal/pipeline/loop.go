package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/artifacts"
	"github.com/joseph-ayodele/protocol-pilot/internal/common"
	"github.com/joseph-ayodele/protocol-pilot/internal/document"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

// JobRegistry mirrors loop progress into the job database. Optional:
// a nil registry turns every call into a no-op, and registry errors
// never fail a run.
type JobRegistry interface {
	UpdateState(ctx context.Context, displayID string, state constants.JobState, stopReason string) error
	SetTitleModality(ctx context.Context, displayID, title, modality string) error
}

// LoopResult summarizes one finished run.
type LoopResult struct {
	StopReason constants.StopReason `json:"stop_reason"`
	Passes     int                  `json:"passes"`
	FinalSpan  int                  `json:"final_span"`
	Modality   constants.Modality   `json:"modality"`
	Gaps       protocol.GapSummary  `json:"gaps"`
}

// Loop drives one job from pages to a final gap report: preflight,
// baseline extraction, then widened retries under the step budget.
// Every transition is recorded in the job's status artifact before the
// next stage runs, so a crashed run leaves an honest trail.
type Loop struct {
	cfg        common.LoopConfig
	store      *artifacts.Store
	triage     *TriageStage
	extract    *ExtractStage
	adjudicate *AdjudicateStage
	registry   JobRegistry
	logger     *slog.Logger
}

func NewLoop(cfg common.LoopConfig, store *artifacts.Store, triage *TriageStage, extract *ExtractStage, adjudicate *AdjudicateStage, registry JobRegistry, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:        cfg,
		store:      store,
		triage:     triage,
		extract:    extract,
		adjudicate: adjudicate,
		registry:   registry,
		logger:     logger,
	}
}

// Run executes the control loop for one job whose pages.json artifact
// already exists. Any error marks the job failed with reason exception
// before returning.
func (l *Loop) Run(ctx context.Context, jobID string) (*LoopResult, error) {
	res, err := l.run(ctx, jobID)
	if err != nil {
		l.logger.Error("loop.exception", "job_id", jobID, "error", err)
		l.mergeStatus(jobID, map[string]any{
			"state":       string(constants.JobStateError),
			"step":        constants.StepCompleted,
			"stop_reason": string(constants.StopException),
			"error":       err.Error(),
		})
		l.updateRegistry(ctx, jobID, constants.JobStateError, constants.StopException)
		return nil, err
	}
	return res, nil
}

func (l *Loop) run(ctx context.Context, jobID string) (*LoopResult, error) {
	logger := l.logger.With("job_id", jobID)

	var doc document.PagesDocument
	if err := l.store.ReadJSON(jobID, constants.PagesArtifact, &doc); err != nil {
		return nil, fmt.Errorf("read pages artifact: %w", err)
	}
	if len(doc.Pages) == 0 {
		return nil, common.WrapError(common.ErrInvalidInput, "pages artifact has no pages")
	}

	l.mergeStatus(jobID, map[string]any{
		"state":       string(constants.JobStateRunning),
		"step":        constants.StepStart,
		"stop_reason": "",
		"error":       "",
		"pages":       len(doc.Pages),
	})
	l.updateRegistry(ctx, jobID, constants.JobStateRunning, "")
	logger.Info("loop.start", "pages", len(doc.Pages), "max_steps", l.cfg.MaxSteps)

	// Preflight: imaging verdict and title. Not charged to the budget.
	flags := &DocFlags{SchemaVersion: constants.SchemaVersion, IsImaging: true}
	if l.cfg.Preflight {
		var err error
		flags, err = l.triage.Verdict(ctx, doc.Pages)
		if err != nil {
			return nil, err
		}
		flags.Title, flags.TitleConfidence = l.triage.Title(ctx, doc.Pages)
		if flags.Title == "" && doc.Title != "" {
			flags.Title = doc.Title
		}
		if err := l.store.WriteJSON(jobID, constants.DocFlagsArtifact, flags); err != nil {
			return nil, fmt.Errorf("write doc flags: %w", err)
		}
		l.mergeStatus(jobID, map[string]any{
			"step":       constants.StepPreflight,
			"is_imaging": flags.IsImaging,
			"title":      flags.Title,
		})
		if !flags.IsImaging {
			logger.Info("loop.stop", "stop_reason", constants.StopNonImaging, "confidence", flags.Confidence)
			return l.finish(ctx, jobID, &LoopResult{StopReason: constants.StopNonImaging})
		}
	}

	// Triage: classify pages and pick extraction seeds.
	sections := l.triage.ClassifyPages(ctx, doc.Pages)
	if err := l.store.WriteJSON(jobID, constants.SectionsArtifact, sections); err != nil {
		return nil, fmt.Errorf("write sections: %w", err)
	}
	modality := pickModality(flags, sections)
	dom, err := protocol.LoadDomain(modality)
	if err != nil {
		return nil, err
	}
	seeds := sections.SeedPages
	if len(seeds) == 0 {
		// nothing scored; fall back to every page with text
		for _, p := range doc.Pages {
			if strings.TrimSpace(p.Text) != "" {
				seeds = append(seeds, p.Index)
			}
		}
	}
	l.mergeStatus(jobID, map[string]any{
		"step":     constants.StepTriage,
		"modality": string(modality),
		"seeds":    seeds,
	})
	l.setTitleModality(ctx, jobID, flags.Title, modality)
	logger.Info("loop.triage.done", "modality", modality, "seeds", seeds)

	maxIdx := protocol.MaxPageIndex(doc.Pages)
	span := l.cfg.InitialSpan
	lastMissing := -1
	var gap protocol.GapReport

	for pass := 1; pass <= l.cfg.MaxSteps; pass++ {
		passSeeds := seeds
		stepStart, stepDone := constants.StepBaselineStart, constants.StepBaselineDone
		if pass > 1 {
			passSeeds = protocol.WidenSeeds(seeds, span, maxIdx)
			stepStart, stepDone = constants.StepWidenStart, constants.StepWidenDone
		}
		l.mergeStatus(jobID, map[string]any{
			"step":        stepStart,
			"last_action": stepStart,
			"pass":        pass,
			"steps_used":  pass,
			"max_steps":   l.cfg.MaxSteps,
			"span":        span,
			"pass_seeds":  passSeeds,
		})

		gap, err = l.runPass(ctx, jobID, dom, doc.Pages, passSeeds)
		if err != nil {
			return nil, err
		}

		missing := gap.Summary.Missing
		open := missing + gap.Summary.Conflicts
		improved := lastMissing >= 0 && missing < lastMissing
		done := map[string]any{
			"step":          stepDone,
			"last_action":   stepDone,
			"pass":          pass,
			"steps_used":    pass,
			"max_steps":     l.cfg.MaxSteps,
			"span":          span,
			"gap_summary":   gap.Summary,
			"gaps_after":    open,
			"after_missing": missing,
			"improved":      improved,
		}
		if lastMissing >= 0 {
			done["before_missing"] = lastMissing
		}
		l.mergeStatus(jobID, done)

		logger.Info("loop.pass.done",
			"pass", pass, "span", span,
			"missing", missing, "conflicts", gap.Summary.Conflicts,
			"ambiguous", gap.Summary.Ambiguous, "improved", improved)
		// Open ambiguities do not block resolution; they are surfaced as
		// reader questions instead.
		if open == 0 {
			return l.finish(ctx, jobID, &LoopResult{
				StopReason: constants.StopGapsResolved,
				Passes:     pass,
				FinalSpan:  span,
				Modality:   modality,
				Gaps:       gap.Summary,
			})
		}
		// a retry that did not shrink the missing set is a stall; widen
		// the seed reach for the next pass
		if lastMissing >= 0 && !improved && span < l.cfg.MaxSpan {
			span++
		}
		lastMissing = missing
	}

	return l.finish(ctx, jobID, &LoopResult{
		StopReason: constants.StopBudgetExhausted,
		Passes:     l.cfg.MaxSteps,
		FinalSpan:  span,
		Modality:   modality,
		Gaps:       gap.Summary,
	})
}

// runPass executes one extract-adjudicate-gap cycle. The candidate log
// is truncated first, so each pass's artifacts reflect that pass alone.
func (l *Loop) runPass(ctx context.Context, jobID string, dom *protocol.Domain, pages []protocol.Page, seeds []int) (protocol.GapReport, error) {
	if err := l.store.ResetCandidates(jobID); err != nil {
		return protocol.GapReport{}, fmt.Errorf("reset candidate log: %w", err)
	}
	cands, failedWindows := l.extract.Collect(ctx, dom, pages, seeds)
	if err := l.store.AppendCandidates(jobID, cands); err != nil {
		return protocol.GapReport{}, fmt.Errorf("append candidates: %w", err)
	}
	if failedWindows > 0 {
		l.logger.Warn("loop.pass.partial_extraction", "job_id", jobID, "failed_windows", failedWindows)
	}

	reps := protocol.TopRepresentatives(dom, cands, protocol.DefaultRepresentativeLimit)
	winners := l.adjudicate.Decide(ctx, dom, reps)
	if err := l.store.WriteJSON(jobID, constants.WinnersArtifact, winners); err != nil {
		return protocol.GapReport{}, fmt.Errorf("write winners: %w", err)
	}

	gap := protocol.AnalyzeGaps(dom, winners, reps, protocol.Provenance{
		FromExtracted:  true,
		FromCandidates: len(cands) > 0,
	})
	if err := l.store.WriteJSON(jobID, constants.GapReportArtifact, gap); err != nil {
		return protocol.GapReport{}, fmt.Errorf("write gap report: %w", err)
	}
	return gap, nil
}

func (l *Loop) finish(ctx context.Context, jobID string, res *LoopResult) (*LoopResult, error) {
	l.mergeStatus(jobID, map[string]any{
		"state":       string(constants.JobStateDone),
		"step":        constants.StepCompleted,
		"stop_reason": string(res.StopReason),
		"passes":      res.Passes,
	})
	l.updateRegistry(ctx, jobID, constants.JobStateDone, res.StopReason)
	l.logger.Info("loop.done", "job_id", jobID, "stop_reason", res.StopReason, "passes", res.Passes)
	return res, nil
}

// pickModality folds the verdict and per-page signals into one
// modality decision.
func pickModality(flags *DocFlags, sections *Sections) constants.Modality {
	var hints []string
	if flags != nil {
		hints = append(hints, flags.Modalities...)
	}
	if sections != nil {
		for _, p := range sections.Pages {
			hints = append(hints, p.Modalities...)
		}
	}
	return constants.PickModality(hints)
}

func (l *Loop) mergeStatus(jobID string, fields map[string]any) {
	if err := l.store.MergeStatus(jobID, fields); err != nil {
		l.logger.Warn("loop.status_merge_failed", "job_id", jobID, "error", err)
	}
}

func (l *Loop) updateRegistry(ctx context.Context, jobID string, state constants.JobState, reason constants.StopReason) {
	if l.registry == nil {
		return
	}
	if err := l.registry.UpdateState(ctx, jobID, state, string(reason)); err != nil {
		l.logger.Warn("loop.registry_update_failed", "job_id", jobID, "error", err)
	}
}

func (l *Loop) setTitleModality(ctx context.Context, jobID, title string, modality constants.Modality) {
	if l.registry == nil {
		return
	}
	if err := l.registry.SetTitleModality(ctx, jobID, title, string(modality)); err != nil {
		l.logger.Warn("loop.registry_update_failed", "job_id", jobID, "error", err)
	}
}
