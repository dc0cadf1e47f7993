package pipeline

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/llm"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

// hedgingEvidence matches evidence that quotes examples or typical
// values instead of the study's own acquisition.
var hedgingEvidence = regexp.MustCompile(`(?i)\b(e\.g\.|for example|typically|typical|such as|commonly|usually)\b`)

// fovStatement matches evidence that talks about field of view; FOV
// text routinely gets misread as a spatial-resolution value.
var fovStatement = regexp.MustCompile(`(?i)\b(fov|field[- ]of[- ]view)\b`)

// fovSensitiveFields lists fields whose values must not come from an
// FOV statement.
var fovSensitiveFields = map[string]bool{
	"voxel_size_mm":      true,
	"slice_thickness_mm": true,
}

// AdjudicateStage reduces grouped candidates to at most one winner per
// field. Adjudication failure is never fatal: the caller always gets a
// contract-preserving winner set, possibly empty.
type AdjudicateStage struct {
	proposer llm.Proposer
	logger   *slog.Logger
}

func NewAdjudicateStage(proposer llm.Proposer, logger *slog.Logger) *AdjudicateStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdjudicateStage{proposer: proposer, logger: logger}
}

// Decide picks winners from the per-field representatives. Entries the
// capability proposes are accepted only when they pass the confidence
// floor, evidence checks, and type coercion against the field catalog.
func (a *AdjudicateStage) Decide(ctx context.Context, d *protocol.Domain, reps map[string][]protocol.Representative) protocol.WinnerSet {
	if len(reps) == 0 {
		return protocol.EmptyWinnerSet()
	}

	res := a.proposer.Propose(ctx, adjudicateSystem(d), adjudicateUser(d, reps), llm.AdjudicationSchema)
	if !res.Ok() {
		a.logger.Warn("adjudicate.failed", "outcome", res.Outcome, "error", res.Err)
		return protocol.EmptyWinnerSet()
	}
	var ar llm.AdjudicationResponse
	if err := res.Decode(&ar); err != nil {
		a.logger.Warn("adjudicate.decode_error", "error", err)
		return protocol.EmptyWinnerSet()
	}

	winners := protocol.WinnerSet{
		SchemaVersion: constants.SchemaVersion,
		Fields:        make(map[string]protocol.Winner, len(ar.Fields)),
	}
	for name, entry := range ar.Fields {
		spec, ok := d.Field(name)
		if !ok {
			a.logger.Debug("adjudicate.unknown_field", "field", name)
			continue
		}
		if entry.Confidence < d.Thresholds.MinWinnerConfidence {
			a.logger.Info("adjudicate.rejected",
				"field", name, "reason", "low_confidence", "confidence", entry.Confidence)
			continue
		}
		if hedgingEvidence.MatchString(entry.Evidence) {
			a.logger.Info("adjudicate.rejected", "field", name, "reason", "hedging_evidence")
			continue
		}
		if fovSensitiveFields[name] && fovStatement.MatchString(entry.Evidence) {
			a.logger.Info("adjudicate.rejected", "field", name, "reason", "fov_evidence")
			continue
		}
		norm, ok := protocol.Normalize(spec, entry.Value, entry.Units)
		if !ok {
			a.logger.Info("adjudicate.rejected",
				"field", name, "reason", "coercion_failed", "value", entry.Value)
			continue
		}
		units := entry.Units
		if spec.Unit != "" {
			units = spec.Unit
		}
		winners.Fields[name] = protocol.Winner{
			Value:      norm,
			Units:      units,
			Page:       entry.Page,
			Evidence:   entry.Evidence,
			Confidence: entry.Confidence,
			Reason:     entry.Reason,
		}
	}

	a.logger.Info("adjudicate.done",
		"proposed", len(ar.Fields), "accepted", len(winners.Fields))
	return winners
}
