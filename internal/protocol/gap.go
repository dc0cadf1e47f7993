package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/joseph-ayodele/protocol-pilot/constants"
)

// GapPolicy names the classification policy stamped into reports.
// Classification is rule-based only; the capability is never asked to
// decide gaps.
const GapPolicy = "rule_gap_v1"

// MaxQuestions bounds the drafted clarifying questions per report.
const MaxQuestions = 3

// AnalyzeGaps classifies the current winner set against the required
// field catalog and the grouped representatives. It is deterministic
// and never fails: with zero winners and zero representatives it
// reports every required field as missing and nothing else.
func AnalyzeGaps(d *Domain, winners WinnerSet, reps map[string][]Representative, prov Provenance) GapReport {
	r := newReport(d, prov)

	for _, f := range d.Fields {
		w, present := winners.Fields[f.Name]
		if f.Required && !present {
			r.Missing = append(r.Missing, f.Name)
		}
		if present && w.Confidence < d.Thresholds.LowConfidence {
			r.MissingLowConf = append(r.MissingLowConf, f.Name)
		}

		rr := reps[f.Name]
		if len(rr) < 2 {
			continue
		}
		a, b := rr[0], rr[1]
		switch {
		case isAmbiguousPair(d, &f, a, b):
			r.Ambiguous = append(r.Ambiguous, Ambiguity{
				Field:   f.Name,
				Options: []GapOption{asOption(a), asOption(b)},
				Reason: fmt.Sprintf("two values with similar confidence (%.2f vs %.2f)",
					a.Confidence, b.Confidence),
			})
		case isConflictPair(&f, a, b):
			r.Conflicts = append(r.Conflicts, Conflict{
				Field:  f.Name,
				A:      asOption(a),
				B:      asOption(b),
				Reason: conflictReason(&f),
			})
		}
	}

	r.Questions = draftQuestions(d, r, winners)
	r.Summary = GapSummary{
		Missing:   len(r.Missing),
		Ambiguous: len(r.Ambiguous),
		Conflicts: len(r.Conflicts),
		Questions: len(r.Questions),
	}
	return r
}

// StubGapReport is the contract-safe empty report written when gap
// analysis itself cannot run (for example, unreadable artifacts). All
// counts zero, all arrays empty.
func StubGapReport(d *Domain, prov Provenance) GapReport {
	r := newReport(d, prov)
	r.Policy = GapPolicy + "_stub"
	return r
}

func newReport(d *Domain, prov Provenance) GapReport {
	if prov.GeneratedAt == "" {
		prov.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	}
	return GapReport{
		SchemaVersion:  constants.SchemaVersion,
		Policy:         GapPolicy,
		Modality:       []string{string(d.Modality)},
		Missing:        []string{},
		MissingLowConf: []string{},
		Ambiguous:      []Ambiguity{},
		Conflicts:      []Conflict{},
		Questions:      []Question{},
		Provenance:     prov,
	}
}

func asOption(r Representative) GapOption {
	return GapOption{Value: r.Value, Page: r.Page, Confidence: r.Confidence, Evidence: r.Evidence}
}

// isAmbiguousPair: both representatives clear the high-confidence
// floor, their confidence delta is within the ambiguity band, and the
// values sit within the field's closeness tolerance (distinct strings
// for categorical fields).
func isAmbiguousPair(d *Domain, f *FieldSpec, a, b Representative) bool {
	t := d.Thresholds
	if a.Confidence < t.AmbiguityFloor || b.Confidence < t.AmbiguityFloor {
		return false
	}
	if math.Abs(a.Confidence-b.Confidence) > t.AmbiguityDelta {
		return false
	}
	return valuesClose(f, a.NormValue, b.NormValue)
}

func valuesClose(f *FieldSpec, a, b any) bool {
	switch f.Kind {
	case KindNumber:
		if f.CloseRel <= 0 {
			return false
		}
		av, aok := a.(float64)
		bv, bok := b.(float64)
		return aok && bok && relDiff(av, bv) <= f.CloseRel
	case KindVector:
		if f.CloseRel <= 0 {
			return false
		}
		av, aok := a.([]float64)
		bv, bok := b.([]float64)
		if !aok || !bok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if relDiff(av[i], bv[i]) > f.CloseRel {
				return false
			}
		}
		return true
	case KindString:
		// distinct categorical values are close by definition; whether the
		// pair is ambiguous is decided on confidence alone
		return true
	}
	// integers and matrices have no closeness band
	return false
}

// isConflictPair: the two values disagree beyond the field tolerance.
// Integer, matrix, and string kinds conflict on any difference (the
// representatives are distinct-valued by construction).
func isConflictPair(f *FieldSpec, a, b Representative) bool {
	switch f.Kind {
	case KindInteger, KindMatrix, KindString:
		return true
	case KindNumber:
		av, aok := a.NormValue.(float64)
		bv, bok := b.NormValue.(float64)
		if !aok || !bok {
			return false
		}
		if f.ConflictAbs > 0 && math.Abs(av-bv) >= f.ConflictAbs {
			return true
		}
		if f.ConflictRel > 0 && relDiff(av, bv) >= f.ConflictRel {
			return true
		}
		return false
	case KindVector:
		av, aok := a.NormValue.([]float64)
		bv, bok := b.NormValue.([]float64)
		if !aok || !bok || len(av) != len(bv) || f.ConflictRel <= 0 {
			return false
		}
		for i := range av {
			if relDiff(av[i], bv[i]) > f.ConflictRel {
				return true
			}
		}
		return false
	}
	return false
}

func conflictReason(f *FieldSpec) string {
	switch f.Kind {
	case KindInteger:
		return "integer values differ"
	case KindMatrix:
		return "matrix dimensions differ"
	case KindString:
		return "categorical values differ"
	case KindVector:
		return fmt.Sprintf("axis difference exceeds %.0f%% tolerance", f.ConflictRel*100)
	}
	if f.ConflictAbs > 0 && f.ConflictRel > 0 {
		return fmt.Sprintf("difference exceeds %g %s and %.0f%% thresholds", f.ConflictAbs, f.Unit, f.ConflictRel*100)
	}
	if f.ConflictAbs > 0 {
		return fmt.Sprintf("difference exceeds %g %s threshold", f.ConflictAbs, f.Unit)
	}
	return fmt.Sprintf("difference exceeds %.0f%% threshold", f.ConflictRel*100)
}

func relDiff(a, b float64) float64 {
	den := math.Max(math.Abs(a), math.Abs(b))
	if den == 0 {
		return 0
	}
	return math.Abs(a-b) / den
}

// draftQuestions emits up to MaxQuestions clarifications, most
// consequential gaps first: missing required fields, then conflicts,
// then ambiguities, then low-confidence winners. Within each bucket
// catalog order applies, required fields before optional ones.
func draftQuestions(d *Domain, r GapReport, winners WinnerSet) []Question {
	var qs []Question
	add := func(q Question) bool {
		if len(qs) >= MaxQuestions {
			return false
		}
		qs = append(qs, q)
		return true
	}

	for _, field := range orderedByCatalog(d, r.Missing) {
		ok := add(Question{
			Field: field,
			Question: fmt.Sprintf("Please confirm the %s used for the scans analyzed in the Results; we did not find a definitive value in the Methods.",
				field),
			Rationale:     fmt.Sprintf("%s missing from the extracted protocol; needed for reproducibility", field),
			EvidencePages: []int{},
		})
		if !ok {
			return qs
		}
	}
	for _, c := range r.Conflicts {
		ok := add(Question{
			Field: c.Field,
			Question: fmt.Sprintf("We found both %v (page %d) and %v (page %d) for %s. Which value applies to the analyzed dataset?",
				c.A.Value, c.A.Page, c.B.Value, c.B.Page, c.Field),
			Rationale:     "values disagree beyond the field tolerance: " + c.Reason,
			EvidencePages: uniquePages(c.A.Page, c.B.Page),
		})
		if !ok {
			return qs
		}
	}
	for _, a := range r.Ambiguous {
		if len(a.Options) < 2 {
			continue
		}
		ok := add(Question{
			Field: a.Field,
			Question: fmt.Sprintf("We found %v and %v mentioned for %s with similar support. Which one was used?",
				a.Options[0].Value, a.Options[1].Value, a.Field),
			Rationale:     a.Reason,
			EvidencePages: uniquePages(a.Options[0].Page, a.Options[1].Page),
		})
		if !ok {
			return qs
		}
	}
	for _, field := range orderedByCatalog(d, r.MissingLowConf) {
		w := winners.Fields[field]
		ok := add(Question{
			Field: field,
			Question: fmt.Sprintf("Please confirm %s = %v; the supporting evidence we found was weak.",
				field, w.Value),
			Rationale:     fmt.Sprintf("winner confidence %.2f below the %.2f floor", w.Confidence, d.Thresholds.LowConfidence),
			EvidencePages: uniquePages(w.Page),
		})
		if !ok {
			return qs
		}
	}
	return qs
}

// orderedByCatalog returns the subset of names sorted catalog-order,
// required fields first.
func orderedByCatalog(d *Domain, names []string) []string {
	in := map[string]bool{}
	for _, n := range names {
		in[n] = true
	}
	var req, opt []string
	for _, f := range d.Fields {
		if !in[f.Name] {
			continue
		}
		if f.Required {
			req = append(req, f.Name)
		} else {
			opt = append(opt, f.Name)
		}
	}
	return append(req, opt...)
}

func uniquePages(pages ...int) []int {
	seen := map[int]struct{}{}
	out := []int{}
	for _, p := range pages {
		if p < 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
