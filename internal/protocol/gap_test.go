package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/protocol-pilot/constants"
)

func ctDomain(t *testing.T) *Domain {
	t.Helper()
	d, err := LoadDomain(constants.ModalityCT)
	require.NoError(t, err)
	return d
}

func TestAnalyzeGapsEmptyInput(t *testing.T) {
	d := ctDomain(t)

	r := AnalyzeGaps(d, EmptyWinnerSet(), nil, Provenance{})

	assert.Equal(t, GapPolicy, r.Policy)
	assert.Equal(t, []string{string(constants.ModalityCT)}, r.Modality)
	assert.ElementsMatch(t, d.RequiredFields(), r.Missing)
	assert.Empty(t, r.MissingLowConf)
	assert.Empty(t, r.Ambiguous)
	assert.Empty(t, r.Conflicts)
	assert.Equal(t, len(r.Missing), r.Summary.Missing)
	require.Len(t, r.Questions, MaxQuestions)
	for _, q := range r.Questions {
		assert.NotEmpty(t, q.Question)
		assert.Contains(t, r.Missing, q.Field)
	}
}

func TestAnalyzeGapsDeterministic(t *testing.T) {
	d := ctDomain(t)
	a := AnalyzeGaps(d, EmptyWinnerSet(), nil, Provenance{GeneratedAt: "2026-01-01T00:00:00Z"})
	b := AnalyzeGaps(d, EmptyWinnerSet(), nil, Provenance{GeneratedAt: "2026-01-01T00:00:00Z"})
	assert.Equal(t, a, b)
}

func TestAnalyzeGapsNumberConflict(t *testing.T) {
	d := ctDomain(t)

	winners := EmptyWinnerSet()
	winners.Fields["slice_thickness_mm"] = Winner{Value: 2.5, Units: "mm", Page: 4, Confidence: 0.74}
	reps := map[string][]Representative{
		"slice_thickness_mm": {
			{Value: 2.5, NormValue: 2.5, Page: 4, Confidence: 0.74, Evidence: "2.5 mm recon"},
			{Value: 1.0, NormValue: 1.0, Page: 3, Confidence: 0.72, Evidence: "1.0 mm acquisition"},
		},
	}

	r := AnalyzeGaps(d, winners, reps, Provenance{})

	require.Len(t, r.Conflicts, 1)
	c := r.Conflicts[0]
	assert.Equal(t, "slice_thickness_mm", c.Field)
	assert.Equal(t, 4, c.A.Page)
	assert.Equal(t, 3, c.B.Page)
	assert.Empty(t, r.Ambiguous, "far-apart values are a conflict, not an ambiguity")
}

func TestAnalyzeGapsCloseValuesAreAmbiguous(t *testing.T) {
	d := ctDomain(t)

	winners := EmptyWinnerSet()
	winners.Fields["slice_thickness_mm"] = Winner{Value: 1.0, Units: "mm", Page: 3, Confidence: 0.70}
	reps := map[string][]Representative{
		"slice_thickness_mm": {
			{Value: 1.0, NormValue: 1.0, Page: 3, Confidence: 0.70, Evidence: "1.0 mm"},
			{Value: 1.05, NormValue: 1.05, Page: 5, Confidence: 0.68, Evidence: "1.05 mm"},
		},
	}

	r := AnalyzeGaps(d, winners, reps, Provenance{})

	require.Len(t, r.Ambiguous, 1)
	assert.Equal(t, "slice_thickness_mm", r.Ambiguous[0].Field)
	require.Len(t, r.Ambiguous[0].Options, 2)
	assert.Empty(t, r.Conflicts)
}

func TestAnalyzeGapsStringAmbiguity(t *testing.T) {
	d := ctDomain(t)

	winners := EmptyWinnerSet()
	winners.Fields["kernel"] = Winner{Value: "B30f", Page: 3, Confidence: 0.75}
	reps := map[string][]Representative{
		"kernel": {
			{Value: "B30f", NormValue: "B30f", Page: 3, Confidence: 0.75, Evidence: "kernel B30f"},
			{Value: "B70f", NormValue: "B70f", Page: 6, Confidence: 0.70, Evidence: "kernel B70f"},
		},
	}

	r := AnalyzeGaps(d, winners, reps, Provenance{})

	require.Len(t, r.Ambiguous, 1, "similarly confident categorical values are ambiguous")
	assert.Empty(t, r.Conflicts)
}

func TestAnalyzeGapsStringConflictWhenConfidenceApart(t *testing.T) {
	d := ctDomain(t)

	winners := EmptyWinnerSet()
	winners.Fields["kernel"] = Winner{Value: "B30f", Page: 3, Confidence: 0.90}
	reps := map[string][]Representative{
		"kernel": {
			{Value: "B30f", NormValue: "B30f", Page: 3, Confidence: 0.90, Evidence: "kernel B30f"},
			{Value: "B70f", NormValue: "B70f", Page: 6, Confidence: 0.55, Evidence: "kernel B70f"},
		},
	}

	r := AnalyzeGaps(d, winners, reps, Provenance{})
	assert.Empty(t, r.Ambiguous)
	require.Len(t, r.Conflicts, 1)
	assert.Equal(t, "categorical values differ", r.Conflicts[0].Reason)
}

func TestAnalyzeGapsIntegerNeverAmbiguous(t *testing.T) {
	d := ctDomain(t)

	winners := EmptyWinnerSet()
	winners.Fields["kVp"] = Winner{Value: 120, Page: 3, Confidence: 0.80}
	reps := map[string][]Representative{
		"kVp": {
			{Value: 120, NormValue: 120, Page: 3, Confidence: 0.80},
			{Value: 100, NormValue: 100, Page: 4, Confidence: 0.78},
		},
	}

	r := AnalyzeGaps(d, winners, reps, Provenance{})
	assert.Empty(t, r.Ambiguous)
	require.Len(t, r.Conflicts, 1)
	assert.Equal(t, "kVp", r.Conflicts[0].Field)
}

func TestAnalyzeGapsLowConfidenceWinner(t *testing.T) {
	d := ctDomain(t)

	winners := EmptyWinnerSet()
	winners.Fields["fov_mm"] = Winner{Value: 250.0, Units: "mm", Page: 4, Confidence: 0.45}

	r := AnalyzeGaps(d, winners, nil, Provenance{})

	assert.Contains(t, r.MissingLowConf, "fov_mm")
	assert.NotContains(t, r.Missing, "fov_mm", "a low-confidence winner is still present")
}

func TestDraftQuestionsPriorityAndCap(t *testing.T) {
	d := ctDomain(t)

	// one conflict plus several missing fields; missing-required leads
	winners := EmptyWinnerSet()
	winners.Fields["slice_thickness_mm"] = Winner{Value: 2.5, Units: "mm", Page: 4, Confidence: 0.74}
	reps := map[string][]Representative{
		"slice_thickness_mm": {
			{Value: 2.5, NormValue: 2.5, Page: 4, Confidence: 0.74},
			{Value: 1.0, NormValue: 1.0, Page: 3, Confidence: 0.72},
		},
	}

	r := AnalyzeGaps(d, winners, reps, Provenance{})

	require.Len(t, r.Questions, MaxQuestions)
	for _, q := range r.Questions {
		assert.Contains(t, r.Missing, q.Field, "missing-required questions take the whole budget")
	}
}

func TestStubGapReport(t *testing.T) {
	d := ctDomain(t)
	r := StubGapReport(d, Provenance{})

	assert.Equal(t, GapPolicy+"_stub", r.Policy)
	assert.Empty(t, r.Missing)
	assert.Empty(t, r.Ambiguous)
	assert.Empty(t, r.Conflicts)
	assert.Empty(t, r.Questions)
	assert.Zero(t, r.Summary)
	assert.NotEmpty(t, r.Provenance.GeneratedAt)
}
