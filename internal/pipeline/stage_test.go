package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/llm"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

func ctDomain(t *testing.T) *protocol.Domain {
	t.Helper()
	d, err := protocol.LoadDomain(constants.ModalityCT)
	require.NoError(t, err)
	return d
}

func TestExtractCollectFiltersInvalidItems(t *testing.T) {
	fp := &fakeProposer{
		extract: func(string) llm.Result {
			return okResult(t, llm.CandidatesResponse{Candidates: []llm.CandidateItem{
				{Field: "kVp", Page: pageRef(3), RawSpan: "120 kVp", Value: 120.0, Evidence: "tube voltage of 120 kVp", Confidence: 0.8},
				{Field: "not_a_field", Page: pageRef(3), RawSpan: "x", Evidence: "y", Confidence: 0.9},
				{Field: "kernel", Page: pageRef(3), RawSpan: "", Evidence: "kernel B30f", Confidence: 0.9},
				{Field: "mAs", Page: pageRef(3), RawSpan: "150 mAs", Value: 150.0, Evidence: "", Confidence: 0.9},
				{Field: "fov_mm", Page: pageRef(-2), RawSpan: "250 mm", Value: 250.0, Evidence: "FOV of 250 mm", Confidence: 1.7},
			}})
		},
	}
	stage := NewExtractStage(fp, nil)
	pages := []protocol.Page{{Index: 3, Text: "methods text"}}

	cands, failed := stage.Collect(context.Background(), ctDomain(t), pages, []int{3})

	assert.Zero(t, failed)
	require.Len(t, cands, 2)
	assert.Equal(t, "kVp", cands[0].Field)
	assert.Equal(t, "fov_mm", cands[1].Field)
	assert.Equal(t, 3, cands[1].Page, "negative page anchor falls back to the seed")
	assert.Equal(t, 1.0, cands[1].Confidence, "confidence clamped to [0,1]")
}

func TestExtractCollectAbsorbsWindowFailures(t *testing.T) {
	call := 0
	fp := &fakeProposer{
		extract: func(string) llm.Result {
			call++
			switch call {
			case 1:
				return failResult()
			case 2:
				return malformedResult()
			default:
				return okResult(t, llm.CandidatesResponse{Candidates: []llm.CandidateItem{
					{Field: "kernel", Page: pageRef(5), RawSpan: "B30f", Value: "B30f", Evidence: "kernel B30f", Confidence: 0.9},
				}})
			}
		},
	}
	stage := NewExtractStage(fp, nil)
	pages := []protocol.Page{
		{Index: 1, Text: "a"}, {Index: 3, Text: "b"}, {Index: 5, Text: "c"},
	}

	cands, failed := stage.Collect(context.Background(), ctDomain(t), pages, []int{1, 3, 5})

	assert.Equal(t, 2, failed)
	require.Len(t, cands, 1)
	assert.Equal(t, "kernel", cands[0].Field)
}

func TestExtractCollectSkipsEmptyWindows(t *testing.T) {
	fp := &fakeProposer{}
	stage := NewExtractStage(fp, nil)
	pages := []protocol.Page{{Index: 0, Text: "   "}}

	cands, failed := stage.Collect(context.Background(), ctDomain(t), pages, []int{0})
	assert.Empty(t, cands)
	assert.Zero(t, failed)
	assert.Zero(t, fp.extractCalls, "blank windows never reach the capability")
}

func TestExtractCollectFirstPageSeed(t *testing.T) {
	fp := &fakeProposer{
		extract: func(string) llm.Result {
			return okResult(t, llm.CandidatesResponse{Candidates: []llm.CandidateItem{
				{Field: "slice_thickness_mm", RawSpan: "1.0 mm", Value: 1.0, Units: "mm", Evidence: "slices of 1.0 mm", Confidence: 0.9},
			}})
		},
	}
	stage := NewExtractStage(fp, nil)
	pages := []protocol.Page{{Index: 0, Text: "slices of 1.0 mm were acquired"}}

	cands, failed := stage.Collect(context.Background(), ctDomain(t), pages, []int{0})

	assert.Zero(t, failed)
	assert.Equal(t, 1, fp.extractCalls, "a page-zero seed gets a window like any other")
	require.Len(t, cands, 1)
	assert.Equal(t, "slice_thickness_mm", cands[0].Field)
	assert.Equal(t, 0, cands[0].Page)
}

func TestExtractCollectPageAnchorBounds(t *testing.T) {
	fp := &fakeProposer{
		extract: func(string) llm.Result {
			return okResult(t, llm.CandidatesResponse{Candidates: []llm.CandidateItem{
				{Field: "kVp", RawSpan: "120 kVp", Value: 120.0, Evidence: "at 120 kVp", Confidence: 0.8},
				{Field: "mAs", Page: pageRef(9), RawSpan: "150 mAs", Value: 150.0, Evidence: "150 mAs", Confidence: 0.8},
				{Field: "kernel", Page: pageRef(0), RawSpan: "B30f", Value: "B30f", Evidence: "kernel B30f", Confidence: 0.8},
			}})
		},
	}
	stage := NewExtractStage(fp, nil)
	pages := []protocol.Page{
		{Index: 0, Text: "a"}, {Index: 1, Text: "b"}, {Index: 2, Text: "c"},
	}

	cands, _ := stage.Collect(context.Background(), ctDomain(t), pages, []int{1})

	require.Len(t, cands, 3)
	assert.Equal(t, 1, cands[0].Page, "omitted anchor falls back to the seed")
	assert.Equal(t, 1, cands[1].Page, "anchor past the last page falls back to the seed")
	assert.Equal(t, 0, cands[2].Page, "page zero is a valid anchor")
}

func sampleReps() map[string][]protocol.Representative {
	return map[string][]protocol.Representative{
		"kVp": {{Value: 120.0, NormValue: 120, Page: 3, Confidence: 0.8, Evidence: "120 kVp"}},
	}
}

func TestAdjudicateAcceptsCoercedWinner(t *testing.T) {
	fp := &fakeProposer{
		adjudicate: func(string) llm.Result {
			return okResult(t, llm.AdjudicationResponse{Fields: map[string]llm.AdjudicatedEntry{
				"kVp": {Value: "120", Page: 3, Evidence: "scans at 120 kVp", Confidence: 0.8, Reason: "stated in methods"},
			}})
		},
	}
	winners := NewAdjudicateStage(fp, nil).Decide(context.Background(), ctDomain(t), sampleReps())

	require.Contains(t, winners.Fields, "kVp")
	assert.Equal(t, 120, winners.Fields["kVp"].Value, "string value coerced to the catalog kind")
	assert.Equal(t, constants.SchemaVersion, winners.SchemaVersion)
}

func TestAdjudicateRejections(t *testing.T) {
	tests := []struct {
		name  string
		field string
		entry llm.AdjudicatedEntry
	}{
		{
			name:  "below confidence floor",
			field: "kVp",
			entry: llm.AdjudicatedEntry{Value: 120.0, Page: 3, Evidence: "120 kVp", Confidence: 0.2},
		},
		{
			name:  "hedging evidence",
			field: "kVp",
			entry: llm.AdjudicatedEntry{Value: 120.0, Page: 3, Evidence: "typically 120 kVp is used", Confidence: 0.9},
		},
		{
			name:  "fov statement for slice thickness",
			field: "slice_thickness_mm",
			entry: llm.AdjudicatedEntry{Value: 250.0, Page: 3, Evidence: "field of view 250 mm", Confidence: 0.9},
		},
		{
			name:  "uncoercible value",
			field: "matrix",
			entry: llm.AdjudicatedEntry{Value: "large", Page: 3, Evidence: "matrix large", Confidence: 0.9},
		},
		{
			name:  "unknown field",
			field: "tube_current_ma",
			entry: llm.AdjudicatedEntry{Value: 100.0, Page: 3, Evidence: "100 mA", Confidence: 0.9},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := &fakeProposer{
				adjudicate: func(string) llm.Result {
					return okResult(t, llm.AdjudicationResponse{
						Fields: map[string]llm.AdjudicatedEntry{tt.field: tt.entry},
					})
				},
			}
			winners := NewAdjudicateStage(fp, nil).Decide(context.Background(), ctDomain(t), sampleReps())
			assert.Empty(t, winners.Fields)
		})
	}
}

func TestAdjudicateFovEvidenceAllowedForFovField(t *testing.T) {
	fp := &fakeProposer{
		adjudicate: func(string) llm.Result {
			return okResult(t, llm.AdjudicationResponse{Fields: map[string]llm.AdjudicatedEntry{
				"fov_mm": {Value: 250.0, Page: 3, Evidence: "field of view 250 mm", Confidence: 0.9},
			}})
		},
	}
	winners := NewAdjudicateStage(fp, nil).Decide(context.Background(), ctDomain(t), sampleReps())
	assert.Contains(t, winners.Fields, "fov_mm")
}

func TestAdjudicateFailureYieldsEmptySet(t *testing.T) {
	fp := &fakeProposer{adjudicate: func(string) llm.Result { return failResult() }}
	winners := NewAdjudicateStage(fp, nil).Decide(context.Background(), ctDomain(t), sampleReps())
	assert.NotNil(t, winners.Fields)
	assert.Empty(t, winners.Fields)
	assert.Equal(t, constants.SchemaVersion, winners.SchemaVersion)
}

func TestAdjudicateNoRepresentativesSkipsCapability(t *testing.T) {
	fp := &fakeProposer{}
	winners := NewAdjudicateStage(fp, nil).Decide(context.Background(), ctDomain(t), nil)
	assert.Empty(t, winners.Fields)
	assert.Zero(t, fp.adjudicateCalls)
}

func TestTriageVerdict(t *testing.T) {
	fp := &fakeProposer{
		verdict: func() llm.Result {
			return okResult(t, llm.VerdictResponse{
				IsImaging:  true,
				Modalities: []string{"3T MRI", "pet"},
				Confidence: 0.85,
			})
		},
	}
	flags, err := NewTriageStage(fp, nil).Verdict(context.Background(), []protocol.Page{{Index: 0, Text: "abstract"}})
	require.NoError(t, err)
	assert.True(t, flags.IsImaging)
	assert.Equal(t, []string{"MRI"}, flags.Modalities, "unsupported modalities are dropped")
}

func TestTriageVerdictMalformedMeansNotImaging(t *testing.T) {
	fp := &fakeProposer{verdict: func() llm.Result { return malformedResult() }}
	flags, err := NewTriageStage(fp, nil).Verdict(context.Background(), []protocol.Page{{Index: 0, Text: "x"}})
	require.NoError(t, err)
	assert.False(t, flags.IsImaging)
	assert.Zero(t, flags.Confidence)
}

func TestTriageClassifyPagesSeedsTopScores(t *testing.T) {
	fp := &fakeProposer{
		pageClass: func(user string) llm.Result {
			// score pages by their index parity; page text carries the index
			return okResult(t, llm.PageClassResponse{Labels: []string{"methods"}, Score: 0.9})
		},
	}
	var pages []protocol.Page
	for i := 0; i < 8; i++ {
		pages = append(pages, protocol.Page{Index: i, Text: "page"})
	}
	pages = append(pages, protocol.Page{Index: 8, Text: "  "})

	sections := NewTriageStage(fp, nil).ClassifyPages(context.Background(), pages)

	assert.Len(t, sections.Pages, 8, "blank pages are not classified")
	assert.Len(t, sections.SeedPages, SeedPageCount)
	assert.IsIncreasing(t, sections.SeedPages)
}
