package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/artifacts"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

func seedJob(t *testing.T) (*Service, string) {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	jobID := artifacts.NewJobID()

	winners := protocol.EmptyWinnerSet()
	winners.Fields["kVp"] = protocol.Winner{Value: 120, Units: "kVp", Page: 3, Confidence: 0.9, Reason: "stated"}
	winners.Fields["voxel_size_mm"] = protocol.Winner{Value: []float64{0.5, 0.5, 1.0}, Units: "mm", Page: 4, Confidence: 0.8}
	require.NoError(t, store.WriteJSON(jobID, constants.WinnersArtifact, winners))

	gap := protocol.GapReport{
		SchemaVersion: constants.SchemaVersion,
		Policy:        protocol.GapPolicy,
		Missing:       []string{"kernel"},
		Conflicts: []protocol.Conflict{{
			Field:  "slice_thickness_mm",
			A:      protocol.GapOption{Value: 1.0, Page: 3},
			B:      protocol.GapOption{Value: 2.5, Page: 5},
			Reason: "difference exceeds tolerance",
		}},
		Questions: []protocol.Question{{
			Field: "kernel", Question: "Which kernel was used?", EvidencePages: []int{3},
		}},
	}
	require.NoError(t, store.WriteJSON(jobID, constants.GapReportArtifact, gap))
	return NewService(store, nil), jobID
}

func TestWorkbook(t *testing.T) {
	svc, jobID := seedJob(t)

	wb, err := svc.Workbook(jobID)
	require.NoError(t, err)
	require.NotEmpty(t, wb)

	f, err := excelize.OpenReader(bytes.NewReader(wb))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	assert.Contains(t, sheets, "Protocol")
	assert.Contains(t, sheets, "Gaps")
	assert.NotContains(t, sheets, "Sheet1")

	rows, err := f.GetRows("Protocol")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(rows), 3)
	assert.Equal(t, "Field", rows[0][0])
	// rows are field-name sorted
	assert.Equal(t, "kVp", rows[1][0])
	assert.Equal(t, "voxel_size_mm", rows[2][0])
	assert.Equal(t, "0.5 x 0.5 x 1", rows[2][1])

	gapRows, err := f.GetRows("Gaps")
	require.NoError(t, err)
	kinds := map[string]bool{}
	for _, r := range gapRows[1:] {
		if len(r) > 0 {
			kinds[r[0]] = true
		}
	}
	assert.True(t, kinds["missing"])
	assert.True(t, kinds["conflict"])
	assert.True(t, kinds["question"])
}

func TestWorkbookMissingWinners(t *testing.T) {
	store, err := artifacts.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = NewService(store, nil).Workbook(artifacts.NewJobID())
	assert.Error(t, err)
}

func TestWorkbookWithoutGapReport(t *testing.T) {
	store, err := artifacts.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	jobID := artifacts.NewJobID()
	require.NoError(t, store.WriteJSON(jobID, constants.WinnersArtifact, protocol.EmptyWinnerSet()))

	wb, err := NewService(store, nil).Workbook(jobID)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(wb))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("Gaps")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}
