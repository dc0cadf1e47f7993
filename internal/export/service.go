package export

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/protocol-pilot/constants"
	"github.com/joseph-ayodele/protocol-pilot/internal/artifacts"
	"github.com/joseph-ayodele/protocol-pilot/internal/protocol"
)

const (
	protocolSheet = "Protocol"
	gapsSheet     = "Gaps"
)

// Service renders a job's extracted protocol and gap report into a
// reviewer-friendly workbook.
type Service struct {
	store  *artifacts.Store
	logger *slog.Logger
}

func NewService(store *artifacts.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Workbook builds the XLSX for one job and returns its bytes. The
// winners artifact must exist; a missing gap report just leaves the
// Gaps sheet empty.
func (s *Service) Workbook(jobID string) ([]byte, error) {
	var winners protocol.WinnerSet
	if err := s.store.ReadJSON(jobID, constants.WinnersArtifact, &winners); err != nil {
		return nil, fmt.Errorf("read extracted protocol: %w", err)
	}
	var gap protocol.GapReport
	hasGap := s.store.Exists(jobID, constants.GapReportArtifact)
	if hasGap {
		if err := s.store.ReadJSON(jobID, constants.GapReportArtifact, &gap); err != nil {
			return nil, fmt.Errorf("read gap report: %w", err)
		}
	}

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.workbook_close_error", "job_id", jobID, "error", err)
		}
	}()

	if err := s.writeProtocolSheet(f, &winners); err != nil {
		return nil, err
	}
	if err := s.writeGapsSheet(f, hasGap, &gap); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	s.logger.Info("export.workbook.done",
		"job_id", jobID, "fields", len(winners.Fields), "bytes", buf.Len())
	return buf.Bytes(), nil
}

func (s *Service) writeProtocolSheet(f *excelize.File, winners *protocol.WinnerSet) error {
	idx, err := f.NewSheet(protocolSheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	header := []any{"Field", "Value", "Units", "Page", "Confidence", "Reason", "Evidence"}
	if err := f.SetSheetRow(protocolSheet, "A1", &header); err != nil {
		return err
	}
	row := 2
	for _, name := range sortedFields(winners.Fields) {
		w := winners.Fields[name]
		cell, _ := excelize.CoordinatesToCellName(1, row)
		vals := []any{name, renderValue(w.Value), w.Units, w.Page, w.Confidence, w.Reason, w.Evidence}
		if err := f.SetSheetRow(protocolSheet, cell, &vals); err != nil {
			return err
		}
		row++
	}
	return f.SetColWidth(protocolSheet, "A", "G", 24)
}

func (s *Service) writeGapsSheet(f *excelize.File, hasGap bool, gap *protocol.GapReport) error {
	if _, err := f.NewSheet(gapsSheet); err != nil {
		return err
	}
	header := []any{"Kind", "Field", "Detail", "Pages"}
	if err := f.SetSheetRow(gapsSheet, "A1", &header); err != nil {
		return err
	}
	if !hasGap {
		return nil
	}

	row := 2
	put := func(kind, field, detail string, pages []int) error {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		vals := []any{kind, field, detail, renderPages(pages)}
		row++
		return f.SetSheetRow(gapsSheet, cell, &vals)
	}

	for _, m := range gap.Missing {
		if err := put("missing", m, "no definitive value found", nil); err != nil {
			return err
		}
	}
	for _, m := range gap.MissingLowConf {
		if err := put("low_confidence", m, "value present but weakly supported", nil); err != nil {
			return err
		}
	}
	for _, a := range gap.Ambiguous {
		detail := a.Reason
		var pages []int
		for _, o := range a.Options {
			pages = append(pages, o.Page)
		}
		if err := put("ambiguous", a.Field, detail, pages); err != nil {
			return err
		}
	}
	for _, c := range gap.Conflicts {
		detail := fmt.Sprintf("%v vs %v: %s", renderValue(c.A.Value), renderValue(c.B.Value), c.Reason)
		if err := put("conflict", c.Field, detail, []int{c.A.Page, c.B.Page}); err != nil {
			return err
		}
	}
	for _, q := range gap.Questions {
		if err := put("question", q.Field, q.Question, q.EvidencePages); err != nil {
			return err
		}
	}
	return f.SetColWidth(gapsSheet, "A", "D", 32)
}

func sortedFields(fields map[string]protocol.Winner) []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

func renderValue(v any) string {
	switch t := v.(type) {
	case []float64:
		parts := make([]string, len(t))
		for i, c := range t {
			parts[i] = fmt.Sprintf("%g", c)
		}
		return strings.Join(parts, " x ")
	case []int:
		parts := make([]string, len(t))
		for i, c := range t {
			parts[i] = fmt.Sprintf("%d", c)
		}
		return strings.Join(parts, " x ")
	case []any:
		parts := make([]string, len(t))
		for i, c := range t {
			parts[i] = fmt.Sprintf("%v", c)
		}
		return strings.Join(parts, " x ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

func renderPages(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return strings.Join(parts, ", ")
}
