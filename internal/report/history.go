package report

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/store"
)

const timeLayout = "2006-01-02 15:04"

// History contains the runs selected for rendering.
type History struct {
	Runs []model.RunRecord
}

// BuildHistory loads runs from st filtered by cfg.
func BuildHistory(ctx context.Context, st *store.Store, cfg model.HistoryConfig) (History, error) {
	runs, err := st.ListRuns(ctx, cfg)
	if err != nil {
		return History{}, err
	}
	return History{Runs: runs}, nil
}

// DroppedShare returns the share of data rows a run dropped, in [0, 1].
func DroppedShare(r model.RunRecord) float64 {
	if r.DataRows == 0 {
		return 0
	}
	return float64(r.DroppedRows) / float64(r.DataRows)
}

// ShortID returns the leading part of a run id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunRow returns the table cells shown for a run.
func RunRow(r model.RunRecord) []string {
	return []string{
		ShortID(r.ID),
		r.EndedAt.Local().Format(timeLayout),
		r.Schema,
		truncate(r.SourcePath, 32),
		strconv.Itoa(r.Visits),
		strconv.Itoa(r.DataRows),
		strconv.Itoa(r.DroppedRows),
		strconv.Itoa(r.NapRuns),
		percent(DroppedShare(r)),
	}
}

// RunHeaders are the column titles matching RunRow.
var RunHeaders = []string{"Run", "Ended", "Schema", "Source", "Visits", "Rows", "Dropped", "Naps", "Dropped %"}

// RenderHistory prints the run table followed by a dropped-share trend when
// more than one run is present.
func RenderHistory(w io.Writer, h History, width int, useColor bool) error {
	if len(h.Runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs found.")
		return err
	}
	rows := make([][]string, 0, len(h.Runs))
	trend := make([]float64, 0, len(h.Runs))
	for _, r := range h.Runs {
		rows = append(rows, RunRow(r))
		trend = append(trend, DroppedShare(r)*100)
	}
	rightAlign := map[int]bool{4: true, 5: true, 6: true, 7: true, 8: true}
	for _, line := range formatTable(RunHeaders, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if len(h.Runs) < 2 {
		return nil
	}
	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	plotWidth := 0
	if width > 0 {
		plotWidth = PlotWidthFor(width)
	}
	return PlotPercent(w, "Dropped rows per run", []Series{{Name: "Dropped", Values: trend}}, plotWidth, 0, useColor)
}

// VisitHeaders are the column titles matching VisitRow.
var VisitHeaders = []string{"#", "Participant", "Age", "Rows", "Dropped", "Naps", "Raw", "Filtered", "Kept"}

// VisitRow returns the table cells shown for a stored visit.
func VisitRow(v model.StoredVisit, enc duration.Encoding) []string {
	raw := duration.Duration(v.RawDurationS)
	filtered := duration.Duration(v.FilteredDurationS)
	return []string{
		strconv.Itoa(v.Seq),
		truncate(v.Key.ParticipantID, 24),
		v.Key.Age,
		strconv.Itoa(v.Rows),
		strconv.Itoa(v.DroppedRows),
		strconv.Itoa(v.NapRuns),
		enc.Format(raw),
		enc.Format(filtered),
		percent(KeptShare(raw, filtered)),
	}
}

// RenderVisits prints the stored visits of one run.
func RenderVisits(w io.Writer, run model.RunRecord, visits []model.StoredVisit, enc duration.Encoding) error {
	if _, err := fmt.Fprintf(w, "Run %s (%s, %s)\n", run.ID, run.Schema, run.SourcePath); err != nil {
		return err
	}
	if len(visits) == 0 {
		_, err := fmt.Fprintln(w, "No visits recorded.")
		return err
	}
	rows := make([][]string, 0, len(visits))
	for _, v := range visits {
		rows = append(rows, VisitRow(v, enc))
	}
	rightAlign := map[int]bool{0: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true}
	for _, line := range formatTable(VisitHeaders, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
