// Package report renders run results and run history as text.
package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/model"
)

const sparkChars = " .:-=+*#%@"

// KeptShare returns the filtered share of a visit's raw duration in [0, 1].
// A visit without duration counts as fully kept.
func KeptShare(raw, filtered duration.Duration) float64 {
	if raw <= 0 {
		return 1
	}
	return float64(filtered) / float64(raw)
}

// Sparkline renders values in [0, 1] as a single line of ASCII levels.
func Sparkline(values []float64) string {
	var b strings.Builder
	top := len(sparkChars) - 1
	for _, v := range values {
		idx := int(math.Round(v * float64(top)))
		if idx < 0 {
			idx = 0
		}
		if idx > top {
			idx = top
		}
		b.WriteByte(sparkChars[idx])
	}
	return b.String()
}

func percent(share float64) string {
	return fmt.Sprintf("%.1f%%", share*100)
}

// RenderRun prints the per-visit table and totals of a finished run.
// Durations are shown with format.
func RenderRun(w io.Writer, res model.RunResult, format func(duration.Duration) string) error {
	if len(res.Visits) == 0 {
		_, err := fmt.Fprintln(w, "No visits found.")
		return err
	}

	rows := make([][]string, 0, len(res.Visits))
	shares := make([]float64, 0, len(res.Visits))
	var raw, filtered duration.Duration
	for _, v := range res.Visits {
		share := KeptShare(v.Raw[model.FieldDuration], v.Filtered[model.FieldDuration])
		shares = append(shares, share)
		raw = duration.Add(raw, v.Raw[model.FieldDuration])
		filtered = duration.Add(filtered, v.Filtered[model.FieldDuration])
		rows = append(rows, []string{
			strconv.Itoa(v.Seq),
			truncate(v.Key.ParticipantID, 24),
			v.Key.Age,
			strconv.Itoa(v.Rows),
			strconv.Itoa(v.DroppedRows),
			strconv.Itoa(v.NapRuns),
			format(v.Raw[model.FieldDuration]),
			format(v.Filtered[model.FieldDuration]),
			percent(share),
		})
	}
	rightAlign := map[int]bool{0: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true}
	for _, line := range formatTable(VisitHeaders, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintln(w, ""); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Rows: %d read, %d kept, %d dropped in %d naps\n",
		res.DataRows, res.KeptRows, res.DroppedRows, res.NapRuns); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Duration: %s raw, %s filtered (%s kept)\n",
		format(raw), format(filtered), percent(KeptShare(raw, filtered))); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Kept by visit: [%s]\n", Sparkline(shares)); err != nil {
		return err
	}
	return nil
}
