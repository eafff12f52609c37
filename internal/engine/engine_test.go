package engine

import (
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/verte-zerg/napfilter/internal/aggregate"
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const hubHeader = "File_Name,Age,c2,c3,Duration,AWC,CTC,CVC,c8,Meaningful,c10,Distant,TV,c13,Noise,Silence,c16,c17,c18,c19,c20,c21,Participant"

type hubRow struct {
	pid      string
	age      string
	dur      int
	awc      int
	ctc      int
	cvc      int
	noise    int
	silence  int
	distinct string
}

func (r hubRow) line() string {
	fields := make([]string, 23)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = "rec" + r.distinct
	fields[1] = r.age
	fields[4] = strconv.Itoa(r.dur)
	fields[5] = strconv.Itoa(r.awc)
	fields[6] = strconv.Itoa(r.ctc)
	fields[7] = strconv.Itoa(r.cvc)
	fields[9] = "1"
	fields[11] = "2"
	fields[12] = "3"
	fields[14] = strconv.Itoa(r.noise)
	fields[15] = strconv.Itoa(r.silence)
	fields[22] = r.pid
	return strings.Join(fields, ",")
}

// quiet is a nap candidate: nothing said, three minutes of noise and silence.
func quiet(pid, age string, dur int, tag string) hubRow {
	return hubRow{pid: pid, age: age, dur: dur, noise: 100, silence: 80, distinct: tag}
}

func active(pid, age string, dur int, tag string) hubRow {
	return hubRow{pid: pid, age: age, dur: dur, awc: 12, ctc: 1, cvc: 4, noise: 10, silence: 10, distinct: tag}
}

type memorySink struct {
	schema    *schema.Schema
	header    []string
	rows      []string
	summaries [][2][]string
}

func (m *memorySink) WriteHeader(line string) error {
	m.header = append(m.header, line)
	return nil
}

func (m *memorySink) WriteRow(raw string) error {
	m.rows = append(m.rows, raw)
	return nil
}

func (m *memorySink) WriteSummary(raw, filtered *aggregate.Accumulator) error {
	m.summaries = append(m.summaries, [2][]string{raw.Record(m.schema), filtered.Record(m.schema)})
	return nil
}

func input(rows ...hubRow) string {
	lines := []string{hubHeader}
	for _, r := range rows {
		lines = append(lines, r.line())
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func runHub(t *testing.T, in string) (*memorySink, model.RunResult) {
	t.Helper()
	s, err := schema.Hub().Compile()
	require.NoError(t, err)
	sink := &memorySink{schema: s}
	res, err := New(s, sink).Run(strings.NewReader(in))
	require.NoError(t, err)
	return sink, res
}

func TestShortQuietRunIsMergedBack(t *testing.T) {
	a := quiet("P1", "12", 300, "a")
	b := active("P1", "12", 300, "b")
	sink, res := runHub(t, input(a, b))

	require.Equal(t, []string{a.line(), b.line()}, sink.rows)
	require.Len(t, res.Visits, 1)
	v := res.Visits[0]
	assert.Equal(t, 0, v.DroppedRows)
	assert.Equal(t, 2, v.KeptRows)
	assert.Empty(t, cmp.Diff(v.Raw, v.Filtered))
	require.Len(t, sink.summaries, 1)
	assert.Equal(t, "600", sink.summaries[0][0][4])
	assert.Equal(t, "600", sink.summaries[0][1][4])
}

func TestLongQuietRunIsDropped(t *testing.T) {
	lead := active("P1", "12", 300, "lead")
	rows := []hubRow{lead}
	for i := 0; i < 5; i++ {
		rows = append(rows, quiet("P1", "12", 120, strconv.Itoa(i)))
	}
	tail := active("P1", "12", 300, "tail")
	rows = append(rows, tail)

	sink, res := runHub(t, input(rows...))

	require.Equal(t, []string{lead.line(), tail.line()}, sink.rows)
	v := res.Visits[0]
	assert.Equal(t, 5, v.DroppedRows, "a run of exactly the threshold is a nap")
	assert.Equal(t, 1, v.NapRuns)
	assert.Equal(t, 7, v.Rows)
	assert.EqualValues(t, 1200, v.Raw[model.FieldDuration])
	assert.EqualValues(t, 600, v.Filtered[model.FieldDuration])
	assert.EqualValues(t, 24, v.Filtered[model.FieldAWCActual])
}

func TestRunBelowThresholdAtVisitEndIsKept(t *testing.T) {
	a := active("P1", "12", 300, "a")
	b := quiet("P1", "12", 200, "b")
	c := quiet("P1", "12", 200, "c")
	sink, res := runHub(t, input(a, b, c))

	require.Equal(t, []string{a.line(), b.line(), c.line()}, sink.rows)
	assert.Equal(t, 0, res.DroppedRows)
	assert.EqualValues(t, 700, res.Visits[0].Filtered[model.FieldDuration])
}

func TestRunAtThresholdAtVisitEndIsDropped(t *testing.T) {
	a := active("P1", "12", 300, "a")
	b := quiet("P1", "12", 300, "b")
	c := quiet("P1", "12", 300, "c")
	next := active("P2", "12", 300, "next")
	sink, res := runHub(t, input(a, b, c, next))

	require.Equal(t, []string{a.line(), next.line()}, sink.rows)
	require.Len(t, res.Visits, 2)
	assert.Equal(t, 2, res.Visits[0].DroppedRows)
	assert.Equal(t, 0, res.Visits[1].DroppedRows)
}

func TestVisitStartingWithNapCandidate(t *testing.T) {
	a := quiet("P1", "12", 400, "a")
	b := quiet("P1", "12", 300, "b")
	c := active("P1", "12", 60, "c")
	sink, res := runHub(t, input(a, b, c))

	require.Equal(t, []string{c.line()}, sink.rows)
	v := res.Visits[0]
	assert.Equal(t, 2, v.DroppedRows)
	assert.EqualValues(t, 760, v.Raw[model.FieldDuration])
	assert.EqualValues(t, 60, v.Filtered[model.FieldDuration])
	assert.EqualValues(t, 10, v.Filtered[model.FieldNoise])

	filtered := sink.summaries[0][1]
	assert.Equal(t, "60", filtered[4])
	assert.Equal(t, "reca", filtered[0], "non-aggregated columns come from the visit's first row")
}

func TestSingleNapCandidateVisitIsKept(t *testing.T) {
	a := quiet("P1", "12", 300, "a")
	sink, res := runHub(t, input(a))

	require.Equal(t, []string{a.line()}, sink.rows)
	assert.Empty(t, cmp.Diff(res.Visits[0].Raw, res.Visits[0].Filtered))
}

func TestHeaderOnly(t *testing.T) {
	sink, res := runHub(t, hubHeader+"\r\n")

	assert.Equal(t, []string{hubHeader}, sink.header)
	assert.Empty(t, sink.rows)
	assert.Empty(t, sink.summaries)
	assert.Equal(t, 0, res.VisitCount())
}

func TestEmptyInput(t *testing.T) {
	s, err := schema.Hub().Compile()
	require.NoError(t, err)
	_, err = New(s, &memorySink{schema: s}).Run(strings.NewReader(""))
	require.ErrorIs(t, err, ErrNoHeader)
}

func TestBlankLinesAreSkipped(t *testing.T) {
	a := quiet("P1", "12", 300, "a")
	b := quiet("P1", "12", 300, "b")
	in := hubHeader + "\n" + a.line() + "\n   \n\n" + b.line() + "\n"
	sink, res := runHub(t, in)

	assert.Equal(t, 2, res.BlankLines)
	assert.Equal(t, 2, res.DataRows)
	require.Len(t, res.Visits, 1, "blank lines are not visit boundaries")
	assert.Equal(t, 2, res.Visits[0].DroppedRows)
	assert.Empty(t, sink.rows)
}

func TestVisitsAreNeverReopened(t *testing.T) {
	sink, res := runHub(t, input(
		active("P1", "12", 10, "1"),
		active("P2", "12", 10, "2"),
		active("P1", "12", 10, "3"),
		active("P1", "13", 10, "4"),
	))

	require.Len(t, res.Visits, 4)
	assert.Len(t, sink.summaries, 4)
	keys := make([]model.VisitKey, 0, len(res.Visits))
	for _, v := range res.Visits {
		keys = append(keys, v.Key)
	}
	assert.Equal(t, []model.VisitKey{
		{ParticipantID: "P1", Age: "12"},
		{ParticipantID: "P2", Age: "12"},
		{ParticipantID: "P1", Age: "12"},
		{ParticipantID: "P1", Age: "13"},
	}, keys)
}

func TestNapBufferDoesNotLeakAcrossVisits(t *testing.T) {
	// Two short quiet runs in different visits must not add up to a nap.
	a := quiet("P1", "12", 400, "a")
	b := quiet("P2", "12", 400, "b")
	sink, res := runHub(t, input(a, b))

	require.Equal(t, []string{a.line(), b.line()}, sink.rows)
	assert.Equal(t, 0, res.DroppedRows)
}

func TestMalformedRow(t *testing.T) {
	s, err := schema.Hub().Compile()
	require.NoError(t, err)
	in := hubHeader + "\n" + active("P1", "12", 10, "a").line() + "\nshort,row\n"

	_, err = New(s, &memorySink{schema: s}).Run(strings.NewReader(in))
	var rowErr *RowError
	require.True(t, errors.As(err, &rowErr), "expected RowError, got %v", err)
	assert.Equal(t, 3, rowErr.Line)
	assert.Equal(t, "short,row", rowErr.Content)
	assert.Contains(t, err.Error(), "line 3")
}

func TestQuotedFields(t *testing.T) {
	r := active("P1", "12", 10, "a")
	line := `"quoted, name"` + strings.TrimPrefix(r.line(), "reca")
	sink, res := runHub(t, hubHeader+"\n"+line+"\n")

	require.Equal(t, []string{line}, sink.rows, "raw text is kept verbatim")
	assert.Equal(t, "quoted, name", sink.summaries[0][0][0])
	assert.Equal(t, 1, res.VisitCount())
}

func TestVisitFuncAndFinishedEngine(t *testing.T) {
	s, err := schema.Hub().Compile()
	require.NoError(t, err)
	var seen []model.VisitResult
	e := New(s, &memorySink{schema: s}, WithVisitFunc(func(v model.VisitResult) {
		seen = append(seen, v)
	}))
	res, err := e.Run(strings.NewReader(input(active("P1", "1", 5, "a"), active("P2", "1", 5, "b"))))
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].Seq)
	assert.Equal(t, 2, seen[1].Seq)
	assert.Equal(t, res.Visits, seen)

	require.ErrorIs(t, e.Process(model.Row{}), ErrFinished)
}

// TestTotalsInvariant checks, over random inputs, that raw totals cover every
// row of a visit and filtered totals cover exactly the rows written.
func TestTotalsInvariant(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		var rows []hubRow
		visits := 1 + rnd.Intn(5)
		for v := 0; v < visits; v++ {
			pid := "P" + strconv.Itoa(v)
			for n := 1 + rnd.Intn(12); n > 0; n-- {
				tag := strconv.Itoa(len(rows))
				if rnd.Intn(3) == 0 {
					rows = append(rows, active(pid, "6", 30+rnd.Intn(300), tag))
				} else {
					rows = append(rows, quiet(pid, "6", 30+rnd.Intn(300), tag))
				}
			}
		}

		s, err := schema.Hub().Compile()
		require.NoError(t, err)
		sink := &memorySink{schema: s}
		res, err := New(s, sink).Run(strings.NewReader(input(rows...)))
		require.NoError(t, err)
		require.Len(t, res.Visits, visits)

		parse := func(line string) model.Row {
			row, err := s.Parse(0, line, strings.Split(line, ","))
			require.NoError(t, err)
			return row
		}
		wantRaw := map[model.VisitKey]model.Values{}
		for _, r := range rows {
			row := parse(r.line())
			vals := wantRaw[row.Key]
			vals.Add(row.Values)
			wantRaw[row.Key] = vals
		}
		wantFiltered := map[model.VisitKey]model.Values{}
		next := 0
		for _, line := range sink.rows {
			// kept rows appear in input order
			for next < len(rows) && rows[next].line() != line {
				next++
			}
			require.Less(t, next, len(rows), "kept row out of order: %s", line)
			row := parse(line)
			vals := wantFiltered[row.Key]
			vals.Add(row.Values)
			wantFiltered[row.Key] = vals
		}

		dropped := 0
		for _, v := range res.Visits {
			assert.Empty(t, cmp.Diff(wantRaw[v.Key], v.Raw), "raw totals for %v", v.Key)
			assert.Empty(t, cmp.Diff(wantFiltered[v.Key], v.Filtered), "filtered totals for %v", v.Key)
			assert.Equal(t, v.Rows, v.KeptRows+v.DroppedRows)
			dropped += v.DroppedRows
		}
		assert.Equal(t, len(rows), len(sink.rows)+dropped)
	}
}
