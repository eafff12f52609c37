package sink

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/napfilter/internal/engine"
	"github.com/verte-zerg/napfilter/internal/schema"
)

const proHeader = "c0,c1,c2,c3,Participant,c5,Age,c7,c8,c9,c10,Duration,Meaningful,Distant,TV,TV_Pct,Noise,Silence,AWC,c19,c20,CTC,c22,c23,CVC"

// proLine builds a pro row; quiet rows are nap candidates.
func proLine(name, pid, age, dur string, quiet bool) string {
	fields := make([]string, 25)
	fields[0] = name
	fields[4] = pid
	fields[6] = age
	fields[11] = dur
	fields[12] = "00:00:10"
	fields[13] = "00:00:05"
	fields[14] = "00:00:01"
	fields[15] = "12.5"
	fields[16] = "00:02:00"
	fields[17] = "00:01:00"
	fields[18] = "40"
	fields[21] = "2"
	fields[24] = "3"
	if quiet {
		fields[18] = "0"
		fields[21] = "0"
		fields[24] = "0"
	}
	return strings.Join(fields, ",")
}

func runPro(t *testing.T, lines ...string) (string, string) {
	t.Helper()
	s, err := schema.Pro().Compile()
	require.NoError(t, err)
	var cleaned, summary bytes.Buffer
	out := NewCSV(s, &cleaned, &summary)
	in := strings.Join(append([]string{proHeader}, lines...), "\n") + "\n"
	_, err = engine.New(s, out).Run(strings.NewReader(in))
	require.NoError(t, err)
	require.NoError(t, out.Flush())
	return cleaned.String(), summary.String()
}

func TestCSVWritesCRLF(t *testing.T) {
	a := proLine("rec1", "P1", "12", "00:05:00", false)
	b := proLine("rec2", "P1", "12", "00:05:00", true)
	c := proLine("rec3", "P1", "12", "00:05:00", true)
	d := proLine("rec4", "P1", "12", "00:05:00", false)

	cleaned, summary := runPro(t, a, b, c, d)

	assert.Equal(t, proHeader+"\r\n"+a+"\r\n"+d+"\r\n", cleaned)

	lines := strings.Split(summary, "\r\n")
	require.Len(t, lines, 4, "header, raw, filtered, trailing empty")
	assert.Equal(t, proHeader, lines[0])
	assert.Equal(t, "", lines[3])

	raw := strings.Split(lines[1], ",")
	filtered := strings.Split(lines[2], ",")
	assert.Equal(t, "00:20:00", raw[11])
	assert.Equal(t, "00:10:00", filtered[11])
	assert.Equal(t, "00:08:00", raw[16])
	assert.Equal(t, "00:04:00", filtered[16])
	assert.Equal(t, "80", filtered[18], "dropped rows said nothing")
	assert.Equal(t, "", raw[15], "tv percentage is blanked")
	assert.Equal(t, "rec1", filtered[0])
}

func TestCSVQuotesSummaryFields(t *testing.T) {
	a := `"Smith, J"` + strings.TrimPrefix(proLine("x", "P1", "12", "00:01:00", false), "x")
	cleaned, summary := runPro(t, a)

	assert.Contains(t, cleaned, a+"\r\n", "kept rows are copied verbatim")
	assert.True(t, strings.HasPrefix(strings.Split(summary, "\r\n")[1], `"Smith, J",`))
}

func TestCSVNilStreams(t *testing.T) {
	s, err := schema.Hub().Compile()
	require.NoError(t, err)
	out := NewCSV(s, nil, nil)
	require.NoError(t, out.WriteHeader("h"))
	require.NoError(t, out.WriteRow("r"))
	require.NoError(t, out.Flush())
}

func TestCSVOutputIsDeterministic(t *testing.T) {
	rows := []string{
		proLine("rec1", "P1", "12", "00:05:00", true),
		proLine("rec2", "P1", "12", "00:06:00", true),
		proLine("rec3", "P2", "12", "00:01:00", false),
	}
	c1, s1 := runPro(t, rows...)
	c2, s2 := runPro(t, rows...)
	assert.Equal(t, c1, c2)
	assert.Equal(t, s1, s2)
}

func TestCheckSource(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.csv")
	err := CheckSource(missing)
	require.ErrorIs(t, err, ErrSourceMissing)
	assert.Contains(t, err.Error(), "the file "+missing+" does not exist")

	present := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(present, []byte("h\n"), 0o644))
	require.NoError(t, CheckSource(present))

	require.Error(t, CheckSource(dir))
}

func TestCreateOutputsChecksAllBeforeCreating(t *testing.T) {
	dir := t.TempDir()
	cleaned := filepath.Join(dir, "cleaned.csv")
	summary := filepath.Join(dir, "summary.csv")
	require.NoError(t, os.WriteFile(summary, []byte("keep"), 0o644))

	_, err := CreateOutputs(cleaned, summary)
	require.ErrorIs(t, err, ErrDestinationExists)
	assert.Contains(t, err.Error(), "the file "+summary+" exists already")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no staging file may be left behind")

	data, err := os.ReadFile(summary)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestCreateOutputsRejectsSamePath(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.csv")
	_, err := CreateOutputs(p, p)
	require.Error(t, err)
}

func TestOutputsCommit(t *testing.T) {
	dir := t.TempDir()
	cleaned := filepath.Join(dir, "cleaned.csv")
	summary := filepath.Join(dir, "summary.csv")

	outs, err := CreateOutputs(cleaned, summary)
	require.NoError(t, err)
	cw, sw := outs.Writers()
	_, err = cw.Write([]byte("c\r\n"))
	require.NoError(t, err)
	_, err = sw.Write([]byte("s\r\n"))
	require.NoError(t, err)

	_, err = os.Stat(cleaned)
	require.True(t, os.IsNotExist(err), "destination appears only on commit")

	require.NoError(t, outs.Commit())
	data, err := os.ReadFile(cleaned)
	require.NoError(t, err)
	assert.Equal(t, "c\r\n", string(data))
	data, err = os.ReadFile(summary)
	require.NoError(t, err)
	assert.Equal(t, "s\r\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestOutputsSummaryOnly(t *testing.T) {
	dir := t.TempDir()
	outs, err := CreateOutputs("", filepath.Join(dir, "summary.csv"))
	require.NoError(t, err)
	cw, sw := outs.Writers()
	assert.Nil(t, cw)
	assert.NotNil(t, sw)
	require.NoError(t, outs.Commit())
}

func TestOutputsAbort(t *testing.T) {
	dir := t.TempDir()
	outs, err := CreateOutputs(filepath.Join(dir, "cleaned.csv"), "")
	require.NoError(t, err)
	outs.Abort()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCommitDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cleaned.csv")
	out, err := CreateOutput(path)
	require.NoError(t, err)
	_, err = out.Writer().Write([]byte("new"))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	require.ErrorIs(t, out.Commit(), ErrDestinationExists)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
