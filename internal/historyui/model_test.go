package historyui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/model"
)

type fakeSource struct {
	runs    []model.RunRecord
	visits  map[string][]model.StoredVisit
	lastCfg model.HistoryConfig
	err     error
}

func (f *fakeSource) ListRuns(_ context.Context, cfg model.HistoryConfig) ([]model.RunRecord, error) {
	f.lastCfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return f.runs, nil
}

func (f *fakeSource) ListVisits(_ context.Context, runID string) ([]model.StoredVisit, error) {
	return f.visits[runID], nil
}

func newSource() *fakeSource {
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	return &fakeSource{
		runs: []model.RunRecord{
			{ID: "aaaaaaaa-old", EndedAt: base, Schema: "hub", SourcePath: "old.csv", Visits: 1, DataRows: 10, DroppedRows: 2, NapRuns: 1},
			{ID: "bbbbbbbb-new", EndedAt: base.Add(time.Hour), Schema: "pro", SourcePath: "new.csv", Visits: 2, DataRows: 20, KeptRows: 20},
		},
		visits: map[string][]model.StoredVisit{
			"bbbbbbbb-new": {
				{RunID: "bbbbbbbb-new", Seq: 1, Key: model.VisitKey{ParticipantID: "C12", Age: "30"}, Rows: 12, RawDurationS: 600, FilteredDurationS: 600},
				{RunID: "bbbbbbbb-new", Seq: 2, Key: model.VisitKey{ParticipantID: "C13", Age: "31"}, Rows: 8, RawDurationS: 300, FilteredDurationS: 300},
			},
		},
	}
}

func clockForPro(name string) duration.Encoding {
	if name == "pro" {
		return duration.Clock{}
	}
	return duration.Seconds{}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(t *testing.T, src Source) *Model {
	t.Helper()
	m := NewModel(src, model.HistoryConfig{}, clockForPro)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return m
}

func TestRunsAreListedNewestFirst(t *testing.T) {
	m := sized(t, newSource())
	require.Len(t, m.runs, 2)
	assert.Equal(t, "bbbbbbbb-new", m.runs[0].ID)

	view := m.View()
	assert.Contains(t, view, "bbbbbbbb")
	assert.Contains(t, view, "aaaaaaaa")
	assert.Less(t, strings.Index(view, "bbbbbbbb"), strings.Index(view, "aaaaaaaa"))
}

func TestEnterOpensVisitsAndEscReturns(t *testing.T) {
	m := sized(t, newSource())

	m.Update(key("enter"))
	require.NotNil(t, m.openRun)
	assert.Equal(t, "bbbbbbbb-new", m.openRun.ID)
	view := m.View()
	assert.Contains(t, view, "C12")
	assert.Contains(t, view, "00:10:00", "pro visits use clock durations")

	m.Update(key("esc"))
	assert.Nil(t, m.openRun)
	assert.Contains(t, m.View(), "aaaaaaaa")
}

func TestTrendTab(t *testing.T) {
	m := sized(t, newSource())
	m.Update(key("right"))
	assert.Equal(t, tabTrend, m.activeTab)

	m.Update(key("enter"))
	assert.Nil(t, m.openRun, "enter only opens runs from the runs tab")

	view := m.View()
	assert.Contains(t, view, "Dropped rows per run")
	assert.Contains(t, view, "6.7%")
}

func TestFilterApplies(t *testing.T) {
	src := newSource()
	m := sized(t, src)

	m.Update(key("/"))
	require.True(t, m.filterMode)
	for _, r := range "hub" {
		m.Update(key(string(r)))
	}
	m.Update(key("tab"))
	m.Update(key("tab"))
	m.Update(key("3"))
	m.Update(key("enter"))

	assert.False(t, m.filterMode)
	assert.Equal(t, model.HistoryConfig{Schema: "hub", Last: 3}, src.lastCfg)
}

func TestFilterRejectsBadDate(t *testing.T) {
	m := sized(t, newSource())
	m.Update(key("/"))
	m.Update(key("tab"))
	for _, r := range "yesterday" {
		m.Update(key(string(r)))
	}
	m.Update(key("enter"))
	assert.True(t, m.filterMode)
	assert.Contains(t, m.filterError, "invalid since date")
}

func TestLoadErrorIsShown(t *testing.T) {
	m := sized(t, &fakeSource{err: errors.New("database is locked")})
	assert.Contains(t, m.View(), "database is locked")
}

func TestQuit(t *testing.T) {
	m := sized(t, newSource())
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	_, ok := cmd().(tea.QuitMsg)
	assert.True(t, ok)
}

func TestParseFilter(t *testing.T) {
	cfg, err := parseFilter(" Pro ", "2026-01-02", "")
	require.NoError(t, err)
	assert.Equal(t, "pro", cfg.Schema)
	require.NotNil(t, cfg.Since)
	assert.Equal(t, 2, cfg.Since.Day())

	_, err = parseFilter("", "", "-1")
	require.Error(t, err)
}
