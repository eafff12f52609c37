// Package historyui provides the Bubble Tea run history browser.
package historyui

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/report"
)

const (
	tabRuns = iota
	tabTrend
)

const plotHeight = 8

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Source loads run history.
type Source interface {
	ListRuns(ctx context.Context, cfg model.HistoryConfig) ([]model.RunRecord, error)
	ListVisits(ctx context.Context, runID string) ([]model.StoredVisit, error)
}

// EncodingFunc returns the duration encoding used to show a schema's visits.
type EncodingFunc func(schemaName string) duration.Encoding

// Model implements the Bubble Tea history UI.
type Model struct {
	src      Source
	cfg      model.HistoryConfig
	encoding EncodingFunc

	runs   []model.RunRecord
	errMsg string

	tabs      []string
	activeTab int
	runTable  table.Model
	trend     viewport.Model

	// Non-nil while a run's visits are shown.
	openRun    *model.RunRecord
	visitTable table.Model

	width  int
	height int

	filterMode   bool
	filterInputs []textinput.Model
	filterIndex  int
	filterError  string
}

// NewModel constructs a history UI model and loads the first page of runs.
func NewModel(src Source, cfg model.HistoryConfig, enc EncodingFunc) *Model {
	if enc == nil {
		enc = func(string) duration.Encoding { return duration.Seconds{} }
	}
	m := &Model{
		src:      src,
		cfg:      cfg,
		encoding: enc,
		tabs:     []string{"Runs", "Trend"},
		trend:    viewport.New(0, 0),
	}
	m.runTable = newTable(runColumns(), nil)
	m.visitTable = newTable(visitColumns(), nil)
	m.runTable.Focus()
	m.initInputs()
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTrend()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		if msg.String() == "q" {
			return m, tea.Quit
		}
		if m.openRun != nil {
			return m.updateVisits(msg)
		}
		switch msg.String() {
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "/":
			return m.startFilter()
		case "enter":
			if m.activeTab == tabRuns {
				m.openSelectedRun()
			}
			return m, nil
		case "g", "home":
			if m.activeTab == tabRuns {
				m.runTable.GotoTop()
			} else {
				m.trend.GotoTop()
			}
			return m, nil
		case "G", "end":
			if m.activeTab == tabRuns {
				m.runTable.GotoBottom()
			} else {
				m.trend.GotoBottom()
			}
			return m, nil
		default:
			var cmd tea.Cmd
			if m.activeTab == tabRuns {
				m.runTable, cmd = m.runTable.Update(msg)
			} else {
				m.trend, cmd = m.trend.Update(msg)
			}
			return m, cmd
		}
	}
	return m, nil
}

func (m *Model) updateVisits(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "backspace":
		m.openRun = nil
		m.visitTable.Blur()
		m.runTable.Focus()
		return m, tea.ClearScreen
	}
	var cmd tea.Cmd
	m.visitTable, cmd = m.visitTable.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) initInputs() {
	m.filterInputs = []textinput.Model{
		newFilterInput("Schema: "),
		newFilterInput("Since (YYYY-MM-DD): "),
		newFilterInput("Last: "),
	}
	m.setInputsFromConfig()
}

func newFilterInput(prompt string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.CharLimit = 0
	input.Cursor.SetMode(cursor.CursorBlink)
	return input
}

func (m *Model) setInputsFromConfig() {
	m.filterInputs[0].SetValue(m.cfg.Schema)
	if m.cfg.Since != nil {
		m.filterInputs[1].SetValue(m.cfg.Since.Format("2006-01-02"))
	} else {
		m.filterInputs[1].SetValue("")
	}
	if m.cfg.Last > 0 {
		m.filterInputs[2].SetValue(strconv.Itoa(m.cfg.Last))
	} else {
		m.filterInputs[2].SetValue("")
	}
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	headerHeight = lipgloss.Height(activeNavStyle.Render("X")) + 1
	footerHeight = 1
	if !m.filterMode && m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = maxInt(1, m.height-headerHeight-footerHeight)
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.trend.Width = m.width
	m.trend.Height = bodyHeight
	m.runTable.SetWidth(m.width)
	m.runTable.SetHeight(maxInt(1, bodyHeight-1))
	// The visit view spends one line on its title.
	m.visitTable.SetWidth(m.width)
	m.visitTable.SetHeight(maxInt(1, bodyHeight-2))
	for i := range m.filterInputs {
		promptWidth := lipgloss.Width(m.filterInputs[i].Prompt)
		m.filterInputs[i].Width = maxInt(10, m.width-promptWidth-2)
	}
}

func (m *Model) moveTab(delta int) {
	next := (m.activeTab + delta + len(m.tabs)) % len(m.tabs)
	m.activeTab = next
	if m.activeTab == tabRuns {
		m.runTable.Focus()
	} else {
		m.runTable.Blur()
	}
}

func (m *Model) refresh() {
	runs, err := m.src.ListRuns(context.Background(), m.cfg)
	if err != nil {
		m.errMsg = err.Error()
		m.runs = nil
		m.runTable.SetRows(nil)
		m.trend.SetContent("Failed to load history.")
		return
	}
	m.errMsg = ""
	// Newest first reads better in a table.
	m.runs = make([]model.RunRecord, len(runs))
	for i, r := range runs {
		m.runs[len(runs)-1-i] = r
	}
	rows := make([]table.Row, 0, len(m.runs))
	for _, r := range m.runs {
		rows = append(rows, table.Row(report.RunRow(r)))
	}
	m.runTable.SetRows(rows)
	m.runTable.GotoTop()
	m.renderTrend()
}

func (m *Model) openSelectedRun() {
	idx := m.runTable.Cursor()
	if idx < 0 || idx >= len(m.runs) {
		return
	}
	run := m.runs[idx]
	visits, err := m.src.ListVisits(context.Background(), run.ID)
	if err != nil {
		m.errMsg = err.Error()
		return
	}
	m.errMsg = ""
	enc := m.encoding(run.Schema)
	rows := make([]table.Row, 0, len(visits))
	for _, v := range visits {
		rows = append(rows, table.Row(report.VisitRow(v, enc)))
	}
	m.visitTable.SetRows(rows)
	m.visitTable.GotoTop()
	m.runTable.Blur()
	m.visitTable.Focus()
	m.openRun = &run
}

func (m *Model) renderTrend() {
	if m.errMsg != "" && m.runs == nil {
		m.trend.SetContent("Failed to load history.")
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.trend.SetContent(renderTrend(m.runs, width))
}

func renderTrend(newestFirst []model.RunRecord, width int) string {
	if len(newestFirst) == 0 {
		return "No runs found."
	}
	var rows, dropped, naps int
	values := make([]float64, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		r := newestFirst[i]
		rows += r.DataRows
		dropped += r.DroppedRows
		naps += r.NapRuns
		values = append(values, report.DroppedShare(r)*100)
	}
	share := 0.0
	if rows > 0 {
		share = float64(dropped) / float64(rows) * 100
	}
	cards := lipgloss.JoinHorizontal(lipgloss.Top,
		metricCard("Runs", strconv.Itoa(len(newestFirst))),
		metricCard("Rows", strconv.Itoa(rows)),
		metricCard("Dropped", fmt.Sprintf("%.1f%%", share)),
		metricCard("Naps", strconv.Itoa(naps)),
	)
	var buf bytes.Buffer
	err := report.PlotPercent(&buf, "Dropped rows per run", []report.Series{{Name: "Dropped", Values: values}},
		report.PlotWidthFor(width), plotHeight, true)
	if err != nil {
		return fmt.Sprintf("Failed to render trend: %v", err)
	}
	return strings.TrimRight(cards+"\n\n"+buf.String(), "\n")
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func (m *Model) renderHeader() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	tabs := padLines(lipgloss.JoinHorizontal(lipgloss.Top, parts...), m.width)
	return tabs + "\n" + padLines(m.renderFilterSummary(), m.width)
}

func (m *Model) renderFilterSummary() string {
	schema := m.cfg.Schema
	if schema == "" {
		schema = "any"
	}
	since := "any"
	if m.cfg.Since != nil {
		since = m.cfg.Since.Format("2006-01-02")
	}
	last := "all"
	if m.cfg.Last > 0 {
		last = strconv.Itoa(m.cfg.Last)
	}
	summary := fmt.Sprintf("Filters: schema=%s  since=%s  last=%s  runs=%d", schema, since, last, len(m.runs))
	return headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderBody() string {
	if m.filterMode {
		return m.renderFilterForm()
	}
	if m.openRun != nil {
		title := headerStyle.Render(truncateLine(fmt.Sprintf("Run %s  %s  %s", m.openRun.ID, m.openRun.Schema, m.openRun.SourcePath), m.width))
		return title + "\n" + tableMutedStyle.Render(m.visitTable.View())
	}
	if m.activeTab == tabTrend {
		return m.trend.View()
	}
	if len(m.runs) == 0 {
		return "No runs found."
	}
	return tableMutedStyle.Render(m.runTable.View())
}

func (m *Model) renderFooter() string {
	help := "Nav: left/right  Move: up/down  Open: enter  Filter: /  Quit: q"
	switch {
	case m.filterMode:
		help = "tab/shift+tab: next field  enter: apply  esc: cancel"
	case m.openRun != nil:
		help = "Move: up/down  Back: esc  Quit: q"
	}
	out := headerStyle.Render(help)
	if !m.filterMode && m.errMsg != "" {
		out += "\n" + errorStyle.Render(m.errMsg)
	}
	return out
}

func (m *Model) renderFilterForm() string {
	lines := []string{"Filters (enter to apply, esc to cancel)"}
	for _, input := range m.filterInputs {
		lines = append(lines, input.View())
	}
	if m.filterError != "" {
		lines = append(lines, errorStyle.Render(m.filterError))
	}
	return strings.Join(lines, "\n")
}

func (m *Model) startFilter() (tea.Model, tea.Cmd) {
	m.filterMode = true
	m.filterError = ""
	m.setInputsFromConfig()
	return m, m.setFilterIndex(0)
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterError = ""
		return m, nil
	case tea.KeyEnter:
		cfg, err := parseFilter(m.filterInputs[0].Value(), m.filterInputs[1].Value(), m.filterInputs[2].Value())
		if err != nil {
			m.filterError = err.Error()
			return m, nil
		}
		m.cfg = cfg
		m.filterMode = false
		m.filterError = ""
		m.refresh()
		m.updateLayout()
		return m, nil
	case tea.KeyTab:
		return m, m.setFilterIndex(m.filterIndex + 1)
	case tea.KeyShiftTab:
		return m, m.setFilterIndex(m.filterIndex - 1)
	}
	var cmd tea.Cmd
	m.filterInputs[m.filterIndex], cmd = m.filterInputs[m.filterIndex].Update(msg)
	return m, cmd
}

func (m *Model) setFilterIndex(idx int) tea.Cmd {
	count := len(m.filterInputs)
	m.filterIndex = (idx + count) % count
	var cmd tea.Cmd
	for i := range m.filterInputs {
		if i == m.filterIndex {
			cmd = m.filterInputs[i].Focus()
		} else {
			m.filterInputs[i].Blur()
		}
	}
	return cmd
}

func parseFilter(schema, sinceInput, lastInput string) (model.HistoryConfig, error) {
	cfg := model.HistoryConfig{Schema: strings.ToLower(strings.TrimSpace(schema))}
	if s := strings.TrimSpace(sinceInput); s != "" {
		parsed, err := time.ParseInLocation("2006-01-02", s, time.Local)
		if err != nil {
			return model.HistoryConfig{}, fmt.Errorf("invalid since date (expected YYYY-MM-DD)")
		}
		cfg.Since = &parsed
	}
	if s := strings.TrimSpace(lastInput); s != "" {
		parsed, err := strconv.Atoi(s)
		if err != nil || parsed < 0 {
			return model.HistoryConfig{}, fmt.Errorf("invalid last value (use 0 or positive integer)")
		}
		cfg.Last = parsed
	}
	return cfg, nil
}

func runColumns() []table.Column {
	widths := []int{8, 16, 8, 24, 6, 8, 8, 5, 9}
	cols := make([]table.Column, len(report.RunHeaders))
	for i, title := range report.RunHeaders {
		cols[i] = table.Column{Title: title, Width: widths[i]}
	}
	return cols
}

func visitColumns() []table.Column {
	widths := []int{4, 16, 6, 6, 8, 5, 10, 10, 7}
	cols := make([]table.Column, len(report.VisitHeaders))
	for i, title := range report.VisitHeaders {
		cols[i] = table.Column{Title: title, Width: widths[i]}
	}
	return cols
}

func newTable(cols []table.Column, rows []table.Row) table.Model {
	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithHeight(10),
	)
	t.SetStyles(tableStyles())
	return t
}

func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 3 {
		return string(runes[:width])
	}
	return string(runes[:width-3]) + "..."
}
