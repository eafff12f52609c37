// Package engine splits a row stream into visits and removes confirmed naps.
//
// Rows of one visit must be contiguous. Within a visit, consecutive nap
// candidates are buffered until an active row arrives or the visit ends; the
// run is then dropped when its total duration reaches the schema's nap
// threshold and kept otherwise.
package engine

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/verte-zerg/napfilter/internal/aggregate"
	"github.com/verte-zerg/napfilter/internal/classify"
	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/schema"
)

const maxLineSize = 16 * 1024 * 1024

// ErrNoHeader is returned when the input is empty.
var ErrNoHeader = errors.New("source has no header line")

// ErrFinished is returned when rows are fed after Finish.
var ErrFinished = errors.New("engine already finished")

// RowError reports a data line that could not be parsed.
type RowError struct {
	Line    int
	Content string
	Err     error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Content)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Sink receives the engine's output. Rows arrive in input order and only
// once their fate is decided; a visit's summary pair is written after its
// last row.
type Sink interface {
	WriteHeader(line string) error
	WriteRow(raw string) error
	WriteSummary(raw, filtered *aggregate.Accumulator) error
}

// VisitFunc is called once per closed visit, after its summary is written.
type VisitFunc func(model.VisitResult)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for per-decision debug output.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithVisitFunc registers a callback for closed visits.
func WithVisitFunc(fn VisitFunc) Option {
	return func(e *Engine) {
		e.onVisit = fn
	}
}

type trigger int

const (
	triggerActiveRow trigger = iota
	triggerVisitEnd
)

func (t trigger) String() string {
	if t == triggerVisitEnd {
		return "visit-end"
	}
	return "active-row"
}

// visit is the state of the open visit. It is discarded when the visit
// closes.
type visit struct {
	key      model.VisitKey
	raw      *aggregate.Accumulator
	filtered *aggregate.Accumulator
	rows     int
	kept     int
	dropped  int
	napRuns  int
	naps     []model.Row
}

// Engine processes one input. It is not safe for concurrent use.
type Engine struct {
	schema     *schema.Schema
	classifier *classify.Classifier
	sink       Sink
	log        *zap.Logger
	onVisit    VisitFunc

	open     *visit
	result   model.RunResult
	finished bool
}

// New returns an engine that parses rows with s and writes to sink.
func New(s *schema.Schema, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		schema:     s,
		classifier: classify.New(s),
		sink:       sink,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run reads a header line and data rows from r until EOF.
func (e *Engine) Run(r io.Reader) (model.RunResult, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return model.RunResult{}, fmt.Errorf("read header: %w", err)
		}
		return model.RunResult{}, ErrNoHeader
	}
	if err := e.sink.WriteHeader(sc.Text()); err != nil {
		return model.RunResult{}, fmt.Errorf("write header: %w", err)
	}

	line := 1
	for sc.Scan() {
		line++
		raw := sc.Text()
		if strings.TrimSpace(raw) == "" {
			e.result.BlankLines++
			continue
		}
		fields, err := splitRecord(raw)
		if err != nil {
			return model.RunResult{}, &RowError{Line: line, Content: raw, Err: err}
		}
		row, err := e.schema.Parse(line, raw, fields)
		if err != nil {
			return model.RunResult{}, &RowError{Line: line, Content: raw, Err: err}
		}
		if err := e.Process(row); err != nil {
			return model.RunResult{}, err
		}
	}
	if err := sc.Err(); err != nil {
		return model.RunResult{}, fmt.Errorf("read line %d: %w", line+1, err)
	}
	return e.Finish()
}

func splitRecord(raw string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(raw))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rec, err := r.Read()
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Process feeds one parsed data row.
func (e *Engine) Process(row model.Row) error {
	if e.finished {
		return ErrFinished
	}
	e.result.DataRows++
	active := e.classifier.IsActive(row)

	if e.open == nil || e.open.key != row.Key {
		if err := e.closeVisit(); err != nil {
			return err
		}
		return e.openVisit(row, active)
	}

	v := e.open
	v.rows++
	v.raw.AddRow(row)
	if !active {
		v.naps = append(v.naps, row)
		return nil
	}
	if err := e.resolve(triggerActiveRow); err != nil {
		return err
	}
	v.filtered.AddRow(row)
	return e.keep(row)
}

// Finish closes the last visit and returns the run totals.
func (e *Engine) Finish() (model.RunResult, error) {
	if e.finished {
		return e.result, nil
	}
	if err := e.closeVisit(); err != nil {
		return model.RunResult{}, err
	}
	e.finished = true
	return e.result, nil
}

func (e *Engine) openVisit(row model.Row, active bool) error {
	v := &visit{
		key:      row.Key,
		raw:      aggregate.New(row),
		filtered: aggregate.New(row),
		rows:     1,
	}
	e.open = v
	if !active {
		// Until the run is resolved this row contributes nothing to the
		// filtered totals.
		v.naps = append(v.naps, row)
		v.filtered.Zero()
		return nil
	}
	return e.keep(row)
}

func (e *Engine) closeVisit() error {
	v := e.open
	if v == nil {
		return nil
	}
	if err := e.resolve(triggerVisitEnd); err != nil {
		return err
	}
	if err := e.sink.WriteSummary(v.raw, v.filtered); err != nil {
		return fmt.Errorf("write summary for participant %s age %s: %w", v.key.ParticipantID, v.key.Age, err)
	}

	res := model.VisitResult{
		Seq:         len(e.result.Visits) + 1,
		Key:         v.key,
		Rows:        v.rows,
		KeptRows:    v.kept,
		DroppedRows: v.dropped,
		NapRuns:     v.napRuns,
		Raw:         v.raw.Values(),
		Filtered:    v.filtered.Values(),
	}
	e.result.Visits = append(e.result.Visits, res)
	e.result.KeptRows += v.kept
	e.result.DroppedRows += v.dropped
	e.result.NapRuns += v.napRuns
	e.open = nil

	if e.onVisit != nil {
		e.onVisit(res)
	}
	return nil
}

// resolve decides the fate of the buffered nap candidates.
func (e *Engine) resolve(t trigger) error {
	v := e.open
	if len(v.naps) == 0 {
		return nil
	}
	var total duration.Duration
	for _, row := range v.naps {
		total = duration.Add(total, row.Values[model.FieldDuration])
	}
	naps := v.naps
	v.naps = nil

	if duration.AtLeast(total, e.schema.NapMin) {
		v.dropped += len(naps)
		v.napRuns++
		e.log.Debug("nap confirmed",
			zap.String("participant", v.key.ParticipantID),
			zap.String("age", v.key.Age),
			zap.Int("first_line", naps[0].Line),
			zap.Int("rows", len(naps)),
			zap.String("duration", e.schema.FormatDuration(total)),
			zap.Stringer("trigger", t),
		)
		return nil
	}

	e.log.Debug("quiet run kept",
		zap.String("participant", v.key.ParticipantID),
		zap.String("age", v.key.Age),
		zap.Int("first_line", naps[0].Line),
		zap.Int("rows", len(naps)),
		zap.String("duration", e.schema.FormatDuration(total)),
		zap.Stringer("trigger", t),
	)
	for _, row := range naps {
		v.filtered.AddRow(row)
	}
	for _, row := range naps {
		if err := e.keep(row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) keep(row model.Row) error {
	e.open.kept++
	if err := e.sink.WriteRow(row.Raw); err != nil {
		return fmt.Errorf("write line %d: %w", row.Line, err)
	}
	return nil
}
