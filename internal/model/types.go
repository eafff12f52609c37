// Package model defines shared data structures.
package model

import (
	"time"

	"github.com/verte-zerg/napfilter/internal/duration"
)

// Field identifies an aggregated measure of a row.
type Field int

// Aggregated fields, in summary order.
const (
	FieldDuration Field = iota
	FieldMeaningful
	FieldDistant
	FieldTV
	FieldNoise
	FieldSilence
	FieldAWCActual
	FieldCTCActual
	FieldCVCActual
	NumFields
)

var fieldNames = [NumFields]string{
	"duration",
	"meaningful",
	"distant",
	"tv",
	"noise",
	"silence",
	"awc-actual",
	"ctc-actual",
	"cvc-actual",
}

// String returns the config name of the field.
func (f Field) String() string {
	if f < 0 || f >= NumFields {
		return "unknown"
	}
	return fieldNames[f]
}

// IsCount reports whether the field is an integer counter rather than an
// elapsed time.
func (f Field) IsCount() bool {
	return f == FieldAWCActual || f == FieldCTCActual || f == FieldCVCActual
}

// Fields lists every aggregated field in order.
func Fields() []Field {
	out := make([]Field, 0, NumFields)
	for f := Field(0); f < NumFields; f++ {
		out = append(out, f)
	}
	return out
}

// Values holds one value per aggregated field.
type Values [NumFields]duration.Duration

// Add adds other into v field by field.
func (v *Values) Add(other Values) {
	for i := range v {
		v[i] = duration.Add(v[i], other[i])
	}
}

// VisitKey identifies a visit.
type VisitKey struct {
	ParticipantID string
	Age           string
}

// Row is one parsed data line. Raw is the line as read, without its
// terminator.
type Row struct {
	Line   int
	Raw    string
	Fields []string
	Key    VisitKey
	Values Values
}

// VisitResult describes a closed visit.
type VisitResult struct {
	Seq         int
	Key         VisitKey
	Rows        int
	KeptRows    int
	DroppedRows int
	NapRuns     int
	Raw         Values
	Filtered    Values
}

// RunResult summarizes one pass over an input.
type RunResult struct {
	Visits      []VisitResult
	DataRows    int
	BlankLines  int
	KeptRows    int
	DroppedRows int
	NapRuns     int
}

// VisitCount returns the number of visits processed.
func (r RunResult) VisitCount() int {
	return len(r.Visits)
}

// CleanConfig defines a cleaning job.
type CleanConfig struct {
	SourcePath      string
	CleanedPath     string
	SummaryPath     string
	Schema          string
	NapMin          string
	ShortInactivity string
	History         bool
	Quiet           bool
}

// RunRecord is a cleaning run as stored in history.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	EndedAt     time.Time
	SourcePath  string
	CleanedPath string
	SummaryPath string
	Schema      string
	NapMinS     int64
	Visits      int
	DataRows    int
	KeptRows    int
	DroppedRows int
	NapRuns     int
}

// HistoryConfig defines filters for history output.
type HistoryConfig struct {
	Schema string
	Since  *time.Time
	Last   int
}

// StoredVisit is a visit row loaded from history.
type StoredVisit struct {
	RunID             string
	Seq               int
	Key               VisitKey
	Rows              int
	KeptRows          int
	DroppedRows       int
	NapRuns           int
	RawDurationS      int64
	FilteredDurationS int64
}
