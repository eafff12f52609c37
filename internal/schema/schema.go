// Package schema maps row fields to CSV columns for each input variant.
package schema

import (
	"errors"
	"fmt"

	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/model"
)

// ErrUnknownSchema is returned when a schema name is not registered.
var ErrUnknownSchema = errors.New("unknown schema")

// Columns holds zero-based column indexes.
type Columns struct {
	ParticipantID int  `toml:"participant-id" validate:"gte=0"`
	Age           int  `toml:"age" validate:"gte=0"`
	Duration      int  `toml:"duration" validate:"gte=0"`
	Meaningful    int  `toml:"meaningful" validate:"gte=0"`
	Distant       int  `toml:"distant" validate:"gte=0"`
	TV            int  `toml:"tv" validate:"gte=0"`
	TVPercent     *int `toml:"tv-percent" validate:"omitempty,gte=0"`
	Noise         int  `toml:"noise" validate:"gte=0"`
	Silence       int  `toml:"silence" validate:"gte=0"`
	AWCActual     int  `toml:"awc-actual" validate:"gte=0"`
	CTCActual     int  `toml:"ctc-actual" validate:"gte=0"`
	CVCActual     int  `toml:"cvc-actual" validate:"gte=0"`
}

// Definition describes an input variant as written in the config file.
type Definition struct {
	Name            string  `toml:"name" validate:"required"`
	Description     string  `toml:"description"`
	Encoding        string  `toml:"encoding" validate:"oneof=seconds clock"`
	NapMin          string  `toml:"nap-min" validate:"required"`
	ShortInactivity string  `toml:"short-inactivity" validate:"required"`
	CVCActiveAbove  int     `toml:"cvc-active-above" validate:"gte=0"`
	RequireOutputs  bool    `toml:"require-outputs"`
	Columns         Columns `toml:"columns"`
}

// Schema is a validated definition ready for parsing rows.
type Schema struct {
	Name            string
	Description     string
	Encoding        duration.Encoding
	NapMin          duration.Duration
	ShortInactivity duration.Duration
	CVCActiveAbove  duration.Duration
	RequireOutputs  bool

	participantID int
	age           int
	tvPercent     int
	index         [model.NumFields]int
	width         int
}

// Compile validates the definition and resolves its thresholds.
func (d Definition) Compile() (*Schema, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	enc, err := duration.EncodingFor(d.Encoding)
	if err != nil {
		return nil, err
	}
	napMin, err := enc.Parse(d.NapMin)
	if err != nil {
		return nil, fmt.Errorf("schema %s: nap-min: %w", d.Name, err)
	}
	short, err := enc.Parse(d.ShortInactivity)
	if err != nil {
		return nil, fmt.Errorf("schema %s: short-inactivity: %w", d.Name, err)
	}

	s := &Schema{
		Name:            d.Name,
		Description:     d.Description,
		Encoding:        enc,
		NapMin:          napMin,
		ShortInactivity: short,
		CVCActiveAbove:  duration.Duration(d.CVCActiveAbove),
		RequireOutputs:  d.RequireOutputs,
		participantID:   d.Columns.ParticipantID,
		age:             d.Columns.Age,
		tvPercent:       -1,
	}
	s.index[model.FieldDuration] = d.Columns.Duration
	s.index[model.FieldMeaningful] = d.Columns.Meaningful
	s.index[model.FieldDistant] = d.Columns.Distant
	s.index[model.FieldTV] = d.Columns.TV
	s.index[model.FieldNoise] = d.Columns.Noise
	s.index[model.FieldSilence] = d.Columns.Silence
	s.index[model.FieldAWCActual] = d.Columns.AWCActual
	s.index[model.FieldCTCActual] = d.Columns.CTCActual
	s.index[model.FieldCVCActual] = d.Columns.CVCActual
	if d.Columns.TVPercent != nil {
		s.tvPercent = *d.Columns.TVPercent
	}

	used := map[int]string{
		s.participantID: "participant-id",
	}
	if prev, ok := used[s.age]; ok {
		return nil, fmt.Errorf("schema %s: columns age and %s share index %d", d.Name, prev, s.age)
	}
	used[s.age] = "age"
	for _, f := range model.Fields() {
		idx := s.index[f]
		if prev, ok := used[idx]; ok {
			return nil, fmt.Errorf("schema %s: columns %s and %s share index %d", d.Name, f, prev, idx)
		}
		used[idx] = f.String()
	}
	if s.tvPercent >= 0 {
		if prev, ok := used[s.tvPercent]; ok {
			return nil, fmt.Errorf("schema %s: columns tv-percent and %s share index %d", d.Name, prev, s.tvPercent)
		}
		used[s.tvPercent] = "tv-percent"
	}
	for idx := range used {
		if idx+1 > s.width {
			s.width = idx + 1
		}
	}
	return s, nil
}

// Width is the minimum number of fields a row must have.
func (s *Schema) Width() int {
	return s.width
}

// Index returns the column of an aggregated field.
func (s *Schema) Index(f model.Field) int {
	return s.index[f]
}

// TVPercentColumn returns the unaggregable TV percentage column, if any.
func (s *Schema) TVPercentColumn() (int, bool) {
	return s.tvPercent, s.tvPercent >= 0
}

// EncodingFor returns the encoding used by a field's column. Counters are
// always plain integers.
func (s *Schema) EncodingFor(f model.Field) duration.Encoding {
	if f.IsCount() {
		return duration.Seconds{}
	}
	return s.Encoding
}

// FormatDuration renders d in the schema's duration encoding.
func (s *Schema) FormatDuration(d duration.Duration) string {
	return s.Encoding.Format(d)
}

// WithThresholds returns a copy of s with the given thresholds applied.
// Empty values keep the current threshold.
func (s *Schema) WithThresholds(napMin, shortInactivity string) (*Schema, error) {
	out := *s
	if napMin != "" {
		v, err := s.Encoding.Parse(napMin)
		if err != nil {
			return nil, fmt.Errorf("nap-min: %w", err)
		}
		out.NapMin = v
	}
	if shortInactivity != "" {
		v, err := s.Encoding.Parse(shortInactivity)
		if err != nil {
			return nil, fmt.Errorf("short-inactivity: %w", err)
		}
		out.ShortInactivity = v
	}
	return &out, nil
}

// Parse builds a row from its CSV fields.
func (s *Schema) Parse(line int, raw string, fields []string) (model.Row, error) {
	if len(fields) < s.width {
		return model.Row{}, fmt.Errorf("expected at least %d fields, got %d", s.width, len(fields))
	}
	row := model.Row{
		Line:   line,
		Raw:    raw,
		Fields: fields,
		Key: model.VisitKey{
			ParticipantID: fields[s.participantID],
			Age:           fields[s.age],
		},
	}
	for _, f := range model.Fields() {
		idx := s.index[f]
		v, err := s.EncodingFor(f).Parse(fields[idx])
		if err != nil {
			return model.Row{}, fmt.Errorf("column %d (%s): %w", idx, f, err)
		}
		row.Values[f] = v
	}
	return row, nil
}
