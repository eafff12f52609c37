// Package aggregate accumulates per-visit totals.
package aggregate

import (
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/schema"
)

// Accumulator holds running totals for one visit. Columns that are not
// aggregated keep the text of the visit's first row.
type Accumulator struct {
	template []string
	values   model.Values
}

// New starts an accumulator from the first row of a visit.
func New(row model.Row) *Accumulator {
	return &Accumulator{
		template: append([]string(nil), row.Fields...),
		values:   row.Values,
	}
}

// AddRow adds row's fields into a.
func (a *Accumulator) AddRow(row model.Row) {
	a.values.Add(row.Values)
}

// Zero clears every aggregated field.
func (a *Accumulator) Zero() {
	a.values = model.Values{}
}

// Values returns the current totals.
func (a *Accumulator) Values() model.Values {
	return a.values
}

// Record renders the accumulator as CSV fields in s's column layout. The TV
// percentage column cannot be summed and is left blank.
func (a *Accumulator) Record(s *schema.Schema) []string {
	out := append([]string(nil), a.template...)
	for _, f := range model.Fields() {
		out[s.Index(f)] = s.EncodingFor(f).Format(a.values[f])
	}
	if col, ok := s.TVPercentColumn(); ok {
		out[col] = ""
	}
	return out
}
