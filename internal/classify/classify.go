// Package classify decides whether a row shows monitored activity.
package classify

import (
	"github.com/verte-zerg/napfilter/internal/duration"
	"github.com/verte-zerg/napfilter/internal/model"
	"github.com/verte-zerg/napfilter/internal/schema"
)

// Classifier applies a schema's activity thresholds.
type Classifier struct {
	shortInactivity duration.Duration
	cvcActiveAbove  duration.Duration
}

// New returns a classifier for s.
func New(s *schema.Schema) *Classifier {
	return &Classifier{
		shortInactivity: s.ShortInactivity,
		cvcActiveAbove:  s.CVCActiveAbove,
	}
}

// IsActive reports whether row can never be part of a nap. A row is a nap
// candidate only when it has no adult words or turns, few child
// vocalizations, and noise plus silence covers at least the short-inactivity
// threshold.
func (c *Classifier) IsActive(row model.Row) bool {
	v := row.Values
	if v[model.FieldAWCActual] != 0 {
		return true
	}
	if v[model.FieldCTCActual] != 0 {
		return true
	}
	if v[model.FieldCVCActual] > c.cvcActiveAbove {
		return true
	}
	quiet := duration.Add(v[model.FieldNoise], v[model.FieldSilence])
	return !duration.AtLeast(quiet, c.shortInactivity)
}
