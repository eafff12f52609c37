package schema

import (
	"fmt"
	"strings"
)

// Built-in schema names.
const (
	HubName = "hub"
	ProName = "pro"
)

func intPtr(v int) *int {
	return &v
}

// Hub is the integer-seconds export layout. Both outputs are required.
func Hub() Definition {
	return Definition{
		Name:            HubName,
		Description:     "LENA hub export, durations in integer seconds",
		Encoding:        "seconds",
		NapMin:          "600",
		ShortInactivity: "180",
		CVCActiveAbove:  10,
		RequireOutputs:  true,
		Columns: Columns{
			ParticipantID: 22,
			Age:           1,
			Duration:      4,
			Meaningful:    9,
			Distant:       11,
			TV:            12,
			Noise:         14,
			Silence:       15,
			AWCActual:     5,
			CTCActual:     6,
			CVCActual:     7,
		},
	}
}

// Pro is the HH:MM:SS export layout with a TV percentage column. Outputs are
// optional.
func Pro() Definition {
	return Definition{
		Name:            ProName,
		Description:     "LENA pro export, durations in HH:MM:SS",
		Encoding:        "clock",
		NapMin:          "00:10:00",
		ShortInactivity: "00:03:00",
		CVCActiveAbove:  10,
		RequireOutputs:  false,
		Columns: Columns{
			ParticipantID: 4,
			Age:           6,
			Duration:      11,
			Meaningful:    12,
			Distant:       13,
			TV:            14,
			TVPercent:     intPtr(15),
			Noise:         16,
			Silence:       17,
			AWCActual:     18,
			CTCActual:     21,
			CVCActual:     24,
		},
	}
}

// Builtin returns the built-in definitions.
func Builtin() []Definition {
	return []Definition{Hub(), Pro()}
}

// Registry resolves schema names.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry returns a registry holding the built-in definitions plus extra.
// An extra definition may replace a built-in one of the same name.
func NewRegistry(extra ...Definition) (*Registry, error) {
	r := &Registry{defs: map[string]Definition{}}
	for _, d := range Builtin() {
		r.put(d)
	}
	seen := map[string]struct{}{}
	for _, d := range extra {
		if _, err := d.Compile(); err != nil {
			return nil, err
		}
		key := normalizeName(d.Name)
		if _, ok := seen[key]; ok {
			return nil, fmt.Errorf("schema %s defined more than once", d.Name)
		}
		seen[key] = struct{}{}
		r.put(d)
	}
	return r, nil
}

func (r *Registry) put(d Definition) {
	key := normalizeName(d.Name)
	if _, ok := r.defs[key]; !ok {
		r.order = append(r.order, key)
	}
	r.defs[key] = d
}

// Lookup compiles the named schema.
func (r *Registry) Lookup(name string) (*Schema, error) {
	d, ok := r.defs[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownSchema, name, strings.Join(r.Names(), ", "))
	}
	return d.Compile()
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns registered definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.defs[key])
	}
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
