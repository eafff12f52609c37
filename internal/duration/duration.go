// Package duration implements elapsed-time values and their text encodings.
package duration

import (
	"fmt"
	"strconv"
	"strings"
)

// Duration is an elapsed time in whole seconds.
type Duration int64

// Add returns a + b. Carries between seconds, minutes and hours fall out of
// the seconds representation; there is no day rollover.
func Add(a, b Duration) Duration {
	return a + b
}

// AtLeast reports whether value >= threshold.
func AtLeast(value, threshold Duration) bool {
	return value >= threshold
}

// Encoding converts durations to and from their column text.
type Encoding interface {
	Name() string
	Parse(s string) (Duration, error)
	Format(d Duration) string
}

const (
	// SecondsName identifies the integer-seconds encoding.
	SecondsName = "seconds"
	// ClockName identifies the HH:MM:SS encoding.
	ClockName = "clock"
)

// Seconds encodes durations as a plain integer count ("600").
// Integer counters use it too.
type Seconds struct{}

// Name implements Encoding.
func (Seconds) Name() string { return SecondsName }

// Parse implements Encoding.
func (Seconds) Parse(s string) (Duration, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return Duration(v), nil
}

// Format implements Encoding.
func (Seconds) Format(d Duration) string {
	return strconv.FormatInt(int64(d), 10)
}

// Clock encodes durations as HH:MM:SS ("00:10:00").
type Clock struct{}

// Name implements Encoding.
func (Clock) Name() string { return ClockName }

// Parse implements Encoding. Minute and second components above 59 are
// accepted and carried.
func (Clock) Parse(s string) (Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock duration %q (expected HH:MM:SS)", s)
	}
	var total int64
	for i, unit := range []int64{3600, 60, 1} {
		v, err := strconv.ParseInt(strings.TrimSpace(parts[i]), 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid clock duration %q (expected HH:MM:SS)", s)
		}
		total += v * unit
	}
	return Duration(total), nil
}

// Format implements Encoding. Every component is zero-padded to two digits;
// hours keep their natural width past 99.
func (Clock) Format(d Duration) string {
	sign := ""
	total := int64(d)
	if total < 0 {
		sign = "-"
		total = -total
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, hours, minutes, seconds)
}

// EncodingFor returns the encoding registered under name.
func EncodingFor(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SecondsName:
		return Seconds{}, nil
	case ClockName:
		return Clock{}, nil
	default:
		return nil, fmt.Errorf("unknown duration encoding %q (expected %s|%s)", name, SecondsName, ClockName)
	}
}
