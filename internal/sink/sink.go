// Package sink writes cleaned rows and visit summaries.
package sink

import (
	"bufio"
	"encoding/csv"
	"io"

	"github.com/verte-zerg/napfilter/internal/aggregate"
	"github.com/verte-zerg/napfilter/internal/schema"
)

const lineEnd = "\r\n"

// CSV writes the cleaned stream and the summary stream. Either stream may be
// nil, in which case its writes are skipped. Every line ends with CRLF.
type CSV struct {
	schema     *schema.Schema
	cleaned    *bufio.Writer
	summaryOut *bufio.Writer
	summary    *csv.Writer
}

// NewCSV returns a sink writing to cleaned and summary.
func NewCSV(s *schema.Schema, cleaned, summary io.Writer) *CSV {
	c := &CSV{schema: s}
	if cleaned != nil {
		c.cleaned = bufio.NewWriter(cleaned)
	}
	if summary != nil {
		c.summaryOut = bufio.NewWriter(summary)
		c.summary = csv.NewWriter(c.summaryOut)
		c.summary.UseCRLF = true
	}
	return c
}

// WriteHeader copies the header line to both streams.
func (c *CSV) WriteHeader(line string) error {
	if c.cleaned != nil {
		if _, err := c.cleaned.WriteString(line + lineEnd); err != nil {
			return err
		}
	}
	if c.summary != nil {
		c.summary.Flush()
		if err := c.summary.Error(); err != nil {
			return err
		}
		if _, err := c.summaryOut.WriteString(line + lineEnd); err != nil {
			return err
		}
	}
	return nil
}

// WriteRow writes a kept row's original text.
func (c *CSV) WriteRow(raw string) error {
	if c.cleaned == nil {
		return nil
	}
	_, err := c.cleaned.WriteString(raw + lineEnd)
	return err
}

// WriteSummary writes the raw totals line followed by the filtered totals
// line.
func (c *CSV) WriteSummary(raw, filtered *aggregate.Accumulator) error {
	if c.summary == nil {
		return nil
	}
	if err := c.summary.Write(raw.Record(c.schema)); err != nil {
		return err
	}
	return c.summary.Write(filtered.Record(c.schema))
}

// Flush writes buffered data to the underlying writers.
func (c *CSV) Flush() error {
	if c.cleaned != nil {
		if err := c.cleaned.Flush(); err != nil {
			return err
		}
	}
	if c.summary != nil {
		c.summary.Flush()
		if err := c.summary.Error(); err != nil {
			return err
		}
		if err := c.summaryOut.Flush(); err != nil {
			return err
		}
	}
	return nil
}
