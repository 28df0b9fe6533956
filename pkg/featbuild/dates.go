package featbuild

import (
	"fmt"
	"time"

	"github.com/malbeclabs/powerfeat/pkg/frame"
)

var dateLayouts = []string{time.DateOnly, time.RFC3339Nano, time.DateTime}

// normalizeDates converts a text date column to a time column so that blocks
// read from different formats join on the same key kind. Frames without the
// column, or where it is already a time, are returned unchanged.
func normalizeDates(f *frame.Frame, name string) (*frame.Frame, error) {
	if !f.Has(name) {
		return f, nil
	}
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	switch c.Kind {
	case frame.KindTime:
		return f, nil
	case frame.KindString:
	default:
		return nil, fmt.Errorf("%w: date column %q is %s", frame.ErrKindMismatch, name, c.Kind)
	}

	out := frame.NewTimeColumn(name, make([]time.Time, c.Len()))
	if c.Valid != nil {
		out.Valid = append([]bool(nil), c.Valid...)
	}
	for i, s := range c.Strings {
		if c.IsNull(i) {
			continue
		}
		t, err := parseDate(s)
		if err != nil {
			return nil, fmt.Errorf("row %d of %s: %w", i, name, err)
		}
		out.Times[i] = t
	}
	return f.With(out)
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
