package sysinfo

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/malbeclabs/powerfeat/pkg/frame"
)

var (
	// ErrUnknownOrdinal is returned when an ordinal value is outside the declared order.
	ErrUnknownOrdinal = errors.New("unknown ordinal value")
	// ErrDuplicateDevice is returned when the key column repeats a device.
	ErrDuplicateDevice = errors.New("duplicate device")
)

// normalized holds the cleaned text and numeric values of every encoded column.
type normalized struct {
	keys    []string
	text    map[string][]string
	ranks   []int64
	numbers map[string][]float64
	present map[string][]bool
}

// checkInput verifies that devices carries every column the schema encodes and
// that the key identifies each device once.
func (s *Schema) checkInput(devices *frame.Frame) error {
	if err := devices.Require(s.inputColumns()...); err != nil {
		return err
	}
	key, err := devices.Column(s.Key)
	if err != nil {
		return err
	}
	if key.Kind != frame.KindString {
		return fmt.Errorf("%w: key %q is %s, expected string", frame.ErrKindMismatch, s.Key, key.Kind)
	}
	if key.NullCount() > 0 {
		return fmt.Errorf("key %q has %d null values", s.Key, key.NullCount())
	}
	if err := devices.CheckUnique(s.Key); err != nil {
		return fmt.Errorf("%w: %v", ErrDuplicateDevice, err)
	}
	return nil
}

// cell renders a value as text with missing markers unified.
func (s *Schema) cell(c *frame.Column, i int) string {
	if c.IsNull(i) {
		return s.MissingValue
	}
	v := c.Format(i)
	if slices.Contains(s.MissingAliases, v) {
		return s.MissingValue
	}
	return v
}

func (s *Schema) normalize(devices *frame.Frame) (*normalized, error) {
	if err := s.checkInput(devices); err != nil {
		return nil, err
	}
	n := devices.NumRows()
	key, _ := devices.Column(s.Key)
	out := &normalized{
		keys:    key.Strings,
		text:    make(map[string][]string, len(s.Categorical)),
		numbers: make(map[string][]float64, len(s.Numeric)),
		present: make(map[string][]bool, len(s.Numeric)),
	}

	for _, name := range s.Categorical {
		c, _ := devices.Column(name)
		vals := make([]string, n)
		for i := range vals {
			v := s.cell(c, i)
			if name == s.CPUSuffix.Column && !strings.Contains(v, s.CPUSuffix.Contains) {
				v = s.CPUSuffix.Fallback
			}
			vals[i] = v
		}
		out.text[name] = vals
	}

	if s.Ordinal != "" {
		rank := make(map[string]int64, len(s.OrdinalOrder))
		for i, v := range s.OrdinalOrder {
			rank[v] = int64(i)
		}
		c, _ := devices.Column(s.Ordinal)
		out.ranks = make([]int64, n)
		for i := range out.ranks {
			v := s.cell(c, i)
			r, ok := rank[v]
			if !ok {
				return nil, fmt.Errorf("%w: %q in column %q (device %s)", ErrUnknownOrdinal, v, s.Ordinal, out.keys[i])
			}
			out.ranks[i] = r
		}
	}

	for _, name := range s.Numeric {
		c, _ := devices.Column(name)
		vals := make([]float64, n)
		ok := make([]bool, n)
		for i := range vals {
			v, present, err := s.number(name, c, i)
			if err != nil {
				return nil, fmt.Errorf("column %q (device %s): %w", name, out.keys[i], err)
			}
			vals[i], ok[i] = v, present
		}
		out.numbers[name] = vals
		out.present[name] = ok
	}
	return out, nil
}

// number parses a numeric cell. The second return is false for a missing value.
func (s *Schema) number(name string, c *frame.Column, i int) (float64, bool, error) {
	if name == s.ScreenSize.Column {
		v := s.cell(c, i)
		if s.ScreenSize.Strip != "" {
			v = strings.ReplaceAll(v, s.ScreenSize.Strip, "")
		}
		if v == s.MissingValue || slices.Contains(s.ScreenSize.Symbolic, v) {
			return s.ScreenSize.Sentinel, true, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false, fmt.Errorf("unparseable screen size %q", v)
		}
		return f, true, nil
	}

	if v, ok := c.Float(i); ok {
		return v, true, nil
	}
	if c.Kind.Numeric() {
		return 0, false, nil
	}
	v := s.cell(c, i)
	if v == s.MissingValue {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false, fmt.Errorf("unparseable number %q", v)
	}
	return f, true, nil
}
