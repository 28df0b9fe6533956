// Package frame provides the in-memory columnar table every pipeline stage passes
// around: an ordered set of named, typed, equal-length columns with optional nulls.
package frame

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindTime:
		return "time"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Numeric reports whether columns of this kind take part in scaling.
func (k Kind) Numeric() bool {
	return k == KindFloat || k == KindInt
}

var (
	ErrColumnNotFound  = errors.New("column not found")
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrLengthMismatch  = errors.New("column length mismatch")
	ErrKindMismatch    = errors.New("column kind mismatch")
)

// Column holds one typed column. Exactly one of the value slices is populated,
// matching Kind. Valid is nil when every value is present.
type Column struct {
	Name    string
	Kind    Kind
	Strings []string
	Floats  []float64
	Ints    []int64
	Times   []time.Time
	Valid   []bool
}

func NewStringColumn(name string, values []string) *Column {
	return &Column{Name: name, Kind: KindString, Strings: values}
}

func NewFloatColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: KindFloat, Floats: values}
}

func NewIntColumn(name string, values []int64) *Column {
	return &Column{Name: name, Kind: KindInt, Ints: values}
}

func NewTimeColumn(name string, values []time.Time) *Column {
	return &Column{Name: name, Kind: KindTime, Times: values}
}

// NewEmptyColumn allocates a column of n null values.
func NewEmptyColumn(name string, kind Kind, n int) *Column {
	c := &Column{Name: name, Kind: kind, Valid: make([]bool, n)}
	c.alloc(n)
	return c
}

func (c *Column) alloc(n int) {
	switch c.Kind {
	case KindString:
		c.Strings = make([]string, n)
	case KindFloat:
		c.Floats = make([]float64, n)
	case KindInt:
		c.Ints = make([]int64, n)
	case KindTime:
		c.Times = make([]time.Time, n)
	}
}

func (c *Column) Len() int {
	switch c.Kind {
	case KindString:
		return len(c.Strings)
	case KindFloat:
		return len(c.Floats)
	case KindInt:
		return len(c.Ints)
	case KindTime:
		return len(c.Times)
	}
	return 0
}

func (c *Column) IsNull(i int) bool {
	return c.Valid != nil && !c.Valid[i]
}

// NullCount returns the number of null values in the column.
func (c *Column) NullCount() int {
	if c.Valid == nil {
		return 0
	}
	n := 0
	for _, ok := range c.Valid {
		if !ok {
			n++
		}
	}
	return n
}

// Float returns the value at i as a float64. Only numeric kinds are supported.
func (c *Column) Float(i int) (float64, bool) {
	if c.IsNull(i) {
		return 0, false
	}
	switch c.Kind {
	case KindFloat:
		return c.Floats[i], true
	case KindInt:
		return float64(c.Ints[i]), true
	}
	return 0, false
}

// Format renders the value at i as text; nulls render as the empty string.
func (c *Column) Format(i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch c.Kind {
	case KindString:
		return c.Strings[i]
	case KindFloat:
		return strconv.FormatFloat(c.Floats[i], 'g', -1, 64)
	case KindInt:
		return strconv.FormatInt(c.Ints[i], 10)
	case KindTime:
		return c.Times[i].UTC().Format(time.RFC3339Nano)
	}
	return ""
}

// Clone returns a deep copy of the column under a (possibly new) name.
func (c *Column) Clone(name string) *Column {
	out := &Column{Name: name, Kind: c.Kind}
	switch c.Kind {
	case KindString:
		out.Strings = append([]string(nil), c.Strings...)
	case KindFloat:
		out.Floats = append([]float64(nil), c.Floats...)
	case KindInt:
		out.Ints = append([]int64(nil), c.Ints...)
	case KindTime:
		out.Times = append([]time.Time(nil), c.Times...)
	}
	if c.Valid != nil {
		out.Valid = append([]bool(nil), c.Valid...)
	}
	return out
}

// take gathers rows by index; a negative index produces a null.
func (c *Column) take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	out.alloc(len(idx))
	needMask := c.Valid != nil
	for _, j := range idx {
		if j < 0 {
			needMask = true
			break
		}
	}
	if needMask {
		out.Valid = make([]bool, len(idx))
	}
	for i, j := range idx {
		if j < 0 {
			continue
		}
		switch c.Kind {
		case KindString:
			out.Strings[i] = c.Strings[j]
		case KindFloat:
			out.Floats[i] = c.Floats[j]
		case KindInt:
			out.Ints[i] = c.Ints[j]
		case KindTime:
			out.Times[i] = c.Times[j]
		}
		if needMask {
			out.Valid[i] = !c.IsNull(j)
		}
	}
	return out
}

// Frame is an ordered collection of equal-length columns with unique names.
type Frame struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// New builds a frame from columns, validating names and lengths.
func New(cols ...*Column) (*Frame, error) {
	f := &Frame{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if c == nil {
			return nil, fmt.Errorf("column %d is nil", i)
		}
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, ok := f.index[c.Name]; ok {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		n := c.Len()
		if i == 0 {
			f.rows = n
		} else if n != f.rows {
			return nil, fmt.Errorf("%w: %q has %d rows, expected %d", ErrLengthMismatch, c.Name, n, f.rows)
		}
		if c.Valid != nil && len(c.Valid) != n {
			return nil, fmt.Errorf("%w: %q validity mask has %d entries, expected %d", ErrLengthMismatch, c.Name, len(c.Valid), n)
		}
		f.index[c.Name] = i
		f.cols = append(f.cols, c)
	}
	return f, nil
}

// MustNew is New for statically known inputs; it panics on error.
func MustNew(cols ...*Column) *Frame {
	f, err := New(cols...)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Frame) NumRows() int { return f.rows }
func (f *Frame) NumCols() int { return len(f.cols) }

func (f *Frame) Names() []string {
	names := make([]string, len(f.cols))
	for i, c := range f.cols {
		names[i] = c.Name
	}
	return names
}

func (f *Frame) Columns() []*Column {
	return append([]*Column(nil), f.cols...)
}

func (f *Frame) Has(name string) bool {
	_, ok := f.index[name]
	return ok
}

func (f *Frame) Column(name string) (*Column, error) {
	i, ok := f.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	return f.cols[i], nil
}

// ColumnOf returns the named column after checking its kind.
func (f *Frame) ColumnOf(name string, kind Kind) (*Column, error) {
	c, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, fmt.Errorf("%w: %q is %s, expected %s", ErrKindMismatch, name, c.Kind, kind)
	}
	return c, nil
}

// Require checks that every named column exists.
func (f *Frame) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if !f.Has(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrColumnNotFound, strings.Join(missing, ", "))
	}
	return nil
}

// With returns a new frame with the given columns appended, or replaced in place
// when a column of the same name already exists.
func (f *Frame) With(cols ...*Column) (*Frame, error) {
	out := append([]*Column(nil), f.cols...)
	for _, c := range cols {
		if i, ok := f.index[c.Name]; ok {
			out[i] = c
			continue
		}
		out = append(out, c)
	}
	return New(out...)
}

func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make([]*Column, 0, len(names))
	for _, n := range names {
		c, err := f.Column(n)
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return New(cols...)
}

// Drop removes the named columns; names that are absent are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	cols := make([]*Column, 0, len(f.cols))
	for _, c := range f.cols {
		if !drop[c.Name] {
			cols = append(cols, c)
		}
	}
	out := MustNew(cols...)
	out.rows = f.rows
	return out
}

// Rename returns a frame with columns renamed per mapping; unknown keys are ignored.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		if to, ok := mapping[c.Name]; ok && to != c.Name {
			cc := *c
			cc.Name = to
			cols[i] = &cc
			continue
		}
		cols[i] = c
	}
	return New(cols...)
}

// Take gathers rows by index into a new frame. Negative indexes yield null rows.
func (f *Frame) Take(idx []int) *Frame {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		cols[i] = c.take(idx)
	}
	out := MustNew(cols...)
	out.rows = len(idx)
	return out
}

// FillNull replaces nulls and NaNs in every numeric column with v and clears the
// masks. Non-numeric columns are left untouched.
func (f *Frame) FillNull(v float64) *Frame {
	cols := make([]*Column, len(f.cols))
	for i, c := range f.cols {
		if !c.Kind.Numeric() || (c.Valid == nil && !c.hasNaN()) {
			cols[i] = c
			continue
		}
		cc := c.Clone(c.Name)
		for r := 0; r < cc.Len(); r++ {
			switch {
			case cc.IsNull(r) && cc.Kind == KindInt:
				cc.Ints[r] = int64(v)
			case cc.Kind == KindFloat && (cc.IsNull(r) || math.IsNaN(cc.Floats[r])):
				cc.Floats[r] = v
			}
		}
		cc.Valid = nil
		cols[i] = cc
	}
	out := MustNew(cols...)
	out.rows = f.rows
	return out
}

func (c *Column) hasNaN() bool {
	if c.Kind != KindFloat {
		return false
	}
	for _, v := range c.Floats {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// NullCount returns the total number of nulls across all columns.
func (f *Frame) NullCount() int {
	n := 0
	for _, c := range f.cols {
		n += c.NullCount()
	}
	return n
}

// Keys renders the composite key of every row for the named columns.
func (f *Frame) Keys(names ...string) ([]string, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c, err := f.Column(n)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	keys := make([]string, f.rows)
	var sb strings.Builder
	for r := 0; r < f.rows; r++ {
		sb.Reset()
		for i, c := range cols {
			if i > 0 {
				sb.WriteByte(0)
			}
			if c.IsNull(r) {
				sb.WriteString("\x01null")
				continue
			}
			sb.WriteString(c.Format(r))
		}
		keys[r] = sb.String()
	}
	return keys, nil
}

// CheckUnique returns an error naming the first duplicated composite key.
func (f *Frame) CheckUnique(names ...string) error {
	keys, err := f.Keys(names...)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(keys))
	for r, k := range keys {
		if _, ok := seen[k]; ok {
			return fmt.Errorf("duplicate key (%s) at row %d: %s", strings.Join(names, ", "), r, strings.ReplaceAll(k, "\x00", ", "))
		}
		seen[k] = struct{}{}
	}
	return nil
}

// SortBy returns a frame ordered ascending by the named columns (stable).
func (f *Frame) SortBy(names ...string) (*Frame, error) {
	cols := make([]*Column, len(names))
	for i, n := range names {
		c, err := f.Column(n)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	idx := make([]int, f.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, c := range cols {
			if cmp := compareAt(c, idx[a], idx[b]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return f.Take(idx), nil
}

// compareAt orders nulls last.
func compareAt(c *Column, a, b int) int {
	na, nb := c.IsNull(a), c.IsNull(b)
	switch {
	case na && nb:
		return 0
	case na:
		return 1
	case nb:
		return -1
	}
	switch c.Kind {
	case KindString:
		return strings.Compare(c.Strings[a], c.Strings[b])
	case KindFloat:
		return cmpOrdered(c.Floats[a], c.Floats[b])
	case KindInt:
		return cmpOrdered(c.Ints[a], c.Ints[b])
	case KindTime:
		return c.Times[a].Compare(c.Times[b])
	}
	return 0
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
