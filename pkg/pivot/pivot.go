// Package pivot turns event-level usage records into one wide row per device and day.
package pivot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/malbeclabs/powerfeat/pkg/frame"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrAggMismatch is returned when the aggregation list does not pair with the columns.
	ErrAggMismatch = errors.New("aggregation list does not match grouping columns")
	ErrNoColumns   = errors.New("at least one grouping column is required")
)

// DefaultKeys identify a device-day.
var DefaultKeys = []string{"guid", "dt"}

type Agg string

const (
	AggSum   Agg = "sum"
	AggMean  Agg = "mean"
	AggCount Agg = "count"
	AggMin   Agg = "min"
	AggMax   Agg = "max"
)

func (a Agg) Valid() bool {
	switch a {
	case AggSum, AggMean, AggCount, AggMin, AggMax:
		return true
	}
	return false
}

// Spec describes one pivot: Value is aggregated per key and per category of each
// grouping column. Aggs pairs with Columns; an empty list means sum for all.
type Spec struct {
	Keys    []string `yaml:"keys" json:"keys"`
	Value   string   `yaml:"value" json:"value"`
	Columns []string `yaml:"columns" json:"columns"`
	Aggs    []Agg    `yaml:"aggs" json:"aggs"`
}

func (s *Spec) keys() []string {
	if len(s.Keys) == 0 {
		return DefaultKeys
	}
	return s.Keys
}

func (s *Spec) aggs() []Agg {
	if len(s.Aggs) > 0 {
		return s.Aggs
	}
	aggs := make([]Agg, len(s.Columns))
	for i := range aggs {
		aggs[i] = AggSum
	}
	return aggs
}

func (s *Spec) Validate() error {
	if s.Value == "" {
		return errors.New("value column is required")
	}
	if len(s.Columns) == 0 {
		return ErrNoColumns
	}
	if len(s.Aggs) > 0 && len(s.Aggs) != len(s.Columns) {
		return fmt.Errorf("%w: %d columns, %d aggregations", ErrAggMismatch, len(s.Columns), len(s.Aggs))
	}
	for _, a := range s.Aggs {
		if !a.Valid() {
			return fmt.Errorf("unsupported aggregation %q", a)
		}
	}
	return nil
}

// groups assigns a dense index to each distinct key tuple, remembering the first
// event row of every group so the key values can be copied out.
type groups struct {
	index map[string]int
	first []int
}

func newGroups() *groups {
	return &groups{index: make(map[string]int)}
}

func (g *groups) add(key string, row int) int {
	if i, ok := g.index[key]; ok {
		return i
	}
	i := len(g.first)
	g.index[key] = i
	g.first = append(g.first, row)
	return i
}

// keyColumns copies the key values of every group out of events.
func (g *groups) keyColumns(events *frame.Frame, keys []string) ([]*frame.Column, error) {
	sub, err := events.Select(keys...)
	if err != nil {
		return nil, err
	}
	return sub.Take(g.first).Columns(), nil
}

// nullKey reports whether any key column is null at row r.
func nullKey(cols []*frame.Column, r int) bool {
	for _, c := range cols {
		if c.IsNull(r) {
			return true
		}
	}
	return false
}

// acc collects the values of one output cell.
type acc struct {
	vals []float64
}

func (a *acc) add(v float64) {
	a.vals = append(a.vals, v)
}

func (a *acc) count() int64 {
	if a == nil {
		return 0
	}
	return int64(len(a.vals))
}

func (a *acc) result(agg Agg) float64 {
	if a.count() == 0 {
		return 0
	}
	switch agg {
	case AggMean:
		return stat.Mean(a.vals, nil)
	case AggCount:
		return float64(len(a.vals))
	case AggMin:
		return floats.Min(a.vals)
	case AggMax:
		return floats.Max(a.vals)
	}
	return floats.Sum(a.vals)
}

// Pivot aggregates events into one row per key with a `{column}_{category}` column
// for every category observed in each grouping column. Combinations with no events
// are 0. Rows with a null key or value are ignored, as are rows whose category is
// null for that grouping column. Output rows are sorted by key.
func Pivot(events *frame.Frame, spec Spec) (*frame.Frame, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	keys, aggs := spec.keys(), spec.aggs()
	if err := events.Require(append(append([]string{}, keys...), spec.Value)...); err != nil {
		return nil, err
	}
	if err := events.Require(spec.Columns...); err != nil {
		return nil, err
	}
	value, err := events.Column(spec.Value)
	if err != nil {
		return nil, err
	}
	if !value.Kind.Numeric() {
		return nil, fmt.Errorf("%w: value column %q is %s", frame.ErrKindMismatch, spec.Value, value.Kind)
	}
	keyCols := make([]*frame.Column, len(keys))
	for i, k := range keys {
		keyCols[i], _ = events.Column(k)
	}
	rowKeys, err := events.Keys(keys...)
	if err != nil {
		return nil, err
	}
	cats := make([]*frame.Column, len(spec.Columns))
	for i, c := range spec.Columns {
		cats[i], _ = events.Column(c)
	}

	// A row only opens a group when it contributes to at least one grouping column.
	g := newGroups()
	rowGroup := make([]int, events.NumRows())
	for r := range rowGroup {
		rowGroup[r] = -1
		if nullKey(keyCols, r) || value.IsNull(r) {
			continue
		}
		for _, c := range cats {
			if !c.IsNull(r) {
				rowGroup[r] = g.add(rowKeys[r], r)
				break
			}
		}
	}

	keyOut, err := g.keyColumns(events, keys)
	if err != nil {
		return nil, err
	}
	cols := keyOut
	n := len(g.first)
	for ci, c := range cats {
		cells := make(map[string][]acc)
		for r, gi := range rowGroup {
			if gi < 0 || c.IsNull(r) {
				continue
			}
			cat := c.Format(r)
			accs, ok := cells[cat]
			if !ok {
				accs = make([]acc, n)
				cells[cat] = accs
			}
			v, _ := value.Float(r)
			accs[gi].add(v)
		}
		names := make([]string, 0, len(cells))
		for cat := range cells {
			names = append(names, cat)
		}
		sort.Strings(names)
		for _, cat := range names {
			accs := cells[cat]
			name := spec.Columns[ci] + "_" + cat
			if aggs[ci] == AggCount {
				vals := make([]int64, n)
				for i := range accs {
					vals[i] = accs[i].count()
				}
				cols = append(cols, frame.NewIntColumn(name, vals))
				continue
			}
			vals := make([]float64, n)
			for i := range accs {
				vals[i] = accs[i].result(aggs[ci])
			}
			cols = append(cols, frame.NewFloatColumn(name, vals))
		}
	}

	out, err := frame.New(cols...)
	if err != nil {
		return nil, err
	}
	return out.SortBy(keys...)
}
