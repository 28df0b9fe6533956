package pivot

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/powerfeat/pkg/frame"
)

// WeightedSpec combines per-row averages into one count-weighted average per key.
type WeightedSpec struct {
	Keys    []string `yaml:"keys" json:"keys"`
	Count   string   `yaml:"count" json:"count"`
	Average string   `yaml:"average" json:"average"`
	Output  string   `yaml:"output" json:"output"`
}

func (s *WeightedSpec) keys() []string {
	if len(s.Keys) == 0 {
		return DefaultKeys
	}
	return s.Keys
}

func (s *WeightedSpec) Validate() error {
	if s.Count == "" {
		return errors.New("count column is required")
	}
	if s.Average == "" {
		return errors.New("average column is required")
	}
	if s.Output == "" {
		return errors.New("output column is required")
	}
	return nil
}

// WeightedAverage computes sum(count*avg) / sum(count) per key. A key whose counts
// sum to zero yields 0. Rows with a null count or average do not contribute to the
// numerator; a null count does not contribute to the denominator. Output rows are
// sorted by key.
func WeightedAverage(events *frame.Frame, spec WeightedSpec) (*frame.Frame, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	keys := spec.keys()
	if err := events.Require(append(append([]string{}, keys...), spec.Count, spec.Average)...); err != nil {
		return nil, err
	}
	count, err := events.Column(spec.Count)
	if err != nil {
		return nil, err
	}
	avg, err := events.Column(spec.Average)
	if err != nil {
		return nil, err
	}
	for _, c := range []*frame.Column{count, avg} {
		if !c.Kind.Numeric() {
			return nil, fmt.Errorf("%w: %q is %s", frame.ErrKindMismatch, c.Name, c.Kind)
		}
	}
	keyCols := make([]*frame.Column, len(keys))
	for i, k := range keys {
		keyCols[i], _ = events.Column(k)
	}
	rowKeys, err := events.Keys(keys...)
	if err != nil {
		return nil, err
	}

	g := newGroups()
	var weighted, total []float64
	for r := range rowKeys {
		if nullKey(keyCols, r) {
			continue
		}
		gi := g.add(rowKeys[r], r)
		if gi == len(total) {
			weighted = append(weighted, 0)
			total = append(total, 0)
		}
		n, ok := count.Float(r)
		if !ok {
			continue
		}
		total[gi] += n
		if v, ok := avg.Float(r); ok {
			weighted[gi] += n * v
		}
	}

	vals := make([]float64, len(total))
	for i := range vals {
		if total[i] != 0 {
			vals[i] = weighted[i] / total[i]
		}
	}
	cols, err := g.keyColumns(events, keys)
	if err != nil {
		return nil, err
	}
	out, err := frame.New(append(cols, frame.NewFloatColumn(spec.Output, vals))...)
	if err != nil {
		return nil, err
	}
	return out.SortBy(keys...)
}
