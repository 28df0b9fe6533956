package fusion

import (
	"math"
	"slices"

	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/malbeclabs/powerfeat/pkg/stats"
)

type ColumnScale struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// Scaler standardizes numeric columns to zero mean and unit population variance.
type Scaler struct {
	Columns []ColumnScale `json:"columns"`
}

// FitScaler fits every int or float column of f not named in exclude. Nulls and
// NaNs are ignored.
func FitScaler(f *frame.Frame, exclude []string) *Scaler {
	s := &Scaler{}
	for _, c := range f.Columns() {
		if !c.Kind.Numeric() || slices.Contains(exclude, c.Name) {
			continue
		}
		values := make([]float64, 0, c.Len())
		for i := 0; i < c.Len(); i++ {
			if v, ok := c.Float(i); ok && !math.IsNaN(v) {
				values = append(values, v)
			}
		}
		m := stats.Describe(values)
		s.Columns = append(s.Columns, ColumnScale{
			Name:  c.Name,
			Count: m.Count,
			Mean:  m.Mean,
			Scale: m.Scale(),
		})
	}
	return s
}

// Transform replaces each fitted column with its standardized float values. Nulls
// stay null. Fitted columns absent from f are an error.
func (s *Scaler) Transform(f *frame.Frame) (*frame.Frame, error) {
	cols := make([]*frame.Column, 0, len(s.Columns))
	for _, cs := range s.Columns {
		c, err := f.Column(cs.Name)
		if err != nil {
			return nil, err
		}
		n := c.Len()
		out := frame.NewFloatColumn(cs.Name, make([]float64, n))
		if c.Valid != nil {
			out.Valid = append([]bool(nil), c.Valid...)
		}
		for i := 0; i < n; i++ {
			if v, ok := c.Float(i); ok {
				out.Floats[i] = (v - cs.Mean) / cs.Scale
			}
		}
		cols = append(cols, out)
	}
	return f.With(cols...)
}

// Names returns the fitted column names.
func (s *Scaler) Names() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}
