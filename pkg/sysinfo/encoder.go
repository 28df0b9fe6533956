// Package sysinfo encodes the device inventory table into a numeric feature matrix:
// one-hot categories, ordinal age ranks and imputed, standardized numerics.
package sysinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/malbeclabs/powerfeat/pkg/stats"
)

type Role string

const (
	RoleOneHot  Role = "onehot"
	RoleOrdinal Role = "ordinal"
	RoleNumeric Role = "numeric"
	RoleKey     Role = "key"
)

// OutputColumn describes one column of the encoded matrix.
type OutputColumn struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Role     Role   `json:"role"`
	Category string `json:"category,omitempty"`
}

// Vocabulary is the sorted category set learned for one categorical column.
type Vocabulary struct {
	Column     string   `json:"column"`
	Categories []string `json:"categories"`
}

// NumericParams holds the fitted imputation and scaling of one numeric column.
type NumericParams struct {
	Column string  `json:"column"`
	Impute float64 `json:"impute"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

// Encoder is a fitted device encoder. Its output schema is fixed at fit time and
// every Transform emits exactly these columns in this order.
type Encoder struct {
	Schema       Schema          `json:"schema"`
	Vocabularies []Vocabulary    `json:"vocabularies"`
	Numeric      []NumericParams `json:"numeric"`
	Output       []OutputColumn  `json:"output"`
}

// Fit learns category vocabularies, imputation values and scaling parameters.
func Fit(devices *frame.Frame, schema Schema) (*Encoder, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	norm, err := schema.normalize(devices)
	if err != nil {
		return nil, err
	}

	enc := &Encoder{Schema: schema}
	for _, name := range schema.Categorical {
		seen := make(map[string]struct{})
		for _, v := range norm.text[name] {
			seen[v] = struct{}{}
		}
		cats := make([]string, 0, len(seen))
		for v := range seen {
			cats = append(cats, v)
		}
		sort.Strings(cats)
		enc.Vocabularies = append(enc.Vocabularies, Vocabulary{Column: name, Categories: cats})
	}

	for _, name := range schema.Numeric {
		vals, present := norm.numbers[name], norm.present[name]
		observed := make([]float64, 0, len(vals))
		for i, v := range vals {
			if present[i] {
				observed = append(observed, v)
			}
		}
		impute, ok := stats.Mode(observed)
		if !ok {
			return nil, fmt.Errorf("column %q has no observed values to impute from", name)
		}
		filled := make([]float64, len(vals))
		for i, v := range vals {
			if present[i] {
				filled[i] = v
			} else {
				filled[i] = impute
			}
		}
		m := stats.Describe(filled)
		enc.Numeric = append(enc.Numeric, NumericParams{
			Column: name,
			Impute: impute,
			Mean:   m.Mean,
			Scale:  m.Scale(),
		})
	}

	enc.Output = enc.outputColumns()
	return enc, nil
}

// FitTransform fits an encoder and applies it to the same table.
func FitTransform(devices *frame.Frame, schema Schema) (*Encoder, *frame.Frame, error) {
	enc, err := Fit(devices, schema)
	if err != nil {
		return nil, nil, err
	}
	out, err := enc.Transform(devices)
	if err != nil {
		return nil, nil, err
	}
	return enc, out, nil
}

func (e *Encoder) outputColumns() []OutputColumn {
	var cols []OutputColumn
	for _, v := range e.Vocabularies {
		for _, c := range v.Categories {
			cols = append(cols, OutputColumn{
				Name:     v.Column + "_" + c,
				Source:   v.Column,
				Role:     RoleOneHot,
				Category: c,
			})
		}
	}
	if e.Schema.Ordinal != "" {
		cols = append(cols, OutputColumn{Name: e.Schema.Ordinal, Source: e.Schema.Ordinal, Role: RoleOrdinal})
	}
	for _, p := range e.Numeric {
		cols = append(cols, OutputColumn{Name: p.Column, Source: p.Column, Role: RoleNumeric})
	}
	return append(cols, OutputColumn{Name: e.Schema.Key, Source: e.Schema.Key, Role: RoleKey})
}

// Names returns the output column names in order.
func (e *Encoder) Names() []string {
	names := make([]string, len(e.Output))
	for i, c := range e.Output {
		names[i] = c.Name
	}
	return names
}

// Transform encodes devices with the fitted parameters. Categories not seen during
// fit encode as all zeros; ordinal values outside the order fail with
// ErrUnknownOrdinal; missing numerics take the fitted impute value.
func (e *Encoder) Transform(devices *frame.Frame) (*frame.Frame, error) {
	if len(e.Output) == 0 {
		return nil, errors.New("encoder is not fitted")
	}
	norm, err := e.Schema.normalize(devices)
	if err != nil {
		return nil, err
	}
	n := devices.NumRows()

	params := make(map[string]NumericParams, len(e.Numeric))
	for _, p := range e.Numeric {
		params[p.Column] = p
	}

	cols := make([]*frame.Column, 0, len(e.Output))
	for _, oc := range e.Output {
		switch oc.Role {
		case RoleOneHot:
			vals := make([]float64, n)
			for i, v := range norm.text[oc.Source] {
				if v == oc.Category {
					vals[i] = 1
				}
			}
			cols = append(cols, frame.NewFloatColumn(oc.Name, vals))
		case RoleOrdinal:
			cols = append(cols, frame.NewIntColumn(oc.Name, append([]int64(nil), norm.ranks...)))
		case RoleNumeric:
			p := params[oc.Source]
			src, present := norm.numbers[oc.Source], norm.present[oc.Source]
			vals := make([]float64, n)
			for i, v := range src {
				if !present[i] {
					v = p.Impute
				}
				vals[i] = (v - p.Mean) / p.Scale
			}
			cols = append(cols, frame.NewFloatColumn(oc.Name, vals))
		case RoleKey:
			cols = append(cols, frame.NewStringColumn(oc.Name, append([]string(nil), norm.keys...)))
		default:
			return nil, fmt.Errorf("output column %q has unknown role %q", oc.Name, oc.Role)
		}
	}
	return frame.New(cols...)
}

// WriteJSON serializes the fitted encoder.
func (e *Encoder) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

// ReadEncoder loads an encoder written by WriteJSON.
func ReadEncoder(r io.Reader) (*Encoder, error) {
	var e Encoder
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return nil, fmt.Errorf("failed to decode encoder: %w", err)
	}
	if err := e.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder schema: %w", err)
	}
	if len(e.Output) == 0 {
		return nil, errors.New("encoder has no output columns")
	}
	return &e, nil
}
