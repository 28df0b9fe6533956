package sysinfo

import (
	"errors"
	"fmt"
)

// Schema describes how raw device inventory columns are encoded.
type Schema struct {
	// Key is the device identifier column, passed through as the last output column.
	Key string `yaml:"key" json:"key"`
	// Categorical columns are one-hot encoded.
	Categorical []string `yaml:"categorical" json:"categorical"`
	// Ordinal is mapped to its rank within OrdinalOrder.
	Ordinal      string   `yaml:"ordinal" json:"ordinal"`
	OrdinalOrder []string `yaml:"ordinal_order" json:"ordinal_order"`
	// Numeric columns are imputed (most frequent) and standardized.
	Numeric []string `yaml:"numeric" json:"numeric"`

	// MissingValue marks a missing cell; MissingAliases are rewritten to it first.
	MissingValue   string   `yaml:"missing_value" json:"missing_value"`
	MissingAliases []string `yaml:"missing_aliases" json:"missing_aliases"`

	CPUSuffix  CPUSuffixRule  `yaml:"cpu_suffix" json:"cpu_suffix"`
	ScreenSize ScreenSizeRule `yaml:"screen_size" json:"screen_size"`
	Chassis    ChassisRule    `yaml:"chassis" json:"chassis"`
}

// CPUSuffixRule keeps values containing Contains and folds the rest into Fallback.
type CPUSuffixRule struct {
	Column   string `yaml:"column" json:"column"`
	Contains string `yaml:"contains" json:"contains"`
	Fallback string `yaml:"fallback" json:"fallback"`
}

// ScreenSizeRule turns a screen size category such as "15x" into a number. Symbolic
// values (and the missing marker) become Sentinel.
type ScreenSizeRule struct {
	Column   string   `yaml:"column" json:"column"`
	Strip    string   `yaml:"strip" json:"strip"`
	Symbolic []string `yaml:"symbolic" json:"symbolic"`
	Sentinel float64  `yaml:"sentinel" json:"sentinel"`
}

// ChassisRule classifies devices as portable by chassis type.
type ChassisRule struct {
	Column   string   `yaml:"column" json:"column"`
	Portable []string `yaml:"portable" json:"portable"`
}

// DefaultSchema returns the inventory schema of the normalized sysinfo table.
func DefaultSchema() Schema {
	return Schema{
		Key: "guid",
		Categorical: []string{
			"countryname_normalized",
			"modelvendor_normalized",
			"os",
			"graphicsmanuf",
			"cpu_family",
			"cpu_suffix",
			"persona",
		},
		Ordinal: "age_category",
		OrdinalOrder: []string{
			"Unknown",
			"0-1 year",
			"1-2 years",
			"2-3 years",
			"3-4 years",
			"4-5 years",
			"5-6 years",
			"6+ years",
		},
		Numeric:        []string{"ram", "#ofcores", "screensize_category"},
		MissingValue:   "Unknown",
		MissingAliases: []string{"n/a", "N/A"},
		CPUSuffix: CPUSuffixRule{
			Column:   "cpu_suffix",
			Contains: "Core",
			Fallback: "Other",
		},
		ScreenSize: ScreenSizeRule{
			Column: "screensize_category",
			Strip:  "x",
			// Bucketed sizes belong to desktops and carry no inch value.
			Symbolic: []string{">24", "<20", "<21", ">60", "Unknown"},
			Sentinel: -1,
		},
		Chassis: ChassisRule{
			Column:   "chassistype",
			Portable: []string{"Notebook", "2 in 1", "Tablet"},
		},
	}
}

func (s *Schema) Validate() error {
	if s.Key == "" {
		return errors.New("key column is required")
	}
	if len(s.Categorical)+len(s.Numeric) == 0 && s.Ordinal == "" {
		return errors.New("at least one categorical, ordinal or numeric column is required")
	}
	if s.Ordinal != "" && len(s.OrdinalOrder) == 0 {
		return fmt.Errorf("ordinal column %q requires an order", s.Ordinal)
	}
	seenRank := make(map[string]bool, len(s.OrdinalOrder))
	for _, v := range s.OrdinalOrder {
		if seenRank[v] {
			return fmt.Errorf("ordinal order lists %q twice", v)
		}
		seenRank[v] = true
	}
	seen := map[string]bool{s.Key: true}
	for _, c := range s.inputColumns()[1:] {
		if seen[c] {
			return fmt.Errorf("column %q is listed more than once", c)
		}
		seen[c] = true
	}
	if s.CPUSuffix.Column != "" && s.CPUSuffix.Contains == "" {
		return fmt.Errorf("cpu suffix rule for %q requires a substring", s.CPUSuffix.Column)
	}
	return nil
}

// inputColumns lists the encoded columns in output order, key first.
func (s *Schema) inputColumns() []string {
	cols := []string{s.Key}
	cols = append(cols, s.Categorical...)
	if s.Ordinal != "" {
		cols = append(cols, s.Ordinal)
	}
	return append(cols, s.Numeric...)
}
