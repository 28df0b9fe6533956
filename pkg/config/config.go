// Package config holds the feature pipeline settings: table locations, the device
// schema, pivot definitions and the fusion plan.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/malbeclabs/powerfeat/pkg/fusion"
	"github.com/malbeclabs/powerfeat/pkg/pivot"
	"github.com/malbeclabs/powerfeat/pkg/sysinfo"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	// DataDir holds the shared device tables and the software catalog.
	DataDir string  `yaml:"data_dir"`
	Inputs  Inputs  `yaml:"inputs"`
	Outputs Outputs `yaml:"outputs"`

	Schema      sysinfo.Schema     `yaml:"sysinfo_schema"`
	Software    Software           `yaml:"software"`
	Web         pivot.Spec         `yaml:"web"`
	Temperature pivot.WeightedSpec `yaml:"temperature"`
	CPU         Rename             `yaml:"cpu"`
	Power       Rename             `yaml:"power"`
	Plan        fusion.Plan        `yaml:"plan"`

	// LoadConcurrency bounds concurrent raw table reads.
	LoadConcurrency int `yaml:"load_concurrency"`
}

// Inputs are file names; Sysinfo and SoftwareCatalog live in DataDir, the raw
// tables in RawDir under the investigation directory.
type Inputs struct {
	Sysinfo         string `yaml:"sysinfo"`
	SoftwareCatalog string `yaml:"software_catalog"`
	RawDir          string `yaml:"raw_dir"`
	Software        string `yaml:"software"`
	Web             string `yaml:"web"`
	Temperature     string `yaml:"temperature"`
	CPU             string `yaml:"cpu"`
	Power           string `yaml:"power"`
}

// Outputs are file names; the device outputs live in DataDir, the feature table
// and scaler in Dir under the investigation directory.
type Outputs struct {
	SysinfoEncoded string `yaml:"sysinfo_encoded"`
	Chassis        string `yaml:"chassis"`
	Encoder        string `yaml:"encoder"`
	Dir            string `yaml:"dir"`
	Features       string `yaml:"features"`
	Scaler         string `yaml:"scaler"`
}

// Software maps process names to categories before pivoting.
type Software struct {
	ProcessColumn  string     `yaml:"process_column"`
	CategoryColumn string     `yaml:"category_column"`
	Pivot          pivot.Spec `yaml:"pivot"`
}

// Rename renames then drops columns of a daily summary table.
type Rename struct {
	Columns map[string]string `yaml:"rename"`
	Drop    []string          `yaml:"drop"`
}

func Default() *Settings {
	return &Settings{
		DataDir: "data",
		Inputs: Inputs{
			Sysinfo:         "sysinfo.parquet",
			SoftwareCatalog: "software_data.yaml",
			RawDir:          "raw",
			Software:        "sw_usage.parquet",
			Web:             "web_usage.parquet",
			Temperature:     "temp.parquet",
			CPU:             "cpu_util.parquet",
			Power:           "power.parquet",
		},
		Outputs: Outputs{
			SysinfoEncoded: "sysinfo_ohe.parquet",
			Chassis:        "chastype.parquet",
			Encoder:        "sysinfo_encoder.json",
			Dir:            "out",
			Features:       "feat.parquet",
			Scaler:         "scaler.json",
		},
		Schema: sysinfo.DefaultSchema(),
		Software: Software{
			ProcessColumn:  "frgnd_proc_name",
			CategoryColumn: "sw_category",
			Pivot: pivot.Spec{
				Value:   "frgnd_proc_duration_ms",
				Columns: []string{"sw_category", "sw_event_name"},
			},
		},
		Web: pivot.Spec{
			Value:   "duration_ms",
			Columns: []string{"web_parent_category", "web_sub_category"},
		},
		Temperature: pivot.WeightedSpec{
			Count:   "nrs",
			Average: "avg_val",
			Output:  "temp_avg",
		},
		CPU: Rename{
			Columns: map[string]string{"norm_usage": "cpu_norm_usage"},
		},
		Power: Rename{
			Columns: map[string]string{"mean": "power_mean", "nrs_sum": "power_nrs_sum"},
			Drop:    []string{"power_nrs_sum"},
		},
		Plan:            fusion.DefaultPlan(),
		LoadConcurrency: 4,
	}
}

// Load reads YAML settings from path over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	if path == "" {
		return s, s.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings: %w", err)
	}
	defer f.Close()
	if err := s.decode(f); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings %s: %w", path, err)
	}
	return s, nil
}

func (s *Settings) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode settings: %w", err)
	}
	return nil
}

var knownBlocks = []string{
	fusion.BlockSoftware,
	fusion.BlockTemperature,
	fusion.BlockWeb,
	fusion.BlockCPU,
	fusion.BlockPower,
	fusion.BlockDevice,
}

func (s *Settings) Validate() error {
	if s.DataDir == "" {
		return errors.New("data_dir is required")
	}
	for _, f := range []struct{ name, value string }{
		{"inputs.sysinfo", s.Inputs.Sysinfo},
		{"inputs.software_catalog", s.Inputs.SoftwareCatalog},
		{"inputs.software", s.Inputs.Software},
		{"inputs.web", s.Inputs.Web},
		{"inputs.temperature", s.Inputs.Temperature},
		{"inputs.cpu", s.Inputs.CPU},
		{"inputs.power", s.Inputs.Power},
		{"outputs.sysinfo_encoded", s.Outputs.SysinfoEncoded},
		{"outputs.chassis", s.Outputs.Chassis},
		{"outputs.encoder", s.Outputs.Encoder},
		{"outputs.features", s.Outputs.Features},
		{"outputs.scaler", s.Outputs.Scaler},
	} {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
	}
	if err := s.Schema.Validate(); err != nil {
		return fmt.Errorf("sysinfo_schema: %w", err)
	}
	if s.Software.ProcessColumn == "" || s.Software.CategoryColumn == "" {
		return errors.New("software.process_column and software.category_column are required")
	}
	if err := s.Software.Pivot.Validate(); err != nil {
		return fmt.Errorf("software.pivot: %w", err)
	}
	if err := s.Web.Validate(); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	if err := s.Temperature.Validate(); err != nil {
		return fmt.Errorf("temperature: %w", err)
	}
	if err := s.Plan.Validate(); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	for _, b := range s.Plan.Blocks() {
		known := false
		for _, k := range knownBlocks {
			if b == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("plan: unknown block %q (known: %s)", b, strings.Join(knownBlocks, ", "))
		}
	}
	if s.LoadConcurrency < 1 {
		return errors.New("load_concurrency must be at least 1")
	}
	return nil
}

// Join resolves name against base. Absolute paths and URIs are returned as is.
func Join(base, name string) string {
	if strings.Contains(name, "://") || filepath.IsAbs(name) {
		return name
	}
	if strings.Contains(base, "://") {
		return strings.TrimSuffix(base, "/") + "/" + name
	}
	return filepath.Join(base, name)
}

func (s *Settings) SysinfoPath() string        { return Join(s.DataDir, s.Inputs.Sysinfo) }
func (s *Settings) CatalogPath() string        { return Join(s.DataDir, s.Inputs.SoftwareCatalog) }
func (s *Settings) SysinfoEncodedPath() string { return Join(s.DataDir, s.Outputs.SysinfoEncoded) }
func (s *Settings) ChassisPath() string        { return Join(s.DataDir, s.Outputs.Chassis) }
func (s *Settings) EncoderPath() string        { return Join(s.DataDir, s.Outputs.Encoder) }

// RawPaths returns the raw table locations under an investigation directory,
// keyed by fusion block name.
func (s *Settings) RawPaths(invDir string) map[string]string {
	raw := Join(invDir, s.Inputs.RawDir)
	return map[string]string{
		fusion.BlockSoftware:    Join(raw, s.Inputs.Software),
		fusion.BlockWeb:         Join(raw, s.Inputs.Web),
		fusion.BlockTemperature: Join(raw, s.Inputs.Temperature),
		fusion.BlockCPU:         Join(raw, s.Inputs.CPU),
		fusion.BlockPower:       Join(raw, s.Inputs.Power),
	}
}

func (s *Settings) FeaturesPath(invDir string) string {
	return Join(Join(invDir, s.Outputs.Dir), s.Outputs.Features)
}

func (s *Settings) ScalerPath(invDir string) string {
	return Join(Join(invDir, s.Outputs.Dir), s.Outputs.Scaler)
}
