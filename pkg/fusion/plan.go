package fusion

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/powerfeat/pkg/frame"
)

// Block names of the default plan.
const (
	BlockSoftware    = "software"
	BlockTemperature = "temperature"
	BlockWeb         = "web"
	BlockCPU         = "cpu"
	BlockPower       = "power"
	BlockDevice      = "device"
)

const (
	DeviceKey = "guid"
	DateKey   = "dt"
)

type Op string

const (
	OpBase        Op = "base"
	OpJoin        Op = "join"
	OpStandardize Op = "standardize"
	OpFill        Op = "fill"
	OpCalendar    Op = "calendar"
	OpDrop        Op = "drop"
)

type JoinHow string

const (
	HowInner JoinHow = "inner"
	HowLeft  JoinHow = "left"
)

func (h JoinHow) joinType() (frame.JoinType, error) {
	switch h {
	case HowInner, "":
		return frame.JoinInner, nil
	case HowLeft:
		return frame.JoinLeft, nil
	}
	return 0, fmt.Errorf("unsupported join %q", h)
}

// Stage is one step of a fusion plan.
//
//   - base: Block is the starting table; Keys must be unique in it.
//   - join: Block is merged on Keys with How; Keys must be unique in the block.
//   - standardize: fits one scaler over every numeric column present, except the
//     keys of every join in the plan and Columns.
//   - fill: replaces nulls in numeric columns with Value.
//   - calendar: derives day_of_week (Monday=0) and month_of_year from Date.
//   - drop: removes Columns.
type Stage struct {
	Name    string   `yaml:"name" json:"name"`
	Op      Op       `yaml:"op" json:"op"`
	Block   string   `yaml:"block,omitempty" json:"block,omitempty"`
	Keys    []string `yaml:"keys,omitempty" json:"keys,omitempty"`
	How     JoinHow  `yaml:"how,omitempty" json:"how,omitempty"`
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	Date    string   `yaml:"date,omitempty" json:"date,omitempty"`
	Value   float64  `yaml:"value,omitempty" json:"value,omitempty"`
}

// Plan is an ordered list of stages.
type Plan struct {
	Stages []Stage `yaml:"stages" json:"stages"`
}

var ErrInvalidPlan = errors.New("invalid fusion plan")

// DefaultPlan merges the feature blocks into the final per-device-day table.
func DefaultPlan() Plan {
	dayKeys := []string{DeviceKey, DateKey}
	return Plan{Stages: []Stage{
		{Name: BlockSoftware, Op: OpBase, Block: BlockSoftware, Keys: dayKeys},
		{Name: BlockTemperature, Op: OpJoin, Block: BlockTemperature, Keys: dayKeys, How: HowInner},
		{Name: BlockWeb, Op: OpJoin, Block: BlockWeb, Keys: dayKeys, How: HowLeft},
		{Name: BlockCPU, Op: OpJoin, Block: BlockCPU, Keys: dayKeys, How: HowInner},
		{Name: "standardize", Op: OpStandardize},
		{Name: BlockPower, Op: OpJoin, Block: BlockPower, Keys: dayKeys, How: HowInner},
		{Name: BlockDevice, Op: OpJoin, Block: BlockDevice, Keys: []string{DeviceKey}, How: HowInner},
		{Name: "fill", Op: OpFill, Value: 0},
		{Name: "calendar", Op: OpCalendar, Date: DateKey},
		{Name: "drop_ids", Op: OpDrop, Columns: dayKeys},
	}}
}

// Blocks returns the block names the plan reads, in stage order.
func (p *Plan) Blocks() []string {
	var names []string
	for _, s := range p.Stages {
		if s.Op == OpBase || s.Op == OpJoin {
			names = append(names, s.Block)
		}
	}
	return names
}

// identifiers returns every key column named by the plan.
func (p *Plan) identifiers() []string {
	seen := map[string]bool{}
	var ids []string
	for _, s := range p.Stages {
		if s.Op != OpBase && s.Op != OpJoin {
			continue
		}
		for _, k := range s.Keys {
			if !seen[k] {
				seen[k] = true
				ids = append(ids, k)
			}
		}
	}
	return ids
}

// Validate checks the plan without looking at any data.
func (p *Plan) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidPlan)
	}
	if p.Stages[0].Op != OpBase {
		return fmt.Errorf("%w: first stage %q must be a base stage", ErrInvalidPlan, p.Stages[0].Name)
	}
	names := map[string]bool{}
	blocks := map[string]bool{}
	dropped := map[string]bool{}
	standardized := false
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidPlan, i)
		}
		if names[s.Name] {
			return fmt.Errorf("%w: stage name %q is used twice", ErrInvalidPlan, s.Name)
		}
		names[s.Name] = true

		switch s.Op {
		case OpBase, OpJoin:
			if s.Op == OpBase && i > 0 {
				return fmt.Errorf("%w: stage %q: only the first stage may be a base stage", ErrInvalidPlan, s.Name)
			}
			if s.Block == "" {
				return fmt.Errorf("%w: stage %q has no block", ErrInvalidPlan, s.Name)
			}
			if blocks[s.Block] {
				return fmt.Errorf("%w: block %q is used twice", ErrInvalidPlan, s.Block)
			}
			blocks[s.Block] = true
			if len(s.Keys) == 0 {
				return fmt.Errorf("%w: stage %q has no keys", ErrInvalidPlan, s.Name)
			}
			for _, k := range s.Keys {
				if dropped[k] {
					return fmt.Errorf("%w: stage %q joins on %q after it was dropped", ErrInvalidPlan, s.Name, k)
				}
			}
			if _, err := s.How.joinType(); err != nil {
				return fmt.Errorf("%w: stage %q: %v", ErrInvalidPlan, s.Name, err)
			}
		case OpStandardize:
			if standardized {
				return fmt.Errorf("%w: stage %q: standardize may appear once", ErrInvalidPlan, s.Name)
			}
			standardized = true
		case OpFill:
		case OpCalendar:
			if s.Date == "" {
				return fmt.Errorf("%w: stage %q has no date column", ErrInvalidPlan, s.Name)
			}
			if dropped[s.Date] {
				return fmt.Errorf("%w: stage %q reads %q after it was dropped", ErrInvalidPlan, s.Name, s.Date)
			}
		case OpDrop:
			if len(s.Columns) == 0 {
				return fmt.Errorf("%w: stage %q drops nothing", ErrInvalidPlan, s.Name)
			}
			for _, c := range s.Columns {
				dropped[c] = true
			}
		default:
			return fmt.Errorf("%w: stage %q has unknown op %q", ErrInvalidPlan, s.Name, s.Op)
		}
	}
	return nil
}
