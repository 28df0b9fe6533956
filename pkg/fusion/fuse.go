// Package fusion joins per-device-day feature blocks into the final feature table.
package fusion

import (
	"errors"
	"fmt"
	"sort"

	"github.com/malbeclabs/powerfeat/pkg/frame"
)

var (
	ErrMissingBlock = errors.New("missing feature block")
	ErrDuplicateKey = errors.New("duplicate key in feature block")
)

// JoinStat records the row counts around one join stage.
type JoinStat struct {
	Stage     string `json:"stage"`
	Block     string `json:"block"`
	How       string `json:"how"`
	LeftRows  int    `json:"left_rows"`
	RightRows int    `json:"right_rows"`
	OutRows   int    `json:"out_rows"`
}

// Emptied reports whether the join dropped every row.
func (s JoinStat) Emptied() bool {
	return s.LeftRows > 0 && s.OutRows == 0
}

type Result struct {
	Table  *frame.Frame
	Scaler *Scaler
	Joins  []JoinStat
}

// Fuse runs plan over blocks. It validates the plan and checks that every block
// is present before touching any data.
func Fuse(blocks map[string]*frame.Frame, plan Plan) (*Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range plan.Blocks() {
		if blocks[name] == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v", ErrMissingBlock, missing)
	}

	res := &Result{}
	var cur *frame.Frame
	for _, s := range plan.Stages {
		var err error
		switch s.Op {
		case OpBase:
			cur, err = checkedBlock(blocks[s.Block], s)
		case OpJoin:
			cur, err = joinStage(cur, blocks[s.Block], s, res)
		case OpStandardize:
			exclude := append(plan.identifiers(), s.Columns...)
			res.Scaler = FitScaler(cur, exclude)
			cur, err = res.Scaler.Transform(cur)
		case OpFill:
			cur = cur.FillNull(s.Value)
		case OpCalendar:
			cur, err = addCalendar(cur, s.Date)
		case OpDrop:
			cur = cur.Drop(s.Columns...)
		}
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", s.Name, err)
		}
	}
	res.Table = cur
	return res, nil
}

func checkedBlock(f *frame.Frame, s Stage) (*frame.Frame, error) {
	if err := f.CheckUnique(s.Keys...); err != nil {
		if errors.Is(err, frame.ErrColumnNotFound) {
			return nil, fmt.Errorf("block %s: %w", s.Block, err)
		}
		return nil, fmt.Errorf("%w %s: %v", ErrDuplicateKey, s.Block, err)
	}
	return f, nil
}

func joinStage(left, block *frame.Frame, s Stage, res *Result) (*frame.Frame, error) {
	right, err := checkedBlock(block, s)
	if err != nil {
		return nil, err
	}
	how, err := s.How.joinType()
	if err != nil {
		return nil, err
	}
	out, err := left.Join(right, s.Keys, how)
	if err != nil {
		return nil, err
	}
	res.Joins = append(res.Joins, JoinStat{
		Stage:     s.Name,
		Block:     s.Block,
		How:       how.String(),
		LeftRows:  left.NumRows(),
		RightRows: right.NumRows(),
		OutRows:   out.NumRows(),
	})
	return out, nil
}

// addCalendar appends day_of_week (Monday=0) and month_of_year (1-12).
func addCalendar(f *frame.Frame, date string) (*frame.Frame, error) {
	c, err := f.ColumnOf(date, frame.KindTime)
	if err != nil {
		return nil, err
	}
	dow := make([]int64, c.Len())
	month := make([]int64, c.Len())
	for i, t := range c.Times {
		if c.IsNull(i) {
			return nil, fmt.Errorf("null %s at row %d", date, i)
		}
		dow[i] = int64((t.Weekday() + 6) % 7)
		month[i] = int64(t.Month())
	}
	return f.With(
		frame.NewIntColumn("day_of_week", dow),
		frame.NewIntColumn("month_of_year", month),
	)
}
