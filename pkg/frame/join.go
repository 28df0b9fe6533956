package frame

import (
	"fmt"
	"strings"
)

type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
)

func (j JoinType) String() string {
	switch j {
	case JoinInner:
		return "inner"
	case JoinLeft:
		return "left"
	default:
		return fmt.Sprintf("join(%d)", int(j))
	}
}

// Join merges right into f on the named key columns. Output rows follow the left
// frame's order, and for each left row the matching right rows in their own order.
// Unmatched left rows are kept as nulls for a left join and dropped for an inner
// join. Output columns are the left columns followed by the right non-key columns;
// a non-key name present on both sides is an error.
func (f *Frame) Join(right *Frame, keys []string, how JoinType) (*Frame, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("join requires at least one key column")
	}
	for _, k := range keys {
		lc, err := f.Column(k)
		if err != nil {
			return nil, fmt.Errorf("left side: %w", err)
		}
		rc, err := right.Column(k)
		if err != nil {
			return nil, fmt.Errorf("right side: %w", err)
		}
		if lc.Kind != rc.Kind {
			return nil, fmt.Errorf("%w: key %q is %s on the left and %s on the right", ErrKindMismatch, k, lc.Kind, rc.Kind)
		}
	}

	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}
	var rightCols []*Column
	var clash []string
	for _, c := range right.cols {
		if isKey[c.Name] {
			continue
		}
		if f.Has(c.Name) {
			clash = append(clash, c.Name)
			continue
		}
		rightCols = append(rightCols, c)
	}
	if len(clash) > 0 {
		return nil, fmt.Errorf("%w: %s present on both sides of join", ErrDuplicateColumn, strings.Join(clash, ", "))
	}

	leftKeys, err := f.Keys(keys...)
	if err != nil {
		return nil, err
	}
	rKeys, err := right.Keys(keys...)
	if err != nil {
		return nil, err
	}
	lookup := make(map[string][]int, len(rKeys))
	for i, k := range rKeys {
		lookup[k] = append(lookup[k], i)
	}

	leftIdx := make([]int, 0, len(leftKeys))
	rightIdx := make([]int, 0, len(leftKeys))
	for i, k := range leftKeys {
		matches := lookup[k]
		if len(matches) == 0 {
			if how == JoinLeft {
				leftIdx = append(leftIdx, i)
				rightIdx = append(rightIdx, -1)
			}
			continue
		}
		for _, j := range matches {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, j)
		}
	}

	cols := make([]*Column, 0, len(f.cols)+len(rightCols))
	for _, c := range f.cols {
		cols = append(cols, c.take(leftIdx))
	}
	for _, c := range rightCols {
		cols = append(cols, c.take(rightIdx))
	}
	out, err := New(cols...)
	if err != nil {
		return nil, err
	}
	out.rows = len(leftIdx)
	return out, nil
}
