package sysinfo

import (
	"fmt"
	"slices"

	"github.com/malbeclabs/powerfeat/pkg/frame"
)

// Portable returns the chassis side table: key, chassis type and a 0/1 portable
// flag. Devices with a null chassis type are not portable.
func Portable(devices *frame.Frame, schema Schema) (*frame.Frame, error) {
	if schema.Chassis.Column == "" {
		return nil, fmt.Errorf("schema has no chassis column")
	}
	key, err := devices.ColumnOf(schema.Key, frame.KindString)
	if err != nil {
		return nil, err
	}
	chassis, err := devices.ColumnOf(schema.Chassis.Column, frame.KindString)
	if err != nil {
		return nil, err
	}
	flags := make([]int64, devices.NumRows())
	for i := range flags {
		if !chassis.IsNull(i) && slices.Contains(schema.Chassis.Portable, chassis.Strings[i]) {
			flags[i] = 1
		}
	}
	return frame.New(
		key.Clone(schema.Key),
		chassis.Clone(schema.Chassis.Column),
		frame.NewIntColumn("portable", flags),
	)
}
