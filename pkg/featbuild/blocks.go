package featbuild

import (
	"fmt"

	"github.com/malbeclabs/powerfeat/pkg/catalog"
	"github.com/malbeclabs/powerfeat/pkg/config"
	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/malbeclabs/powerfeat/pkg/fusion"
	"github.com/malbeclabs/powerfeat/pkg/pivot"
)

// featureBlocks turns the raw tables into one row per device-day each.
func (b *Builder) featureBlocks(raw map[string]*frame.Frame, cat *catalog.Catalog) (map[string]*frame.Frame, error) {
	s := b.cfg.Settings
	blocks := make(map[string]*frame.Frame, len(raw)+1)

	err := b.timed("pivot", func() error {
		sw, err := cat.Apply(raw[fusion.BlockSoftware], s.Software.ProcessColumn, s.Software.CategoryColumn)
		if err != nil {
			return fmt.Errorf("software: %w", err)
		}
		if blocks[fusion.BlockSoftware], err = pivot.Pivot(sw, s.Software.Pivot); err != nil {
			return fmt.Errorf("software: %w", err)
		}
		if blocks[fusion.BlockWeb], err = pivot.Pivot(raw[fusion.BlockWeb], s.Web); err != nil {
			return fmt.Errorf("web: %w", err)
		}
		if blocks[fusion.BlockTemperature], err = pivot.WeightedAverage(raw[fusion.BlockTemperature], s.Temperature); err != nil {
			return fmt.Errorf("temperature: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}

	for _, r := range []struct {
		block  string
		rename config.Rename
	}{
		{fusion.BlockCPU, s.CPU},
		{fusion.BlockPower, s.Power},
	} {
		f, err := raw[r.block].Rename(r.rename.Columns)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.block, err)
		}
		blocks[r.block] = f.Drop(r.rename.Drop...)
	}

	for name, f := range blocks {
		b.log.Debug("featbuild: feature block ready", "block", name, "rows", f.NumRows(), "columns", f.NumCols())
	}
	return blocks, nil
}
