// Package featbuild runs the feature pipeline for one investigation directory:
// it encodes the device table, loads and aggregates the raw tables, fuses them
// and writes the feature table.
package featbuild

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/malbeclabs/powerfeat/pkg/catalog"
	"github.com/malbeclabs/powerfeat/pkg/duck"
	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/malbeclabs/powerfeat/pkg/fusion"
	"github.com/malbeclabs/powerfeat/pkg/metrics"
	"github.com/malbeclabs/powerfeat/pkg/sysinfo"
)

var ErrMissingInput = errors.New("missing input")

type Builder struct {
	log *slog.Logger
	cfg *Config

	loadPool pond.ResultPool[*frame.Frame]
}

func NewBuilder(cfg *Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		log:      cfg.Logger,
		cfg:      cfg,
		loadPool: pond.NewResultPool[*frame.Frame](cfg.Settings.LoadConcurrency),
	}, nil
}

// Close stops the load pool after in-flight reads finish.
func (b *Builder) Close() {
	b.loadPool.StopAndWait()
}

// SysinfoResult holds the outputs of a device table encoding.
type SysinfoResult struct {
	Encoder *sysinfo.Encoder
	Encoded *frame.Frame
	Chassis *frame.Frame
}

// Report summarizes a feature build.
type Report struct {
	InvDir         string
	Rows           int
	Columns        []string
	Joins          []fusion.JoinStat
	SysinfoEncoded bool
	Duration       time.Duration
}

// EmptiedJoins returns the stages whose join dropped every row.
func (r *Report) EmptiedJoins() []string {
	var stages []string
	for _, j := range r.Joins {
		if j.Emptied() {
			stages = append(stages, j.Stage)
		}
	}
	return stages
}

// EncodeSysinfo fits the device encoder and writes the encoded device table, the
// chassis side table and the fitted encoder.
func (b *Builder) EncodeSysinfo(ctx context.Context) (res *SysinfoResult, err error) {
	start := b.cfg.Clock.Now()
	defer func() { b.observe("sysinfo", start, err) }()

	conn, err := b.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if err := b.checkInputs(ctx, conn, b.cfg.Settings.SysinfoPath()); err != nil {
		return nil, err
	}
	return b.encodeSysinfo(ctx, conn)
}

func (b *Builder) encodeSysinfo(ctx context.Context, conn duck.Connection) (*SysinfoResult, error) {
	s := b.cfg.Settings
	devices, err := duck.ReadTable(ctx, b.log, conn, s.SysinfoPath())
	if err != nil {
		return nil, err
	}
	metrics.TableRowsRead.WithLabelValues("sysinfo").Set(float64(devices.NumRows()))

	res := &SysinfoResult{}
	err = b.timed("sysinfo_encode", func() error {
		var err error
		res.Encoder, res.Encoded, err = sysinfo.FitTransform(devices, s.Schema)
		if err != nil {
			return fmt.Errorf("failed to encode sysinfo: %w", err)
		}
		res.Chassis, err = sysinfo.Portable(devices, s.Schema)
		if err != nil {
			return fmt.Errorf("failed to classify chassis: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := b.writeTable(ctx, conn, "sysinfo_encoded", res.Encoded, s.SysinfoEncodedPath()); err != nil {
		return nil, err
	}
	if err := b.writeTable(ctx, conn, "chassis", res.Chassis, s.ChassisPath()); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := res.Encoder.WriteJSON(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode encoder: %w", err)
	}
	if err := duck.WriteDocument(ctx, b.log, b.cfg.S3, s.EncoderPath(), buf.Bytes()); err != nil {
		return nil, err
	}

	b.log.Info("featbuild: sysinfo encoded", "devices", res.Encoded.NumRows(), "columns", res.Encoded.NumCols())
	return res, nil
}

// Build produces the feature table of one investigation directory. Every input is
// checked before any computation so a missing table never leaves partial output.
func (b *Builder) Build(ctx context.Context, invDir string) (report *Report, err error) {
	start := b.cfg.Clock.Now()
	defer func() { b.observe("build", start, err) }()

	s := b.cfg.Settings
	conn, err := b.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	useCache := false
	if !b.cfg.ForceSysinfo {
		useCache, err = duck.Exists(ctx, b.log, conn, s.SysinfoEncodedPath())
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", s.SysinfoEncodedPath(), err)
		}
	}

	rawPaths := s.RawPaths(invDir)
	inputs := []string{s.CatalogPath()}
	for _, name := range sortedKeys(rawPaths) {
		inputs = append(inputs, rawPaths[name])
	}
	if !useCache {
		inputs = append(inputs, s.SysinfoPath())
	}
	if err := b.checkInputs(ctx, conn, inputs...); err != nil {
		return nil, err
	}

	report = &Report{InvDir: invDir, SysinfoEncoded: !useCache}

	var device *frame.Frame
	if useCache {
		b.log.Debug("featbuild: using cached sysinfo encoding", "path", s.SysinfoEncodedPath())
		device, err = duck.ReadTable(ctx, b.log, conn, s.SysinfoEncodedPath())
		if err != nil {
			return nil, err
		}
	} else {
		res, err := b.encodeSysinfo(ctx, conn)
		if err != nil {
			return nil, err
		}
		device = res.Encoded
	}

	raw, err := b.loadRaw(ctx, rawPaths)
	if err != nil {
		return nil, err
	}

	data, err := duck.ReadDocument(ctx, b.log, b.cfg.S3, s.CatalogPath())
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Load(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b.log.Debug("featbuild: software catalog loaded", "processes", cat.Len())

	blocks, err := b.featureBlocks(raw, cat)
	if err != nil {
		return nil, err
	}
	blocks[fusion.BlockDevice] = device

	var res *fusion.Result
	err = b.timed("fuse", func() error {
		var err error
		res, err = fusion.Fuse(blocks, s.Plan)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fuse features: %w", err)
	}
	b.recordJoins(res.Joins)

	if err := b.writeTable(ctx, conn, "features", res.Table, s.FeaturesPath(invDir)); err != nil {
		return nil, err
	}
	if res.Scaler != nil {
		b.log.Debug("featbuild: features standardized", "columns", res.Scaler.Names())
		data, err := json.MarshalIndent(res.Scaler, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode scaler: %w", err)
		}
		if err := duck.WriteDocument(ctx, b.log, b.cfg.S3, s.ScalerPath(invDir), data); err != nil {
			return nil, err
		}
	}

	report.Rows = res.Table.NumRows()
	report.Columns = res.Table.Names()
	report.Joins = res.Joins
	report.Duration = b.cfg.Clock.Since(start)
	b.log.Info("featbuild: features written",
		"path", s.FeaturesPath(invDir),
		"rows", report.Rows,
		"columns", len(report.Columns),
		"duration", report.Duration.String(),
	)
	return report, nil
}

// checkInputs returns ErrMissingInput naming every absent table.
func (b *Builder) checkInputs(ctx context.Context, conn duck.Connection, uris ...string) error {
	var missing []string
	for _, uri := range uris {
		ok, err := duck.Exists(ctx, b.log, conn, uri)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", uri, err)
		}
		if !ok {
			missing = append(missing, uri)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", "))
	}
	return nil
}

func (b *Builder) loadTable(ctx context.Context, uri string) (*frame.Frame, error) {
	conn, err := b.cfg.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()
	f, err := duck.ReadTable(ctx, b.log, conn, uri)
	if err != nil {
		return nil, err
	}
	f, err = normalizeDates(f, fusion.DateKey)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	return f, nil
}

// loadRaw reads the raw tables concurrently, one connection per table.
func (b *Builder) loadRaw(ctx context.Context, paths map[string]string) (map[string]*frame.Frame, error) {
	names := sortedKeys(paths)
	// The first failed load cancels the reads still in flight.
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group := b.loadPool.NewGroupContext(gctx)
	for _, name := range names {
		uri := paths[name]
		group.SubmitErr(func() (*frame.Frame, error) {
			f, err := b.loadTable(gctx, uri)
			if err != nil {
				cancel()
				return nil, err
			}
			return f, nil
		})
	}
	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to load raw tables: %w", err)
	}

	raw := make(map[string]*frame.Frame, len(names))
	for i, name := range names {
		raw[name] = results[i]
		metrics.TableRowsRead.WithLabelValues(name).Set(float64(results[i].NumRows()))
		b.log.Debug("featbuild: raw table loaded", "block", name, "rows", results[i].NumRows(), "columns", results[i].NumCols())
	}
	return raw, nil
}

func (b *Builder) writeTable(ctx context.Context, conn duck.Connection, table string, f *frame.Frame, uri string) error {
	if err := duck.WriteTable(ctx, b.log, conn, f, uri); err != nil {
		return fmt.Errorf("failed to write %s: %w", table, err)
	}
	metrics.TableRowsWritten.WithLabelValues(table).Set(float64(f.NumRows()))
	return nil
}

func (b *Builder) recordJoins(joins []fusion.JoinStat) {
	for _, j := range joins {
		metrics.JoinRows.WithLabelValues(j.Stage, "left").Set(float64(j.LeftRows))
		metrics.JoinRows.WithLabelValues(j.Stage, "right").Set(float64(j.RightRows))
		metrics.JoinRows.WithLabelValues(j.Stage, "out").Set(float64(j.OutRows))
		if j.Emptied() {
			metrics.EmptiedJoins.WithLabelValues(j.Stage).Inc()
			b.log.Warn("fusion: join produced no rows", "stage", j.Stage, "block", j.Block, "how", j.How, "left_rows", j.LeftRows, "right_rows", j.RightRows)
			continue
		}
		b.log.Debug("fusion: join", "stage", j.Stage, "block", j.Block, "how", j.How, "left_rows", j.LeftRows, "right_rows", j.RightRows, "out_rows", j.OutRows)
	}
}

func (b *Builder) timed(stage string, fn func() error) error {
	start := b.cfg.Clock.Now()
	err := fn()
	metrics.StageDuration.WithLabelValues(stage).Set(b.cfg.Clock.Since(start).Seconds())
	return err
}

func (b *Builder) observe(command string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.RunsTotal.WithLabelValues(command, result).Inc()
	metrics.RunDuration.WithLabelValues(command).Observe(b.cfg.Clock.Since(start).Seconds())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
