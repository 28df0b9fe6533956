package featbuild

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/powerfeat/pkg/config"
	"github.com/malbeclabs/powerfeat/pkg/duck"
	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/malbeclabs/powerfeat/pkg/logger"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	day2 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db       duck.DB
	conn     duck.Connection
	settings *config.Settings
	invDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()

	db, err := duck.NewDB(ctx, filepath.Join(root, "test.db"), logger.Discard(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	settings := config.Default()
	settings.DataDir = filepath.Join(root, "data")
	fx := &fixture{db: db, conn: conn, settings: settings, invDir: filepath.Join(root, "inv")}

	fx.write(t, settings.SysinfoPath(), frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1", "g2"}),
		frame.NewStringColumn("countryname_normalized", []string{"US", "Germany"}),
		frame.NewStringColumn("modelvendor_normalized", []string{"Dell", "HP"}),
		frame.NewStringColumn("os", []string{"Win11", "Win10"}),
		frame.NewStringColumn("graphicsmanuf", []string{"Intel", "Nvidia"}),
		frame.NewStringColumn("cpu_family", []string{"Core i5", "Core i7"}),
		frame.NewStringColumn("cpu_suffix", []string{"Core-U", "Celeron N"}),
		frame.NewStringColumn("persona", []string{"Gamer", "Office"}),
		frame.NewStringColumn("age_category", []string{"0-1 year", "1-2 years"}),
		frame.NewIntColumn("ram", []int64{8, 16}),
		frame.NewStringColumn("#ofcores", []string{"4", "8"}),
		frame.NewStringColumn("screensize_category", []string{"15x", ">24"}),
		frame.NewStringColumn("chassistype", []string{"Notebook", "Desktop"}),
	))
	require.NoError(t, os.WriteFile(settings.CatalogPath(), []byte(`
categories:
  Game: [steam.exe]
processes:
  chrome.exe: Browser
`), 0o644))

	raw := settings.RawPaths(fx.invDir)
	fx.write(t, raw["software"], frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1", "g1", "g1", "g2"}),
		frame.NewTimeColumn("dt", []time.Time{day1, day1, day2, day1}),
		frame.NewStringColumn("frgnd_proc_name", []string{"steam.exe", "chrome.exe", "steam.exe", "word.exe"}),
		frame.NewStringColumn("sw_event_name", []string{"focus", "focus", "focus", "focus"}),
		frame.NewFloatColumn("frgnd_proc_duration_ms", []float64{100, 50, 30, 20}),
	))
	// Web usage only exists for the first device-day.
	fx.write(t, raw["web"], frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1"}),
		frame.NewStringColumn("dt", []string{"2024-01-01"}),
		frame.NewStringColumn("web_parent_category", []string{"social"}),
		frame.NewStringColumn("web_sub_category", []string{"chat"}),
		frame.NewFloatColumn("duration_ms", []float64{10}),
	))
	fx.write(t, raw["temperature"], frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1", "g1", "g1", "g2"}),
		frame.NewTimeColumn("dt", []time.Time{day1, day1, day2, day1}),
		frame.NewIntColumn("nrs", []int64{2, 2, 1, 1}),
		frame.NewFloatColumn("avg_val", []float64{40, 50, 30, 60}),
	))
	fx.write(t, raw["cpu"], frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1", "g1", "g2"}),
		frame.NewTimeColumn("dt", []time.Time{day1, day2, day1}),
		frame.NewFloatColumn("norm_usage", []float64{0.2, 0.4, 0.6}),
	))
	fx.write(t, raw["power"], frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1", "g1", "g2"}),
		frame.NewTimeColumn("dt", []time.Time{day1, day2, day1}),
		frame.NewFloatColumn("mean", []float64{10, 20, 30}),
		frame.NewIntColumn("nrs_sum", []int64{100, 200, 300}),
	))
	return fx
}

func (fx *fixture) write(t *testing.T, uri string, f *frame.Frame) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(uri), 0o755))
	require.NoError(t, duck.WriteTable(context.Background(), logger.Discard(), fx.conn, f, uri))
}

func (fx *fixture) builder(t *testing.T, force bool) *Builder {
	t.Helper()
	b, err := NewBuilder(&Config{
		Logger:       logger.Discard(),
		Clock:        clockwork.NewFakeClock(),
		DB:           fx.db,
		Settings:     fx.settings,
		ForceSysinfo: force,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func (fx *fixture) read(t *testing.T, uri string) *frame.Frame {
	t.Helper()
	f, err := duck.ReadTable(context.Background(), logger.Discard(), fx.conn, uri)
	require.NoError(t, err)
	return f
}

func floats(t *testing.T, f *frame.Frame, name string) []float64 {
	t.Helper()
	c, err := f.ColumnOf(name, frame.KindFloat)
	require.NoError(t, err)
	return c.Floats
}

func TestBuilder_Build(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t)

	report, err := fx.builder(t, false).Build(ctx, fx.invDir)
	require.NoError(t, err)
	require.True(t, report.SysinfoEncoded, "first run encodes the device table")
	require.Equal(t, 3, report.Rows)
	require.Empty(t, report.EmptiedJoins())
	require.Equal(t, time.Duration(0), report.Duration)

	feat := fx.read(t, fx.settings.FeaturesPath(fx.invDir))
	require.Equal(t, 3, feat.NumRows())
	require.Equal(t, report.Columns, feat.Names())
	require.Zero(t, feat.NullCount())
	for _, name := range []string{"guid", "dt", "power_nrs_sum", "nrs_sum", "mean"} {
		require.False(t, feat.Has(name), "unexpected column %s", name)
	}
	for _, name := range []string{
		"sw_category_Game", "sw_category_Browser", "sw_category_Other", "sw_event_name_focus",
		"web_parent_category_social", "web_sub_category_chat",
		"temp_avg", "cpu_norm_usage", "power_mean",
		"age_category", "ram", "day_of_week", "month_of_year",
	} {
		require.True(t, feat.Has(name), "missing column %s", name)
	}

	// Power joins after standardization and keeps its raw values.
	require.Equal(t, []float64{10, 20, 30}, floats(t, feat, "power_mean"))
	dow, err := feat.ColumnOf("day_of_week", frame.KindInt)
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 0}, dow.Ints)

	// Device-days without web usage are filled with zero.
	web := floats(t, feat, "web_parent_category_social")
	require.Equal(t, 0.0, web[1])
	require.Equal(t, 0.0, web[2])

	for _, path := range []string{
		fx.settings.SysinfoEncodedPath(),
		fx.settings.ChassisPath(),
		fx.settings.EncoderPath(),
		fx.settings.ScalerPath(fx.invDir),
	} {
		_, err := os.Stat(path)
		require.NoError(t, err, path)
	}
	chassis := fx.read(t, fx.settings.ChassisPath())
	portable, err := chassis.ColumnOf("portable", frame.KindInt)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 0}, portable.Ints)
}

func TestBuilder_SysinfoCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t)

	first, err := fx.builder(t, false).Build(ctx, fx.invDir)
	require.NoError(t, err)
	require.True(t, first.SysinfoEncoded)

	// The cached encoding is used even when the device table is gone.
	require.NoError(t, os.Remove(fx.settings.SysinfoPath()))
	second, err := fx.builder(t, false).Build(ctx, fx.invDir)
	require.NoError(t, err)
	require.False(t, second.SysinfoEncoded)
	require.Equal(t, first.Columns, second.Columns)

	_, err = fx.builder(t, true).Build(ctx, fx.invDir)
	require.ErrorIs(t, err, ErrMissingInput)
}

func TestBuilder_OutputsAreByteIdentical(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t)

	outputs := []string{fx.settings.FeaturesPath(fx.invDir), fx.settings.SysinfoEncodedPath()}
	run := func() [][]byte {
		_, err := fx.builder(t, true).Build(ctx, fx.invDir)
		require.NoError(t, err)
		data := make([][]byte, len(outputs))
		for i, path := range outputs {
			data[i], err = os.ReadFile(path)
			require.NoError(t, err)
		}
		return data
	}

	first := run()
	second := run()
	for i, path := range outputs {
		require.NotEmpty(t, first[i], path)
		require.True(t, bytes.Equal(first[i], second[i]), "%s differs between runs", path)
	}
}

func TestBuilder_LogsStandardizedColumns(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	var buf bytes.Buffer
	b, err := NewBuilder(&Config{
		Logger:   logger.NewWithWriter(&buf, true),
		Clock:    clockwork.NewFakeClock(),
		DB:       fx.db,
		Settings: fx.settings,
	})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	_, err = b.Build(context.Background(), fx.invDir)
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, "featbuild: features standardized")
	require.Contains(t, out, "temp_avg")
}

func TestBuilder_LoadRaw(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	b := fx.builder(t, false)
	paths := fx.settings.RawPaths(fx.invDir)

	raw, err := b.loadRaw(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, raw, len(paths))
	require.Equal(t, 4, raw["software"].NumRows())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.loadRaw(ctx, paths)
	require.ErrorIs(t, err, context.Canceled)

	fx.write(t, paths["web"], frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1"}),
		frame.NewStringColumn("dt", []string{"yesterday"}),
	))
	_, err = b.loadRaw(context.Background(), paths)
	require.ErrorContains(t, err, "unparseable date")
	require.ErrorContains(t, err, paths["web"])
}

func TestBuilder_MissingInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t)

	power := fx.settings.RawPaths(fx.invDir)["power"]
	require.NoError(t, os.Remove(power))

	_, err := fx.builder(t, false).Build(ctx, fx.invDir)
	require.ErrorIs(t, err, ErrMissingInput)
	require.ErrorContains(t, err, power)

	for _, path := range []string{fx.settings.FeaturesPath(fx.invDir), fx.settings.SysinfoEncodedPath()} {
		_, err = os.Stat(path)
		require.ErrorIs(t, err, os.ErrNotExist, "nothing is written when an input is missing")
	}
}

func TestBuilder_EncodeSysinfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newFixture(t)

	res, err := fx.builder(t, false).EncodeSysinfo(ctx)
	require.NoError(t, err)
	require.Equal(t, res.Encoder.Names(), res.Encoded.Names())
	require.Equal(t, res.Encoded.Names(), fx.read(t, fx.settings.SysinfoEncodedPath()).Names())

	data, err := os.ReadFile(fx.settings.EncoderPath())
	require.NoError(t, err)
	require.Contains(t, string(data), "age_category")
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, (&Config{}).Validate(), "logger is required")
	require.ErrorContains(t, (&Config{Logger: logger.Discard()}).Validate(), "db is required")

	fx := newFixture(t)
	cfg := &Config{Logger: logger.Discard(), DB: fx.db, Settings: fx.settings}
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Clock)
}

func TestNormalizeDates(t *testing.T) {
	t.Parallel()

	dt := frame.NewStringColumn("dt", []string{"2024-01-01", "2024-01-02T10:00:00Z", "", "2024-01-03 08:30:00"})
	dt.Valid = []bool{true, true, false, true}
	f, err := normalizeDates(frame.MustNew(dt), "dt")
	require.NoError(t, err)
	c, err := f.ColumnOf("dt", frame.KindTime)
	require.NoError(t, err)
	require.Equal(t, day1, c.Times[0])
	require.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), c.Times[1])
	require.True(t, c.IsNull(2))
	require.Equal(t, time.Date(2024, 1, 3, 8, 30, 0, 0, time.UTC), c.Times[3])

	same := frame.MustNew(frame.NewStringColumn("guid", []string{"g1"}))
	out, err := normalizeDates(same, "dt")
	require.NoError(t, err)
	require.Same(t, same, out)

	_, err = normalizeDates(frame.MustNew(frame.NewStringColumn("dt", []string{"yesterday"})), "dt")
	require.ErrorContains(t, err, "unparseable date")
	_, err = normalizeDates(frame.MustNew(frame.NewFloatColumn("dt", []float64{1})), "dt")
	require.ErrorIs(t, err, frame.ErrKindMismatch)
}
