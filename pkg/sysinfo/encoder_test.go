package sysinfo

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/stretchr/testify/require"
)

// devices builds a small inventory table with the default schema columns.
func devices(t *testing.T) *frame.Frame {
	t.Helper()
	return frame.MustNew(
		frame.NewStringColumn("guid", []string{"g1", "g2", "g3"}),
		frame.NewStringColumn("countryname_normalized", []string{"US", "Germany", "US"}),
		frame.NewStringColumn("modelvendor_normalized", []string{"Dell", "HP", "n/a"}),
		frame.NewStringColumn("os", []string{"Win11", "Win10", "Win11"}),
		frame.NewStringColumn("graphicsmanuf", []string{"Intel", "Nvidia", "Intel"}),
		frame.NewStringColumn("cpu_family", []string{"Core i5", "Core i7", "Celeron"}),
		frame.NewStringColumn("cpu_suffix", []string{"Core-U", "Celeron N", "N/A"}),
		frame.NewStringColumn("persona", []string{"Gamer", "Office", "Gamer"}),
		frame.NewStringColumn("age_category", []string{"0-1 year", "6+ years", "N/A"}),
		frame.NewIntColumn("ram", []int64{8, 16, 8}),
		frame.NewStringColumn("#ofcores", []string{"4", "Unknown", "8"}),
		frame.NewStringColumn("screensize_category", []string{"15x", ">24", "13x"}),
		frame.NewStringColumn("chassistype", []string{"Notebook", "Desktop", "2 in 1"}),
	)
}

func TestEncoder_OrdinalWalk(t *testing.T) {
	t.Parallel()

	schema := DefaultSchema()
	n := len(schema.OrdinalOrder)
	repeat := func(v string) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	guids := make([]string, n)
	ram := make([]int64, n)
	for i := range guids {
		guids[i] = fmt.Sprintf("g%d", i)
		ram[i] = int64(4 * (i + 1))
	}
	// Declared order reversed so ranks cannot follow row order by accident.
	ages := make([]string, n)
	for i, v := range schema.OrdinalOrder {
		ages[n-1-i] = v
	}
	in := frame.MustNew(
		frame.NewStringColumn("guid", guids),
		frame.NewStringColumn("countryname_normalized", repeat("US")),
		frame.NewStringColumn("modelvendor_normalized", repeat("Dell")),
		frame.NewStringColumn("os", repeat("Win11")),
		frame.NewStringColumn("graphicsmanuf", repeat("Intel")),
		frame.NewStringColumn("cpu_family", repeat("Core i5")),
		frame.NewStringColumn("cpu_suffix", repeat("Core-U")),
		frame.NewStringColumn("persona", repeat("Gamer")),
		frame.NewStringColumn("age_category", ages),
		frame.NewIntColumn("ram", ram),
		frame.NewStringColumn("#ofcores", repeat("4")),
		frame.NewStringColumn("screensize_category", repeat("15x")),
		frame.NewStringColumn("chassistype", repeat("Notebook")),
	)

	_, out, err := FitTransform(in, schema)
	require.NoError(t, err)
	require.Equal(t, n, out.NumRows())
	keys := column(t, out, "guid").Strings
	ranks := column(t, out, "age_category").Ints

	tests := []struct {
		age  string
		want int64
	}{
		{"Unknown", 0},
		{"0-1 year", 1},
		{"1-2 years", 2},
		{"2-3 years", 3},
		{"3-4 years", 4},
		{"4-5 years", 5},
		{"5-6 years", 6},
		{"6+ years", 7},
	}
	require.Len(t, tests, n)
	for _, tt := range tests {
		t.Run(tt.age, func(t *testing.T) {
			t.Parallel()
			row := -1
			for i, a := range ages {
				if a == tt.age {
					row = i
				}
			}
			require.NotEqual(t, -1, row)
			for i, k := range keys {
				if k == guids[row] {
					require.Equal(t, tt.want, ranks[i])
					return
				}
			}
			t.Fatalf("device %s missing from output", guids[row])
		})
	}
}

func column(t *testing.T, f *frame.Frame, name string) *frame.Column {
	t.Helper()
	c, err := f.Column(name)
	require.NoError(t, err)
	return c
}

func TestEncoder_FitTransform(t *testing.T) {
	t.Parallel()

	enc, out, err := FitTransform(devices(t), DefaultSchema())
	require.NoError(t, err)
	require.Equal(t, 3, out.NumRows())
	require.Equal(t, enc.Names(), out.Names())

	t.Run("column order is onehot, ordinal, numeric, key", func(t *testing.T) {
		t.Parallel()
		want := []string{
			"countryname_normalized_Germany", "countryname_normalized_US",
			"modelvendor_normalized_Dell", "modelvendor_normalized_HP", "modelvendor_normalized_Unknown",
			"os_Win10", "os_Win11",
			"graphicsmanuf_Intel", "graphicsmanuf_Nvidia",
			"cpu_family_Celeron", "cpu_family_Core i5", "cpu_family_Core i7",
			"cpu_suffix_Core-U", "cpu_suffix_Other",
			"persona_Gamer", "persona_Office",
			"age_category",
			"ram", "#ofcores", "screensize_category",
			"guid",
		}
		if diff := cmp.Diff(want, out.Names()); diff != "" {
			t.Fatalf("unexpected columns (-want +got):\n%s", diff)
		}
	})

	t.Run("one hot rows sum to one per categorical", func(t *testing.T) {
		t.Parallel()
		for _, v := range enc.Vocabularies {
			for r := 0; r < out.NumRows(); r++ {
				var sum float64
				for _, cat := range v.Categories {
					sum += column(t, out, v.Column+"_"+cat).Floats[r]
				}
				require.Equal(t, 1.0, sum, "column %s row %d", v.Column, r)
			}
		}
	})

	t.Run("ordinal ranks follow the declared order", func(t *testing.T) {
		t.Parallel()
		require.Equal(t, []int64{1, 7, 0}, column(t, out, "age_category").Ints)
	})

	t.Run("numerics are standardized", func(t *testing.T) {
		t.Parallel()
		for _, name := range []string{"ram", "#ofcores", "screensize_category"} {
			var sum float64
			for _, v := range column(t, out, name).Floats {
				sum += v
			}
			require.InDelta(t, 0, sum, 1e-9, name)
		}
	})

	t.Run("no nulls in output", func(t *testing.T) {
		t.Parallel()
		require.Zero(t, out.NullCount())
	})

	require.Equal(t, []string{"g1", "g2", "g3"}, column(t, out, "guid").Strings)
}

func TestEncoder_NumericParams(t *testing.T) {
	t.Parallel()

	enc, err := Fit(devices(t), DefaultSchema())
	require.NoError(t, err)

	byName := map[string]NumericParams{}
	for _, p := range enc.Numeric {
		byName[p.Column] = p
	}

	// "Unknown" cores take the most frequent value; ties go to the smallest.
	require.Equal(t, 4.0, byName["#ofcores"].Impute)
	require.InDelta(t, 16.0/3, byName["#ofcores"].Mean, 1e-12)

	// 15x -> 15, >24 -> -1, 13x -> 13
	require.InDelta(t, 9.0, byName["screensize_category"].Mean, 1e-12)

	require.Equal(t, 8.0, byName["ram"].Impute)
}

func TestEncoder_ScreenSizeSentinelNeverImputed(t *testing.T) {
	t.Parallel()

	schema := DefaultSchema()
	schema.Categorical = nil
	schema.Ordinal = ""
	schema.Numeric = []string{"screensize_category"}
	f := frame.MustNew(
		frame.NewStringColumn("guid", []string{"a", "b", "c"}),
		frame.NewStringColumn("screensize_category", []string{"Unknown", "<20", "14x"}),
	)
	enc, err := Fit(f, schema)
	require.NoError(t, err)
	require.Equal(t, -1.0, enc.Numeric[0].Impute)
	require.InDelta(t, 4.0, enc.Numeric[0].Mean, 1e-12)
}

func TestEncoder_TransformUnseen(t *testing.T) {
	t.Parallel()

	enc, err := Fit(devices(t), DefaultSchema())
	require.NoError(t, err)

	t.Run("unseen category encodes as zeros", func(t *testing.T) {
		t.Parallel()
		f := devices(t)
		country, err := frame.New(frame.NewStringColumn("countryname_normalized", []string{"France", "US", "US"}))
		require.NoError(t, err)
		f, err = f.With(country.Columns()...)
		require.NoError(t, err)

		out, err := enc.Transform(f)
		require.NoError(t, err)
		require.Equal(t, enc.Names(), out.Names())
		require.Equal(t, 0.0, column(t, out, "countryname_normalized_US").Floats[0])
		require.Equal(t, 0.0, column(t, out, "countryname_normalized_Germany").Floats[0])
	})

	t.Run("unknown ordinal fails", func(t *testing.T) {
		t.Parallel()
		f, err := devices(t).With(frame.NewStringColumn("age_category", []string{"0-1 year", "9+ years", "Unknown"}))
		require.NoError(t, err)
		_, err = enc.Transform(f)
		require.ErrorIs(t, err, ErrUnknownOrdinal)
	})

	t.Run("missing column fails before encoding", func(t *testing.T) {
		t.Parallel()
		_, err := enc.Transform(devices(t).Drop("persona"))
		require.ErrorIs(t, err, frame.ErrColumnNotFound)
	})

	t.Run("null numeric takes impute value", func(t *testing.T) {
		t.Parallel()
		ram := frame.NewIntColumn("ram", []int64{0, 16, 8})
		ram.Valid = []bool{false, true, true}
		f, err := devices(t).With(ram)
		require.NoError(t, err)
		out, err := enc.Transform(f)
		require.NoError(t, err)
		got := column(t, out, "ram").Floats
		require.Equal(t, got[2], got[0])
	})
}

func TestEncoder_Errors(t *testing.T) {
	t.Parallel()

	t.Run("duplicate device", func(t *testing.T) {
		t.Parallel()
		f, err := devices(t).With(frame.NewStringColumn("guid", []string{"g1", "g1", "g3"}))
		require.NoError(t, err)
		_, err = Fit(f, DefaultSchema())
		require.ErrorIs(t, err, ErrDuplicateDevice)
	})

	t.Run("numeric column with no observed values", func(t *testing.T) {
		t.Parallel()
		f, err := devices(t).With(frame.NewStringColumn("#ofcores", []string{"Unknown", "n/a", "Unknown"}))
		require.NoError(t, err)
		_, err = Fit(f, DefaultSchema())
		require.ErrorContains(t, err, "no observed values")
	})

	t.Run("unparseable number", func(t *testing.T) {
		t.Parallel()
		f, err := devices(t).With(frame.NewStringColumn("#ofcores", []string{"four", "2", "2"}))
		require.NoError(t, err)
		_, err = Fit(f, DefaultSchema())
		require.ErrorContains(t, err, "unparseable number")
	})

	t.Run("invalid schema", func(t *testing.T) {
		t.Parallel()
		schema := DefaultSchema()
		schema.Numeric = append(schema.Numeric, "ram")
		_, err := Fit(devices(t), schema)
		require.ErrorContains(t, err, "listed more than once")
	})

	t.Run("transform on unfitted encoder", func(t *testing.T) {
		t.Parallel()
		_, err := (&Encoder{}).Transform(devices(t))
		require.Error(t, err)
	})
}

func TestEncoder_Deterministic(t *testing.T) {
	t.Parallel()

	enc1, out1, err := FitTransform(devices(t), DefaultSchema())
	require.NoError(t, err)
	enc2, out2, err := FitTransform(devices(t), DefaultSchema())
	require.NoError(t, err)

	if diff := cmp.Diff(enc1, enc2); diff != "" {
		t.Fatalf("encoders differ (-first +second):\n%s", diff)
	}
	for _, name := range out1.Names() {
		require.Equal(t, column(t, out1, name), column(t, out2, name))
	}
}

func TestEncoder_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	enc, err := Fit(devices(t), DefaultSchema())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, enc.WriteJSON(&buf))
	loaded, err := ReadEncoder(&buf)
	require.NoError(t, err)

	want, err := enc.Transform(devices(t))
	require.NoError(t, err)
	got, err := loaded.Transform(devices(t))
	require.NoError(t, err)
	for _, name := range want.Names() {
		require.Equal(t, column(t, want, name), column(t, got, name))
	}

	_, err = ReadEncoder(bytes.NewBufferString(`{"schema":{"key":"guid","numeric":["ram"]}}`))
	require.ErrorContains(t, err, "no output columns")
}

func TestPortable(t *testing.T) {
	t.Parallel()

	out, err := Portable(devices(t), DefaultSchema())
	require.NoError(t, err)
	require.Equal(t, []string{"guid", "chassistype", "portable"}, out.Names())
	require.Equal(t, []int64{1, 0, 1}, column(t, out, "portable").Ints)

	_, err = Portable(devices(t).Drop("chassistype"), DefaultSchema())
	require.ErrorIs(t, err, frame.ErrColumnNotFound)
}
