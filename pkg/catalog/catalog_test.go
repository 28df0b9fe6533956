package catalog

import (
	"strings"
	"testing"

	"github.com/malbeclabs/powerfeat/pkg/frame"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("yaml", func(t *testing.T) {
		t.Parallel()
		c, err := Load(strings.NewReader(`
categories:
  Game: [steam.exe, league.exe]
  Browser: [chrome.exe]
processes:
  winword.exe: Office
`))
		require.NoError(t, err)
		require.Equal(t, 4, c.Len())
		require.Equal(t, "Game", c.Lookup("steam.exe"))
		require.Equal(t, "Office", c.Lookup("winword.exe"))
		require.Equal(t, DefaultCategory, c.Lookup("unknown.exe"))
	})

	t.Run("json with custom default", func(t *testing.T) {
		t.Parallel()
		c, err := Load(strings.NewReader(`{"default": "Misc", "processes": {"chrome.exe": "Browser"}}`))
		require.NoError(t, err)
		require.Equal(t, "Browser", c.Lookup("chrome.exe"))
		require.Equal(t, "Misc", c.Lookup("x.exe"))
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()
		c, err := Load(strings.NewReader(""))
		require.NoError(t, err)
		require.Equal(t, 0, c.Len())
	})

	t.Run("conflicting categories", func(t *testing.T) {
		t.Parallel()
		_, err := Load(strings.NewReader("categories:\n  Game: [x.exe]\n  Work: [x.exe]\n"))
		require.ErrorContains(t, err, "listed under both")
	})

	t.Run("unknown field", func(t *testing.T) {
		t.Parallel()
		_, err := Load(strings.NewReader("procs:\n  x.exe: Game\n"))
		require.Error(t, err)
	})
}

func TestCatalog_Apply(t *testing.T) {
	t.Parallel()

	names := frame.NewStringColumn("frgnd_proc_name", []string{"steam.exe", "", "mystery.exe"})
	names.Valid = []bool{true, false, true}
	events := frame.MustNew(names, frame.NewFloatColumn("frgnd_proc_duration_ms", []float64{1, 2, 3}))

	c := New(map[string]string{"steam.exe": "Game"})
	out, err := c.Apply(events, "frgnd_proc_name", "sw_category")
	require.NoError(t, err)
	cat, err := out.ColumnOf("sw_category", frame.KindString)
	require.NoError(t, err)
	require.Equal(t, []string{"Game", "Other", "Other"}, cat.Strings)
	require.Nil(t, cat.Valid)

	_, err = c.Apply(events, "nope", "sw_category")
	require.ErrorIs(t, err, frame.ErrColumnNotFound)
}
