package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatRFC3339Millis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 1, 10, 4, 5, 123_456_789, time.FixedZone("CET", 3600))
	require.Equal(t, "2024-03-01T09:04:05.123Z", formatRFC3339Millis(ts))
}

func TestNewWithWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Debug("featbuild: hidden")
	log.Info("featbuild: shown", "table", "sw_usage", "empty", "")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "featbuild: shown")
	require.Contains(t, out, "sw_usage")
	require.NotContains(t, out, "empty=")

	buf.Reset()
	NewWithWriter(&buf, true).Debug("featbuild: debug line")
	require.Contains(t, buf.String(), "debug line")
}

func TestNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	require.False(t, New(false).Enabled(ctx, slog.LevelDebug))
	require.True(t, New(false).Enabled(ctx, slog.LevelInfo))
	require.True(t, New(true).Enabled(ctx, slog.LevelDebug))
}
