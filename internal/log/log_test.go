package log

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"trace", LevelTrace},
		{"TRACE", LevelTrace},
	}

	for _, tt := range tests {
		got, err := parseLevel(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, got, tt.input)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() {
		require.NoError(t, SetLevel("info"))
	})

	require.NoError(t, SetLevel("trace"))
	assert.True(t, slog.Default().Enabled(t.Context(), LevelTrace))

	require.NoError(t, SetLevel("error"))
	assert.False(t, slog.Default().Enabled(t.Context(), slog.LevelWarn))

	assert.Error(t, SetLevel("loud"))
}
