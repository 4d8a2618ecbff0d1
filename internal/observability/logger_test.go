package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf})

	logger.WithComponent("decode").WithPath("/books/a.cbz").WithOperation("region").Info().
		Str("entry", "01.jpg").
		Int("page", 3).
		Int64("bytes", 2048).
		Float64("scale", 0.5).
		Bool("tiled", true).
		Dur("took", 1500*time.Millisecond).
		Err(errors.New("short read")).
		Msg("Page decoded")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "comic-extractor", entry["service"])
	assert.Equal(t, "decode", entry["component"])
	assert.Equal(t, "/books/a.cbz", entry["path"])
	assert.Equal(t, "region", entry["operation"])
	assert.Equal(t, "01.jpg", entry["entry"])
	assert.EqualValues(t, 3, entry["page"])
	assert.Equal(t, true, entry["tiled"])
	assert.Equal(t, "short read", entry["error"])
	assert.Equal(t, "Page decoded", entry["message"])
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf, ServiceName: "cli"})

	logger.Info().Msg("hidden")
	logger.Debug().Str("k", "v").Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msgf("visible %d", 1)
	assert.Contains(t, buf.String(), `"visible 1"`)
	assert.Contains(t, buf.String(), `"service":"cli"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"debug":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"off":      zerolog.Disabled,
		"nonsense": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithComponent("x").Error().Err(errors.New("e")).Msg("dropped")
	})
}
