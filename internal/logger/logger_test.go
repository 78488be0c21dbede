package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reset() {
	Init("info", "text")
	SetOutput(os.Stderr)
}

func TestInfo_TextFormat(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	Init("info", "text")
	SetOutput(&buf)

	Info("index built", "documents", 3)

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, `msg="index built"`)
	assert.Contains(t, out, "documents=3")
}

func TestDebug_SuppressedUntilVerbose(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	Init("info", "text")
	SetOutput(&buf)

	Debug("hidden")
	assert.Zero(t, buf.Len())

	SetVerbose(true)
	Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestInit_JSONFormat(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	Init("warn", "json")
	SetOutput(&buf)

	Info("dropped")
	Warn("kept", "row", 7)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "kept", rec["msg"])
	assert.EqualValues(t, 7, rec["row"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
