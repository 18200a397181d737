package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultReplaceAttrFormatsLevelAndTruncatesFloats(t *testing.T) {
	a := defaultReplaceAttr(nil, slog.Any(slog.LevelKey, LevelTrace))
	assert.Equal(t, "TRACE", a.Value.String())

	a = defaultReplaceAttr(nil, slog.Any(slog.LevelKey, LevelFatal))
	assert.Equal(t, "FATAL", a.Value.String())

	a = defaultReplaceAttr(nil, slog.Any(slog.LevelKey, slog.LevelWarn))
	assert.Equal(t, "WARN", a.Value.String())

	a = defaultReplaceAttr(nil, slog.Float64("x", 1.23456))
	assert.InDelta(t, 1.23, a.Value.Float64(), 1e-9)
}

func TestDefaultReplaceAttrHandlesNonLevelValueAtLevelKey(t *testing.T) {
	a := defaultReplaceAttr(nil, slog.String(slog.LevelKey, "oops"))
	assert.Equal(t, "oops", a.Value.String())
}

func TestSetOutputRejectsNilWriters(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, SetOutput(nil, &buf))
	assert.Error(t, SetOutput(&buf, nil))
}

func TestSetOutputRedirectsStructuredLogger(t *testing.T) {
	var structured, human bytes.Buffer
	require.NoError(t, SetOutput(&structured, &human))

	Structured().Info("hello", "k", "v")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(structured.Bytes()), &decoded))
	assert.Equal(t, "hello", decoded["msg"])
	assert.Equal(t, "v", decoded["k"])
}

func TestForServiceAddsServiceAttribute(t *testing.T) {
	var structured, human bytes.Buffer
	require.NoError(t, SetOutput(&structured, &human))

	ForService("patch").Info("started")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(structured.Bytes()), &decoded))
	assert.Equal(t, "patch", decoded["service"])
}

func TestNewFileLoggerAppliesRotationDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "app.log")

	logger, closeFn, err := NewFileLogger(path, "aggregate", new(slog.LevelVar), RotationConfig{Rotation: RotationDaily})
	require.NoError(t, err)
	defer closeFn()

	logger.Info("tick")

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr)
}

func TestNewFileLoggerUnknownRotationFallsBackToSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	logger, closeFn, err := NewFileLogger(path, "patch", new(slog.LevelVar), RotationConfig{Rotation: "bogus"})
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, logger)
}
