package core

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(level LogLevel) (*ProductionLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return &ProductionLogger{level: level, out: log.New(buf, "", 0)}, buf
}

func TestProductionLoggerFiltersBelowLevel(t *testing.T) {
	l, buf := newBufferedLogger(WarnLevel)
	l.Info("should not appear", nil)
	assert.Empty(t, buf.String())

	l.Warn("should appear", nil)
	assert.Contains(t, buf.String(), "should appear")
}

func TestProductionLoggerEmitsStructuredFields(t *testing.T) {
	l, buf := newBufferedLogger(DebugLevel)
	l.Error("db write failed", map[string]interface{}{"attempt": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "db write failed", entry["msg"])
	assert.Equal(t, float64(3), entry["attempt"])
	assert.Contains(t, entry, "ts")
}

func TestWithComponentTagsLines(t *testing.T) {
	l, buf := newBufferedLogger(DebugLevel)
	tagged := l.WithComponent("evolution/cycle")
	tagged.Info("phase transition", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "evolution/cycle", entry["component"])
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]LogLevel{
		"DEBUG":   DebugLevel,
		"warn":    WarnLevel,
		"WARNING": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"bogus":   InfoLevel,
	}
	for val, want := range cases {
		_ = os.Setenv("HEPHAESTUS_LOG_LEVEL", val)
		assert.Equal(t, want, levelFromEnv(), "env value %q", val)
	}
	_ = os.Unsetenv("HEPHAESTUS_LOG_LEVEL")
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "cycle-42")
	assert.Equal(t, "cycle-42", RequestIDFromContext(ctx))
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestProductionLoggerFallsBackOnMarshalFailure(t *testing.T) {
	l, buf := newBufferedLogger(DebugLevel)
	l.Info("unmarshalable", map[string]interface{}{"fn": func() {}})
	assert.True(t, strings.Contains(buf.String(), "unmarshalable"))
}
