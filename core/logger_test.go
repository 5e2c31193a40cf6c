package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("bloxgate", "INFO", "json")
	logger.SetOutput(&buf)

	logger.Info("tool_invoked", map[string]interface{}{
		"tool":           "list_subnets",
		"correlation_id": "abc-123",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "tool_invoked", entry["event"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "bloxgate", entry["service"])
	assert.Equal(t, "list_subnets", entry["tool"])
	assert.Equal(t, "abc-123", entry["correlation_id"])
	assert.NotEmpty(t, entry["timestamp"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("bloxgate", "WARN", "json")
	logger.SetOutput(&buf)

	logger.Debug("should_not_appear", nil)
	logger.Info("should_not_appear", nil)
	logger.Warn("should_appear", nil)
	logger.Error("should_appear", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.NotContains(t, buf.String(), "should_not_appear")
}

func TestLoggerErrorFieldFlattened(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("bloxgate", "INFO", "json")
	logger.SetOutput(&buf)

	logger.Error("tool_failed", map[string]interface{}{
		"error": errors.New("boom"),
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["error"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("bloxgate", "INFO", "json").WithFields(map[string]interface{}{
		"session_id": "s-1",
	})
	logger.SetOutput(&buf)

	logger.Info("session_created", nil)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "s-1", entry["session_id"])
}

func TestLoggerConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("bloxgate", "INFO", "console")
	logger.SetOutput(&buf)

	logger.Info("cache_hit", map[string]interface{}{"tool": "list_ip_spaces"})

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "cache_hit")
	assert.Contains(t, out, "tool=list_ip_spaces")
}
