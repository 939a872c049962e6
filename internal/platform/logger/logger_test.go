package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsnebula/converter-api/internal/config"
)

func parseLogLine(t *testing.T, line []byte) map[string]interface{} {
	t.Helper()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &entry), "log output should be valid JSON")
	return entry
}

func TestSetupEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := setup(config.ServerConfig{LogLevel: "info"}, &buf)

	log.Info("server configuration loaded", "port", 8080)

	entry := parseLogLine(t, buf.Bytes())
	assert.Equal(t, "server configuration loaded", entry["msg"])
	assert.Equal(t, float64(8080), entry["port"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestSetupRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := setup(config.ServerConfig{LogLevel: "warn"}, &buf)

	log.Info("should be suppressed")
	assert.Zero(t, buf.Len(), "info records must be dropped at warn level")

	log.Warn("should appear")
	assert.NotZero(t, buf.Len())
}

func TestSetupInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := setup(config.ServerConfig{LogLevel: "loud"}, &buf)

	log.Debug("debug suppressed under fallback level")
	assert.Zero(t, buf.Len())

	log.Info("info passes under fallback level")
	assert.NotZero(t, buf.Len())
}

func TestSetupSetsDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	setup(config.ServerConfig{LogLevel: "debug"}, &buf)

	slog.Debug("via default logger")
	entry := parseLogLine(t, buf.Bytes())
	assert.Equal(t, "via default logger", entry["msg"])
}
