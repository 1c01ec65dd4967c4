package logging

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStructuredLogger_InvalidConfig(t *testing.T) {
	_, err := NewStructuredLogger(&LogConfig{Level: "verbose", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	_, err = NewStructuredLogger(&LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)

	logger, err := NewStructuredLogger(nil)
	require.NoError(t, err)
	assert.NotNil(t, logger.GetSlogger())
}

func TestNewProjectLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewStructuredLoggerWithWriter(&LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	NewProjectLogger(base, "ethereum", "arbitrum").Info("检测到变更", "contracts", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "检测到变更", entry["msg"])
	assert.Equal(t, "ethereum", entry["chain"])
	assert.Equal(t, "arbitrum", entry["project"])
	assert.Equal(t, "update_monitor", entry["component"])
	assert.Equal(t, float64(2), entry["contracts"])
}

func TestNewNotifierLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	base, err := NewStructuredLoggerWithWriter(&LogConfig{Level: "warn", Format: "text"}, &buf)
	require.NoError(t, err)

	l := NewNotifierLogger(base, "kafka")
	l.Info("不会输出")
	assert.Zero(t, buf.Len())

	l.Warn("发送失败")
	assert.Contains(t, buf.String(), "sink=kafka")
}

func TestNewLogrusLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "monitor.log")
	logger, err := NewLogrusLogger(&LogConfig{Level: "debug", Format: "text", Output: path})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.FileExists(t, path)

	_, err = NewLogrusLogger(&LogConfig{Level: "nope"})
	assert.Error(t, err)
}
