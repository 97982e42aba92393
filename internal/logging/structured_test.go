package logging

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)

	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	_, isText := logger.Formatter.(*logrus.TextFormatter)
	assert.True(t, isText)
}

func TestNewLogger_JSONDebug(t *testing.T) {
	logger, err := NewLogger(&LogConfig{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, err := NewLogger(&LogConfig{Level: "verbose", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	_, err = NewLogger(&LogConfig{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

func TestNewLogger_RotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "abiscope.log")

	logger, err := NewLogger(&LogConfig{
		Level:      "info",
		Format:     "json",
		Output:     path,
		Rotation:   true,
		MaxSize:    10,
		MaxBackups: 2,
	})
	require.NoError(t, err)

	rotating, ok := logger.Out.(*lumberjack.Logger)
	require.True(t, ok)
	assert.Equal(t, path, rotating.Filename)
	assert.Equal(t, 10, rotating.MaxSize)
}

func TestComponentLoggers(t *testing.T) {
	base := logrus.New()

	entry := NewChainLogger(base, "resolver", 8453, "0xabc")
	assert.Equal(t, "resolver", entry.Data["component"])
	assert.Equal(t, uint64(8453), entry.Data["chain_id"])
	assert.Equal(t, "0xabc", entry.Data["address"])

	rpc := NewRPCLogger(base, "eth_call", 1)
	assert.Equal(t, "eth_call", rpc.Data["method"])

	assert.Equal(t, "search", NewComponentLogger(base, "search").Data["component"])
}
