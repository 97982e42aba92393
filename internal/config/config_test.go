package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "abiscope/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	config := GetDefaultConfig()

	assert.NotNil(t, config)
	assert.NotNil(t, config.Sourcify)
	assert.NotNil(t, config.Explorer)
	assert.NotNil(t, config.Search)
	assert.NotNil(t, config.Names)
	assert.NotNil(t, config.Decoder)
	assert.NotNil(t, config.Cache)
	assert.NotNil(t, config.Output)
	assert.NotNil(t, config.Server)
	assert.NotNil(t, config.Logging)

	// 测试链配置顺序
	require.Len(t, config.Chains, 5)
	ids := make([]uint64, 0, len(config.Chains))
	for _, c := range config.Chains {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []uint64{8453, 10, 42161, 137, 1}, ids)

	// 测试外部服务配置
	assert.Equal(t, "https://sourcify.dev/server", config.Sourcify.ServerURL)
	assert.Equal(t, "https://api.etherscan.io/v2/api", config.Explorer.APIURL)
	assert.Equal(t, "2s", config.Search.Timeout)
	assert.Equal(t, "10s", config.Search.CountersTimeout)
	assert.Equal(t, 2, config.Search.MinQueryLength)
	assert.Equal(t, uint64(1), config.Names.ChainID)

	// 测试解码器配置
	assert.Equal(t, "https://www.4byte.directory/api/v1/signatures/", config.Decoder.FourByteAPIURL)
	assert.Equal(t, 10000, config.Decoder.CacheSize)

	// 测试输出与日志配置
	assert.Equal(t, "none", config.Output.Format)
	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)

	assert.NoError(t, config.Validate())
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
chains:
  - id: 8453
    name: Base
    rpc_url: http://localhost:8545
    verification: true
explorer:
  api_key: file-key
search:
  timeout: 3s
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	require.Len(t, config.Chains, 1)
	assert.Equal(t, "http://localhost:8545", config.Chains[0].RPCURL)
	assert.Equal(t, "file-key", config.Explorer.APIKey)
	assert.Equal(t, "3s", config.Search.Timeout)
	assert.Equal(t, "debug", config.Logging.Level)

	// 未在文件中出现的配置保持默认值
	assert.Equal(t, "https://sourcify.dev/server", config.Sourcify.ServerURL)
	assert.Equal(t, "10s", config.Search.CountersTimeout)
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "")
	t.Setenv(EnvEtherscanAPIKey, "env-key")
	t.Setenv(EnvRPCURLPrefix+"137", "http://polygon.local")

	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "env-key", config.Explorer.APIKey)
	for _, c := range config.Chains {
		if c.ID == 137 {
			assert.Equal(t, "http://polygon.local", c.RPCURL)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		valid  bool
	}{
		{"default", func(c *Config) {}, true},
		{"no chains", func(c *Config) { c.Chains = nil }, false},
		{"zero chain id", func(c *Config) { c.Chains[0].ID = 0 }, false},
		{"duplicate chain id", func(c *Config) { c.Chains[1].ID = c.Chains[0].ID }, false},
		{"invalid timeout", func(c *Config) { c.Search.Timeout = "soon" }, false},
		{"invalid ttl", func(c *Config) { c.Cache.TTL = "1 day" }, false},
		{"unknown output", func(c *Config) { c.Output.Format = "parquet" }, false},
		{"kafka output", func(c *Config) { c.Output.Format = "kafka" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := GetDefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
			}
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
}
