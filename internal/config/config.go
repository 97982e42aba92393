package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apperrors "abiscope/internal/errors"
	"abiscope/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// 环境变量
const (
	EnvDatabaseDSN     = "ABISCOPE_DB_DSN"
	EnvRPCURLPrefix    = "ABISCOPE_RPC_URL_"
	EnvEtherscanAPIKey = "ETHERSCAN_API_KEY"
)

// Config 主配置
type Config struct {
	Chains     []*ChainConfig     `mapstructure:"chains"`
	Sourcify   *SourcifyConfig    `mapstructure:"sourcify"`
	Explorer   *ExplorerConfig    `mapstructure:"explorer"`
	Search     *SearchConfig      `mapstructure:"search"`
	Names      *NamesConfig       `mapstructure:"names"`
	Decoder    *DecoderConfig     `mapstructure:"decoder"`
	Cache      *CacheConfig       `mapstructure:"cache"`
	Validation *ValidationConfig  `mapstructure:"validation"`
	Output     *OutputConfig      `mapstructure:"output"`
	Server     *ServerConfig      `mapstructure:"server"`
	Logging    *logging.LogConfig `mapstructure:"logging"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ID            uint64 `mapstructure:"id"`
	Name          string `mapstructure:"name"`
	RPCURL        string `mapstructure:"rpc_url"`
	ExplorerURL   string `mapstructure:"explorer_url"`
	BlockscoutURL string `mapstructure:"blockscout_url"`
	Verification  bool   `mapstructure:"verification"`
}

// SourcifyConfig 合约元数据服务配置
type SourcifyConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Timeout   string `mapstructure:"timeout"`
}

// ExplorerConfig 区块浏览器API配置
type ExplorerConfig struct {
	APIURL    string  `mapstructure:"api_url"`
	APIKey    string  `mapstructure:"api_key"`
	Timeout   string  `mapstructure:"timeout"`
	RateLimit float64 `mapstructure:"rate_limit"` // 每个客户端IP每秒请求数
	Burst     int     `mapstructure:"burst"`
}

// SearchConfig 合约搜索配置
type SearchConfig struct {
	Timeout         string `mapstructure:"timeout"`
	CountersTimeout string `mapstructure:"counters_timeout"`
	MinQueryLength  int    `mapstructure:"min_query_length"`
}

// NamesConfig ENS名称解析配置
type NamesConfig struct {
	ChainID  uint64 `mapstructure:"chain_id"`
	Registry string `mapstructure:"registry"`
}

// DecoderConfig 选择器标签解码配置
type DecoderConfig struct {
	FourByteAPIURL string `mapstructure:"fourbyte_api_url"`
	APITimeout     string `mapstructure:"api_timeout"`
	EnableCache    bool   `mapstructure:"enable_cache"`
	CacheSize      int    `mapstructure:"cache_size"`
	EnableAPI      bool   `mapstructure:"enable_api"`
}

// CacheConfig ABI持久化缓存配置
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	TTL     string `mapstructure:"ttl"`
}

// ValidationConfig 输入校验配置
type ValidationConfig struct {
	StrictChecksum bool `mapstructure:"strict_checksum"` // 混合大小写地址必须通过EIP-55校验和
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 事件输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, file, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// ServerConfig API服务配置
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"` // 分享链接的前缀
}

// LoadConfig 加载配置（自动检测配置源）
func LoadConfig(configPath string) (*Config, error) {
	var cfg *Config
	var err error

	if dbDSN := os.Getenv(EnvDatabaseDSN); dbDSN != "" {
		cfg, err = loadFromDatabase(dbDSN, configPath)
		if err != nil {
			return nil, err
		}
	} else if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = LoadConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = GetDefaultConfig()
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromDatabase 链列表来自数据库，其余配置来自YAML或默认值
func loadFromDatabase(dsn, configPath string) (*Config, error) {
	logger := logrus.New()
	dbConfig, err := NewDatabaseConfig(dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	defer dbConfig.Close()

	cfg := GetDefaultConfig()
	if _, statErr := os.Stat(configPath); statErr == nil {
		if cfg, err = LoadConfigFromFile(configPath); err != nil {
			return nil, err
		}
	}

	chains, err := dbConfig.LoadChains()
	if err != nil {
		return nil, fmt.Errorf("从数据库加载链配置失败: %w", err)
	}
	if len(chains) > 0 {
		cfg.Chains = chains
	}

	logger.Infof("已从数据库加载 %d 条链配置", len(chains))
	return cfg, nil
}

// LoadConfigFromFile 从文件加载配置，未指定的部分使用默认值
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if v.IsSet("chains") {
		config.Chains = nil
	}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// ApplyEnvOverrides 应用环境变量覆盖
func ApplyEnvOverrides(cfg *Config) {
	for _, chain := range cfg.Chains {
		if url := os.Getenv(EnvRPCURLPrefix + strconv.FormatUint(chain.ID, 10)); url != "" {
			chain.RPCURL = url
		}
	}
	if key := os.Getenv(EnvEtherscanAPIKey); key != "" && cfg.Explorer != nil {
		cfg.Explorer.APIKey = key
	}
}

func invalidConfig(format string, args ...interface{}) error {
	return apperrors.Wrap(apperrors.ErrConfigInvalid, fmt.Errorf(format, args...))
}

// Validate 校验配置
func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return invalidConfig("至少需要配置一条链")
	}

	seen := make(map[uint64]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ID == 0 {
			return invalidConfig("链 %s 缺少ID", chain.Name)
		}
		if seen[chain.ID] {
			return invalidConfig("重复的链ID: %d", chain.ID)
		}
		seen[chain.ID] = true
	}

	durations := map[string]string{
		"sourcify.timeout":        c.Sourcify.Timeout,
		"explorer.timeout":        c.Explorer.Timeout,
		"search.timeout":          c.Search.Timeout,
		"search.counters_timeout": c.Search.CountersTimeout,
		"decoder.api_timeout":     c.Decoder.APITimeout,
		"cache.ttl":               c.Cache.TTL,
	}
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return invalidConfig("配置项 %s 不是有效的时间间隔: %s", key, value)
		}
	}

	switch strings.ToLower(c.Output.Format) {
	case "", "none", "file", "kafka":
	default:
		return invalidConfig("不支持的输出格式: %s", c.Output.Format)
	}

	return nil
}

// Duration 解析时间间隔，为空或无效时返回默认值
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chains: []*ChainConfig{
			{
				ID:            8453,
				Name:          "Base",
				RPCURL:        "https://mainnet.base.org",
				ExplorerURL:   "https://basescan.org",
				BlockscoutURL: "https://base.blockscout.com",
				Verification:  true,
			},
			{
				ID:            10,
				Name:          "OP Mainnet",
				RPCURL:        "https://mainnet.optimism.io",
				ExplorerURL:   "https://optimistic.etherscan.io",
				BlockscoutURL: "https://optimism.blockscout.com",
				Verification:  true,
			},
			{
				ID:            42161,
				Name:          "Arbitrum One",
				RPCURL:        "https://arb1.arbitrum.io/rpc",
				ExplorerURL:   "https://arbiscan.io",
				BlockscoutURL: "https://arbitrum.blockscout.com",
				Verification:  true,
			},
			{
				ID:            137,
				Name:          "Polygon",
				RPCURL:        "https://polygon-rpc.com",
				ExplorerURL:   "https://polygonscan.com",
				BlockscoutURL: "https://polygon.blockscout.com",
				Verification:  true,
			},
			{
				ID:            1,
				Name:          "Ethereum",
				RPCURL:        "https://eth.merkle.io",
				ExplorerURL:   "https://etherscan.io",
				BlockscoutURL: "https://eth.blockscout.com",
				Verification:  true,
			},
		},
		Sourcify: &SourcifyConfig{
			ServerURL: "https://sourcify.dev/server",
			Timeout:   "15s",
		},
		Explorer: &ExplorerConfig{
			APIURL:    "https://api.etherscan.io/v2/api",
			Timeout:   "15s",
			RateLimit: 5,
			Burst:     10,
		},
		Search: &SearchConfig{
			Timeout:         "2s",
			CountersTimeout: "10s",
			MinQueryLength:  2,
		},
		Names: &NamesConfig{
			ChainID:  1,
			Registry: "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e",
		},
		Decoder: &DecoderConfig{
			FourByteAPIURL: "https://www.4byte.directory/api/v1/signatures/",
			APITimeout:     "5s",
			EnableCache:    true,
			CacheSize:      10000,
			EnableAPI:      true,
		},
		Cache: &CacheConfig{
			Enabled: true,
			Path:    "./data/abiscope.db",
			TTL:     "24h",
		},
		Validation: &ValidationConfig{
			StrictChecksum: false,
		},
		Output: &OutputConfig{
			Format:    "none",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"resolutions": "abiscope_resolutions",
					"share_links": "abiscope_share_links",
				},
			},
		},
		Server: &ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			BaseURL: "http://localhost:8080",
		},
		Logging: &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}
