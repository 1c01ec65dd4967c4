package config

import (
	"fmt"
	"os"

	"updatemonitor/internal/logging"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// DefaultMaxLength 通知消息默认长度上限（Discord单条消息限制）
const DefaultMaxLength = 2000

// Config 主配置
type Config struct {
	Monitor   *MonitorConfig     `mapstructure:"monitor"`
	Chains    []*ChainConfig     `mapstructure:"chains"`
	Discovery *DiscoveryConfig   `mapstructure:"discovery"`
	Snapshot  *SnapshotConfig    `mapstructure:"snapshot"`
	Notifier  *NotifierConfig    `mapstructure:"notifier"`
	Output    *OutputConfig      `mapstructure:"output"`
	Logging   *logging.LogConfig `mapstructure:"logging"`
}

// MonitorConfig 更新检测配置
type MonitorConfig struct {
	Workers       int    `mapstructure:"workers"`
	Interval      string `mapstructure:"interval"`
	Timeout       string `mapstructure:"timeout"`
	RetryLimit    int    `mapstructure:"retry_limit"`
	FailureStreak int    `mapstructure:"failure_streak"` // 连续失败多少次后告警，0为不告警
}

// ChainConfig 单条链的发现配置
type ChainConfig struct {
	Name               string   `mapstructure:"name"`
	Projects           []string `mapstructure:"projects"`
	RPCURL             string   `mapstructure:"rpc_url"`
	EventRPCURL        string   `mapstructure:"event_rpc_url"`
	RPCGetLogsMaxRange int      `mapstructure:"rpc_getlogs_max_range"`
	ReorgSafeDepth     int      `mapstructure:"reorg_safe_depth"`
	EnableCache        bool     `mapstructure:"enable_cache"`
	EtherscanAPIKey    string   `mapstructure:"etherscan_api_key"`
	EtherscanURL       string   `mapstructure:"etherscan_url"`
}

// DiscoveryConfig 发现结果来源
type DiscoveryConfig struct {
	Directory     string            `mapstructure:"directory"`
	MetaDirectory string            `mapstructure:"meta_directory"`
	Overrides     []*OverrideConfig `mapstructure:"overrides"`
}

// OverrideConfig 单个合约的比较覆盖项
type OverrideConfig struct {
	Project           string   `mapstructure:"project"`
	Address           string   `mapstructure:"address"`
	IgnoreInWatchMode []string `mapstructure:"ignore_in_watch_mode"`
}

// SnapshotConfig 快照存储配置
type SnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// NotifierConfig 通知配置
type NotifierConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	MaxLength int  `mapstructure:"max_length"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"`
	Directory string       `mapstructure:"directory"`
	Archive   bool         `mapstructure:"archive"` // Kafka输出时同时在 directory 下保存报告文件
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// Chain 按名称查找链配置
func (c *Config) Chain(name string) *ChainConfig {
	for _, chain := range c.Chains {
		if chain.Name == name {
			return chain
		}
	}
	return nil
}

// ChainNames 所有已配置链的名称
func (c *Config) ChainNames() []string {
	names := make([]string, 0, len(c.Chains))
	for _, chain := range c.Chains {
		names = append(names, chain.Name)
	}
	return names
}

// LoadConfig 加载配置（自动检测配置源）
//
// 先加载 .env，设置了 UPDATEMONITOR_DB_DSN 时从数据库读取，否则读取YAML文件。
// 最后用环境变量补全每条链的RPC和浏览器配置。
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("加载.env文件失败: %w", err)
	}

	var (
		config *Config
		err    error
	)

	if dbDSN := os.Getenv("UPDATEMONITOR_DB_DSN"); dbDSN != "" {
		logger := logrus.New()
		dbConfig, dbErr := NewDatabaseConfig(dbDSN, logger)
		if dbErr != nil {
			return nil, fmt.Errorf("连接数据库失败: %w", dbErr)
		}
		defer dbConfig.Close()

		config, err = dbConfig.LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("从数据库加载配置失败: %w", err)
		}
		logger.Info("已从数据库加载配置")
	} else {
		config, err = LoadConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	for i, chain := range config.Chains {
		resolved, err := ResolveChainEnv(chain)
		if err != nil {
			return nil, err
		}
		config.Chains[i] = resolved
	}

	return config, nil
}

// LoadConfigFromFile 从文件加载配置，未设置的字段使用默认值
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	return config, nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Monitor: &MonitorConfig{
			Workers:       4,
			Interval:      "10m",
			Timeout:       "2m",
			RetryLimit:    3,
			FailureStreak: 3,
		},
		Chains: []*ChainConfig{},
		Discovery: &DiscoveryConfig{
			Directory:     "./discovery",
			MetaDirectory: "./discovery",
		},
		Snapshot: &SnapshotConfig{
			Path: "./data/snapshots.db",
		},
		Notifier: &NotifierConfig{
			Enabled:   true,
			MaxLength: DefaultMaxLength,
		},
		Output: &OutputConfig{
			Format:    "json",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"diffs": "discovery_diffs",
				},
			},
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
