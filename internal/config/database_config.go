package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// configTables 允许通过键值方式读写的配置表
var configTables = map[string]string{
	"monitor":  "monitor_config",
	"notifier": "notifier_config",
	"output":   "output_config",
}

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置，数据库中没有的部分使用默认值
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	chains, err := dc.loadChains()
	if err != nil {
		return nil, fmt.Errorf("加载链配置失败: %w", err)
	}
	config.Chains = chains

	if err := dc.loadMonitorConfig(config.Monitor); err != nil {
		return nil, fmt.Errorf("加载检测配置失败: %w", err)
	}

	if err := dc.loadNotifierConfig(config.Notifier); err != nil {
		return nil, fmt.Errorf("加载通知配置失败: %w", err)
	}

	if err := dc.loadOutputConfig(config.Output); err != nil {
		return nil, fmt.Errorf("加载输出配置失败: %w", err)
	}

	dc.logger.Infof("从数据库加载了 %d 条链的配置", len(chains))
	return config, nil
}

// loadChains 加载 update_monitor_chains 表
func (dc *DatabaseConfig) loadChains() ([]*ChainConfig, error) {
	query := `SELECT name, projects, rpc_url, event_rpc_url, rpc_getlogs_max_range, reorg_safe_depth, enable_cache, etherscan_api_key
		FROM update_monitor_chains WHERE is_active = true ORDER BY name`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chains []*ChainConfig
	for rows.Next() {
		var (
			chain       ChainConfig
			projects    string
			eventRPCURL sql.NullString
			maxRange    sql.NullInt64
			reorgDepth  sql.NullInt64
			apiKey      sql.NullString
		)
		err := rows.Scan(&chain.Name, &projects, &chain.RPCURL, &eventRPCURL, &maxRange, &reorgDepth, &chain.EnableCache, &apiKey)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(projects), &chain.Projects); err != nil {
			return nil, fmt.Errorf("链 %s 的项目列表格式错误: %w", chain.Name, err)
		}
		chain.EventRPCURL = eventRPCURL.String
		chain.RPCGetLogsMaxRange = int(maxRange.Int64)
		chain.ReorgSafeDepth = int(reorgDepth.Int64)
		chain.EtherscanAPIKey = apiKey.String
		chains = append(chains, &chain)
	}

	return chains, rows.Err()
}

// loadMonitorConfig 加载检测配置
func (dc *DatabaseConfig) loadMonitorConfig(config *MonitorConfig) error {
	values, err := dc.ListConfigs("monitor")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "workers":
			if v, err := strconv.Atoi(value); err == nil {
				config.Workers = v
			}
		case "interval":
			config.Interval = value
		case "timeout":
			config.Timeout = value
		case "retry_limit":
			if v, err := strconv.Atoi(value); err == nil {
				config.RetryLimit = v
			}
		case "failure_streak":
			if v, err := strconv.Atoi(value); err == nil {
				config.FailureStreak = v
			}
		}
	}
	return nil
}

// loadNotifierConfig 加载 notifier_config 表
func (dc *DatabaseConfig) loadNotifierConfig(config *NotifierConfig) error {
	values, err := dc.ListConfigs("notifier")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "enabled":
			if v, err := strconv.ParseBool(value); err == nil {
				config.Enabled = v
			}
		case "max_length":
			if v, err := strconv.Atoi(value); err == nil {
				config.MaxLength = v
			}
		}
	}
	return nil
}

// loadOutputConfig 加载输出配置
func (dc *DatabaseConfig) loadOutputConfig(config *OutputConfig) error {
	values, err := dc.ListConfigs("output")
	if err != nil {
		return err
	}

	for key, value := range values {
		switch key {
		case "format":
			config.Format = value
		case "directory":
			config.Directory = value
		case "kafka_brokers":
			var brokers []string
			if err := json.Unmarshal([]byte(value), &brokers); err == nil {
				config.Kafka.Brokers = brokers
			}
		}
	}

	// 加载Kafka主题配置
	if config.Format == "kafka" || config.Format == "kafka_async" {
		topics, err := dc.loadKafkaTopics()
		if err != nil {
			return err
		}
		if len(topics) > 0 {
			config.Kafka.Topics = topics
		}
	}

	return nil
}

// loadKafkaTopics 加载Kafka主题配置
func (dc *DatabaseConfig) loadKafkaTopics() (map[string]string, error) {
	query := `SELECT data_type, topic_name FROM kafka_topics WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make(map[string]string)
	for rows.Next() {
		var dataType, topicName string
		if err := rows.Scan(&dataType, &topicName); err != nil {
			return nil, err
		}
		topics[dataType] = topicName
	}

	return topics, rows.Err()
}

// settingKinds 每类配置允许的键及其取值类型
var settingKinds = map[string]map[string]string{
	"monitor":  {"workers": "int", "interval": "duration", "timeout": "duration", "retry_limit": "int", "failure_streak": "int"},
	"notifier": {"enabled": "bool", "max_length": "int"},
	"output":   {"format": "format", "directory": "string", "kafka_brokers": "json_list"},
}

// SettingKeys 某类配置允许的键
func SettingKeys(configType string) ([]string, bool) {
	kinds, ok := settingKinds[configType]
	if !ok {
		return nil, false
	}
	return slices.Sorted(maps.Keys(kinds)), true
}

// ValidateSetting 检查键值配置能否被加载，未知的键或无法解析的值返回错误
func ValidateSetting(configType, key, value string) error {
	kinds, ok := settingKinds[configType]
	if !ok {
		return fmt.Errorf("不支持的配置类型: %s", configType)
	}
	kind, ok := kinds[key]
	if !ok {
		return fmt.Errorf("%s 配置不支持键 %s", configType, key)
	}

	switch kind {
	case "int":
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 {
			return fmt.Errorf("%s.%s 需要非负整数: %q", configType, key, value)
		}
	case "bool":
		if _, err := strconv.ParseBool(value); err != nil {
			return fmt.Errorf("%s.%s 需要布尔值: %q", configType, key, value)
		}
	case "duration":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s.%s 需要时间间隔: %w", configType, key, err)
		}
	case "format":
		if !slices.Contains(validOutputFormats, value) {
			return fmt.Errorf("不支持的输出格式: %s", value)
		}
	case "json_list":
		var list []string
		if err := json.Unmarshal([]byte(value), &list); err != nil {
			return fmt.Errorf("%s.%s 需要JSON字符串数组: %w", configType, key, err)
		}
	}
	return nil
}

func tableFor(configType string) (string, error) {
	tableName, ok := configTables[configType]
	if !ok {
		return "", fmt.Errorf("不支持的配置类型: %s", configType)
	}
	return tableName, nil
}

// UpdateConfig 更新配置
func (dc *DatabaseConfig) UpdateConfig(configType, key, value string) error {
	tableName, err := tableFor(configType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (config_key, config_value, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (config_key)
		DO UPDATE SET config_value = $2, updated_at = CURRENT_TIMESTAMP
	`, tableName)

	_, err = dc.DB.Exec(query, key, value)
	return err
}

// GetConfig 获取配置值
func (dc *DatabaseConfig) GetConfig(configType, key string) (string, error) {
	tableName, err := tableFor(configType)
	if err != nil {
		return "", err
	}

	query := fmt.Sprintf(`SELECT config_value FROM %s WHERE config_key = $1 AND is_active = true`, tableName)
	var value string
	err = dc.DB.QueryRow(query, key).Scan(&value)
	return value, err
}

// ListConfigs 列出某类配置的全部键值
func (dc *DatabaseConfig) ListConfigs(configType string) (map[string]string, error) {
	tableName, err := tableFor(configType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE is_active = true`, tableName)
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	configs := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		configs[key] = value
	}

	return configs, rows.Err()
}

// ListChains 列出所有启用的链配置
func (dc *DatabaseConfig) ListChains() ([]*ChainConfig, error) {
	return dc.loadChains()
}

// UpsertChain 新增或更新链配置，重新启用已停用的链
func (dc *DatabaseConfig) UpsertChain(chain *ChainConfig) error {
	if chain == nil || chain.Name == "" {
		return fmt.Errorf("链名称不能为空")
	}
	projects, err := json.Marshal(chain.Projects)
	if err != nil {
		return fmt.Errorf("序列化项目列表失败: %w", err)
	}

	query := `
		INSERT INTO update_monitor_chains
			(name, projects, rpc_url, event_rpc_url, rpc_getlogs_max_range, reorg_safe_depth, enable_cache, etherscan_api_key, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
		ON CONFLICT (name)
		DO UPDATE SET projects = $2, rpc_url = $3, event_rpc_url = $4, rpc_getlogs_max_range = $5,
			reorg_safe_depth = $6, enable_cache = $7, etherscan_api_key = $8, is_active = true
	`
	_, err = dc.DB.Exec(query, chain.Name, string(projects), chain.RPCURL, chain.EventRPCURL,
		chain.RPCGetLogsMaxRange, chain.ReorgSafeDepth, chain.EnableCache, chain.EtherscanAPIKey)
	return err
}

// DeactivateChain 停用链配置，不删除记录
func (dc *DatabaseConfig) DeactivateChain(name string) (bool, error) {
	result, err := dc.DB.Exec(`UPDATE update_monitor_chains SET is_active = false WHERE name = $1`, name)
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}
