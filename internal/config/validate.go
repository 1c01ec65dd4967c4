package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var validOutputFormats = []string{"json", "kafka", "kafka_async"}

// ValidateConfig 校验配置各部分
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("配置为空")
	}
	if err := validateMonitorConfig(config.Monitor); err != nil {
		return err
	}
	if len(config.Chains) == 0 {
		return fmt.Errorf("至少需要配置一条链")
	}
	seen := make(map[string]bool, len(config.Chains))
	for _, chain := range config.Chains {
		if err := validateChainConfig(chain); err != nil {
			return err
		}
		if seen[chain.Name] {
			return fmt.Errorf("链 %s 重复配置", chain.Name)
		}
		seen[chain.Name] = true
	}
	if err := validateDiscoveryConfig(config.Discovery); err != nil {
		return err
	}
	if config.Snapshot == nil || config.Snapshot.Path == "" {
		return fmt.Errorf("缺少快照存储路径")
	}
	if err := validateNotifierConfig(config.Notifier); err != nil {
		return err
	}
	return validateOutputConfig(config.Output)
}

func validateMonitorConfig(config *MonitorConfig) error {
	if config == nil {
		return fmt.Errorf("缺少monitor配置")
	}
	if config.Workers <= 0 {
		return fmt.Errorf("workers必须大于0: %d", config.Workers)
	}
	if _, err := time.ParseDuration(config.Interval); err != nil {
		return fmt.Errorf("无效的检测间隔 '%s': %w", config.Interval, err)
	}
	if _, err := time.ParseDuration(config.Timeout); err != nil {
		return fmt.Errorf("无效的超时时间 '%s': %w", config.Timeout, err)
	}
	if config.RetryLimit < 0 {
		return fmt.Errorf("retry_limit不能为负数: %d", config.RetryLimit)
	}
	if config.FailureStreak < 0 {
		return fmt.Errorf("failure_streak不能为负数: %d", config.FailureStreak)
	}
	return nil
}

func validateChainConfig(chain *ChainConfig) error {
	if chain == nil || chain.Name == "" {
		return fmt.Errorf("链配置缺少名称")
	}
	if _, ok := KnownChains[chain.Name]; !ok {
		return fmt.Errorf("未知的链: %s", chain.Name)
	}
	if chain.RPCURL == "" {
		return fmt.Errorf("链 %s 缺少RPC地址", chain.Name)
	}
	if len(chain.Projects) == 0 {
		return fmt.Errorf("链 %s 未配置任何项目", chain.Name)
	}
	if chain.ReorgSafeDepth < 0 || chain.RPCGetLogsMaxRange < 0 {
		return fmt.Errorf("链 %s 的区块参数不能为负数", chain.Name)
	}
	return nil
}

func validateDiscoveryConfig(config *DiscoveryConfig) error {
	if config == nil || config.Directory == "" {
		return fmt.Errorf("缺少发现结果目录")
	}
	for _, o := range config.Overrides {
		if o.Project == "" {
			return fmt.Errorf("覆盖项缺少项目名称")
		}
		if !common.IsHexAddress(o.Address) {
			return fmt.Errorf("覆盖项地址无效: %s", o.Address)
		}
	}
	return nil
}

func validateNotifierConfig(config *NotifierConfig) error {
	if config == nil {
		return fmt.Errorf("缺少notifier配置")
	}
	if config.MaxLength <= 0 {
		return fmt.Errorf("max_length必须大于0: %d", config.MaxLength)
	}
	return nil
}

func validateKafkaConfig(config *KafkaConfig) error {
	if config == nil || len(config.Brokers) == 0 {
		return fmt.Errorf("缺少Kafka broker配置")
	}
	for _, broker := range config.Brokers {
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("无效的Kafka broker地址: %s", broker)
		}
	}
	if len(config.Topics) == 0 {
		return fmt.Errorf("缺少Kafka topic配置")
	}
	return nil
}

func validateOutputConfig(config *OutputConfig) error {
	if config == nil {
		return fmt.Errorf("缺少output配置")
	}

	if !slices.Contains(validOutputFormats, config.Format) {
		return fmt.Errorf("不支持的输出格式: %s", config.Format)
	}

	if config.Format == "kafka" || config.Format == "kafka_async" {
		if err := validateKafkaConfig(config.Kafka); err != nil {
			return err
		}
		if !config.Archive {
			return nil
		}
	}
	if config.Directory == "" {
		return fmt.Errorf("文件输出缺少目录")
	}
	return nil
}
