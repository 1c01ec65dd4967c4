package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"updatemonitor/internal/config"
)

// ConfigStore 可读写的配置来源，由 config.DatabaseConfig 实现
type ConfigStore interface {
	GetConfig(configType, key string) (string, error)
	ListConfigs(configType string) (map[string]string, error)
	UpdateConfig(configType, key, value string) error
	ListChains() ([]*config.ChainConfig, error)
	UpsertChain(chain *config.ChainConfig) error
	DeactivateChain(name string) (bool, error)
}

// ConfigManager 配置管理器，修改在下次启动或重新加载配置时生效
type ConfigManager struct {
	store  ConfigStore
	logger *logrus.Logger
}

// NewConfigManager 创建配置管理器
func NewConfigManager(store ConfigStore, logger *logrus.Logger) *ConfigManager {
	return &ConfigManager{
		store:  store,
		logger: logger,
	}
}

// GetConfig 获取配置
func (cm *ConfigManager) GetConfig(c *gin.Context) {
	configType := c.Param("type")
	key := c.Query("key")

	if _, known := config.SettingKeys(configType); !known {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的配置类型", "config_type": configType})
		return
	}

	if key == "" {
		configs, err := cm.store.ListConfigs(configType)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "获取配置失败",
				"message": err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"config_type": configType,
			"configs":     configs,
		})
		return
	}

	value, err := cm.store.GetConfig(configType, key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "配置不存在",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"config_type": configType,
		"key":         key,
		"value":       value,
	})
}

// UpdateConfig 更新配置
func (cm *ConfigManager) UpdateConfig(c *gin.Context) {
	configType := c.Param("type")

	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	if err := config.ValidateSetting(configType, req.Key, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "配置值无效",
			"message": err.Error(),
		})
		return
	}

	if err := cm.store.UpdateConfig(configType, req.Key, req.Value); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "更新配置失败",
			"message": err.Error(),
		})
		return
	}

	cm.logger.Infof("配置已更新: %s.%s", configType, req.Key)
	c.JSON(http.StatusOK, gin.H{
		"message": "配置更新成功",
		"config": gin.H{
			"type":  configType,
			"key":   req.Key,
			"value": req.Value,
		},
	})
}

// GetChains 获取数据库中的链配置，不返回密钥
func (cm *ConfigManager) GetChains(c *gin.Context) {
	chains, err := cm.store.ListChains()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "获取链配置失败",
			"message": err.Error(),
		})
		return
	}

	result := make([]gin.H, 0, len(chains))
	for _, chain := range chains {
		result = append(result, gin.H{
			"name":                  chain.Name,
			"projects":              chain.Projects,
			"rpc_url":               chain.RPCURL,
			"event_rpc_url":         chain.EventRPCURL,
			"rpc_getlogs_max_range": chain.RPCGetLogsMaxRange,
			"reorg_safe_depth":      chain.ReorgSafeDepth,
			"enable_cache":          chain.EnableCache,
			"etherscan_configured":  chain.EtherscanAPIKey != "",
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"chains": result,
	})
}

// UpsertChain 新增或更新链配置
func (cm *ConfigManager) UpsertChain(c *gin.Context) {
	var req struct {
		Projects           []string `json:"projects" binding:"required"`
		RPCURL             string   `json:"rpc_url"`
		EventRPCURL        string   `json:"event_rpc_url"`
		RPCGetLogsMaxRange int      `json:"rpc_getlogs_max_range"`
		ReorgSafeDepth     int      `json:"reorg_safe_depth"`
		EnableCache        bool     `json:"enable_cache"`
		EtherscanAPIKey    string   `json:"etherscan_api_key"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "请求参数错误",
			"message": err.Error(),
		})
		return
	}

	chain := &config.ChainConfig{
		Name:               c.Param("name"),
		Projects:           req.Projects,
		RPCURL:             req.RPCURL,
		EventRPCURL:        req.EventRPCURL,
		RPCGetLogsMaxRange: req.RPCGetLogsMaxRange,
		ReorgSafeDepth:     req.ReorgSafeDepth,
		EnableCache:        req.EnableCache,
		EtherscanAPIKey:    req.EtherscanAPIKey,
	}
	if err := cm.store.UpsertChain(chain); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "保存链配置失败",
			"message": err.Error(),
		})
		return
	}

	cm.logger.Infof("链配置已保存: %s (%d 个项目)", chain.Name, len(chain.Projects))
	c.JSON(http.StatusOK, gin.H{
		"message": "链配置保存成功",
		"name":    chain.Name,
	})
}

// DeactivateChain 停用链配置
func (cm *ConfigManager) DeactivateChain(c *gin.Context) {
	name := c.Param("name")

	found, err := cm.store.DeactivateChain(name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "停用链配置失败",
			"message": err.Error(),
		})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "链配置不存在",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "链配置已停用",
	})
}
