package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ExplorerAPI 区块浏览器API信息
type ExplorerAPI struct {
	Type string
	URL  string
}

// KnownChains 支持发现的链及其浏览器API
var KnownChains = map[string]ExplorerAPI{
	"ethereum":   {Type: "etherscan", URL: "https://api.etherscan.io/api"},
	"arbitrum":   {Type: "etherscan", URL: "https://api.arbiscan.io/api"},
	"optimism":   {Type: "etherscan", URL: "https://api-optimistic.etherscan.io/api"},
	"base":       {Type: "etherscan", URL: "https://api.basescan.org/api"},
	"polygonpos": {Type: "etherscan", URL: "https://api.polygonscan.com/api"},
	"bsc":        {Type: "etherscan", URL: "https://api.bscscan.com/api"},
	"avalanche":  {Type: "etherscan", URL: "https://api.snowtrace.io/api"},
	"linea":      {Type: "etherscan", URL: "https://api.lineascan.build/api"},
	"gnosis":     {Type: "etherscan", URL: "https://api.gnosisscan.io/api"},
	"celo":       {Type: "etherscan", URL: "https://api.celoscan.io/api"},
	"blast":      {Type: "blockscout", URL: "https://blast.blockscout.com/api"},
}

// ResolveChainEnv 用环境变量补全链配置
//
// 每个字段优先读取 <CHAIN>_..._FOR_DISCOVERY，其次读取通用变量。
// 配置文件中已有的值不会被环境变量覆盖。
func ResolveChainEnv(chain *ChainConfig) (*ChainConfig, error) {
	if chain == nil {
		return nil, fmt.Errorf("链配置为空")
	}

	explorer, ok := KnownChains[chain.Name]
	if !ok {
		return nil, fmt.Errorf("未知的链: %s", chain.Name)
	}
	if explorer.Type != "etherscan" {
		return nil, fmt.Errorf("仅支持etherscan类型的浏览器API: %s", chain.Name)
	}

	envName := strings.ToUpper(chain.Name)
	v := viper.New()
	bind := func(key string, envs ...string) {
		// BindEnv 只在参数数量正确时返回错误
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	bind("rpc_url", envName+"_RPC_URL_FOR_DISCOVERY", envName+"_RPC_URL")
	bind("event_rpc_url", envName+"_EVENT_RPC_URL_FOR_DISCOVERY")
	bind("rpc_getlogs_max_range", envName+"_RPC_GETLOGS_MAX_RANGE_FOR_DISCOVERY", envName+"_RPC_GETLOGS_MAX_RANGE")
	bind("reorg_safe_depth", envName+"_REORG_SAFE_DEPTH_FOR_DISCOVERY", envName+"_REORG_SAFE_DEPTH")
	bind("enable_cache", envName+"_DISCOVERY_CACHE_ENABLED", "DISCOVERY_CACHE_ENABLED")
	bind("etherscan_api_key", envName+"_ETHERSCAN_API_KEY_FOR_DISCOVERY", envName+"_ETHERSCAN_API_KEY")

	resolved := *chain
	resolved.Projects = append([]string(nil), chain.Projects...)

	if resolved.RPCURL == "" {
		resolved.RPCURL = v.GetString("rpc_url")
	}
	if resolved.EventRPCURL == "" {
		resolved.EventRPCURL = v.GetString("event_rpc_url")
	}
	if resolved.RPCGetLogsMaxRange == 0 {
		resolved.RPCGetLogsMaxRange = v.GetInt("rpc_getlogs_max_range")
	}
	if resolved.ReorgSafeDepth == 0 {
		resolved.ReorgSafeDepth = v.GetInt("reorg_safe_depth")
	}
	if !resolved.EnableCache {
		resolved.EnableCache = v.GetBool("enable_cache")
	}
	if resolved.EtherscanAPIKey == "" {
		resolved.EtherscanAPIKey = v.GetString("etherscan_api_key")
	}
	if resolved.EtherscanURL == "" {
		resolved.EtherscanURL = explorer.URL
	}

	if resolved.RPCURL == "" {
		return nil, fmt.Errorf("链 %s 缺少RPC地址，请设置 %s_RPC_URL_FOR_DISCOVERY 或 %s_RPC_URL", chain.Name, envName, envName)
	}
	if resolved.EtherscanAPIKey == "" {
		return nil, fmt.Errorf("链 %s 缺少浏览器API密钥，请设置 %s_ETHERSCAN_API_KEY", chain.Name, envName)
	}

	return &resolved, nil
}
