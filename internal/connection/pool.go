package connection

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"updatemonitor/internal/config"
	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/internal/retry"
)

// Client 链客户端需要提供的能力
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer 建立到RPC节点的连接
type Dialer func(ctx context.Context, url string) (Client, error)

// DialEthClient 使用go-ethereum ethclient连接节点
func DialEthClient(ctx context.Context, url string) (Client, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// chainClient 单条链的连接状态
type chainClient struct {
	config    *config.ChainConfig
	client    Client
	isHealthy bool
	lastCheck time.Time
	lastBlock uint64
}

// ChainClients 每条链一个RPC客户端，首次使用时建立连接
type ChainClients struct {
	chains  map[string]*chainClient
	dial    Dialer
	retrier *retry.Retrier
	logger  *logrus.Logger
	mu      sync.Mutex

	dialTimeout time.Duration
}

// NewChainClients 创建链客户端集合，dial为nil时使用ethclient
func NewChainClients(chains []*config.ChainConfig, dial Dialer, logger *logrus.Logger) *ChainClients {
	if dial == nil {
		dial = DialEthClient
	}

	cc := &ChainClients{
		chains:      make(map[string]*chainClient, len(chains)),
		dial:        dial,
		retrier:     retry.NewRetrier(retry.NetworkRetryConfig, logger),
		logger:      logger,
		dialTimeout: 10 * time.Second,
	}
	for _, chain := range chains {
		cc.chains[chain.Name] = &chainClient{config: chain, isHealthy: true}
	}
	return cc
}

// SetRetrier 替换RPC重试器
func (cc *ChainClients) SetRetrier(r *retry.Retrier) {
	cc.retrier = r
}

// HasRPC 链是否配置了RPC地址
func (cc *ChainClients) HasRPC(chain string) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	c, ok := cc.chains[chain]
	return ok && c.config.RPCURL != ""
}

// getClient 返回已建立的连接，没有时拨号并验证
func (cc *ChainClients) getClient(ctx context.Context, chain string) (Client, error) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	c, ok := cc.chains[chain]
	if !ok {
		return nil, monitorerrors.ErrUnknownChain.WithCause(fmt.Errorf("链 %s 未配置", chain)).WithChain(chain).WithComponent("rpc")
	}
	if c.client != nil {
		return c.client, nil
	}
	if c.config.RPCURL == "" {
		return nil, monitorerrors.ErrConfigInvalid.WithCause(fmt.Errorf("链 %s 未配置RPC地址", chain)).WithChain(chain).WithComponent("rpc")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cc.dialTimeout)
	defer cancel()

	client, err := cc.dial(dialCtx, c.config.RPCURL)
	if err != nil {
		c.isHealthy = false
		c.lastCheck = time.Now()
		return nil, monitorerrors.ErrConnectionFailed.WithCause(err).WithChain(chain).WithComponent("rpc")
	}

	// 测试连接
	if _, err := client.ChainID(dialCtx); err != nil {
		client.Close()
		c.isHealthy = false
		c.lastCheck = time.Now()
		return nil, monitorerrors.ErrConnectionFailed.WithCause(fmt.Errorf("测试连接失败: %w", err)).WithChain(chain).WithComponent("rpc")
	}

	c.client = client
	c.isHealthy = true
	c.lastCheck = time.Now()
	cc.logger.Infof("链 %s RPC连接已建立", chain)
	return client, nil
}

// dropClient 关闭出错的连接，下次使用时重新拨号
func (cc *ChainClients) dropClient(chain string, client Client) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	c, ok := cc.chains[chain]
	if !ok || c.client != client {
		return
	}
	client.Close()
	c.client = nil
	c.isHealthy = false
	c.lastCheck = time.Now()
}

// HeadBlockNumber 获取链上最新区块号，可重试错误按退避重试
func (cc *ChainClients) HeadBlockNumber(ctx context.Context, chain string) (uint64, error) {
	return retry.Do(ctx, cc.retrier, fmt.Sprintf("%s 获取最新区块", chain), func() (uint64, error) {
		client, err := cc.getClient(ctx, chain)
		if err != nil {
			return 0, err
		}

		number, err := client.BlockNumber(ctx)
		if err != nil {
			cc.dropClient(chain, client)
			return 0, monitorerrors.ErrRPCTimeout.WithCause(err).WithChain(chain).WithComponent("rpc")
		}
		return number, nil
	})
}

// SafeBlockNumber 返回重组安全的区块号：最新区块减去 reorg_safe_depth
func (cc *ChainClients) SafeBlockNumber(ctx context.Context, chain string) (uint64, error) {
	head, err := cc.HeadBlockNumber(ctx, chain)
	if err != nil {
		return 0, err
	}

	cc.mu.Lock()
	c := cc.chains[chain]
	depth := uint64(max(c.config.ReorgSafeDepth, 0))
	cc.mu.Unlock()

	if head < depth {
		return 0, monitorerrors.ErrReorgUnsafe.
			WithCause(fmt.Errorf("最新区块 %d 小于安全深度 %d", head, depth)).
			WithChain(chain)
	}

	safe := head - depth
	cc.mu.Lock()
	c.lastBlock = safe
	cc.mu.Unlock()
	return safe, nil
}

// GetStats 获取各链连接状态
func (cc *ChainClients) GetStats() map[string]interface{} {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	stats := make(map[string]interface{}, len(cc.chains))
	for name, c := range cc.chains {
		chainStats := map[string]interface{}{
			"connected":  c.client != nil,
			"is_healthy": c.isHealthy,
			"last_block": c.lastBlock,
		}
		if !c.lastCheck.IsZero() {
			chainStats["last_check"] = c.lastCheck.Format(time.RFC3339)
		}
		stats[name] = chainStats
	}
	return stats
}

// Close 关闭所有连接
func (cc *ChainClients) Close() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	for _, c := range cc.chains {
		if c.client != nil {
			c.client.Close()
			c.client = nil
		}
	}

	cc.logger.Info("链客户端已关闭")
	return nil
}
