// Package app 按配置组装更新检测器的各个组件，供命令行和API服务共用
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"updatemonitor/internal/config"
	"updatemonitor/internal/connection"
	"updatemonitor/internal/discovery"
	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/internal/logging"
	"updatemonitor/internal/meta"
	"updatemonitor/internal/monitor"
	"updatemonitor/internal/output"
	"updatemonitor/internal/retry"
	"updatemonitor/internal/shutdown"
	"updatemonitor/internal/snapshot"
)

// metaWatchDebounce 注释文件变化后的合并等待时间
const metaWatchDebounce = 500 * time.Millisecond

// App 组装好的组件
type App struct {
	Config       *config.Config
	Logger       *logrus.Logger
	Structured   *logging.StructuredLogger
	Store        *snapshot.Store
	Source       *discovery.FileSource
	Meta         *meta.Registry
	Clients      *connection.ChainClients
	Output       output.Output
	ErrorHandler *monitorerrors.ErrorHandler
	Monitor      *monitor.Monitor
}

// New 按配置创建所有组件，ctx 用于通知重试，停机时应取消
//
// withOutput 为false时不创建通知输出（只读命令不需要连接Kafka）。
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, withOutput bool) (*App, error) {
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	a := &App{Config: cfg, Logger: logger}

	structured, err := logging.NewStructuredLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("创建结构化日志器失败: %w", err)
	}
	a.Structured = structured

	a.Store, err = snapshot.Open(cfg.Snapshot.Path, logger)
	if err != nil {
		return nil, err
	}

	a.Source = discovery.NewFileSource(cfg.Discovery.Directory, logger)

	a.Meta = meta.NewRegistry(cfg.Discovery.MetaDirectory, logger)
	if err := a.Meta.Reload(); err != nil {
		a.Close()
		return nil, err
	}

	a.Clients = connection.NewChainClients(cfg.Chains, nil, logger)
	a.ErrorHandler = monitorerrors.NewErrorHandler(logger)
	a.ErrorHandler.SetFailureStreak(cfg.Monitor.FailureStreak)

	if withOutput {
		out, err := output.NewOutputWithConfig(cfg.Output, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("创建输出器失败: %w", err)
		}
		retrier := retry.NewRetrier(retry.NotifyRetryConfig.WithMaxAttempts(cfg.Monitor.RetryLimit), logger)
		a.Output = output.WithRetry(ctx, out, retrier)
	}

	a.Monitor, err = monitor.NewMonitor(cfg, monitor.Dependencies{
		Source:       a.Source,
		Store:        a.Store,
		Blocks:       a.Clients,
		Meta:         a.Meta,
		Output:       a.Output,
		ErrorHandler: a.ErrorHandler,
		Logger:       structured,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("创建更新检测器失败: %w", err)
	}

	return a, nil
}

// WatchMeta 在后台监听注释目录，直到ctx取消
func (a *App) WatchMeta(ctx context.Context) {
	go func() {
		if err := a.Meta.Watch(ctx, metaWatchDebounce); err != nil && ctx.Err() == nil {
			a.Logger.Warnf("注释目录监听已停止: %v", err)
		}
	}()
}

// RegisterShutdown 注册各组件的停机处理
func (a *App) RegisterShutdown(gs *shutdown.GracefulShutdown) {
	if a.Output != nil {
		gs.RegisterShutdownFunc("output", func(context.Context) error {
			return a.Output.Close()
		}, shutdown.OrderFlushOutputs)
	}
	gs.RegisterShutdownFunc("snapshot_store", func(context.Context) error {
		return a.Store.Close()
	}, shutdown.OrderCloseStore)
	gs.RegisterShutdownFunc("chain_clients", func(context.Context) error {
		return a.Clients.Close()
	}, shutdown.OrderCloseConnections)
}

// Close 直接关闭所有组件，不经过停机管理器时使用
func (a *App) Close() error {
	var firstErr error
	if a.Output != nil {
		if err := a.Output.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Clients != nil {
		if err := a.Clients.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
