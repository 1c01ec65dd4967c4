package shutdown

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopMonitor      = 10 // 停止检测循环，不再开始新的项目
	OrderStopAPI          = 20 // 停止接受HTTP请求
	OrderFlushOutputs     = 30 // 刷新Kafka生产者和报告文件
	OrderCloseStore       = 40 // 关闭快照存储
	OrderCloseConnections = 50 // 关闭RPC和数据库连接
	OrderCleanupResources = 60 // 其他清理
)

// DefaultTimeout 默认停机超时
const DefaultTimeout = 30 * time.Second

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// GracefulShutdown 优雅停机管理器
//
// Context() 在停机开始时立即取消，长时间运行的检测循环应监听它；
// 注册的处理函数随后按 Order 顺序在同一个超时内执行。
type GracefulShutdown struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu             sync.Mutex
	shutdownFuncs  []ShutdownFunc
	isShuttingDown bool
	err            error

	signalChan chan os.Signal
	stopSignal chan struct{}
	stopOnce   sync.Once
	done       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewGracefulShutdown 创建优雅停机管理器
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		stopSignal: make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterShutdownFunc 注册停机处理函数，相同顺序按注册先后执行
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{
		Name:  name,
		Func:  fn,
		Order: order,
	})

	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 开始监听 SIGINT/SIGTERM/SIGQUIT
func (gs *GracefulShutdown) Start() {
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go gs.signalHandler()
	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM, SIGQUIT")
}

// Context 停机开始时取消的上下文
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Done 停机流程完成后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Wait 等待停机完成，返回各处理函数的错误
func (gs *GracefulShutdown) Wait() error {
	<-gs.done

	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.err
}

// Shutdown 手动触发停机并等待完成，重复调用只执行一次
func (gs *GracefulShutdown) Shutdown() error {
	if gs.begin() {
		gs.logger.Info("手动触发优雅停机...")
		gs.performShutdown()
	}
	return gs.Wait()
}

// begin 标记停机开始，已在停机时返回false
func (gs *GracefulShutdown) begin() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if gs.isShuttingDown {
		return false
	}
	gs.isShuttingDown = true
	return true
}

// signalHandler 信号处理器
func (gs *GracefulShutdown) signalHandler() {
	select {
	case sig := <-gs.signalChan:
		gs.logger.Infof("收到停机信号: %v", sig)
		if !gs.begin() {
			gs.logger.Warn("停机过程已在进行中，忽略信号")
			return
		}
		gs.performShutdown()
	case <-gs.stopSignal:
	}
}

// performShutdown 执行停机过程
func (gs *GracefulShutdown) performShutdown() {
	defer close(gs.done)

	gs.logger.Info("开始优雅停机流程...")
	gs.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gs.timeout)
	defer shutdownCancel()

	gs.mu.Lock()
	funcs := slices.Clone(gs.shutdownFuncs)
	gs.mu.Unlock()
	slices.SortStableFunc(funcs, func(a, b ShutdownFunc) int {
		return cmp.Compare(a.Order, b.Order)
	})

	var shutdownErrors []error
	for i, shutdownFunc := range funcs {
		if shutdownCtx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过剩余 %d 个处理函数", len(funcs)-i)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("停机超时: %w", shutdownCtx.Err()))
			break
		}

		gs.logger.Infof("执行停机处理: %s", shutdownFunc.Name)

		start := time.Now()
		err := shutdownFunc.Func(shutdownCtx)
		duration := time.Since(start)

		if err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", shutdownFunc.Name, duration, err)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("%s: %w", shutdownFunc.Name, err))
		} else {
			gs.logger.Infof("停机处理 '%s' 完成 (耗时: %v)", shutdownFunc.Name, duration)
		}
	}

	gs.mu.Lock()
	gs.err = errors.Join(shutdownErrors...)
	gs.mu.Unlock()

	if len(shutdownErrors) > 0 {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(shutdownErrors))
		return
	}
	gs.logger.Info("优雅停机流程完成")
}

// IsShuttingDown 检查是否正在停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.isShuttingDown
}

// GetTimeout 获取停机超时时间
func (gs *GracefulShutdown) GetTimeout() time.Duration {
	return gs.timeout
}

// GetRegisteredFunctions 按执行顺序返回已注册的停机函数名
func (gs *GracefulShutdown) GetRegisteredFunctions() []string {
	gs.mu.Lock()
	funcs := slices.Clone(gs.shutdownFuncs)
	gs.mu.Unlock()

	slices.SortStableFunc(funcs, func(a, b ShutdownFunc) int {
		return cmp.Compare(a.Order, b.Order)
	})
	names := make([]string, len(funcs))
	for i, fn := range funcs {
		names[i] = fn.Name
	}
	return names
}

// Close 停止信号监听并执行停机
func (gs *GracefulShutdown) Close() error {
	signal.Stop(gs.signalChan)
	gs.stopOnce.Do(func() { close(gs.stopSignal) })
	return gs.Shutdown()
}
