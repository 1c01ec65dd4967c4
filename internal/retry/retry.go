// Package retry 为RPC调用和变更通知提供指数退避重试
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts     int           `json:"max_attempts" mapstructure:"max_attempts"`         // 最大尝试次数，包括第一次
	InitialInterval time.Duration `json:"initial_interval" mapstructure:"initial_interval"` // 第一次失败后的等待
	MaxInterval     time.Duration `json:"max_interval" mapstructure:"max_interval"`         // 等待上限
	BackoffFactor   float64       `json:"backoff_factor" mapstructure:"backoff_factor"`     // 每次失败后等待时间的倍数
	Jitter          float64       `json:"jitter" mapstructure:"jitter"`                     // 等待时间的随机浮动比例，0为不浮动
}

// NetworkRetryConfig RPC请求重试配置
var NetworkRetryConfig = &RetryConfig{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
	BackoffFactor:   2.0,
	Jitter:          0.2,
}

// NotifyRetryConfig 变更通知发送重试配置
var NotifyRetryConfig = &RetryConfig{
	MaxAttempts:     5,
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     15 * time.Second,
	BackoffFactor:   2.0,
	Jitter:          0.15,
}

// WithMaxAttempts 返回修改了尝试次数的配置副本，attempts<=0时保持原值
func (c RetryConfig) WithMaxAttempts(attempts int) *RetryConfig {
	if attempts > 0 {
		c.MaxAttempts = attempts
	}
	return &c
}

// RetryableError 自行声明是否可重试的错误，MonitorError实现了该接口
type RetryableError interface {
	error
	IsRetryable() bool
}

type markedError struct {
	err       error
	retryable bool
}

func (m *markedError) Error() string     { return m.err.Error() }
func (m *markedError) IsRetryable() bool { return m.retryable }
func (m *markedError) Unwrap() error     { return m.err }

// NewRetryableError 标记错误是否可重试
func NewRetryableError(err error, retryable bool) RetryableError {
	return &markedError{err: err, retryable: retryable}
}

// RPC节点和Kafka broker常见的临时性错误文本
var transientErrors = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"eof",
	"header not found",
	"leader not available",
	"not enough in-sync replicas",
}

// IsRetryableError 判断错误是否值得重试
//
// 错误链中声明了 IsRetryable 的以声明为准，否则按错误文本识别临时性错误。
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var marked RetryableError
	if errors.As(err, &marked) {
		return marked.IsRetryable()
	}

	text := strings.ToLower(err.Error())
	for _, transient := range transientErrors {
		if strings.Contains(text, transient) {
			return true
		}
	}
	return false
}

// Retrier 重试器
type Retrier struct {
	config *RetryConfig
	logger *logrus.Logger
}

// NewRetrier 创建重试器，config为空时使用RPC重试配置
func NewRetrier(config *RetryConfig, logger *logrus.Logger) *Retrier {
	if config == nil {
		config = NetworkRetryConfig
	}
	return &Retrier{config: config, logger: logger}
}

// GetConfig 获取重试配置
func (r *Retrier) GetConfig() *RetryConfig {
	return r.config
}

// Execute 执行操作，可重试错误按指数退避重试
func (r *Retrier) Execute(ctx context.Context, operation string, fn func() error) error {
	_, err := Do(ctx, r, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do 执行带返回值的操作
func Do[T any](ctx context.Context, r *Retrier, operation string, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(r.config.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		switch {
		case err == nil:
			if attempt > 1 {
				r.logger.Debugf("%s: 第 %d 次尝试成功", operation, attempt)
			}
			return result, nil
		case !IsRetryableError(err):
			return zero, err
		case attempt >= attempts:
			r.logger.Warnf("%s: %d 次尝试均失败: %v", operation, attempt, err)
			return zero, fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debugf("%s: 第 %d 次失败 (%v)，%v 后重试", operation, attempt, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
}

// calculateDelay 第attempt次失败后的等待时间
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := r.config.InitialInterval
	for i := 1; i < attempt && delay < r.config.MaxInterval; i++ {
		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
	}
	delay = min(delay, r.config.MaxInterval)

	if j := r.config.Jitter; j > 0 {
		// 在 [1-j, 1+j) 倍之间浮动
		delay = time.Duration(float64(delay) * (1 - j + 2*j*rand.Float64()))
	}
	return delay
}
