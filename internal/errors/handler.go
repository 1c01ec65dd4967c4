package errors

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultFailureStreak 同一项目连续失败多少次后告警
const DefaultFailureStreak = 3

// ErrorStrategy 错误处理策略
type ErrorStrategy interface {
	Handle(ctx context.Context, err *MonitorError) error
}

// ErrorCallback 错误回调函数，在独立的goroutine中执行
type ErrorCallback func(err *MonitorError)

// ErrorHandler 汇总检测过程中的错误
//
// 除了按类型分派处理策略，还按 链/项目 记录连续失败次数：
// 达到阈值时告警一次，项目下一次检测成功后调用 Resolve 清零。
type ErrorHandler struct {
	logger *logrus.Logger

	mu         sync.RWMutex
	stats      *ErrorStats
	strategies map[ErrorType]ErrorStrategy
	fallback   ErrorStrategy
	callbacks  []ErrorCallback
	streaks    map[string]int
	streakMax  int
}

// NewErrorHandler 创建错误处理器，所有类型默认只记录日志
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:     logger,
		stats:      NewErrorStats(),
		strategies: make(map[ErrorType]ErrorStrategy),
		fallback:   &LoggingStrategy{logger: logger},
		streaks:    make(map[string]int),
		streakMax:  DefaultFailureStreak,
	}
}

func jobKey(chain, project string) string {
	return chain + "/" + project
}

// HandleError 处理错误，非MonitorError会被包装为系统错误
func (eh *ErrorHandler) HandleError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	me, ok := AsMonitorError(err)
	if !ok {
		me = WrapError(err, ErrorTypeSystem, SeverityMedium, "UNKNOWN_ERROR", "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(me)
	streak := 0
	if me.Chain != "" && me.Project != "" {
		key := jobKey(me.Chain, me.Project)
		eh.streaks[key]++
		streak = eh.streaks[key]
	}
	strategy, found := eh.strategies[me.Type]
	if !found {
		strategy = eh.fallback
	}
	callbacks := slices.Clone(eh.callbacks)
	streakMax := eh.streakMax
	eh.mu.Unlock()

	if streakMax > 0 && streak == streakMax {
		eh.logger.WithFields(logrus.Fields{
			"chain":   me.Chain,
			"project": me.Project,
			"streak":  streak,
		}).Warnf("项目连续检测失败: %s", me.Error())
	}

	for _, cb := range callbacks {
		go eh.runCallback(cb, me)
	}

	return strategy.Handle(ctx, me)
}

func (eh *ErrorHandler) runCallback(cb ErrorCallback, err *MonitorError) {
	defer func() {
		if r := recover(); r != nil {
			eh.logger.Errorf("错误回调执行时发生panic: %v", r)
		}
	}()
	cb(err)
}

// Resolve 项目检测成功，清零连续失败次数
func (eh *ErrorHandler) Resolve(chain, project string) {
	key := jobKey(chain, project)

	eh.mu.Lock()
	streak, found := eh.streaks[key]
	delete(eh.streaks, key)
	streakMax := eh.streakMax
	eh.mu.Unlock()

	if found && streakMax > 0 && streak >= streakMax {
		eh.logger.WithFields(logrus.Fields{"chain": chain, "project": project}).
			Infof("项目在连续失败 %d 次后恢复", streak)
	}
}

// FailureStreak 项目当前的连续失败次数
func (eh *ErrorHandler) FailureStreak(chain, project string) int {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return eh.streaks[jobKey(chain, project)]
}

// SetFailureStreak 设置告警前允许的连续失败次数，0表示不告警
func (eh *ErrorHandler) SetFailureStreak(n int) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.streakMax = n
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// SetStrategy 设置某类错误的处理策略
func (eh *ErrorHandler) SetStrategy(errorType ErrorType, strategy ErrorStrategy) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.strategies[errorType] = strategy
}

// Snapshot 返回错误统计的副本
func (eh *ErrorHandler) Snapshot() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	s := *eh.stats
	s.ErrorsByType = maps.Clone(eh.stats.ErrorsByType)
	s.ErrorsBySeverity = maps.Clone(eh.stats.ErrorsBySeverity)
	s.ErrorsByComponent = maps.Clone(eh.stats.ErrorsByComponent)
	s.ErrorsByChain = maps.Clone(eh.stats.ErrorsByChain)
	s.RecentErrors = slices.Clone(eh.stats.RecentErrors)
	s.FailingProjects = maps.Clone(eh.streaks)
	s.FailureStreak = eh.streakMax
	return s
}

// ClearStats 清除统计信息，连续失败次数保留
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}

// LoggingStrategy 按严重级别记录日志
type LoggingStrategy struct {
	logger *logrus.Logger
}

// Handle 实现 ErrorStrategy
func (ls *LoggingStrategy) Handle(_ context.Context, err *MonitorError) error {
	entry := ls.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"chain":      err.Chain,
		"project":    err.Project,
	})
	if err.Component != "" {
		entry = entry.WithField("component", err.Component)
	}
	if len(err.Context) > 0 {
		entry = entry.WithField("context", err.Context)
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Error())
	case SeverityMedium:
		entry.Warn(err.Error())
	default:
		entry.Error(err.Error())
	}
	return err
}

// AlertStrategy 异步调用告警函数
type AlertStrategy struct {
	alertFunc func(err *MonitorError)
	logger    *logrus.Logger
}

// NewAlertStrategy 创建告警策略
func NewAlertStrategy(alertFunc func(err *MonitorError), logger *logrus.Logger) *AlertStrategy {
	return &AlertStrategy{alertFunc: alertFunc, logger: logger}
}

// Handle 实现 ErrorStrategy
func (as *AlertStrategy) Handle(_ context.Context, err *MonitorError) error {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				as.logger.Errorf("告警函数执行时发生panic: %v", r)
			}
		}()
		as.alertFunc(err)
	}()
	return err
}

// CompositeStrategy 依次执行多个策略，返回最后一个非空错误
type CompositeStrategy []ErrorStrategy

// NewCompositeStrategy 创建组合策略
func NewCompositeStrategy(strategies ...ErrorStrategy) CompositeStrategy {
	return CompositeStrategy(strategies)
}

// Handle 实现 ErrorStrategy
func (cs CompositeStrategy) Handle(ctx context.Context, err *MonitorError) error {
	var last error
	for _, s := range cs {
		if e := s.Handle(ctx, err); e != nil {
			last = e
		}
	}
	return last
}
