package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 网络相关错误
	ErrorTypeNetwork ErrorType = iota
	ErrorTypeConnection
	ErrorTypeTimeout
	ErrorTypeRateLimit

	// 链相关错误
	ErrorTypeChain
	ErrorTypeReorg

	// 数据相关错误
	ErrorTypeData
	ErrorTypeSerialization
	ErrorTypeValidation
	ErrorTypeDiscovery
	ErrorTypeMeta

	// 系统相关错误
	ErrorTypeSystem
	ErrorTypeFileIO
	ErrorTypeStorage
	ErrorTypeConfig

	// 外部服务错误
	ErrorTypeNotifier
	ErrorTypeKafka
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// MonitorError 更新检测过程中的错误
type MonitorError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component"`
	Chain     string                 `json:"chain,omitempty"`
	Project   string                 `json:"project,omitempty"`
}

// Error 实现error接口
func (e *MonitorError) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Chain != "" {
		prefix += " " + e.Chain
		if e.Project != "" {
			prefix += "/" + e.Project
		}
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s %s", prefix, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *MonitorError) Unwrap() error {
	return e.Cause
}

// Is 错误码相同即视为同一错误，便于与预定义错误比较
func (e *MonitorError) Is(target error) bool {
	var t *MonitorError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *MonitorError) IsRetryable() bool {
	return e.Retryable
}

// WithCause 复制错误并设置原因，预定义错误通过它派生，避免共享状态被修改
func (e *MonitorError) WithCause(cause error) *MonitorError {
	clone := *e
	clone.Cause = cause
	clone.Timestamp = time.Now()
	if e.Context != nil {
		clone.Context = make(map[string]interface{}, len(e.Context))
		for k, v := range e.Context {
			clone.Context[k] = v
		}
	}
	return &clone
}

// WithContext 添加上下文信息
func (e *MonitorError) WithContext(key string, value interface{}) *MonitorError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithChain 设置链名
func (e *MonitorError) WithChain(chain string) *MonitorError {
	e.Chain = chain
	return e
}

// WithProject 设置项目名
func (e *MonitorError) WithProject(project string) *MonitorError {
	e.Project = project
	return e
}

// WithComponent 设置组件名
func (e *MonitorError) WithComponent(component string) *MonitorError {
	e.Component = component
	return e
}

// NewMonitorError 创建新的错误
func NewMonitorError(errorType ErrorType, severity ErrorSeverity, code, message string) *MonitorError {
	return &MonitorError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *MonitorError {
	e := NewMonitorError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// AsMonitorError 从错误链中取出MonitorError
func AsMonitorError(err error) (*MonitorError, bool) {
	var me *MonitorError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeConnection, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	case ErrorTypeChain, ErrorTypeNotifier, ErrorTypeKafka:
		return true
	default:
		return false
	}
}

// 预定义错误，使用时通过 WithCause 派生
var (
	ErrRPCTimeout = NewMonitorError(
		ErrorTypeTimeout,
		SeverityMedium,
		"RPC_TIMEOUT",
		"RPC请求超时",
	)

	ErrConnectionFailed = NewMonitorError(
		ErrorTypeConnection,
		SeverityHigh,
		"CONNECTION_FAILED",
		"连接失败",
	)

	ErrUnknownChain = NewMonitorError(
		ErrorTypeConfig,
		SeverityHigh,
		"UNKNOWN_CHAIN",
		"未配置的链",
	)

	ErrReorgUnsafe = NewMonitorError(
		ErrorTypeReorg,
		SeverityMedium,
		"REORG_UNSAFE",
		"链高度不足，无法得到重组安全的区块",
	)

	ErrDiscoveryNotFound = NewMonitorError(
		ErrorTypeDiscovery,
		SeverityMedium,
		"DISCOVERY_NOT_FOUND",
		"发现结果不存在",
	)

	ErrSnapshotInvalid = NewMonitorError(
		ErrorTypeValidation,
		SeverityHigh,
		"SNAPSHOT_INVALID",
		"快照数据无效",
	)

	ErrSnapshotNotFound = NewMonitorError(
		ErrorTypeStorage,
		SeverityLow,
		"SNAPSHOT_NOT_FOUND",
		"快照不存在",
	)

	ErrStorageFailed = NewMonitorError(
		ErrorTypeStorage,
		SeverityHigh,
		"STORAGE_FAILED",
		"快照存储失败",
	)

	ErrMetaInvalid = NewMonitorError(
		ErrorTypeMeta,
		SeverityMedium,
		"META_INVALID",
		"合约注释无效",
	)

	ErrNotifyFailed = NewMonitorError(
		ErrorTypeNotifier,
		SeverityHigh,
		"NOTIFY_FAILED",
		"变更通知发送失败",
	)

	ErrConfigInvalid = NewMonitorError(
		ErrorTypeConfig,
		SeverityCritical,
		"CONFIG_INVALID",
		"配置无效",
	)
)

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeNetwork:       "Network",
	ErrorTypeConnection:    "Connection",
	ErrorTypeTimeout:       "Timeout",
	ErrorTypeRateLimit:     "RateLimit",
	ErrorTypeChain:         "Chain",
	ErrorTypeReorg:         "Reorg",
	ErrorTypeData:          "Data",
	ErrorTypeSerialization: "Serialization",
	ErrorTypeValidation:    "Validation",
	ErrorTypeDiscovery:     "Discovery",
	ErrorTypeMeta:          "Meta",
	ErrorTypeSystem:        "System",
	ErrorTypeFileIO:        "FileIO",
	ErrorTypeStorage:       "Storage",
	ErrorTypeConfig:        "Config",
	ErrorTypeNotifier:      "Notifier",
	ErrorTypeKafka:         "Kafka",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	ErrorsByChain     map[string]int        `json:"errors_by_chain"`
	RecentErrors      []*MonitorError       `json:"recent_errors"`
	LastError         *MonitorError         `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
	FailingProjects   map[string]int        `json:"failing_projects"` // 链/项目 -> 连续失败次数
	FailureStreak     int                   `json:"failure_streak"`   // 告警阈值
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		ErrorsByChain:     make(map[string]int),
		RecentErrors:      make([]*MonitorError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *MonitorError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}
	if err.Chain != "" {
		es.ErrorsByChain[err.Chain]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0

	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}

	return float64(recentCount) / hours
}
