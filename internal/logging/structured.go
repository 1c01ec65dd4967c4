// Package logging 提供logrus主日志器和按链/项目打标签的slog结构化日志器
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`    // 日志级别 (debug, info, warn, error)
	Format string `json:"format" yaml:"format" mapstructure:"format"` // 日志格式 (json, text)
	Output string `json:"output" yaml:"output" mapstructure:"output"` // 输出位置 (stdout, stderr, 文件路径)
}

// DefaultLogConfig 默认日志配置
var DefaultLogConfig = &LogConfig{
	Level:  "info",
	Format: "json",
	Output: "stdout",
}

// parseLevel 日志级别与logrus保持同一套写法
func parseLevel(s string) (logrus.Level, slog.Level, error) {
	lv, err := logrus.ParseLevel(s)
	if err != nil {
		return 0, 0, fmt.Errorf("无效的日志级别 '%s': %w", s, err)
	}
	switch {
	case lv >= logrus.DebugLevel:
		return lv, slog.LevelDebug, nil
	case lv == logrus.InfoLevel:
		return lv, slog.LevelInfo, nil
	case lv == logrus.WarnLevel:
		return lv, slog.LevelWarn, nil
	default:
		return lv, slog.LevelError, nil
	}
}

// openOutput 打开日志输出，文件路径的父目录不存在时创建
func openOutput(output string) (io.Writer, error) {
	switch output {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("打开日志文件失败: %w", err)
	}
	return file, nil
}

// NewLogrusLogger 按日志配置创建logrus日志器
func NewLogrusLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig
	}
	level, _, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}
	writer, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(writer)
	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

// StructuredLogger 检测流程的结构化日志器，每条记录都带组件和作业字段
type StructuredLogger struct {
	slogger *slog.Logger
}

// NewStructuredLogger 创建结构化日志器
func NewStructuredLogger(config *LogConfig) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultLogConfig
	}
	writer, err := openOutput(config.Output)
	if err != nil {
		return nil, err
	}
	return NewStructuredLoggerWithWriter(config, writer)
}

// NewStructuredLoggerWithWriter 使用指定输出创建结构化日志器
func NewStructuredLoggerWithWriter(config *LogConfig, writer io.Writer) (*StructuredLogger, error) {
	if config == nil {
		config = DefaultLogConfig
	}
	_, level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   true,
		ReplaceAttr: replaceAttr,
	}
	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}
	return &StructuredLogger{slogger: slog.New(handler)}, nil
}

// replaceAttr 时间统一为RFC3339，源码路径只保留文件名
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		return slog.String(a.Key, a.Value.Time().Format(time.RFC3339))
	case slog.SourceKey:
		if source, ok := a.Value.Any().(*slog.Source); ok {
			source.File = filepath.Base(source.File)
		}
	}
	return a
}

// GetSlogger 获取底层slog.Logger
func (sl *StructuredLogger) GetSlogger() *slog.Logger {
	return sl.slogger
}

// with 附加成对的键值
func (sl *StructuredLogger) with(kv ...any) *FieldLogger {
	return &FieldLogger{logger: sl.slogger.With(kv...)}
}

// FieldLogger 带固定字段的日志器
type FieldLogger struct {
	logger *slog.Logger
}

func (fl *FieldLogger) Debug(msg string, args ...any) { fl.logger.Debug(msg, args...) }
func (fl *FieldLogger) Info(msg string, args ...any)  { fl.logger.Info(msg, args...) }
func (fl *FieldLogger) Warn(msg string, args ...any)  { fl.logger.Warn(msg, args...) }
func (fl *FieldLogger) Error(msg string, args ...any) { fl.logger.Error(msg, args...) }

// NewChainLogger 单条链的检测日志器
func NewChainLogger(base *StructuredLogger, chain string) *FieldLogger {
	return base.with("component", "update_monitor", "chain", chain)
}

// NewProjectLogger 单个项目的检测日志器
func NewProjectLogger(base *StructuredLogger, chain, project string) *FieldLogger {
	return base.with("component", "update_monitor", "chain", chain, "project", project)
}

// NewNotifierLogger 通知输出日志器
func NewNotifierLogger(base *StructuredLogger, sink string) *FieldLogger {
	return base.with("component", "notifier", "sink", sink)
}
