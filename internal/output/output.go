package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"updatemonitor/internal/config"
	monitorerrors "updatemonitor/internal/errors"
	"updatemonitor/internal/retry"
	"updatemonitor/pkg/models"
)

// DiffsTopicKey Kafka topic映射中变更报告的键
const DiffsTopicKey = "diffs"

// DefaultDiffsTopic 未配置时使用的topic
const DefaultDiffsTopic = "discovery_diffs"

// Output 变更报告输出接口
type Output interface {
	WriteReport(report *models.DiffReport) error
	Close() error
}

// FileOutput 文件输出：所有报告追加到一个JSONL文件，Markdown按项目单独保存
type FileOutput struct {
	outputDir  string
	reportFile *os.File
	mu         sync.Mutex
}

// NewOutputWithConfig 按输出配置创建输出器
func NewOutputWithConfig(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if cfg == nil {
		return nil, fmt.Errorf("输出配置为空")
	}

	switch cfg.Format {
	case "kafka", "kafka_async":
		brokers := []string{"localhost:9092"}
		topics := map[string]string{DiffsTopicKey: DefaultDiffsTopic}
		if cfg.Kafka != nil {
			if len(cfg.Kafka.Brokers) > 0 {
				brokers = cfg.Kafka.Brokers
			}
			if len(cfg.Kafka.Topics) > 0 {
				topics = cfg.Kafka.Topics
			}
		}

		var kafka Output
		var err error
		if cfg.Format == "kafka_async" {
			kafka, err = NewAsyncKafkaOutput(brokers, topics, logger)
		} else {
			kafka, err = NewKafkaOutput(brokers, topics, logger)
		}
		if err != nil {
			return nil, err
		}
		if !cfg.Archive {
			return kafka, nil
		}

		archive, err := NewFileOutput(cfg.Directory)
		if err != nil {
			kafka.Close()
			return nil, err
		}
		return MultiOutput{archive, kafka}, nil
	case "json", "":
		return NewFileOutput(cfg.Directory)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// NewFileOutput 创建文件输出器
func NewFileOutput(outputPath string) (*FileOutput, error) {
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	reportFile, err := os.Create(filepath.Join(outputPath, fmt.Sprintf("diffs_%s.jsonl", timestamp)))
	if err != nil {
		return nil, fmt.Errorf("创建变更报告文件失败: %w", err)
	}

	return &FileOutput{
		outputDir:  outputPath,
		reportFile: reportFile,
	}, nil
}

// ReportPath 当前JSONL报告文件路径
func (o *FileOutput) ReportPath() string {
	return o.reportFile.Name()
}

// MarkdownPath 某次报告的Markdown文件路径
func (o *FileOutput) MarkdownPath(report *models.DiffReport) string {
	return filepath.Join(o.outputDir, report.Chain, report.Project, fmt.Sprintf("%d.md", report.CurrentSnapshotID))
}

// WriteReport 写入变更报告
func (o *FileOutput) WriteReport(report *models.DiffReport) error {
	if report == nil {
		return nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("序列化变更报告失败: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.reportFile.Write(data); err != nil {
		return fmt.Errorf("写入变更报告文件失败: %w", err)
	}
	if err := o.reportFile.Sync(); err != nil {
		return fmt.Errorf("刷新变更报告文件失败: %w", err)
	}

	if report.Markdown == "" {
		return nil
	}

	path := o.MarkdownPath(report)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建项目输出目录失败: %w", err)
	}
	if err := os.WriteFile(path, []byte(report.Markdown), 0644); err != nil {
		return fmt.Errorf("写入Markdown文件失败: %w", err)
	}

	return nil
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.reportFile != nil {
		if err := o.reportFile.Close(); err != nil {
			return fmt.Errorf("关闭变更报告文件失败: %w", err)
		}
		o.reportFile = nil
	}
	return nil
}

// RetryingOutput 发送失败时按退避策略重试
type RetryingOutput struct {
	next    Output
	retrier *retry.Retrier
	ctx     context.Context
}

// WithRetry 为输出器增加重试
func WithRetry(ctx context.Context, next Output, retrier *retry.Retrier) *RetryingOutput {
	return &RetryingOutput{next: next, retrier: retrier, ctx: ctx}
}

// WriteReport 写入变更报告，最终失败时返回ErrNotifyFailed
func (r *RetryingOutput) WriteReport(report *models.DiffReport) error {
	if report == nil {
		return nil
	}

	err := r.retrier.Execute(r.ctx, fmt.Sprintf("发送 %s/%s 变更报告", report.Chain, report.Project), func() error {
		return r.next.WriteReport(report)
	})
	if err != nil {
		return monitorerrors.ErrNotifyFailed.WithCause(err).WithChain(report.Chain).WithProject(report.Project).WithComponent("notifier")
	}
	return nil
}

// Close 关闭下层输出器
func (r *RetryingOutput) Close() error {
	return r.next.Close()
}

// MultiOutput 依次写入多个输出器
type MultiOutput []Output

// WriteReport 写入所有输出器，返回第一个错误
func (m MultiOutput) WriteReport(report *models.DiffReport) error {
	var firstErr error
	for _, o := range m {
		if err := o.WriteReport(report); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close 关闭所有输出器
func (m MultiOutput) Close() error {
	var errs []error
	for _, o := range m {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭输出器时发生错误: %v", errs)
	}
	return nil
}
