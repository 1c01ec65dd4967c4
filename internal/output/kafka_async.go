package output

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"updatemonitor/pkg/models"
)

// AsyncKafkaOutput 异步Kafka输出器
type AsyncKafkaOutput struct {
	logger   *logrus.Logger
	topic    string
	producer sarama.AsyncProducer
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	sentCount  atomic.Int64
	errorCount atomic.Int64
}

// NewAsyncKafkaProducerConfig 异步生产者配置
func NewAsyncKafkaProducerConfig() *sarama.Config {
	config := sarama.NewConfig()

	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Version = sarama.V2_8_0_0

	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Compression = sarama.CompressionSnappy

	config.ChannelBufferSize = 256
	return config
}

// NewAsyncKafkaOutput 创建异步Kafka输出器
func NewAsyncKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaOutput, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v, topic: %s", brokers, diffsTopic(topics))

	producer, err := sarama.NewAsyncProducer(brokers, NewAsyncKafkaProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}

	return NewAsyncKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewAsyncKafkaOutputWithProducer 使用已有异步生产者创建输出器
func NewAsyncKafkaOutputWithProducer(producer sarama.AsyncProducer, topics map[string]string, logger *logrus.Logger) *AsyncKafkaOutput {
	k := &AsyncKafkaOutput{
		logger:   logger,
		topic:    diffsTopic(topics),
		producer: producer,
	}

	k.wg.Add(2)
	go func() {
		defer k.wg.Done()
		k.handleSuccesses()
	}()
	go func() {
		defer k.wg.Done()
		k.handleErrors()
	}()

	return k
}

// handleSuccesses 处理成功发送的消息，生产者关闭后退出
func (k *AsyncKafkaOutput) handleSuccesses() {
	for success := range k.producer.Successes() {
		k.sentCount.Add(1)
		k.logger.Debugf("变更报告已发送: key=%v, partition %d, offset %d",
			success.Key, success.Partition, success.Offset)
	}
}

// handleErrors 处理发送失败的消息
func (k *AsyncKafkaOutput) handleErrors() {
	for err := range k.producer.Errors() {
		k.errorCount.Add(1)
		k.logger.Errorf("变更报告发送到Kafka失败: key=%v, error=%v", err.Msg.Key, err.Err)
	}
}

// WriteReport 异步发送变更报告，输入通道满时立即返回错误
func (k *AsyncKafkaOutput) WriteReport(report *models.DiffReport) error {
	if report == nil {
		return nil
	}

	msg, err := reportMessage(k.topic, report)
	if err != nil {
		return err
	}

	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return fmt.Errorf("Kafka生产者已关闭")
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	default:
		return fmt.Errorf("Kafka生产者输入通道已满")
	}
}

// GetStats 获取统计信息
func (k *AsyncKafkaOutput) GetStats() (sent int64, failed int64) {
	return k.sentCount.Load(), k.errorCount.Load()
}

// Close 关闭生产者，等待缓冲中的消息发送完成
func (k *AsyncKafkaOutput) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	k.logger.Info("关闭异步Kafka生产者...")

	// AsyncClose 在缓冲消息发送完后关闭 Successes/Errors 通道
	k.producer.AsyncClose()
	k.wg.Wait()

	sent, failed := k.GetStats()
	k.logger.Infof("异步Kafka生产者已关闭，总计发送: %d，错误: %d", sent, failed)
	if failed > 0 {
		return fmt.Errorf("有 %d 条变更报告发送失败", failed)
	}
	return nil
}
