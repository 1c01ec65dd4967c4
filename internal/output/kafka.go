package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"updatemonitor/pkg/models"
)

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaProducerConfig 同步生产者配置
func NewKafkaProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v, topic: %s", brokers, diffsTopic(topics))

	producer, err := sarama.NewSyncProducer(brokers, NewKafkaProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewKafkaOutputWithProducer 使用已有生产者创建输出器
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	return &KafkaOutput{
		logger:   logger,
		topic:    diffsTopic(topics),
		producer: producer,
	}
}

// diffsTopic 变更报告的topic，未配置时使用默认值
func diffsTopic(topics map[string]string) string {
	if topic, exists := topics[DiffsTopicKey]; exists && topic != "" {
		return topic
	}
	return DefaultDiffsTopic
}

// reportMessage 构造Kafka消息
//
// 同一项目的报告使用相同的key，落在同一分区以保持顺序；
// 消费者可以只读header按链或项目过滤，不必解析消息体。
func reportMessage(topic string, report *models.DiffReport) (*sarama.ProducerMessage, error) {
	body, err := json.Marshal(report.ToKafkaMessage())
	if err != nil {
		return nil, fmt.Errorf("序列化变更报告失败: %w", err)
	}

	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(report.Chain + "/" + report.Project),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("chain"), Value: []byte(report.Chain)},
			{Key: []byte("project"), Value: []byte(report.Project)},
			{Key: []byte("snapshot_id"), Value: []byte(strconv.FormatUint(report.CurrentSnapshotID, 10))},
		},
		Timestamp: report.DetectedAt,
	}, nil
}

// WriteReport 发送变更报告
func (k *KafkaOutput) WriteReport(report *models.DiffReport) error {
	if report == nil {
		return nil
	}

	msg, err := reportMessage(k.topic, report)
	if err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送变更报告到Kafka失败: %w", err)
	}

	k.logger.WithFields(logrus.Fields{
		"chain":     report.Chain,
		"project":   report.Project,
		"partition": partition,
		"offset":    offset,
	}).Infof("变更报告已发送到 %s，%d 个合约", k.topic, len(report.Diffs))
	return nil
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
