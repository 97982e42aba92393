package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"abiscope/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// 默认topic
var defaultTopics = map[string]string{
	KindResolutions: "abiscope_resolutions",
	KindShareLinks:  "abiscope_share_links",
}

// KafkaOutput Kafka输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 事件类型到topic的映射
	producer sarama.SyncProducer
}

// NewProducerConfig 同步生产者配置
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	// 发送失败直接上报，不做重试
	config.Producer.Retry.Max = 0
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0
	return config
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	producer, err := sarama.NewSyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewKafkaOutputWithProducer 使用已有的生产者
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	merged := make(map[string]string, len(defaultTopics))
	for kind, topic := range defaultTopics {
		merged[kind] = topic
	}
	for kind, topic := range topics {
		if topic != "" {
			merged[kind] = topic
		}
	}
	logger.Infof("Kafka topics配置: %v", merged)

	return &KafkaOutput{
		logger:   logger,
		topics:   merged,
		producer: producer,
	}
}

// send 发送消息，key用于同一合约的事件进入同一分区
func (k *KafkaOutput) send(kind, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topics[kind],
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("成功发送数据到Kafka topic '%s' (partition: %d, offset: %d)", msg.Topic, partition, offset)
	return nil
}

// PublishResolution 发送解析事件
func (k *KafkaOutput) PublishResolution(event *models.ResolutionEvent) error {
	if event == nil {
		return nil
	}
	key := strconv.FormatUint(event.ChainID, 10) + ":" + strings.ToLower(event.Address.Requested)
	return k.send(KindResolutions, key, event)
}

// PublishShareLink 发送分享链接事件
func (k *KafkaOutput) PublishShareLink(event *models.ShareLinkEvent) error {
	if event == nil {
		return nil
	}
	key := strconv.FormatUint(event.Link.ChainID, 10) + ":" + strings.ToLower(event.Link.To)
	return k.send(KindShareLinks, key, event)
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
