package message

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/charging-platform/vcp-simulator/internal/events"
	"github.com/charging-platform/vcp-simulator/internal/logger"
	"github.com/charging-platform/vcp-simulator/internal/metrics"
)

// KafkaProducer 异步Kafka事件生产者，车队事件的可选下游
type KafkaProducer struct {
	producer sarama.AsyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafkaProducer 创建Kafka生产者并启动交付结果回收协程
func NewKafkaProducer(brokers []string, topic string, log *logger.Logger) (*KafkaProducer, error) {
	if log == nil {
		log = logger.Default()
	}

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka async producer: %w", err)
	}

	kp := &KafkaProducer{
		producer: producer,
		topic:    topic,
		log:      log.WithComponent("kafka"),
	}

	go kp.drainSuccesses()
	go kp.drainErrors()

	return kp, nil
}

// PublishEvent 发布单个事件，以充电桩ID作为分区Key
func (p *KafkaProducer) PublishEvent(event events.Event) error {
	eventData, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	// 同一桩的事件落入同一分区，消费侧按桩保序
	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.GetChargePointID()),
		Value: sarama.ByteEncoder(eventData),
	}
	metrics.EventsPublished.WithLabelValues(string(event.GetType())).Inc()
	return nil
}

// Close 关闭生产者，排空缓冲
func (p *KafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka producer: %w", err)
	}
	return nil
}

func (p *KafkaProducer) drainSuccesses() {
	for msg := range p.producer.Successes() {
		p.log.Debugf("event delivered: topic=%s key=%s", msg.Topic, msg.Key.(sarama.StringEncoder))
	}
}

func (p *KafkaProducer) drainErrors() {
	for perr := range p.producer.Errors() {
		p.log.ErrorWithErr(perr.Err, fmt.Sprintf("event delivery failed: topic=%s key=%s",
			perr.Msg.Topic, perr.Msg.Key.(sarama.StringEncoder)))
	}
}
