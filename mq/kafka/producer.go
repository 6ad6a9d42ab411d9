package kafka

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/mq"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

/* ========================================================================
 * Kafka Producer - 领域事件生产者
 * ========================================================================
 * 职责: 实现 mq.Producer；事件以租户 ID 为 key，保证同租户事件有序
 * 技术: IBM/sarama SyncProducer
 * ======================================================================== */

// headerTag Kafka 没有 tag，写入 header
const headerTag = "x-tag"

func init() {
	mq.RegisterProducerFactory(mq.TypeKafka, func(cfg mq.Config, log *logger.Logger) (mq.Producer, error) {
		return NewProducer(cfg.Kafka, log)
	})
}

// Producer Kafka 同步生产者
type Producer struct {
	sp  sarama.SyncProducer
	log *logger.Logger

	mu     sync.RWMutex
	closed bool
}

// NewProducer 连接 broker 并创建生产者
func NewProducer(cfg *mq.KafkaConfig, log *logger.Logger) (*Producer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka config is required")
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	sp, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	p := WrapSyncProducer(sp, log)
	p.log.Info("Kafka producer started", zap.Strings("brokers", cfg.Brokers))
	return p, nil
}

// WrapSyncProducer 使用已有的 sarama.SyncProducer（测试中传入 mocks.SyncProducer）
func WrapSyncProducer(sp sarama.SyncProducer, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Producer{sp: sp, log: log}
}

// SendSync 同步发送
func (p *Producer) SendSync(ctx context.Context, msg *mq.Message) (*mq.SendResult, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, fmt.Errorf("kafka producer is closed")
	}

	partition, offset, err := p.sp.SendMessage(toProducerMessage(msg))
	if err != nil {
		p.log.WithContext(ctx).Error("Kafka send failed", zap.String("topic", msg.Topic), zap.Error(err))
		return nil, err
	}
	p.log.WithContext(ctx).Debug("Kafka message sent",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return &mq.SendResult{
		MsgID:     fmt.Sprintf("%s-%d-%d", msg.Topic, partition, offset),
		Topic:     msg.Topic,
		Partition: partition,
		Offset:    offset,
	}, nil
}

// Close 关闭生产者，可重复调用
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.sp.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	p.log.Info("Kafka producer closed")
	return nil
}

func toProducerMessage(msg *mq.Message) *sarama.ProducerMessage {
	pm := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Value:     sarama.ByteEncoder(msg.Body),
		Timestamp: time.Now(),
	}
	if msg.Key != "" {
		pm.Key = sarama.StringEncoder(msg.Key)
	}

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(msg.Headers[k])})
	}
	if msg.Tag != "" {
		pm.Headers = append(pm.Headers, sarama.RecordHeader{Key: []byte(headerTag), Value: []byte(msg.Tag)})
	}
	return pm
}
