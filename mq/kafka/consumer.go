package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/mq"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

/* ========================================================================
 * Kafka Consumer - 消费组
 * ========================================================================
 * 职责: 实现 mq.Consumer；身份同步使用
 * 语义: 至少一次。处理成功才 MarkMessage，失败按退避重试，
 *       重试耗尽后记录错误并跳过提交，由 rebalance 后重新投递
 * ======================================================================== */

func init() {
	mq.RegisterConsumerFactory(mq.TypeKafka, func(cfg mq.Config, log *logger.Logger) (mq.Consumer, error) {
		return NewConsumer(cfg.Kafka, log)
	})
}

// Consumer Kafka 消费组
type Consumer struct {
	group      sarama.ConsumerGroup
	log        *logger.Logger
	maxRetries int
	backoff    time.Duration

	mu       sync.RWMutex
	handlers map[string]mq.Handler
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewConsumer 创建消费组
func NewConsumer(cfg *mq.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka config is required")
	}
	if cfg.Consumer.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer group id is required")
	}
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Consumer.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return WrapConsumerGroup(group, cfg.Consumer, log), nil
}

// WrapConsumerGroup 使用已有的消费组
func WrapConsumerGroup(group sarama.ConsumerGroup, cfg mq.KafkaConsumerConfig, log *logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	return &Consumer{
		group:      group,
		log:        log,
		maxRetries: retries,
		backoff:    cfg.RetryBackoff,
		handlers:   make(map[string]mq.Handler),
	}
}

// Subscribe 注册 topic 处理函数，必须在 Start 之前调用
func (c *Consumer) Subscribe(topic string, h mq.Handler) error {
	if topic == "" || h == nil {
		return fmt.Errorf("topic and handler are required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("cannot subscribe to %s after start", topic)
	}
	c.handlers[topic] = h
	return nil
}

// Start 在后台运行消费循环。ctx 只用于启动阶段，循环由 Close 停止。
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	topics := make([]string, 0, len(c.handlers))
	for t := range c.handlers {
		topics = append(topics, t)
	}
	if len(topics) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no topics subscribed")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	handler := &groupHandler{c: c}
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// rebalance 后 Consume 返回，需要重新进入
			if err := c.group.Consume(runCtx, topics, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.Error("Kafka consume failed", zap.Error(err))
			}
			if runCtx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.log.Warn("Kafka consumer group error", zap.Error(err))
			case <-runCtx.Done():
				return
			}
		}
	}()

	c.log.Info("Kafka consumer started", zap.Strings("topics", topics))
	return nil
}

// Close 停止消费并关闭消费组
func (c *Consumer) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.log.Info("Kafka consumer closed")
	return nil
}

func (c *Consumer) handler(topic string) (mq.Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[topic]
	return h, ok
}

// groupHandler 实现 sarama.ConsumerGroupHandler
type groupHandler struct {
	c *Consumer
}

func (h *groupHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.c.log.Debug("Kafka consumer group setup", zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *groupHandler) Cleanup(s sarama.ConsumerGroupSession) error {
	h.c.log.Debug("Kafka consumer group cleanup", zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *groupHandler) ConsumeClaim(s sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	handle, ok := h.c.handler(claim.Topic())
	if !ok {
		h.c.log.Warn("No handler for topic", zap.String("topic", claim.Topic()))
		return nil
	}

	for {
		select {
		case <-s.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if h.process(s.Context(), handle, msg) {
				s.MarkMessage(msg, "")
			}
		}
	}
}

// process 带退避重试地处理一条消息，返回是否处理成功
func (h *groupHandler) process(ctx context.Context, handle mq.Handler, msg *sarama.ConsumerMessage) bool {
	cm := fromConsumerMessage(msg)
	var err error
	for attempt := 1; attempt <= h.c.maxRetries; attempt++ {
		if err = handle(ctx, cm); err == nil {
			return true
		}
		if attempt == h.c.maxRetries {
			break
		}
		h.c.log.Warn("Message handling failed, retrying",
			zap.String("topic", msg.Topic),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(h.c.backoff * time.Duration(attempt)):
		}
	}
	h.c.log.Error("Message handling failed after retries",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err),
	)
	return false
}

func fromConsumerMessage(msg *sarama.ConsumerMessage) *mq.ConsumedMessage {
	cm := &mq.ConsumedMessage{
		Topic:     msg.Topic,
		Body:      msg.Value,
		Key:       string(msg.Key),
		MsgID:     fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
		Headers:   make(map[string]string, len(msg.Headers)),
	}
	for _, hdr := range msg.Headers {
		if hdr == nil {
			continue
		}
		if string(hdr.Key) == headerTag {
			cm.Tag = string(hdr.Value)
			continue
		}
		cm.Headers[string(hdr.Key)] = string(hdr.Value)
	}
	return cm
}
