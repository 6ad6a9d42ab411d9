package rocketmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/mq"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"go.uber.org/zap"
)

/* ========================================================================
 * RocketMQ Producer - 领域事件生产者
 * ========================================================================
 * 职责: 实现 mq.Producer；tenant id 写入 keys，事件类型写入 tag
 * 技术: apache/rocketmq-client-go/v2
 * ======================================================================== */

const defaultMaxMessageSize = 4 * 1024 * 1024

func init() {
	mq.RegisterProducerFactory(mq.TypeRocketMQ, func(cfg mq.Config, log *logger.Logger) (mq.Producer, error) {
		return NewProducer(cfg.RocketMQ, log)
	})
}

// sender rocketmq.Producer 中用到的部分
type sender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

// Producer RocketMQ 同步生产者
type Producer struct {
	p       sender
	log     *logger.Logger
	maxSize int

	mu     sync.RWMutex
	closed bool
}

// NewProducer 创建并启动生产者
func NewProducer(cfg *mq.RocketMQConfig, log *logger.Logger) (*Producer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("rocketmq config is required")
	}
	opts := []producer.Option{
		producer.WithNameServer(append([]string(nil), cfg.NameServers...)),
		producer.WithGroupName(cfg.GroupName),
		producer.WithRetry(cfg.Retry),
	}
	if cfg.SendMsgTimeout > 0 {
		opts = append(opts, producer.WithSendMsgTimeout(cfg.SendMsgTimeout))
	}
	if cfg.Namespace != "" {
		opts = append(opts, producer.WithNamespace(cfg.Namespace))
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, producer.WithCredentials(primitive.Credentials{
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		}))
	}

	rp, err := rocketmq.NewProducer(opts...)
	if err != nil {
		return nil, fmt.Errorf("create rocketmq producer: %w", err)
	}
	if err := rp.Start(); err != nil {
		return nil, fmt.Errorf("start rocketmq producer: %w", err)
	}

	p := newProducer(rp, cfg.MaxMessageSize, log)
	p.log.Info("RocketMQ producer started",
		zap.String("group", cfg.GroupName),
		zap.Strings("name_servers", cfg.NameServers),
	)
	return p, nil
}

func newProducer(s sender, maxSize int, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.NewNop()
	}
	if maxSize <= 0 {
		maxSize = defaultMaxMessageSize
	}
	return &Producer{p: s, log: log, maxSize: maxSize}
}

// SendSync 同步发送
func (p *Producer) SendSync(ctx context.Context, msg *mq.Message) (*mq.SendResult, error) {
	if msg == nil {
		return nil, fmt.Errorf("message is nil")
	}
	if len(msg.Body) > p.maxSize {
		return nil, fmt.Errorf("message body size %d exceeds limit %d", len(msg.Body), p.maxSize)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, fmt.Errorf("rocketmq producer is closed")
	}

	res, err := p.p.SendSync(ctx, toRocketMessage(msg))
	if err != nil {
		p.log.WithContext(ctx).Error("RocketMQ send failed", zap.String("topic", msg.Topic), zap.Error(err))
		return nil, err
	}
	if res.Status != primitive.SendOK {
		return nil, fmt.Errorf("rocketmq send status %d for topic %s", res.Status, msg.Topic)
	}
	out := &mq.SendResult{MsgID: res.MsgID, Topic: msg.Topic, Offset: res.QueueOffset}
	if res.MessageQueue != nil {
		out.Partition = int32(res.MessageQueue.QueueId)
	}
	return out, nil
}

// Close 关闭生产者，可重复调用
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.p.Shutdown(); err != nil {
		return fmt.Errorf("shutdown rocketmq producer: %w", err)
	}
	p.log.Info("RocketMQ producer shutdown")
	return nil
}

func toRocketMessage(msg *mq.Message) *primitive.Message {
	rm := primitive.NewMessage(msg.Topic, msg.Body)
	// WithProperties 会整体替换属性表，逐个写入以保留 KEYS / TAGS
	for k, v := range msg.Headers {
		rm.WithProperty(k, v)
	}
	if msg.Key != "" {
		rm.WithKeys([]string{msg.Key})
	}
	if msg.Tag != "" {
		rm.WithTag(msg.Tag)
	}
	return rm
}
