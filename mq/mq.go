package mq

import (
	"context"
	"time"
)

/* ========================================================================
 * MQ 抽象接口 - 领域事件与身份同步的消息通道
 * ========================================================================
 * 职责: 定义与具体 MQ 无关的生产者 / 消费者接口
 * 支持: Kafka（生产 + 消费组）, RocketMQ（生产）
 * ======================================================================== */

// 消息头
const (
	HeaderTenantID  = "x-tenant-id"
	HeaderEventID   = "x-event-id"
	HeaderEventType = "x-event-type"
	HeaderActorID   = "x-actor-id"
)

// Producer 消息生产者
type Producer interface {
	// SendSync 同步发送，返回前确认 broker 已接收
	SendSync(ctx context.Context, msg *Message) (*SendResult, error)
	Close() error
}

// Consumer 消息消费者
type Consumer interface {
	Subscribe(topic string, handler Handler) error
	// Start 启动消费循环，返回前等待首次分区分配
	Start(ctx context.Context) error
	Close() error
}

// Handler 处理单条消息。
// 返回 nil 表示已处理（包括有意跳过的坏消息），返回错误时按消费者策略重试。
type Handler func(ctx context.Context, msg *ConsumedMessage) error

// Message 待发送消息
type Message struct {
	Topic   string
	Key     string // 分区键；领域事件使用租户 ID，保证同租户有序
	Tag     string // RocketMQ 过滤标签；Kafka 写入 header
	Body    []byte
	Headers map[string]string
}

// NewMessage 创建消息
func NewMessage(topic string, body []byte) *Message {
	return &Message{Topic: topic, Body: body, Headers: make(map[string]string)}
}

// WithKey 设置分区键
func (m *Message) WithKey(key string) *Message {
	m.Key = key
	return m
}

// WithTag 设置标签
func (m *Message) WithTag(tag string) *Message {
	m.Tag = tag
	return m
}

// WithHeader 设置消息头，空值忽略
func (m *Message) WithHeader(key, value string) *Message {
	if value == "" {
		return m
	}
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
	return m
}

// ConsumedMessage 已消费消息
type ConsumedMessage struct {
	Topic     string
	Key       string
	Tag       string
	Body      []byte
	Headers   map[string]string
	MsgID     string
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Header 读取消息头
func (m *ConsumedMessage) Header(key string) string {
	if m == nil || m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// SendResult 发送结果
type SendResult struct {
	MsgID     string
	Topic     string
	Partition int32
	Offset    int64
}

// Type MQ 类型
type Type string

const (
	TypeKafka    Type = "kafka"
	TypeRocketMQ Type = "rocketmq"
)
