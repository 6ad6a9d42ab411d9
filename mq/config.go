package mq

import (
	"fmt"
	"time"
)

/* ========================================================================
 * MQ 配置
 * ========================================================================
 * 职责: 统一 Kafka / RocketMQ 配置与领域 topic
 * ======================================================================== */

// Config MQ 配置
type Config struct {
	// Enabled 关闭时领域事件使用 events.Nop，身份同步消费者不启动
	Enabled bool   `mapstructure:"enabled"`
	Type    Type   `mapstructure:"type"`
	Topics  Topics `mapstructure:"topics"`

	Kafka    *KafkaConfig    `mapstructure:"kafka"`
	RocketMQ *RocketMQConfig `mapstructure:"rocketmq"`
}

// Topics 领域 topic
type Topics struct {
	Events   string `mapstructure:"events"`   // 租户领域事件
	Identity string `mapstructure:"identity"` // 身份提供方的用户变更
}

// DefaultConfig 默认配置（Kafka，未启用）
func DefaultConfig() Config {
	return Config{
		Type: TypeKafka,
		Topics: Topics{
			Events:   "tenancy.events",
			Identity: "idp.users",
		},
		Kafka:    DefaultKafkaConfig(),
		RocketMQ: DefaultRocketMQConfig(),
	}
}

// Validate 校验启用时的必要配置
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Type {
	case TypeKafka:
		if c.Kafka == nil || len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("mq: kafka brokers are required")
		}
	case TypeRocketMQ:
		if c.RocketMQ == nil || len(c.RocketMQ.NameServers) == 0 {
			return fmt.Errorf("mq: rocketmq name servers are required")
		}
	default:
		return fmt.Errorf("mq: unsupported type %q", c.Type)
	}
	if c.Topics.Events == "" {
		return fmt.Errorf("mq: events topic is required")
	}
	return nil
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string            `mapstructure:"brokers"`
	Version  string              `mapstructure:"version"`
	ClientID string              `mapstructure:"client_id"`
	SASL     KafkaSASLConfig     `mapstructure:"sasl"`
	TLS      KafkaTLSConfig      `mapstructure:"tls"`
	Producer KafkaProducerConfig `mapstructure:"producer"`
	Consumer KafkaConsumerConfig `mapstructure:"consumer"`
}

// KafkaSASLConfig SASL 认证
type KafkaSASLConfig struct {
	Enable    bool   `mapstructure:"enable"`
	Mechanism string `mapstructure:"mechanism"` // PLAIN / SCRAM-SHA-256 / SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// KafkaTLSConfig TLS
type KafkaTLSConfig struct {
	Enable   bool   `mapstructure:"enable"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
	Insecure bool   `mapstructure:"insecure"`
}

// KafkaProducerConfig 生产者
type KafkaProducerConfig struct {
	RequiredAcks string        `mapstructure:"required_acks"` // none / leader / all
	Timeout      time.Duration `mapstructure:"timeout"`
	Compression  string        `mapstructure:"compression"` // none / gzip / snappy / lz4 / zstd
	Idempotent   bool          `mapstructure:"idempotent"`
	RetryMax     int           `mapstructure:"retry_max"`
}

// KafkaConsumerConfig 消费组
type KafkaConsumerConfig struct {
	GroupID           string        `mapstructure:"group_id"`
	InitialOffset     string        `mapstructure:"initial_offset"` // newest / oldest
	SessionTimeout    time.Duration `mapstructure:"session_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
}

// DefaultKafkaConfig Kafka 默认配置
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:  []string{"127.0.0.1:9092"},
		Version:  "2.8.0",
		ClientID: "ais-tenancy",
		Producer: KafkaProducerConfig{
			RequiredAcks: "all",
			Timeout:      10 * time.Second,
			Compression:  "none",
			RetryMax:     3,
		},
		Consumer: KafkaConsumerConfig{
			GroupID:           "ais-tenancy-identity",
			InitialOffset:     "newest",
			SessionTimeout:    10 * time.Second,
			HeartbeatInterval: 3 * time.Second,
			MaxRetries:        3,
			RetryBackoff:      100 * time.Millisecond,
		},
	}
}

// RocketMQConfig RocketMQ 生产者配置
type RocketMQConfig struct {
	NameServers    []string      `mapstructure:"name_servers"`
	Namespace      string        `mapstructure:"namespace"`
	GroupName      string        `mapstructure:"group_name"`
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	SendMsgTimeout time.Duration `mapstructure:"send_msg_timeout"`
	Retry          int           `mapstructure:"retry"`
	MaxMessageSize int           `mapstructure:"max_message_size"`
}

// DefaultRocketMQConfig RocketMQ 默认配置
func DefaultRocketMQConfig() *RocketMQConfig {
	return &RocketMQConfig{
		NameServers:    []string{"127.0.0.1:9876"},
		GroupName:      "ais_tenancy_producer",
		SendMsgTimeout: 3 * time.Second,
		Retry:          2,
		MaxMessageSize: 4 * 1024 * 1024,
	}
}
