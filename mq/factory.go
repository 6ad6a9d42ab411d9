package mq

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aisgo/ais-tenancy/logger"

	"go.uber.org/zap"
)

/* ========================================================================
 * MQ 工厂 - 根据配置创建对应实现
 * ========================================================================
 * 职责: 实现包在 init 中注册工厂，调用方只依赖 mq 包
 *       （二进制需空导入 mq/kafka 与 mq/rocketmq）
 * ======================================================================== */

// ProducerFactory 生产者工厂
type ProducerFactory func(cfg Config, log *logger.Logger) (Producer, error)

// ConsumerFactory 消费者工厂
type ConsumerFactory func(cfg Config, log *logger.Logger) (Consumer, error)

var (
	factoryMu         sync.RWMutex
	producerFactories = make(map[Type]ProducerFactory)
	consumerFactories = make(map[Type]ConsumerFactory)
)

// RegisterProducerFactory 注册生产者工厂
func RegisterProducerFactory(t Type, f ProducerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	producerFactories[t] = f
}

// RegisterConsumerFactory 注册消费者工厂
func RegisterConsumerFactory(t Type, f ConsumerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	consumerFactories[t] = f
}

// NewProducer 按配置创建生产者
func NewProducer(cfg Config, log *logger.Logger) (Producer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factoryMu.RLock()
	f, ok := producerFactories[cfg.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mq: no producer registered for %q, available: %v", cfg.Type, available(true))
	}
	log.Info("Creating MQ producer", zap.String("type", string(cfg.Type)))
	return f(cfg, log)
}

// NewConsumer 按配置创建消费者
func NewConsumer(cfg Config, log *logger.Logger) (Consumer, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	factoryMu.RLock()
	f, ok := consumerFactories[cfg.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mq: no consumer registered for %q, available: %v", cfg.Type, available(false))
	}
	log.Info("Creating MQ consumer", zap.String("type", string(cfg.Type)))
	return f(cfg, log)
}

func available(producers bool) []Type {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	var out []Type
	if producers {
		for t := range producerFactories {
			out = append(out, t)
		}
	} else {
		for t := range consumerFactories {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
