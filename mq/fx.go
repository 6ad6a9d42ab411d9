package mq

import (
	"context"

	"github.com/aisgo/ais-tenancy/logger"

	"go.uber.org/fx"
)

// Params MQ 依赖
type Params struct {
	fx.In
	Lc     fx.Lifecycle
	Config Config
	Logger *logger.Logger
}

// ProvideProducer 创建生产者并在停止时关闭
func ProvideProducer(p Params) (Producer, error) {
	producer, err := NewProducer(p.Config, p.Logger)
	if err != nil {
		return nil, err
	}
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return producer.Close()
		},
	})
	return producer, nil
}

// ProvideConsumer 创建消费者；订阅由使用方在 OnStart 之前完成
func ProvideConsumer(p Params) (Consumer, error) {
	consumer, err := NewConsumer(p.Config, p.Logger)
	if err != nil {
		return nil, err
	}
	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return consumer.Close()
		},
	})
	return consumer, nil
}

// ProducerOnlyModule 只提供 Producer
var ProducerOnlyModule = fx.Module("mq-producer",
	fx.Provide(ProvideProducer),
)

// ConsumerOnlyModule 只提供 Consumer
var ConsumerOnlyModule = fx.Module("mq-consumer",
	fx.Provide(ProvideConsumer),
)
