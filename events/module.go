package events

import (
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/mq"
	"github.com/aisgo/ais-tenancy/utils/id-generator/snowflake"

	"go.uber.org/fx"
)

type publisherParams struct {
	fx.In
	Config   mq.Config
	Producer mq.Producer `optional:"true"`
	Logger   *logger.Logger
}

func newPublisher(p publisherParams) (Publisher, error) {
	if !p.Config.Enabled || p.Producer == nil {
		p.Logger.Info("MQ disabled, domain events are dropped")
		return Nop{}, nil
	}
	ids, err := snowflake.NewGeneratorFromEnv()
	if err != nil {
		return nil, err
	}
	return NewMQPublisher(p.Producer, p.Config.Topics.Events, ids, p.Logger), nil
}

// Module 提供 Publisher
var Module = fx.Module("events",
	fx.Provide(newPublisher),
)
