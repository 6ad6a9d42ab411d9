package identity

import (
	"context"
	"encoding/json"

	"github.com/aisgo/ais-tenancy/company"
	"github.com/aisgo/ais-tenancy/errors"
	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/model"
	"github.com/aisgo/ais-tenancy/mq"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

/* ========================================================================
 * Identity Syncer - 身份提供方用户回填
 * ========================================================================
 * 职责: 订阅 IdP 用户主题，对每条消息调用 EnsureUserExists
 * 语义: 格式错误或校验失败的消息记录后跳过（返回 nil 以提交 offset）；
 *       数据库错误返回给消费者重试
 * ======================================================================== */

// UserEnsurer company.Service 中用到的部分
type UserEnsurer interface {
	EnsureUserExists(ctx context.Context, p company.UserProfile) (*model.User, error)
}

// Syncer IdP 用户同步
type Syncer struct {
	users UserEnsurer
	log   *logger.Logger
}

// NewSyncer 创建同步器
func NewSyncer(users UserEnsurer, log *logger.Logger) *Syncer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Syncer{users: users, log: log}
}

// Handle 实现 mq.Handler
func (s *Syncer) Handle(ctx context.Context, msg *mq.ConsumedMessage) error {
	var p company.UserProfile
	if err := json.Unmarshal(msg.Body, &p); err != nil {
		s.log.WithContext(ctx).Warn("Skipping malformed identity message",
			zap.String("msg_id", msg.MsgID),
			zap.Error(err),
		)
		metrics.IdentitySynced.WithLabelValues(metrics.ResultSkipped).Inc()
		return nil
	}
	u, err := s.users.EnsureUserExists(ctx, p)
	if errors.Code(err) == errors.ErrCodeInvalidArgument {
		s.log.WithContext(ctx).Warn("Skipping invalid identity message",
			zap.String("msg_id", msg.MsgID),
			zap.Error(err),
		)
		metrics.IdentitySynced.WithLabelValues(metrics.ResultSkipped).Inc()
		return nil
	}
	if err != nil {
		metrics.IdentitySynced.WithLabelValues(metrics.ResultError).Inc()
		return err
	}
	metrics.IdentitySynced.WithLabelValues(metrics.ResultOK).Inc()
	s.log.WithContext(ctx).Debug("Identity synced", zap.String("user_id", u.ID))
	return nil
}

// Subscribe 在消费者上注册主题
func (s *Syncer) Subscribe(c mq.Consumer, topic string) error {
	return c.Subscribe(topic, s.Handle)
}

type runParams struct {
	fx.In
	Lc       fx.Lifecycle
	Config   mq.Config
	Consumer mq.Consumer `optional:"true"`
	Syncer   *Syncer
	Logger   *logger.Logger
}

// register 订阅并在 OnStart 启动消费者；消息队列未启用时不做任何事
func register(p runParams) error {
	if !p.Config.Enabled || p.Consumer == nil || p.Config.Topics.Identity == "" {
		p.Logger.Info("Identity sync disabled")
		return nil
	}
	if err := p.Syncer.Subscribe(p.Consumer, p.Config.Topics.Identity); err != nil {
		return err
	}
	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Consumer.Start(ctx)
		},
	})
	return nil
}

// Module 提供 *Syncer 并挂载到消费者
var Module = fx.Module("identity",
	fx.Provide(
		func(svc *company.Service, log *logger.Logger) *Syncer { return NewSyncer(svc, log) },
	),
	fx.Invoke(register),
)
