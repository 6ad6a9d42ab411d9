package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/metrics"
	"github.com/aisgo/ais-tenancy/mq"
	"github.com/aisgo/ais-tenancy/tenant"
	"github.com/aisgo/ais-tenancy/utils/id-generator/snowflake"

	"go.uber.org/zap"
)

/* ========================================================================
 * Domain Events - 租户领域事件
 * ========================================================================
 * 职责: 公司与成员变更在事务提交后发布到消息队列
 * 约定: 消息 key 为 tenant id（同租户有序），tag 为事件类型
 * ======================================================================== */

// Type 事件类型
type Type string

const (
	CompanyCreated    Type = "company.created"
	CompanyDeleted    Type = "company.deleted"
	MemberAdded       Type = "member.added"
	MemberRemoved     Type = "member.removed"
	MemberRoleChanged Type = "member.role_changed"
	RolesProvisioned  Type = "roles.provisioned"
)

// Event 事件信封
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	TenantID   string    `json:"tenant_id"`
	ActorID    string    `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data,omitempty"`
}

// CompanyData company.created / company.deleted
type CompanyData struct {
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	OwnerID string `json:"owner_id,omitempty"`
}

// MemberData member.added / member.removed / member.role_changed
type MemberData struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Previous string `json:"previous_role,omitempty"`
}

// ProvisionData roles.provisioned
type ProvisionData struct {
	Roles   []string `json:"roles"`
	Changed bool     `json:"changed"`
}

// Publisher 发布领域事件
type Publisher interface {
	Publish(ctx context.Context, typ Type, tenantID string, data any) error
}

// Nop 未启用消息队列时使用
type Nop struct{}

func (Nop) Publish(context.Context, Type, string, any) error { return nil }

// MQPublisher 基于 mq.Producer 的发布者
type MQPublisher struct {
	producer mq.Producer
	topic    string
	ids      *snowflake.Generator
	log      *logger.Logger
	now      func() time.Time
}

// NewMQPublisher 创建发布者
func NewMQPublisher(p mq.Producer, topic string, ids *snowflake.Generator, log *logger.Logger) *MQPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &MQPublisher{producer: p, topic: topic, ids: ids, log: log, now: time.Now}
}

// Publish 同步发送一个事件
func (p *MQPublisher) Publish(ctx context.Context, typ Type, tenantID string, data any) error {
	if tenantID == "" {
		return fmt.Errorf("event %s: tenant id is required", typ)
	}
	ev := Event{
		ID:         p.ids.GenerateString(),
		Type:       typ,
		TenantID:   tenantID,
		ActorID:    tenant.ActorFrom(ctx),
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", typ, err)
	}

	msg := mq.NewMessage(p.topic, body).
		WithKey(tenantID).
		WithTag(string(typ)).
		WithHeader(mq.HeaderTenantID, tenantID).
		WithHeader(mq.HeaderEventID, ev.ID).
		WithHeader(mq.HeaderEventType, string(typ)).
		WithHeader(mq.HeaderActorID, ev.ActorID)

	if _, err := p.producer.SendSync(ctx, msg); err != nil {
		metrics.EventsPublished.WithLabelValues(string(typ), metrics.ResultError).Inc()
		return fmt.Errorf("publish event %s: %w", typ, err)
	}
	metrics.EventsPublished.WithLabelValues(string(typ), metrics.ResultOK).Inc()
	p.log.WithContext(ctx).Debug("Event published",
		zap.String("type", string(typ)),
		zap.String("tenant_id", tenantID),
		zap.String("event_id", ev.ID),
	)
	return nil
}
