package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aisgo/ais-tenancy/logger"
	"github.com/aisgo/ais-tenancy/mq"
	"github.com/aisgo/ais-tenancy/tenant"
	"github.com/aisgo/ais-tenancy/utils/id-generator/snowflake"
)

type recordingProducer struct {
	msgs []*mq.Message
	err  error
}

func (r *recordingProducer) SendSync(_ context.Context, m *mq.Message) (*mq.SendResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.msgs = append(r.msgs, m)
	return &mq.SendResult{Topic: m.Topic}, nil
}

func (r *recordingProducer) Close() error { return nil }

func newPublisherForTest(t *testing.T, rp *recordingProducer) *MQPublisher {
	t.Helper()
	ids, err := snowflake.NewGenerator(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	p := NewMQPublisher(rp, "tenancy.events", ids, logger.NewNop())
	p.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return p
}

func TestPublishEnvelope(t *testing.T) {
	rp := &recordingProducer{}
	p := newPublisherForTest(t, rp)

	ctx := tenant.With(context.Background(), tenant.Context{TenantID: "t-1", ActorID: "u-9"})
	if err := p.Publish(ctx, MemberRoleChanged, "t-1", MemberData{UserID: "u-2", Role: "Admin", Previous: "Member"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	msg := rp.msgs[0]
	if msg.Topic != "tenancy.events" || msg.Key != "t-1" || msg.Tag != string(MemberRoleChanged) {
		t.Fatalf("unexpected routing: %+v", msg)
	}
	if msg.Headers[mq.HeaderActorID] != "u-9" || msg.Headers[mq.HeaderEventID] == "" {
		t.Fatalf("unexpected headers: %v", msg.Headers)
	}

	var ev struct {
		ID         string     `json:"id"`
		Type       Type       `json:"type"`
		TenantID   string     `json:"tenant_id"`
		ActorID    string     `json:"actor_id"`
		OccurredAt time.Time  `json:"occurred_at"`
		Data       MemberData `json:"data"`
	}
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ID != msg.Headers[mq.HeaderEventID] || ev.Data.Previous != "Member" || ev.OccurredAt.Year() != 2026 {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
}

func TestPublishErrors(t *testing.T) {
	rp := &recordingProducer{}
	p := newPublisherForTest(t, rp)
	if err := p.Publish(context.Background(), CompanyCreated, "", nil); err == nil {
		t.Fatalf("expected tenant id error")
	}

	rp.err = errors.New("broker down")
	if err := p.Publish(context.Background(), CompanyCreated, "t-1", CompanyData{Name: "Acme"}); !errors.Is(err, rp.err) {
		t.Fatalf("expected wrapped broker error, got %v", err)
	}
}

func TestNewPublisherFallsBackToNop(t *testing.T) {
	pub, err := newPublisher(publisherParams{Config: mq.DefaultConfig(), Logger: logger.NewNop()})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if _, ok := pub.(Nop); !ok {
		t.Fatalf("expected Nop publisher, got %T", pub)
	}

	cfg := mq.DefaultConfig()
	cfg.Enabled = true
	pub, err = newPublisher(publisherParams{Config: cfg, Producer: &recordingProducer{}, Logger: logger.NewNop()})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if _, ok := pub.(*MQPublisher); !ok {
		t.Fatalf("expected MQ publisher, got %T", pub)
	}
}
