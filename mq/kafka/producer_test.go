package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/aisgo/ais-tenancy/mq"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestProducerSendSync(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(pm *sarama.ProducerMessage) error {
		key, _ := pm.Key.Encode()
		if string(key) != "tenant-1" {
			return errors.New("key should be the tenant id")
		}
		headers := map[string]string{}
		for _, h := range pm.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		if headers[mq.HeaderTenantID] != "tenant-1" || headers[headerTag] != "member.added" {
			return errors.New("missing headers")
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := WrapSyncProducer(sp, nil)
	msg := mq.NewMessage("tenancy.events", []byte(`{}`)).
		WithKey("tenant-1").
		WithTag("member.added").
		WithHeader(mq.HeaderTenantID, "tenant-1")

	res, err := p.SendSync(context.Background(), msg)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Topic != "tenancy.events" || res.MsgID == "" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := p.SendSync(context.Background(), msg); !errors.Is(err, sarama.ErrNotLeaderForPartition) {
		t.Fatalf("expected broker error, got %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
	if _, err := p.SendSync(context.Background(), msg); err == nil {
		t.Fatalf("expected closed producer error")
	}
}

func TestProducerHonoursCancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := WrapSyncProducer(sp, nil)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.SendSync(ctx, mq.NewMessage("t", nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestToProducerMessageOrdersHeaders(t *testing.T) {
	pm := toProducerMessage(mq.NewMessage("t", []byte("x")).
		WithHeader("b", "2").
		WithHeader("a", "1"))
	if pm.Key != nil {
		t.Fatalf("empty key should not be encoded")
	}
	if len(pm.Headers) != 2 || string(pm.Headers[0].Key) != "a" || string(pm.Headers[1].Key) != "b" {
		t.Fatalf("unexpected headers: %+v", pm.Headers)
	}
}

func TestBuildSaramaConfig(t *testing.T) {
	cfg := mq.DefaultKafkaConfig()
	cfg.Producer.Idempotent = true
	cfg.Consumer.InitialOffset = "oldest"
	sc, err := buildSaramaConfig(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if sc.Producer.RequiredAcks != sarama.WaitForAll || sc.Net.MaxOpenRequests != 1 {
		t.Fatalf("idempotent producer should wait for all replicas")
	}
	if sc.Consumer.Offsets.Initial != sarama.OffsetOldest {
		t.Fatalf("initial offset not applied")
	}

	cfg = mq.DefaultKafkaConfig()
	cfg.SASL.Enable = true
	cfg.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
	cfg.SASL.Username = "svc"
	cfg.SASL.Password = "secret"
	sc, err = buildSaramaConfig(cfg)
	if err != nil {
		t.Fatalf("build sasl: %v", err)
	}
	if sc.Net.SASL.SCRAMClientGeneratorFunc == nil {
		t.Fatalf("scram client generator not set")
	}

	cfg = mq.DefaultKafkaConfig()
	cfg.Version = "not-a-version"
	if _, err := buildSaramaConfig(cfg); err == nil {
		t.Fatalf("expected invalid version error")
	}
}
