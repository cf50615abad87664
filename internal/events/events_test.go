package events

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func TestMemoryPublisherDeliversToSubscribers(t *testing.T) {
	pub := NewMemoryPublisher()
	sub := pub.Subscribe(4)

	event := Event{ID: "evt-1", Type: TypeClaimed, Account: "0xabc", Amount: "100", OccurredAt: time.Now()}
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub:
		if got.ID != "evt-1" || got.Type != TypeClaimed {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	if len(pub.Events()) != 1 {
		t.Fatalf("expected 1 recorded event, got %d", len(pub.Events()))
	}

	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := <-sub; ok {
		t.Fatal("expected subscriber channel to be closed")
	}
	if err := pub.Publish(context.Background(), event); !errors.Is(err, ErrPublisherClosed) {
		t.Fatalf("expected ErrPublisherClosed, got %v", err)
	}
}

func TestRabbitMQPublisher(t *testing.T) {
	url := os.Getenv("AIRDROP_TEST_AMQP_URL")
	if url == "" {
		t.Skip("AIRDROP_TEST_AMQP_URL 未设置，跳过 RabbitMQ 集成测试")
	}
	pub, err := NewRabbitMQPublisher(RabbitMQConfig{URL: url, Exchange: "airdrop.events.test"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pub.Publish(ctx, Event{ID: "evt-amqp", Type: TypeWithdrawn, Amount: "500", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestRabbitMQPublisherRequiresURL(t *testing.T) {
	if _, err := NewRabbitMQPublisher(RabbitMQConfig{}); err == nil {
		t.Fatal("expected error for empty URL")
	}
}
