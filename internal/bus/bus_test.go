package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, "tenant-001", domain.TopicTransactionSubmitted, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, "tenant-001", domain.TopicTransactionSubmitted, []byte(`{"id":"tx-001"}`)); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-received:
		if msg.TenantID != "tenant-001" || string(msg.Payload) != `{"id":"tx-001"}` {
			t.Errorf("unexpected message: %+v", msg)
		}
		if msg.Topic != domain.TopicTransactionSubmitted {
			t.Errorf("unexpected topic: %s", msg.Topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBusTenantIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, "tenant-001", domain.TopicDecisionCompleted, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, "tenant-002", domain.TopicDecisionCompleted, []byte("other")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case msg := <-received:
		t.Errorf("received message for other tenant: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		sub, err := b.Subscribe(ctx, "tenant-001", domain.TopicCaseCreated, func(ctx context.Context, msg *domain.Message) error {
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	if err := b.Publish(ctx, "tenant-001", domain.TopicCaseCreated, []byte("case")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all subscribers received the message")
	}
}

func TestChannelBusRequestReply(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "tenant-001", "echo", func(ctx context.Context, msg *domain.Message) error {
		// Reply subjects are derived from the request topic.
		return nil
	})
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()

	// No responder publishes a reply, so the request must time out.
	_, err = b.Request(reqCtx, "tenant-001", "echo", []byte("ping"))
	if err == nil {
		t.Error("expected timeout error without responder")
	}
}

func TestChannelBusClose(t *testing.T) {
	b := NewChannelBus(10)
	ctx := context.Background()

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("ping before close failed: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	if err := b.Ping(ctx); err == nil {
		t.Error("expected ping to fail after close")
	}
	if err := b.Publish(ctx, "tenant-001", "topic", []byte("x")); err == nil {
		t.Error("expected publish to fail after close")
	}
	if _, err := b.Subscribe(ctx, "tenant-001", "topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected subscribe to fail after close")
	}

	// Close is idempotent.
	if err := b.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}

func TestChannelBusRequiresTenant(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, "", "topic", []byte("x")); err == nil {
		t.Error("expected error for empty tenant on Publish")
	}
	if _, err := b.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error { return nil }); err == nil {
		t.Error("expected error for empty tenant on Subscribe")
	}
}

func TestNewChannelType(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 100})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}
}

func TestNewUnsupportedType(t *testing.T) {
	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}
