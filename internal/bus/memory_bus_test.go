package bus

import (
	"context"
	"testing"

	"github.com/yungbote/pathsync/internal/pkg/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func TestMemoryBusDeliversToForwarders(t *testing.T) {
	b := NewMemoryBus(mustTestLogger(t))
	defer b.Close()

	var got []Message
	if err := b.StartForwarder(context.Background(), func(m Message) {
		got = append(got, m)
	}); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	msg := Message{Kind: "concepts", Op: "create", EntityID: "c1", ClientID: "me"}
	if err := b.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 || got[0] != msg {
		t.Fatalf("forwarded = %+v, want exactly %+v", got, msg)
	}
}

func TestMemoryBusStopsAfterContextCancel(t *testing.T) {
	b := NewMemoryBus(mustTestLogger(t))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	delivered := 0
	if err := b.StartForwarder(ctx, func(Message) { delivered++ }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	if err := b.Publish(context.Background(), Message{Kind: "concepts"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	cancel()
	if err := b.Publish(context.Background(), Message{Kind: "concepts"}); err != nil {
		t.Fatalf("Publish after cancel: %v", err)
	}

	if delivered != 1 {
		t.Fatalf("delivered = %d, want 1 (post-cancel publish dropped)", delivered)
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	b := NewMemoryBus(mustTestLogger(t))
	if err := b.StartForwarder(context.Background(), func(Message) {
		t.Fatalf("forwarder ran after close")
	}); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(context.Background(), Message{Kind: "concepts"}); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
}
