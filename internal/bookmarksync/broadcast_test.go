package bookmarksync

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, ch <-chan BroadcastMessage) (BroadcastMessage, bool) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		return msg, ok
	case <-time.After(2 * time.Second):
		t.Fatal("no broadcast message received")
		return BroadcastMessage{}, false
	}
}

func assertNoMessage(t *testing.T, ch <-chan BroadcastMessage) {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if ok {
			t.Errorf("unexpected message %+v", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLocalChannel_DeliversToOthersOnly(t *testing.T) {
	bus := NewLocalBus()
	a := bus.Open(BroadcastChannelName)
	b := bus.Open(BroadcastChannelName)
	c := bus.Open(BroadcastChannelName)
	other := bus.Open("other-channel")
	defer a.Close()
	defer b.Close()
	defer c.Close()
	defer other.Close()

	msg := BroadcastMessage{Type: "DELETE", ID: "b1"}
	if err := a.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	for name, ch := range map[string]*LocalChannel{"b": b, "c": c} {
		if got, _ := receive(t, ch.Messages()); got != msg {
			t.Errorf("%s received %+v, want %+v", name, got, msg)
		}
	}
	assertNoMessage(t, a.Messages())
	assertNoMessage(t, other.Messages())
}

func TestLocalChannel_Close(t *testing.T) {
	bus := NewLocalBus()
	a := bus.Open(BroadcastChannelName)
	b := bus.Open(BroadcastChannelName)
	defer a.Close()

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if _, ok := <-b.Messages(); ok {
		t.Error("Messages() still open after Close")
	}
	if err := b.Publish(context.Background(), BroadcastMessage{Type: "DELETE", ID: "x"}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrChannelClosed", err)
	}
	// 閉じた参加者には配送しない
	if err := a.Publish(context.Background(), BroadcastMessage{Type: "DELETE", ID: "y"}); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestLocalChannel_FullBufferDropsMessage(t *testing.T) {
	bus := NewLocalBus()
	a := bus.Open(BroadcastChannelName)
	b := bus.Open(BroadcastChannelName)
	defer a.Close()
	defer b.Close()

	for i := 0; i < broadcastBuffer+5; i++ {
		if err := a.Publish(context.Background(), BroadcastMessage{Type: "DELETE", ID: "b"}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if got := len(b.messages); got != broadcastBuffer {
		t.Errorf("buffered = %d, want %d", got, broadcastBuffer)
	}
}

func TestRedisChannelName(t *testing.T) {
	if got, want := RedisChannelName("user-1"), "bookmarks-sync:user-1"; got != want {
		t.Errorf("RedisChannelName() = %q, want %q", got, want)
	}
}

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DB:          15,
		DialTimeout: 2 * time.Second,
		ReadTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis not available for testing:", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisChannel_FiltersOwnMessages(t *testing.T) {
	client := testRedisClient(t)
	ctx := context.Background()

	a, err := NewRedisChannel(ctx, client, "user-redis", nil)
	if err != nil {
		t.Fatalf("NewRedisChannel() error = %v", err)
	}
	defer a.Close()
	b, err := NewRedisChannel(ctx, client, "user-redis", nil)
	if err != nil {
		t.Fatalf("NewRedisChannel() error = %v", err)
	}
	defer b.Close()
	stranger, err := NewRedisChannel(ctx, client, "user-other", nil)
	if err != nil {
		t.Fatalf("NewRedisChannel() error = %v", err)
	}
	defer stranger.Close()

	msg := BroadcastMessage{Type: "DELETE", ID: "b1"}
	if err := a.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got, _ := receive(t, b.Messages()); got != msg {
		t.Errorf("received %+v, want %+v", got, msg)
	}
	assertNoMessage(t, a.Messages())
	assertNoMessage(t, stranger.Messages())
}

func TestRedisChannel_CloseClosesMessages(t *testing.T) {
	client := testRedisClient(t)

	ch, err := NewRedisChannel(context.Background(), client, "user-close", nil)
	if err != nil {
		t.Fatalf("NewRedisChannel() error = %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	ch.Close()

	if _, ok := <-ch.Messages(); ok {
		t.Error("Messages() still open after Close")
	}
}
