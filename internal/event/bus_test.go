package event

import (
	"context"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := bus.Subscribe(ctx)
	b := bus.Subscribe(ctx)

	bus.Publish("user.created", map[string]any{"user_id": "u1"})

	for _, ch := range []<-chan Event{a, b} {
		evt := recv(t, ch)
		if evt.Topic != "user.created" {
			t.Fatalf("unexpected topic %q", evt.Topic)
		}
		if evt.Payload["user_id"] != "u1" {
			t.Fatalf("unexpected payload %v", evt.Payload)
		}
		if evt.ID == "" || evt.OccurredAt.IsZero() {
			t.Fatalf("missing envelope fields: %+v", evt)
		}
	}
}

func TestBusTopicFilter(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otps := bus.Subscribe(ctx, "otp.created")

	bus.Publish("user.created", nil)
	bus.Publish("otp.created", map[string]any{"otp_id": "o1"})

	evt := recv(t, otps)
	if evt.Topic != "otp.created" {
		t.Fatalf("filter leaked topic %q", evt.Topic)
	}
	select {
	case extra := <-otps:
		t.Fatalf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := bus.Subscribe(ctx)
	for i := 0; i < 32; i++ {
		bus.Publish("user.created", nil)
	}

	// Buffer is 16; the rest were dropped and Publish never blocked.
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			if n != 16 {
				t.Fatalf("expected 16 buffered events, got %d", n)
			}
			return
		}
	}
}

func TestBusClosesChannelOnCancel(t *testing.T) {
	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch := bus.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish("user.created", nil)
}
