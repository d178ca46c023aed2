package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	date := "2026-02-18"
	ch := b.Subscribe(date)
	other := b.Subscribe("2026-02-19")
	defer b.Unsubscribe("2026-02-19", other)

	evt := Event{Type: "plan.computed", Data: map[string]any{"x": 1}}
	b.Publish(date, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-other:
		t.Fatalf("other date received %+v", got)
	default:
	}

	b.Unsubscribe(date, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// second unsubscribe and publish without subscribers are no-ops
	b.Unsubscribe(date, ch)
	b.Publish(date, evt)
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("d")
	defer b.Unsubscribe("d", ch)
	for i := 0; i < 20; i++ {
		b.Publish("d", Event{Type: "e"})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("buffer should be full, got %d/%d", len(ch), cap(ch))
	}
}

func TestNewEventBrokerFallsBack(t *testing.T) {
	if _, ok := NewEventBroker("").(*Broker); !ok {
		t.Fatalf("empty url should give the in-process broker")
	}
	if _, ok := NewEventBroker("not a url").(*Broker); !ok {
		t.Fatalf("bad url should fall back to the in-process broker")
	}
	if _, ok := NewEventBroker("redis://localhost:6379/0").(*RedisBroker); !ok {
		t.Fatalf("redis url should give RedisBroker")
	}
}
