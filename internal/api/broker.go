package api

import (
	"sync"
)

// Event is one message on a plan date's stream, sent as SSE or WebSocket frame.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker fans plan events out to subscribers of a plan date.
type EventBroker interface {
	Subscribe(date string) chan Event
	Unsubscribe(date string, ch chan Event)
	Publish(date string, evt Event)
}

// Broker is the in-process EventBroker.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // date -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(date string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[date] == nil {
		b.subs[date] = map[chan Event]struct{}{}
	}
	b.subs[date][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(date string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[date]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, date)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *Broker) Publish(date string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[date] {
		select {
		case ch <- evt:
		default:
		}
	}
}
