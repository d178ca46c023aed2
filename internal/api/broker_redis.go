package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/goccy/go-json"
	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements EventBroker over Redis Pub/Sub so every API replica
// sees plans computed by the others.
type RedisBroker struct {
	rdb *redis.Client

	mu  sync.Mutex
	pss map[chan Event]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), pss: map[chan Event]*redis.PubSub{}}, nil
}

// NewEventBroker picks Redis when url is set and falls back to the in-process
// broker otherwise.
func NewEventBroker(url string) EventBroker {
	if url == "" {
		return NewBroker()
	}
	rb, err := NewRedisBroker(url)
	if err != nil {
		log.Printf("redis broker disabled: %v", err)
		return NewBroker()
	}
	return rb
}

func (b *RedisBroker) Subscribe(date string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(date))
	// wait for the subscription confirmation
	_, _ = ps.Receive(ctx)
	b.mu.Lock()
	b.pss[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

// Unsubscribe closes the Redis subscription; the reader goroutine then
// closes ch.
func (b *RedisBroker) Unsubscribe(date string, ch chan Event) {
	b.mu.Lock()
	ps := b.pss[ch]
	delete(b.pss, ch)
	b.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(date string, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	if err := b.rdb.Publish(ctx, b.chanName(date), data).Err(); err != nil {
		log.Printf("redis publish date=%s err=%v", date, err)
	}
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func (b *RedisBroker) chanName(date string) string { return "plan:" + date }
