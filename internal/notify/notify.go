package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event names a page that must be refreshed by connected clients.
type Event string

const (
	ReportPage Event = "update_report_page"
	MainPage   Event = "update_main_page"
)

// Channel is the Redis Pub/Sub channel page events are published on.
const Channel = "aanmelden:updates"

// Publisher delivers a single event to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Envelope is the JSON message written to the channel.
type Envelope struct {
	ID    string    `json:"id"`
	Event Event     `json:"event"`
	At    time.Time `json:"at"`
}

// RedisPublisher publishes events on a Redis channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: Channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(Envelope{ID: uuid.NewString(), Event: ev, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// InMemory fans events out to in-process subscribers.
type InMemory struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a listener. The returned cancel func must be called to release it.
func (m *InMemory) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		if _, ok := m.subs[ch]; ok {
			delete(m.subs, ch)
			close(ch)
		}
		m.mu.Unlock()
	}
}

// Publish never blocks; slow subscribers miss events.
func (m *InMemory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}
