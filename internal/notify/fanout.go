package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"aanmelden/internal/metrics"
)

// Fanout decouples state changes from event delivery. Notify never blocks;
// Run forwards queued events to the publisher until ctx is done.
type Fanout struct {
	pub     Publisher
	queue   chan Event
	timeout time.Duration
	log     *zap.Logger
}

func NewFanout(pub Publisher, buffer int, timeout time.Duration, log *zap.Logger) *Fanout {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{pub: pub, queue: make(chan Event, buffer), timeout: timeout, log: log}
}

func (f *Fanout) Notify(events ...Event) {
	for _, ev := range events {
		select {
		case f.queue <- ev:
		default:
			metrics.NotificationsDropped.Inc()
			f.log.Warn("notification dropped", zap.String("event", string(ev)))
		}
	}
}

func (f *Fanout) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.queue:
			f.publish(ctx, ev)
		}
	}
}

func (f *Fanout) publish(ctx context.Context, ev Event) {
	pctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	if err := f.pub.Publish(pctx, ev); err != nil {
		metrics.NotificationsFailed.Inc()
		f.log.Warn("notification publish failed", zap.String("event", string(ev)), zap.Error(err))
		return
	}
	metrics.NotificationsPublished.WithLabelValues(string(ev)).Inc()
}
