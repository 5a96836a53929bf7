package queue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"aanmelden/internal/observability"
)

// HandlerFunc processes one message. Errors are logged and reported; messages are never retried.
type HandlerFunc func(ctx context.Context, msg Message) error

// Dispatcher routes consumed messages to handlers by type.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{handlers: make(map[string]HandlerFunc), log: log}
}

// Handle registers fn for a message type.
func (d *Dispatcher) Handle(typ string, fn HandlerFunc) {
	d.handlers[typ] = fn
}

// Run consumes q until ctx is cancelled or the consumer closes.
func (d *Dispatcher) Run(ctx context.Context, q Queue) error {
	msgs, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	for msg := range msgs {
		d.dispatch(ctx, msg)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, msg Message) {
	fn, ok := d.handlers[msg.Type]
	if !ok {
		d.log.Debug("ignoring message", zap.String("type", msg.Type), zap.String("id", msg.ID))
		return
	}
	if err := fn(ctx, msg); err != nil {
		d.log.Error("message failed", zap.String("type", msg.Type), zap.String("id", msg.ID), zap.Error(err))
		observability.CaptureJobErr(err, msg.Type, msg.ID)
	}
}
