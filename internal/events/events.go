// Package events delivers registry events to observers: structured logs, a
// NATS subject tree, websocket subscribers and in-process recorders.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/google/uuid"
)

// Envelope wraps an event with the metadata every sink sees.
type Envelope struct {
	ID        string           `json:"id"`
	Kind      domain.EventKind `json:"kind"`
	Topics    []string         `json:"topics"`
	EmittedAt time.Time        `json:"emitted_at"`
	Payload   domain.Event     `json:"payload"`
}

func NewEnvelope(event domain.Event, now time.Time) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      event.Kind(),
		Topics:    event.Topics(),
		EmittedAt: now.UTC(),
		Payload:   event,
	}
}

func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// HasTopic reports whether the envelope carries any of the given topics. An
// empty filter matches everything.
func (e Envelope) HasTopic(filter map[string]struct{}) bool {
	if len(filter) == 0 {
		return true
	}
	for _, topic := range e.Topics {
		if _, ok := filter[topic]; ok {
			return true
		}
	}
	return false
}

type Sink interface {
	Publish(ctx context.Context, envelope Envelope) error
}

// Dispatcher implements registry.Emitter. Sink failures are logged and never
// reach the caller: by the time an event is emitted its mutation is durable.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger, now: time.Now}
}

func (d *Dispatcher) Emit(ctx context.Context, event domain.Event) {
	envelope := NewEnvelope(event, d.now())
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, envelope); err != nil {
			d.logger.WarnContext(ctx, "event sink publish failed",
				"event_id", envelope.ID,
				"kind", envelope.Kind,
				"error", err,
			)
		}
	}
}
