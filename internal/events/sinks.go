package events

import (
	"context"
	"log/slog"
	"sync"
)

// LogSink writes one structured log line per event.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, envelope Envelope) error {
	s.logger.InfoContext(ctx, "registry event",
		"event_id", envelope.ID,
		"kind", envelope.Kind,
		"topics", envelope.Topics,
		"payload", envelope.Payload,
	)
	return nil
}

// Recorder keeps every envelope in memory.
type Recorder struct {
	mu        sync.Mutex
	envelopes []Envelope
}

func (r *Recorder) Publish(_ context.Context, envelope Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, envelope)
	return nil
}

func (r *Recorder) Envelopes() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.envelopes))
	copy(out, r.envelopes)
	return out
}
