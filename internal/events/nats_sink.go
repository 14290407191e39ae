package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "polkaagents.events"

var ErrSinkClosed = errors.New("event sink closed")

// NATSConfig holds connection settings for the NATS sink.
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string

	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		Name:           "polkaagents-server",
		SubjectPrefix:  DefaultSubjectPrefix,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSSink publishes each envelope as JSON on <prefix>.<kind>.
type NATSSink struct {
	conn   *nats.Conn
	prefix string
	owned  bool
}

func NewNATSSink(cfg NATSConfig) (*NATSSink, error) {
	defaults := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = defaults.ReconnectWait
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	sink := NewNATSSinkFromConn(conn, cfg.SubjectPrefix)
	sink.owned = true
	return sink, nil
}

// NewNATSSinkFromConn publishes on an existing connection. Close leaves the
// connection open.
func NewNATSSinkFromConn(conn *nats.Conn, prefix string) *NATSSink {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

func (s *NATSSink) Subject(envelope Envelope) string {
	return s.prefix + "." + string(envelope.Kind)
}

func (s *NATSSink) Publish(_ context.Context, envelope Envelope) error {
	if s.conn == nil || s.conn.IsClosed() {
		return ErrSinkClosed
	}
	data, err := envelope.Marshal()
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := s.conn.Publish(s.Subject(envelope), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	if s.owned && s.conn != nil {
		return s.conn.Drain()
	}
	return nil
}
