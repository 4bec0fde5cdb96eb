// Copyright 2025 Mech Services, Inc.
package subscription

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dundas/mech-queue/internal/events"
	"github.com/nats-io/nats.go"
)

// NATSMirror publishes every matched lifecycle event to a NATS subject so
// internal consumers can follow the queue without registering webhooks.
type NATSMirror struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSMirror connects to the broker. An empty URL disables mirroring and
// returns a nil mirror, which Fanout treats as absent.
func NewNATSMirror(url, subject string, logger *slog.Logger) (*NATSMirror, error) {
	if url == "" {
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.Name("mech-queue"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logger.Info("nats event mirror connected", "url", url, "subject", subject)
	return &NATSMirror{conn: conn, subject: subject, logger: logger}, nil
}

// Publish implements EventMirror. The subject is suffixed with the event
// status so consumers can subscribe to a single kind.
func (m *NATSMirror) Publish(ev events.Event) error {
	if m == nil || m.conn == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return m.conn.Publish(fmt.Sprintf("%s.%s", m.subject, ev.Status), data)
}

// Close drains the connection.
func (m *NATSMirror) Close() {
	if m == nil || m.conn == nil {
		return
	}
	if err := m.conn.Drain(); err != nil {
		m.logger.Warn("nats drain failed", "error", err)
	}
}
