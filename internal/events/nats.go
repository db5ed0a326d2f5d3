package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes events as JSON on
// "<prefix>.case.<caseId>.<type>".
type NATSPublisher struct {
	conn   Conn
	prefix string
}

// NewNATSPublisher returns a publisher writing to conn.
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "casewizard"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Connect dials url and returns the connection. Close it with Drain.
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return conn, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.case.%s.%s", p.prefix, subjectToken(e.CaseID), e.Type)
}

// Publish marshals e and publishes it with the event ID as a header.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(p.Subject(e))
	msg.Data = data
	msg.Header.Set("Event-Id", e.ID)
	msg.Header.Set("Event-Type", e.Type)

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// subjectToken makes s safe as a single subject token.
func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(s)
}

// ConnHealth reports a NATS connection as healthy while it is connected.
type ConnHealth struct {
	Conn *nats.Conn
}

// HealthCheck implements observability.HealthChecker.
func (h ConnHealth) HealthCheck(context.Context) error {
	if h.Conn == nil || !h.Conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}
