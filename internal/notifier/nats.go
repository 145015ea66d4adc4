package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is used when no subject is configured.
const DefaultNATSSubject = "healthapp.alerts"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSChannel publishes each message as a JSON event.
type NATSChannel struct {
	conn    *nats.Conn
	pub     publisher
	subject string
}

// NewNATSChannel connects to url and publishes on subject.
func NewNATSChannel(url, subject string) (*NATSChannel, error) {
	conn, err := nats.Connect(url, nats.Name("healthapp-alert-processor"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	ch := newNATSChannel(conn, subject)
	ch.conn = conn
	return ch, nil
}

func newNATSChannel(pub publisher, subject string) *NATSChannel {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	return &NATSChannel{pub: pub, subject: subject}
}

// Name returns "nats".
func (n *NATSChannel) Name() string { return "nats" }

// Subject returns the subject events are published on.
func (n *NATSChannel) Subject() string { return n.subject }

// Send publishes msg on <subject>.<event>.
func (n *NATSChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal nats event: %w", err)
	}
	subject := n.subject + "." + string(msg.Event)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection.
func (n *NATSChannel) Close() {
	if n.conn != nil {
		_ = n.conn.Drain()
		n.conn.Close()
	}
}
