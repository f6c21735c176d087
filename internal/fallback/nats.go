package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/eternisai/push-relay/internal/logger"
)

// ConnectNATS connects to url and keeps reconnecting for the lifetime of the process.
func ConnectNATS(url string, log *logger.Logger) (*nats.Conn, error) {
	log = log.WithComponent("nats")

	nc, err := nats.Connect(url,
		nats.Name("push-relay"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return nc, nil
}

// publisher is satisfied by *nats.Conn.
type publisher interface {
	Publish(subject string, data []byte) error
}

// natsEvent is published for an external SMS provider to pick up.
type natsEvent struct {
	Escalation
	EscalatedAt time.Time `json:"escalated_at"`
}

// NATSChannel publishes escalations for recipients with a phone number.
type NATSChannel struct {
	conn    publisher
	subject string
	now     func() time.Time
}

// NewNATSChannel creates a channel publishing on subject.
func NewNATSChannel(conn publisher, subject string) *NATSChannel {
	return &NATSChannel{conn: conn, subject: subject, now: time.Now}
}

func (c *NATSChannel) Name() string { return "nats" }

func (c *NATSChannel) Accepts(contact Contact) bool {
	return contact.Phone != ""
}

// Send publishes the escalation event. NATS publish is fire-and-forget, so ctx is
// only checked before publishing.
func (c *NATSChannel) Send(ctx context.Context, e Escalation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(natsEvent{Escalation: e, EscalatedAt: c.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal escalation: %w", err)
	}

	if err := c.conn.Publish(c.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", c.subject, err)
	}
	return nil
}
