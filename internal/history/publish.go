package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher sends a message to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PublishingStore decorates a [Store] and publishes every added record as
// JSON. Publication is best effort: a failed publish is logged and the record
// stays stored.
type PublishingStore struct {
	Store
	pub     Publisher
	subject string
}

// Publishing wraps s so each successful Add is published on subject.
func Publishing(s Store, pub Publisher, subject string) *PublishingStore {
	return &PublishingStore{Store: s, pub: pub, subject: subject}
}

// Add stores r and then publishes the stored record.
func (p *PublishingStore) Add(ctx context.Context, r Record) (Record, error) {
	stored, err := p.Store.Add(ctx, r)
	if err != nil {
		return stored, err
	}
	data, err := json.Marshal(stored)
	if err != nil {
		slog.Warn("history: cannot encode record for publication", "id", stored.ID, "err", err)
		return stored, nil
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		slog.Warn("history: publish failed", "subject", p.subject, "id", stored.ID, "err", err)
	}
	return stored, nil
}

// ConnectNATS dials the comma-separated server list.
func ConnectNATS(servers string) (*nats.Conn, error) {
	conn, err := nats.Connect(servers,
		nats.Name("speakwise"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("history: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("history: nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("history: connect nats: %w", err)
	}
	slog.Info("history: connected to NATS", "servers", servers)
	return conn, nil
}
