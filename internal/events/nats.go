package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/logging"
)

// NATSPublisher mirrors events onto NATS subjects "<prefix>.<event_type>" so
// other services can consume them without registering a webhook.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *logrus.Entry
}

func ConnectNATS(url string, prefix string, log *logrus.Entry) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("productimporter-events"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSPublisher(conn, prefix, log), nil
}

func NewNATSPublisher(conn *nats.Conn, prefix string, log *logrus.Entry) *NATSPublisher {
	return &NATSPublisher{
		conn:   conn,
		prefix: strings.Trim(strings.TrimSpace(prefix), "."),
		log:    logging.OrDiscard(log).WithField("component", "events.nats"),
	}
}

func (p *NATSPublisher) Subject(ev Event) string {
	if p.prefix == "" {
		return string(ev.Type)
	}
	return p.prefix + "." + string(ev.Type)
}

func (p *NATSPublisher) Handle(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).Error("Failed to marshal event")
		return
	}

	subject := p.Subject(ev)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.WithError(err).WithField("subject", subject).Error("Failed to publish event")
		return
	}
	p.log.WithField("subject", subject).Debug("Published event")
}

func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
