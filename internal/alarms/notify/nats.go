package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/nats-io/nats.go"

	alarms "leakwatch/internal/alarms/domain"
)

// DefaultSubject is the NATS subject alert events are published on.
const DefaultSubject = "leakwatch.alerts"

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher publishes alert events as JSON on a NATS subject.
type NATSPublisher struct {
	conn    natsConn
	subject string
	logger  *log.Logger
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string, logger *log.Logger) (*NATSPublisher, error) {
	if url == "" {
		return nil, errors.New("nats publisher: empty url")
	}
	conn, err := nats.Connect(url, nats.Name("leakwatch"))
	if err != nil {
		return nil, err
	}
	return newNATSPublisher(conn, subject, logger), nil
}

func newNATSPublisher(conn natsConn, subject string, logger *log.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// Notify implements AlarmNotifier.
func (p *NATSPublisher) Notify(_ context.Context, event alarms.Event) {
	if p == nil || p.conn == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Printf("nats publisher: encode error: %v", err)
		return
	}
	if err := p.conn.Publish(p.subject+"."+string(event.Type), data); err != nil {
		p.logger.Printf("nats publisher: publish error: %v", err)
	}
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
	p.conn.Close()
}
