package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"leakwatch/internal/observability/metrics"
	telemetry "leakwatch/internal/telemetry/domain"
)

const (
	DefaultTopic        = "leakwatch/readings"
	DefaultClientID     = "leakwatch"
	defaultKeepAlive    = 30
	defaultRetryDelay   = 5 * time.Second
	defaultAppendBudget = 5 * time.Second
)

// PahoClient is the subset of *paho.Client the subscriber uses.
type PahoClient interface {
	Connect(ctx context.Context, packet *paho.Connect) (*paho.Connack, error)
	Subscribe(ctx context.Context, packet *paho.Subscribe) (*paho.Suback, error)
	AddOnPublishReceived(f func(paho.PublishReceived) (bool, error)) func()
	Disconnect(packet *paho.Disconnect) error
}

// ClientFactory dials the broker and returns an unconnected client. lost must
// be called when the connection drops.
type ClientFactory func(ctx context.Context, lost func(error)) (PahoClient, error)

// Appender stores a raw uplink payload.
type Appender interface {
	AppendPayload(ctx context.Context, body []byte) (int64, error)
}

// Subscriber consumes sensor readings published by the field gateway.
type Subscriber struct {
	appender   Appender
	topic      string
	clientID   string
	factory    ClientFactory
	retryDelay time.Duration
	logger     *log.Logger
}

// Option customizes the subscriber.
type Option func(*Subscriber)

// WithTopic overrides the subscribed topic filter.
func WithTopic(topic string) Option {
	return func(s *Subscriber) {
		if topic != "" {
			s.topic = topic
		}
	}
}

// WithClientID overrides the MQTT client id.
func WithClientID(id string) Option {
	return func(s *Subscriber) {
		if id != "" {
			s.clientID = id
		}
	}
}

// WithClientFactory replaces the TCP dialer.
func WithClientFactory(factory ClientFactory) Option {
	return func(s *Subscriber) {
		if factory != nil {
			s.factory = factory
		}
	}
}

// WithRetryDelay sets the pause between reconnect attempts.
func WithRetryDelay(delay time.Duration) Option {
	return func(s *Subscriber) {
		if delay > 0 {
			s.retryDelay = delay
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Subscriber) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSubscriber constructs a subscriber for broker, e.g. tcp://localhost:1883.
func NewSubscriber(broker string, appender Appender, opts ...Option) (*Subscriber, error) {
	if appender == nil {
		return nil, errors.New("mqtt subscriber: nil appender")
	}
	s := &Subscriber{
		appender:   appender,
		topic:      DefaultTopic,
		clientID:   DefaultClientID,
		retryDelay: defaultRetryDelay,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		if broker == "" {
			return nil, errors.New("mqtt subscriber: empty broker")
		}
		address, err := brokerAddress(broker)
		if err != nil {
			return nil, err
		}
		s.factory = tcpFactory(address, s.clientID)
	}
	return s, nil
}

// Run keeps a subscription alive until ctx is cancelled, reconnecting after
// connection loss.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Printf("mqtt subscriber: session ended err=%v; retrying in %s", err, s.retryDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryDelay):
		}
	}
}

func (s *Subscriber) session(ctx context.Context) error {
	lost := make(chan error, 1)
	var once sync.Once
	signal := func(err error) {
		once.Do(func() { lost <- err })
	}

	client, err := s.factory(ctx, signal)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	remove := client.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
		if pr.Packet == nil {
			return false, nil
		}
		s.handle(ctx, pr.Packet.Topic, pr.Packet.Payload)
		return true, nil
	})
	defer remove()

	connack, err := client.Connect(ctx, &paho.Connect{
		KeepAlive:  defaultKeepAlive,
		ClientID:   s.clientID,
		CleanStart: true,
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if connack != nil && connack.ReasonCode >= 0x80 {
		return fmt.Errorf("connect: reason code %d", connack.ReasonCode)
	}
	if _, err := client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: s.topic, QoS: 1}},
	}); err != nil {
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return fmt.Errorf("subscribe: %w", err)
	}
	s.logger.Printf("mqtt subscriber: subscribed topic=%s", s.topic)

	select {
	case <-ctx.Done():
		_ = client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return ctx.Err()
	case err := <-lost:
		return err
	}
}

func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) {
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultAppendBudget)
	defer cancel()
	_, err := s.appender.AppendPayload(appendCtx, payload)
	switch {
	case err == nil:
		metrics.IncUplinkMessage("mqtt", metrics.ResultSuccess)
	case errors.Is(err, telemetry.ErrInvalidInput):
		metrics.IncUplinkMessage("mqtt", metrics.ResultInvalid)
		s.logger.Printf("mqtt subscriber: invalid payload topic=%s err=%v", topic, err)
	default:
		metrics.IncUplinkMessage("mqtt", metrics.ResultError)
		s.logger.Printf("mqtt subscriber: append error topic=%s err=%v", topic, err)
	}
}

func tcpFactory(address, clientID string) ClientFactory {
	return func(ctx context.Context, lost func(error)) (PahoClient, error) {
		var dialer net.Dialer
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return nil, err
		}
		return paho.NewClient(paho.ClientConfig{
			ClientID:      clientID,
			Conn:          conn,
			OnClientError: lost,
			OnServerDisconnect: func(d *paho.Disconnect) {
				lost(fmt.Errorf("server disconnect reason=%d", d.ReasonCode))
			},
		}), nil
	}
}

func brokerAddress(broker string) (string, error) {
	parsed, err := url.Parse(broker)
	if err != nil || parsed.Host == "" {
		if _, _, splitErr := net.SplitHostPort(broker); splitErr == nil {
			return broker, nil
		}
		return "", fmt.Errorf("mqtt subscriber: invalid broker %q", broker)
	}
	switch parsed.Scheme {
	case "tcp", "mqtt":
	default:
		return "", fmt.Errorf("mqtt subscriber: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Port() == "" {
		return net.JoinHostPort(parsed.Hostname(), "1883"), nil
	}
	return parsed.Host, nil
}
