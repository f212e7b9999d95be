package mqtt

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

type Config struct {
	BrokerURL string
	Topic     string
	ClientID  string
	Username  string
	Password  string
	QoS       int
	KeepAlive uint16
}

type connection interface {
	Disconnect(ctx context.Context) error
}

// Subscriber подписывается на fleet telemetry через MQTT (autopaho).
// Каждое сообщение отдаётся как кадры (topic, payload).
type Subscriber struct {
	cfg       Config
	serverURL *url.URL
	connect   func(ctx context.Context, cfg autopaho.ClientConfig) (connection, error)

	msgs chan [][]byte
	done chan struct{}

	mu     sync.Mutex
	conn   connection
	closed bool
}

func NewSubscriber(cfg Config) (*Subscriber, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt broker url is required")
	}
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse mqtt broker url")
	}
	if cfg.Topic == "" {
		cfg.Topic = "#"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sentrybox-relay"
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}

	return &Subscriber{
		cfg:       cfg,
		serverURL: u,
		connect: func(ctx context.Context, c autopaho.ClientConfig) (connection, error) {
			return autopaho.NewConnection(ctx, c)
		},
		msgs: make(chan [][]byte, 256),
		done: make(chan struct{}),
	}, nil
}

func (s *Subscriber) Name() string { return "mqtt" }

func (s *Subscriber) clientConfig() autopaho.ClientConfig {
	return autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{s.serverURL},
		KeepAlive:                     s.cfg.KeepAlive,
		CleanStartOnInitialConnection: false,
		SessionExpiryInterval:         60,
		ReconnectBackoff:              autopaho.NewConstantBackoff(3 * time.Second),
		ConnectUsername:               s.cfg.Username,
		ConnectPassword:               []byte(s.cfg.Password),
		OnConnectionUp:                s.onConnectionUp,
		OnConnectError: func(err error) {
			slog.Warn("mqtt connect failed, retrying", "broker", s.cfg.BrokerURL, "err", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: s.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				s.onPublishReceived,
			},
			OnClientError: func(err error) {
				slog.Error("mqtt client error", "err", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				slog.Warn("mqtt server disconnect", "reason_code", d.ReasonCode)
			},
		},
	}
}

// Consume connects and feeds every message to handler until ctx is done or
// handler returns an error.
func (s *Subscriber) Consume(ctx context.Context, handler func(ctx context.Context, frames [][]byte) error) error {
	conn, err := s.connect(ctx, s.clientConfig())
	if err != nil {
		return errors.Wrap(err, "mqtt connect")
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	slog.Info("mqtt subscriber started", "broker", s.cfg.BrokerURL, "topic", s.cfg.Topic)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case frames := <-s.msgs:
			if err := handler(ctx, frames); err != nil {
				return err
			}
		}
	}
}

func (s *Subscriber) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: s.cfg.Topic, QoS: byte(s.cfg.QoS)},
		},
	}); err != nil {
		slog.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "err", err)
		return
	}
	slog.Info("mqtt subscribed", "topic", s.cfg.Topic)
}

func (s *Subscriber) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if pr.Packet == nil {
		return true, nil
	}
	frames := [][]byte{[]byte(pr.Packet.Topic), pr.Packet.Payload}
	select {
	case s.msgs <- frames:
	case <-s.done:
	}
	return true, nil
}

// Close disconnects from the broker and ends Consume. Safe to call twice.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "mqtt disconnect")
	}
	return nil
}
