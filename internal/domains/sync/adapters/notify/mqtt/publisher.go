package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Apurer/mfgsync/internal/domains/sync/domain"
	"github.com/Apurer/mfgsync/internal/domains/sync/ports"
)

const (
	DefaultTopicPrefix = "mfgsync"
	connectTimeout     = 10 * time.Second
	publishTimeout     = 5 * time.Second
)

var ErrPublishTimeout = errors.New("mqtt publish timeout")

// Config holds the broker settings.
type Config struct {
	BrokerURL   string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// Publisher sends cycle events to an MQTT broker as JSON.
type Publisher struct {
	client       paho.Client
	prefix       string
	failuresOnly bool
	logger       *slog.Logger
}

type Option func(*Publisher)

// WithFailuresOnly drops events of succeeded and skipped cycles.
func WithFailuresOnly() Option {
	return func(p *Publisher) { p.failuresOnly = true }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// Connect dials the broker and returns a publisher. Reconnects are handled by the client.
func Connect(cfg Config, opts ...Option) (*Publisher, error) {
	p := newPublisher(nil, cfg.TopicPrefix, opts...)
	clientOpts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			p.logger.Info("connected to mqtt broker", slog.String("broker", cfg.BrokerURL))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
		})
	if cfg.Username != "" {
		clientOpts.SetUsername(cfg.Username)
		clientOpts.SetPassword(cfg.Password)
	}

	client := paho.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt broker connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", err)
	}
	p.client = client
	return p, nil
}

// NewPublisher wraps an already configured client.
func NewPublisher(client paho.Client, prefix string, opts ...Option) *Publisher {
	return newPublisher(client, prefix, opts...)
}

func newPublisher(client paho.Client, prefix string, opts ...Option) *Publisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	p := &Publisher{
		client: client,
		prefix: prefix,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Topic returns <prefix>/cycles/<entity>/<status>.
func (p *Publisher) Topic(event ports.CycleEvent) string {
	return fmt.Sprintf("%s/cycles/%s/%s", p.prefix, event.Entity, event.Status)
}

// Publish sends the event with QoS 1. It waits for the broker acknowledgement
// until ctx is done or the publish timeout elapses.
func (p *Publisher) Publish(ctx context.Context, event ports.CycleEvent) error {
	if p.failuresOnly && (event.Status == domain.StatusSucceeded || event.Status == domain.StatusSkipped) {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal cycle event: %w", err)
	}
	topic := p.Topic(event)
	token := p.client.Publish(topic, 1, false, payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug("cycle event published", slog.String("topic", topic))
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(1000)
	}
}

var _ ports.Notifier = (*Publisher)(nil)

// Noop discards events; used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, ports.CycleEvent) error { return nil }

var _ ports.Notifier = Noop{}
