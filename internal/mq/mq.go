package mq

import (
	"context"
	"fmt"
	"strings"

	"github.com/brainforce/apiserver/config"
)

// Message is a broker-agnostic event delivered to subscribers. Attempt
// counts deliveries of the same message, starting at 1.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	Attempt    int
}

// Handler processes a message. A non-nil error asks for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented by each broker client. Channel names reaching a
// backend are already namespaced.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ namespaces channels under a prefix and bounds redelivery of failing
// messages before handing them to the backend.
type MQ struct {
	backend       Backend
	prefix        string
	maxDeliveries int
}

// Option customizes an MQ.
type Option func(*MQ)

// WithTopicPrefix publishes every channel as "<prefix>.<channel>".
func WithTopicPrefix(prefix string) Option {
	return func(m *MQ) { m.prefix = strings.Trim(strings.TrimSpace(prefix), ".") }
}

// WithMaxDeliveries drops a message once it has failed n times.
func WithMaxDeliveries(n int) Option {
	return func(m *MQ) {
		if n > 0 {
			m.maxDeliveries = n
		}
	}
}

const defaultMaxDeliveries = 5

func New(backend Backend, opts ...Option) *MQ {
	m := &MQ{backend: backend, maxDeliveries: defaultMaxDeliveries}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect builds the backend selected by cfg. It returns a nil *MQ when the
// backend is "none".
func Connect(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case config.BackendNone, "":
		return nil, nil
	case config.BackendRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case config.BackendPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Backend, err)
	}
	return New(backend, WithTopicPrefix(cfg.TopicPrefix), WithMaxDeliveries(cfg.MaxDeliveries)), nil
}

// Topic returns the namespaced name used on the broker for channel.
func (m *MQ) Topic(channel string) string {
	if m.prefix == "" {
		return channel
	}
	return m.prefix + "." + channel
}

func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, m.Topic(channel), data, attrs)
}

// Subscribe consumes channel until ctx is done. The handler's error is
// swallowed once the message has reached its delivery limit so the broker
// settles it instead of redelivering forever.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	limit := m.maxDeliveries
	return m.backend.Subscribe(ctx, m.Topic(channel), func(ctx context.Context, msg Message) error {
		err := handler(ctx, msg)
		if settle(err, msg.Attempt, limit) == drop {
			return nil
		}
		return err
	})
}

func (m *MQ) Close() error {
	return m.backend.Close()
}

type outcome int

const (
	ack outcome = iota
	retry
	drop
)

func settle(err error, attempt, limit int) outcome {
	switch {
	case err == nil:
		return ack
	case limit > 0 && attempt >= limit:
		return drop
	default:
		return retry
	}
}
