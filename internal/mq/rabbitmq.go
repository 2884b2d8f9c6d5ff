package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brainforce/apiserver/config"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQClient publishes on one shared channel and opens a dedicated
// channel for every subscription so each consumer gets its own prefetch
// window.
type RabbitMQClient struct {
	conn       *amqp.Connection
	prefetch   int
	durable    bool
	autoDelete bool

	mu       sync.Mutex
	publish  *amqp.Channel
	declared map[string]struct{}
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &RabbitMQClient{
		conn:       conn,
		prefetch:   cfg.PrefetchCount,
		durable:    cfg.QueueDurable,
		autoDelete: cfg.QueueAutoDelete,
		publish:    ch,
		declared:   make(map[string]struct{}),
	}, nil
}

func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}

	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         data,
	}
	if r.durable {
		msg.DeliveryMode = amqp.Persistent
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.declared[channel]; !ok {
		if err := r.declare(r.publish, channel); err != nil {
			return "", err
		}
		r.declared[channel] = struct{}{}
	}
	if err := r.publish.PublishWithContext(ctx, "", channel, false, false, msg); err != nil {
		return "", err
	}
	return msg.MessageId, nil
}

func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if r.prefetch > 0 {
		if err := ch.Qos(r.prefetch, 0, false); err != nil {
			return err
		}
	}
	if err := r.declare(ch, channel); err != nil {
		return err
	}

	tag := "brainforce-" + uuid.NewString()
	deliveries, err := ch.Consume(channel, tag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Cancel(tag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("rabbitmq deliveries for %s closed", channel)
			}
			err := handler(ctx, Message{
				ID:         delivery.MessageId,
				Data:       delivery.Body,
				Attributes: headersToAttributes(delivery.Headers),
				Attempt:    rabbitAttempt(delivery),
			})
			if err != nil {
				_ = delivery.Nack(false, true)
				continue
			}
			_ = delivery.Ack(false)
		}
	}
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	if r.publish != nil {
		_ = r.publish.Close()
	}
	r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQClient) declare(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, r.durable, r.autoDelete, false, false, nil)
	return err
}

// rabbitAttempt uses the quorum queue delivery counter when present. Classic
// queues only flag redeliveries, which is treated as the final attempt.
func rabbitAttempt(d amqp.Delivery) int {
	switch count := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(count) + 1
	case int32:
		return int(count) + 1
	case int:
		return count + 1
	}
	if d.Redelivered {
		return maxAttemptSentinel
	}
	return 1
}

// maxAttemptSentinel exceeds any configured delivery limit.
const maxAttemptSentinel = 1 << 30

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
