// Package queue carries alert notification events over RabbitMQ.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"family-alert-go/pkg/logger"
	"github.com/streadway/amqp"
)

type RabbitMQConfig struct {
	URL   string
	Queue string
}

// RabbitMQ publishes to and consumes from one durable queue.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	log     logger.Logger

	// amqp channels are not safe for concurrent publishing.
	publishMu sync.Mutex
}

func NewRabbitMQ(cfg RabbitMQConfig, log logger.Logger) (*RabbitMQ, error) {
	if cfg.Queue == "" {
		return nil, errors.New("rabbitmq: queue name is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		cfg.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq declare %s: %w", cfg.Queue, err)
	}

	log.Info("rabbitmq: connected", "queue", cfg.Queue)
	return &RabbitMQ{conn: conn, channel: ch, queue: cfg.Queue, log: log}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	err := r.channel.Publish(
		"",
		r.queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

// Consume delivers messages to handle until ctx is done or the channel closes.
// A handler error rejects the message without requeueing it.
func (r *RabbitMQ) Consume(ctx context.Context, handle func(ctx context.Context, body []byte) error) error {
	msgs, err := r.channel.Consume(
		r.queue,
		"",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			if err := handle(ctx, d.Body); err != nil {
				r.log.InternalError("rabbitmq: handle message failed", err, "queue", r.queue)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}
