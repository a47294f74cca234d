package postgres

import (
	"context"
	"strings"

	"family-alert-go/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ChangeBus carries "collection changed" signals between service instances
// sharing one database. The local instance is always notified directly.
type ChangeBus interface {
	Publish(ctx context.Context, collection string) error
	Subscribe(ctx context.Context, fn func(collection string)) (func(), error)
	Close() error
}

type nopBus struct{}

// NopBus is the bus for a single-instance deployment.
func NopBus() ChangeBus {
	return nopBus{}
}

func (nopBus) Publish(context.Context, string) error { return nil }

func (nopBus) Subscribe(context.Context, func(string)) (func(), error) {
	return func() {}, nil
}

func (nopBus) Close() error { return nil }

// RedisBus fans change signals out over a Redis pub/sub channel. Messages are
// "<instance>|<collection>"; an instance ignores its own messages.
type RedisBus struct {
	client   *redis.Client
	channel  string
	instance string
	log      logger.Logger
}

func NewRedisBus(client *redis.Client, channel string, log logger.Logger) *RedisBus {
	return &RedisBus{
		client:   client,
		channel:  channel,
		instance: uuid.NewString(),
		log:      log,
	}
}

func (b *RedisBus) Publish(ctx context.Context, collection string) error {
	return b.client.Publish(ctx, b.channel, b.instance+"|"+collection).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(collection string)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	go func() {
		for msg := range pubsub.Channel() {
			instance, collection, ok := strings.Cut(msg.Payload, "|")
			if !ok || instance == b.instance {
				continue
			}
			fn(collection)
		}
		b.log.Debug("redis bus: subscription closed", "channel", b.channel)
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (b *RedisBus) Close() error {
	return nil
}
