package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"family-alert-go/pkg/logger"
)

// Subscriber is the inbound side of a message broker. Consume blocks until
// ctx is done, calling handle once per message.
type Subscriber interface {
	Consume(ctx context.Context, handle func(ctx context.Context, body []byte) error) error
}

type Consumer struct {
	dispatcher *Dispatcher
	log        logger.Logger
}

func NewConsumer(dispatcher *Dispatcher, log logger.Logger) *Consumer {
	return &Consumer{dispatcher: dispatcher, log: log}
}

func (c *Consumer) Run(ctx context.Context, sub Subscriber) error {
	c.log.Info("notify: consumer started")
	return sub.Consume(ctx, c.Handle)
}

// Handle decodes one queued event and dispatches it. A malformed body is
// reported so the broker can drop it instead of redelivering.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}
	if event.AlertID == "" || event.UserID == "" {
		return fmt.Errorf("decode event: alert and user ids are required")
	}
	_, err := c.dispatcher.Dispatch(ctx, event)
	return err
}
