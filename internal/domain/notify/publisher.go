package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"family-alert-go/pkg/logger"
)

const dispatchTimeout = time.Minute

// DirectPublisher dispatches in a background goroutine of the same process.
type DirectPublisher struct {
	dispatcher *Dispatcher
	log        logger.Logger
}

func NewDirectPublisher(dispatcher *Dispatcher, log logger.Logger) *DirectPublisher {
	return &DirectPublisher{dispatcher: dispatcher, log: log}
}

func (p *DirectPublisher) Publish(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	go func() {
		defer cancel()
		if _, err := p.dispatcher.Dispatch(ctx, event); err != nil {
			p.log.InternalError("notify: dispatch failed", err, "alert_id", event.AlertID)
		}
	}()
	return nil
}

// Queue is the outbound side of a message broker.
type Queue interface {
	Publish(ctx context.Context, body []byte) error
}

// QueuePublisher hands events to a broker so a separate consumer sends the emails.
type QueuePublisher struct {
	queue Queue
}

func NewQueuePublisher(queue Queue) *QueuePublisher {
	return &QueuePublisher{queue: queue}
}

func (p *QueuePublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.queue.Publish(ctx, body)
}
