package mail

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is satisfied by *mq.MQ.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// QueueSender hands messages to the mailer worker through the message queue.
// A failed publish is a failed delivery.
type QueueSender struct {
	queue   Publisher
	channel string
}

func NewQueueSender(queue Publisher, channel string) *QueueSender {
	return &QueueSender{queue: queue, channel: channel}
}

func (s *QueueSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode mail job: %w", err)
	}
	if _, err := s.queue.Publish(ctx, s.channel, data, map[string]string{
		"content-type": "application/json",
		"kind":         "mail",
	}); err != nil {
		return fmt.Errorf("publish mail job: %w", err)
	}
	return nil
}
