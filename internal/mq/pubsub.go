package mq

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/natours/apiserver/config"
	"google.golang.org/api/option"
)

const (
	defaultAckDeadline     = 60 * time.Second
	defaultMinRetryBackoff = 10 * time.Second
	defaultMaxRetryBackoff = 10 * time.Minute
)

// PubSubClient maps each channel to a topic of the same name with a single
// pull subscription "<channel><suffix>". Topics are opened once and kept
// until Close.
type PubSubClient struct {
	client  *pubsub.Client
	cfg     config.PubSubConfig
	mu      sync.Mutex
	topics  map[string]*pubsub.Topic
	closing bool
}

func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if cfg.SubscriptionSuffix == "" {
		cfg.SubscriptionSuffix = "-sub"
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return &PubSubClient{client: client, cfg: cfg, topics: map[string]*pubsub.Topic{}}, nil
}

// Publish sends one job and waits for the server to assign its ID. Jobs are
// not batched: a reset request must know whether its mail was accepted.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	topic, err := p.topic(ctx, channel)
	if err != nil {
		return "", err
	}
	return topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
}

// Subscribe receives from the channel's subscription until ctx is done. A
// handler error nacks the message, which Pub/Sub redelivers with backoff.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	topic, err := p.topic(ctx, channel)
	if err != nil {
		return err
	}
	sub, err := p.subscription(ctx, channel+p.cfg.SubscriptionSuffix, topic)
	if err != nil {
		return err
	}
	if p.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = p.cfg.MaxOutstanding
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := handler(ctx, Message{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes}); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Close flushes and stops every opened topic, then closes the client.
func (p *PubSubClient) Close() error {
	p.mu.Lock()
	p.closing = true
	topics := p.topics
	p.topics = map[string]*pubsub.Topic{}
	p.mu.Unlock()

	for _, topic := range topics {
		topic.Stop()
	}
	return p.client.Close()
}

func (p *PubSubClient) topic(ctx context.Context, channel string) (*pubsub.Topic, error) {
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("pubsub channel is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closing {
		return nil, errors.New("pubsub client is closed")
	}
	if topic, ok := p.topics[channel]; ok {
		return topic, nil
	}

	topic := p.client.Topic(channel)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		if topic, err = p.client.CreateTopic(ctx, channel); err != nil {
			return nil, err
		}
	}
	topic.PublishSettings.CountThreshold = 1
	p.topics[channel] = topic
	return topic, nil
}

func (p *PubSubClient) subscription(ctx context.Context, name string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(name)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return sub, nil
	}
	return p.client.CreateSubscription(ctx, name, subscriptionConfig(topic, p.cfg))
}

func subscriptionConfig(topic *pubsub.Topic, cfg config.PubSubConfig) pubsub.SubscriptionConfig {
	ackDeadline := cfg.AckDeadline
	if ackDeadline <= 0 {
		ackDeadline = defaultAckDeadline
	}
	return pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: ackDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: defaultMinRetryBackoff,
			MaximumBackoff: defaultMaxRetryBackoff,
		},
	}
}
