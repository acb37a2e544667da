package mq

import (
	"context"
	"testing"
	"time"

	"github.com/natours/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	published []string
	closed    bool
}

func (b *stubBackend) Publish(_ context.Context, channel string, _ []byte, _ map[string]string) (string, error) {
	b.published = append(b.published, channel)
	return "id", nil
}

func (b *stubBackend) Subscribe(ctx context.Context, _ string, handler Handler) error {
	return handler(ctx, Message{ID: "id", Data: []byte("payload")})
}

func (b *stubBackend) Close() error {
	b.closed = true
	return nil
}

func TestMQDelegatesToBackend(t *testing.T) {
	backend := &stubBackend{}
	queue := New(backend)

	id, err := queue.Publish(context.Background(), "mail.outbound", []byte("x"), nil)
	require.NoError(t, err)
	require.Equal(t, "id", id)
	require.Equal(t, []string{"mail.outbound"}, backend.published)

	var got Message
	require.NoError(t, queue.Subscribe(context.Background(), "mail.outbound", func(_ context.Context, msg Message) error {
		got = msg
		return nil
	}))
	require.Equal(t, "payload", string(got.Data))

	require.NoError(t, queue.Close())
	require.True(t, backend.closed)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "kafka"})
	require.Error(t, err)
}

func TestOpenRequiresBrokerSettings(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "rabbitmq"})
	require.Error(t, err)

	_, err = Open(context.Background(), config.MQConfig{Backend: "pubsub"})
	require.Error(t, err)
}

func TestHeadersToAttributes(t *testing.T) {
	require.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"kind":  "mail",
		"raw":   []byte("bytes"),
		"count": int32(3),
	})
	require.Equal(t, map[string]string{"kind": "mail", "raw": "bytes", "count": "3"}, attrs)
}

func TestSubscriptionConfig(t *testing.T) {
	cfg := subscriptionConfig(nil, config.PubSubConfig{})
	require.Equal(t, defaultAckDeadline, cfg.AckDeadline)
	require.NotNil(t, cfg.RetryPolicy)
	require.Equal(t, defaultMinRetryBackoff, cfg.RetryPolicy.MinimumBackoff)

	cfg = subscriptionConfig(nil, config.PubSubConfig{AckDeadline: 2 * time.Minute})
	require.Equal(t, 2*time.Minute, cfg.AckDeadline)
}
