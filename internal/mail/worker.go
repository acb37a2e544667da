package mail

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/natours/apiserver/internal/mq"
	"github.com/natours/apiserver/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultAttempts   = 3
	defaultRetryDelay = 2 * time.Second
)

// Subscriber is satisfied by *mq.MQ.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// ResetTokenClearer is satisfied by *store.UserRepository.
type ResetTokenClearer interface {
	ClearResetToken(ctx context.Context, id string) error
}

// Worker consumes queued mail jobs and delivers them with a Sender.
type Worker struct {
	queue      Subscriber
	channel    string
	sender     Sender
	resets     ResetTokenClearer
	attempts   int
	retryDelay time.Duration
	log        logrus.FieldLogger
}

type WorkerOption func(*Worker)

// WithRetries sets how many times a job is tried and the pause between tries.
func WithRetries(attempts int, delay time.Duration) WorkerOption {
	return func(w *Worker) {
		if attempts > 0 {
			w.attempts = attempts
		}
		w.retryDelay = delay
	}
}

// WithResetTokens lets the worker revoke the reset token of a password reset
// mail it gives up on.
func WithResetTokens(resets ResetTokenClearer) WorkerOption {
	return func(w *Worker) {
		w.resets = resets
	}
}

func NewWorker(queue Subscriber, channel string, sender Sender, log logrus.FieldLogger, opts ...WorkerOption) *Worker {
	w := &Worker{
		queue:      queue,
		channel:    channel,
		sender:     sender,
		attempts:   defaultAttempts,
		retryDelay: defaultRetryDelay,
		log:        log,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is done or the subscription fails.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithField("channel", w.channel).Info("mailer worker started")
	return w.queue.Subscribe(ctx, w.channel, w.Handle)
}

// Handle delivers one job, retrying failed sends. Undecodable jobs are
// dropped. A job that still fails is dropped too, after the reset token it
// carries has been cleared; only a failed clear is returned for redelivery.
func (w *Worker) Handle(ctx context.Context, msg mq.Message) error {
	log := w.log.WithField("message_id", msg.ID)

	var job Message
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.To == "" {
		log.WithError(err).Warn("dropping malformed mail job")
		return nil
	}

	// The body carries reset links; only the envelope is logged.
	log = log.WithFields(logrus.Fields{"to": job.To, "subject": job.Subject})
	err := w.deliver(ctx, job)
	if err == nil {
		log.Info("mail delivered")
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	log.WithError(err).Error("mail delivery failed, giving up")

	if job.ResetUserID == "" {
		return nil
	}
	log = log.WithField("user_id", job.ResetUserID)
	if w.resets == nil {
		log.Warn("undelivered reset mail, no credential store to clear the token")
		return nil
	}
	if err := w.resets.ClearResetToken(context.WithoutCancel(ctx), job.ResetUserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.WithError(err).Error("failed to clear reset token after delivery failure")
		return err
	}
	log.Info("reset token cleared after delivery failure")
	return nil
}

func (w *Worker) deliver(ctx context.Context, job Message) error {
	var err error
	for attempt := 1; attempt <= w.attempts; attempt++ {
		if err = w.sender.Send(ctx, job); err == nil {
			return nil
		}
		if attempt == w.attempts {
			break
		}
		w.log.WithError(err).WithField("attempt", attempt).Warn("mail delivery attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.retryDelay):
		}
	}
	return err
}
