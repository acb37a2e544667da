// Package mail delivers transactional email, either directly over SMTP or
// through the message queue for the mailer worker to pick up.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/natours/apiserver/config"
)

// Message is a plain-text email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// ResetUserID marks a password reset mail. If the mail cannot be
	// delivered, that user's outstanding reset token is cleared.
	ResetUserID string `json:"reset_user_id,omitempty"`
}

// Sender delivers a message. A non-nil error means the message was not
// accepted for delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNoQueue is returned when the queue backend is selected without a queue.
var ErrNoQueue = errors.New("mail: queue backend requires a message queue")

// NewSender builds the sender selected by cfg.Backend. queue may be nil
// unless the backend is "queue".
func NewSender(cfg config.MailConfig, queue Publisher) (Sender, error) {
	switch cfg.Backend {
	case "smtp", "":
		return NewSMTPSender(cfg.SMTP, cfg.From), nil
	case "queue":
		if queue == nil {
			return nil, ErrNoQueue
		}
		return NewQueueSender(queue, cfg.Channel), nil
	default:
		return nil, fmt.Errorf("mail: unknown backend %q", cfg.Backend)
	}
}
