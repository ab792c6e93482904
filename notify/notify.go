// Package notify provides identityflow.NotificationSender implementations.
//
// TemplateSender renders <locale>/<key>.html from a template filesystem and
// hands the result to a Mailer. LogSender and ChannelSender deliver without
// rendering and are meant for development and tests.
package notify

import (
	"context"
	"errors"
	"maps"

	"github.com/MrEthical07/identityflow"
)

var (
	// ErrTemplateNotFound is returned when no template exists for the
	// configured locale and template key.
	ErrTemplateNotFound = errors.New("notification template not found")
	// ErrSenderClosed is returned by a closed ChannelSender.
	ErrSenderClosed = errors.New("notification sender closed")
)

// Message is one rendered notification.
type Message struct {
	UserID      string
	To          string
	TemplateKey string
	Subject     string
	Body        string
	Payload     map[string]string
}

func newMessage(user identityflow.User, templateKey string, payload map[string]string) Message {
	return Message{
		UserID:      user.ID,
		To:          user.Identity,
		TemplateKey: templateKey,
		Payload:     maps.Clone(payload),
	}
}

// Mailer transports a rendered Message.
type Mailer interface {
	Deliver(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Deliver(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
