package push

import (
	"context"

	"PRelay/service/subscription"
)

// Notification is the payload handed to the push transport.
type Notification struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ClickTarget string `json:"clickTarget"`
}

// MessageNotification builds the "New message from <name>" notification for a chat message.
func MessageNotification(displayName, body, senderID string) Notification {
	return Notification{
		Title:       "New message from " + displayName,
		Body:        body,
		ClickTarget: senderID,
	}
}

// Job is one push to one subscription.
type Job struct {
	ID           string                  `json:"id"`
	ReceiverID   string                  `json:"receiverId"`
	Subscription subscription.Descriptor `json:"subscription"`
	Payload      Notification            `json:"payload"`
}

// Sender delivers a job to the push transport. Signing and the actual web-push
// protocol live behind it.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, job Job) error

func (f SenderFunc) Send(ctx context.Context, job Job) error { return f(ctx, job) }
