// Package notify delivers messages to a tenant's chat: progress notes
// while a run is working, and the final reply of webhook-driven runs.
package notify

import "context"

// Message is one outbound chat message.
type Message struct {
	// BotToken selects the tenant's bot.
	BotToken string
	// ChatID is the destination chat.
	ChatID string
	// Text is the message body (plain text).
	Text string
	// ReplyTo, when non-zero, threads the message under another one.
	ReplyTo int64
}

// Notifier sends chat messages.
type Notifier interface {
	Send(ctx context.Context, m Message) error
}

// Nop discards every message.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, Message) error { return nil }
