// Package transport holds the chat-platform neutral types used by the
// outbound notifiers.
package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // forum topic thread id, 0 if none
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender posts and edits chat messages.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// ChatChecker verifies that a chat is reachable.
type ChatChecker interface {
	CheckChat(ctx context.Context, to ChatTarget) error
}
