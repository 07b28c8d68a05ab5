package transport

import "context"

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateChannelPost UpdateKind = "channel_post"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	Caption      string
	IsPrivate    bool

	// Forwarded is true when the message carries a forward origin.
	// ForwardChatID is the origin channel id (0 when the origin is not a channel/chat).
	Forwarded     bool
	ForwardChatID int64
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Editor is the remote edit capability consumed by the edit worker.
//
// Failures should be reported with the structured errors in errors.go
// (*RateLimitedError, ErrTimedOut); anything else is treated as terminal.
type Editor interface {
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	EditCaption(ctx context.Context, ref MessageRef, caption string, opt *SendOptions) error
}

// Sender delivers plain messages (command replies, log sink).
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

type Adapter interface {
	Editor
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
