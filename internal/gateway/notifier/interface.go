package notifier

import "context"

// TextNotifier defines a minimal text notification interface.
// Components that only raise operator alerts depend on it instead of a
// concrete transport.
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Messenger delivers one pre-rendered HTML message to one chat.
// Failures are *types.DeliveryError; a blocked recipient unwraps to
// types.ErrRecipientBlocked.
type Messenger interface {
	Send(ctx context.Context, chatID int64, html string) error
}

// Nop discards everything. Used when no operator chat is configured.
type Nop struct{}

func (Nop) SendText(context.Context, string) error { return nil }
