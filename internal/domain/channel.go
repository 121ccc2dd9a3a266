package domain

import "context"

// Channel is the interface for user-facing I/O (Bot Framework, Telegram, CLI, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, bus TurnBus) error
	Stop() error
}

// TurnContext is what a handler sees of the conversation a turn arrived on.
type TurnContext interface {
	Turn() Turn
	// SendText delivers one plain-text activity to the originating conversation.
	SendText(ctx context.Context, text string) error
}

// Next is the continuation a handler must invoke exactly once.
type Next func(ctx context.Context) error
