package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relaybot/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based turn bus for in-process communication.
type InMemoryBus struct {
	inbound  chan domain.Turn
	handlers map[string]domain.OutboundHandler
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:  make(chan domain.Turn, bufferSize),
		handlers: make(map[string]domain.OutboundHandler),
		logger:   logger,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(turn domain.Turn) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "turn_id", turn.ID)
		return
	}

	select {
	case b.inbound <- turn:
	default:
		b.logger.Warn("inbound bus full, waiting...", "channel", turn.Channel, "sender", turn.SenderID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- turn:
			b.logger.Info("turn delivered after wait", "channel", turn.Channel)
		case <-timer.C:
			b.logger.Error("turn dropped: bus full for 10s",
				"channel", turn.Channel,
				"sender", turn.SenderID,
				"turn_id", turn.ID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Turn {
	return b.inbound
}

// SendOutbound hands msg to the handler registered for its channel.
func (b *InMemoryBus) SendOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.RLock()
	handler, ok := b.handlers[msg.Channel]
	b.mu.RUnlock()

	if !ok {
		b.logger.Warn("no handler registered for channel", "channel", msg.Channel)
		return fmt.Errorf("no outbound handler for channel %q", msg.Channel)
	}

	return handler(ctx, msg)
}

func (b *InMemoryBus) OnOutbound(channelName string, handler domain.OutboundHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channelName] = handler
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
