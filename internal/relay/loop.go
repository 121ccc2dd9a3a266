package relay

import (
	"context"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
)

// Loop consumes turns from the bus and dispatches each one in its own goroutine.
// Turns are independent: there is no ordering between them and no shared state.
type Loop struct {
	bus    domain.TurnBus
	router *Router
	logger *slog.Logger
	wg     sync.WaitGroup
}

type LoopConfig struct {
	Bus    domain.TurnBus
	Router *Router
	Logger *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	return &Loop{bus: cfg.Bus, router: cfg.Router, logger: cfg.Logger}
}

// Run blocks until ctx is cancelled or the bus is closed.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("relay loop started")

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("relay loop stopping")
			return
		case turn, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, relay loop stopping")
				return
			}
			l.wg.Add(1)
			go func(t domain.Turn) {
				defer l.wg.Done()
				// In-flight turns finish on shutdown; the inference client
				// timeout is their only deadline.
				l.Handle(context.WithoutCancel(ctx), t)
			}(turn)
		}
	}
}

// Handle dispatches a single turn synchronously.
func (l *Loop) Handle(ctx context.Context, turn domain.Turn) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("turn panic", "turn", turn.ID, "panic", r)
		}
	}()

	l.logger.Debug("dispatching turn",
		"turn", turn.ID,
		"kind", turn.Kind,
		"channel", turn.Channel,
		"chat", turn.ChatID,
	)
	if err := l.router.Dispatch(ctx, NewTurnContext(turn, l.bus)); err != nil {
		l.logger.Error("turn failed", "turn", turn.ID, "kind", turn.Kind, "error", err)
	}
}

// Wait blocks until every dispatched turn has finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}
