package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

var (
	ErrContinuationNotCalled   = errors.New("handler returned without calling next")
	ErrContinuationCalledTwice = errors.New("handler called next more than once")
)

// TurnHandler reacts to the two turn kinds. Each method must call next exactly once.
type TurnHandler interface {
	OnMessage(ctx context.Context, tc domain.TurnContext, next domain.Next) error
	OnMembersAdded(ctx context.Context, tc domain.TurnContext, next domain.Next) error
}

// Router dispatches a turn to the handler method for its kind and checks that
// the continuation contract held.
type Router struct {
	handler TurnHandler
	events  *bus.EventBus
	logger  *slog.Logger
}

func NewRouter(handler TurnHandler, events *bus.EventBus, logger *slog.Logger) *Router {
	return &Router{handler: handler, events: events, logger: logger}
}

func (r *Router) Dispatch(ctx context.Context, tc domain.TurnContext) error {
	turn := tc.Turn()
	r.events.Emit(bus.Event{Type: bus.EventTurnReceived, Turn: turn})

	var calls atomic.Int32
	next := func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			r.events.Emit(bus.Event{Type: bus.EventTurnCompleted, Turn: turn})
		}
		return nil
	}

	var err error
	switch turn.Kind {
	case domain.TurnMessage:
		err = r.handler.OnMessage(ctx, tc, next)
	case domain.TurnMembersAdded:
		err = r.handler.OnMembersAdded(ctx, tc, next)
	default:
		r.logger.Warn("unhandled turn kind", "turn", turn.ID, "kind", turn.Kind, "channel", turn.Channel)
		err = next(ctx)
	}

	switch n := calls.Load(); {
	case n == 0:
		r.logger.Error("continuation not called", "turn", turn.ID, "kind", turn.Kind)
		err = errors.Join(err, ErrContinuationNotCalled)
	case n > 1:
		r.logger.Error("continuation called more than once", "turn", turn.ID, "kind", turn.Kind, "calls", n)
		err = errors.Join(err, ErrContinuationCalledTwice)
	}
	return err
}
