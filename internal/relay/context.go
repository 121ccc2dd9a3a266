package relay

import (
	"context"

	"relaybot/internal/domain"
)

// busTurnContext replies through the outbound side of the turn bus.
type busTurnContext struct {
	turn domain.Turn
	bus  domain.TurnBus
}

// NewTurnContext returns a TurnContext whose sends are routed to the
// outbound handler of the channel the turn arrived on.
func NewTurnContext(turn domain.Turn, b domain.TurnBus) domain.TurnContext {
	return &busTurnContext{turn: turn, bus: b}
}

func (c *busTurnContext) Turn() domain.Turn { return c.turn }

func (c *busTurnContext) SendText(ctx context.Context, text string) error {
	return c.bus.SendOutbound(ctx, c.turn.ReplyTo(text))
}
