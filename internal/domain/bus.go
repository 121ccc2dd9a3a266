package domain

import "context"

// OutboundHandler delivers a message on a specific channel.
type OutboundHandler func(ctx context.Context, msg OutboundMessage) error

// TurnBus routes turns from channels to the relay and replies back.
type TurnBus interface {
	Publish(turn Turn)
	Subscribe() <-chan Turn
	SendOutbound(ctx context.Context, msg OutboundMessage) error
	OnOutbound(channelName string, handler OutboundHandler)
	Close()
}
