package domain

import "time"

// TurnKind discriminates the variants of a Turn.
type TurnKind string

const (
	TurnMessage      TurnKind = "message"
	TurnMembersAdded TurnKind = "membersAdded"
)

// Member is a participant added to a conversation.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Turn is one inbound event from a channel. It is created by the channel adapter,
// never mutated afterwards, and discarded once handled.
type Turn struct {
	ID           string
	Kind         TurnKind
	Channel      string
	ChatID       string
	SenderID     string
	RecipientID  string   // the bot's own identity on this channel
	ReplyToID    string   // platform id of the inbound activity, if any
	Text         string   // message turns only
	AddedMembers []Member // membersAdded turns only
	ServiceURL   string   // bot framework connector base url
	ReplyURL     string   // webhook callback for replies, if any
	Timestamp    time.Time
}

type OutboundMessage struct {
	TurnID     string
	Channel    string
	ChatID     string
	ReplyToID  string
	ServiceURL string
	ReplyURL   string
	Content    string
}

// ReplyTo addresses an outbound message to the conversation the turn came from.
func (t Turn) ReplyTo(content string) OutboundMessage {
	return OutboundMessage{
		TurnID:     t.ID,
		Channel:    t.Channel,
		ChatID:     t.ChatID,
		ReplyToID:  t.ReplyToID,
		ServiceURL: t.ServiceURL,
		ReplyURL:   t.ReplyURL,
		Content:    content,
	}
}
