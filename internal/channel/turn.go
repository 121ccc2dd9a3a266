package channel

import (
	"time"

	"relaybot/internal/domain"

	"github.com/google/uuid"
)

func newMessageTurn(channel, chatID, senderID, recipientID, text string) domain.Turn {
	return domain.Turn{
		ID:          uuid.NewString(),
		Kind:        domain.TurnMessage,
		Channel:     channel,
		ChatID:      chatID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Text:        text,
		Timestamp:   time.Now(),
	}
}

func newMembersTurn(channel, chatID, recipientID string, members ...domain.Member) domain.Turn {
	return domain.Turn{
		ID:           uuid.NewString(),
		Kind:         domain.TurnMembersAdded,
		Channel:      channel,
		ChatID:       chatID,
		RecipientID:  recipientID,
		AddedMembers: members,
		Timestamp:    time.Now(),
	}
}
