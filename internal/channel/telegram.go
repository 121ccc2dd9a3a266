package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramMaxMsgLen = 4000

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	parseMode string

	bot    *tgbotapi.BotAPI
	bus    domain.TurnBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string
	ParseMode string // empty = plain text
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.TurnBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	bus.OnOutbound(t.Name(), func(ctx context.Context, msg domain.OutboundMessage) error {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
		}
		return t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling ends when Start's context is cancelled, and
// StopReceivingUpdates panics if called twice.
func (t *Telegram) Stop() error {
	return nil
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user", "user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}

	turn, ok := telegramTurn(msg, t.bot.Self.ID)
	if !ok {
		return
	}

	t.logger.Info("telegram turn received",
		"kind", turn.Kind,
		"chat_id", turn.ChatID,
		"sender", turn.SenderID,
		"text_len", len(turn.Text),
	)
	if turn.Kind == domain.TurnMessage {
		_, _ = t.bot.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))
	}
	t.bus.Publish(turn)
}

// telegramTurn maps a Telegram message to a turn. Members joining a group and
// /start in a private chat become membersAdded turns.
func telegramTurn(msg *tgbotapi.Message, botID int64) (domain.Turn, bool) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	botRef := strconv.FormatInt(botID, 10)

	if len(msg.NewChatMembers) > 0 {
		members := make([]domain.Member, 0, len(msg.NewChatMembers))
		for _, u := range msg.NewChatMembers {
			members = append(members, domain.Member{ID: strconv.FormatInt(u.ID, 10), Name: u.UserName})
		}
		turn := newMembersTurn("telegram", chatID, botRef, members...)
		turn.Timestamp = time.Unix(int64(msg.Date), 0)
		return turn, true
	}

	if msg.From == nil {
		return domain.Turn{}, false
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if msg.IsCommand() && msg.Command() == "start" && msg.Chat.IsPrivate() {
		turn := newMembersTurn("telegram", chatID, botRef, domain.Member{ID: senderID, Name: msg.From.UserName})
		turn.Timestamp = time.Unix(int64(msg.Date), 0)
		return turn, true
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return domain.Turn{}, false
	}
	turn := newMessageTurn("telegram", chatID, senderID, botRef, text)
	turn.ReplyToID = strconv.Itoa(msg.MessageID)
	turn.Timestamp = time.Unix(int64(msg.Date), 0)
	return turn, true
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) error {
	var errs []error
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(chatID, chunk); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendChunk tries the configured parse mode first and falls back to plain text
// when Telegram rejects the entities.
func (t *Telegram) sendChunk(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = t.parseMode

	_, err := t.bot.Send(msg)
	if err == nil {
		return nil
	}
	if msg.ParseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
		t.logger.Warn("telegram parse error, retrying as plain text", "err", err, "parse_mode", t.parseMode)
		msg.ParseMode = ""
		_, err = t.bot.Send(msg)
	}
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
