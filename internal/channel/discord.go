package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMsgLen = 2000

// Discord implements domain.Channel for a Discord bot.
type Discord struct {
	token            string
	guildID          string
	welcomeChannelID string
	session          *discordgo.Session
	bus              domain.TurnBus
	logger           *slog.Logger
}

type DiscordConfig struct {
	Token   string
	GuildID string // empty = all guilds
	// WelcomeChannelID receives welcomes; the guild system channel is used when empty.
	WelcomeChannelID string
	Logger           *slog.Logger
}

func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:            cfg.Token,
		guildID:          cfg.GuildID,
		welcomeChannelID: cfg.WelcomeChannelID,
		logger:           cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start opens the gateway session and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.TurnBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	d.session = session

	bus.OnOutbound(d.Name(), func(ctx context.Context, msg domain.OutboundMessage) error {
		return d.sendMessage(msg.ChatID, msg.Content)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID || m.Author.Bot {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		turn, ok := discordMessageTurn(m.Message, s.State.User.ID)
		if !ok {
			return
		}
		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(turn.Text),
		)
		bus.Publish(turn)
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		channelID := d.welcomeChannel(s, m.GuildID)
		if channelID == "" {
			d.logger.Warn("discord member joined but no welcome channel is known", "guild", m.GuildID)
			return
		}
		turn, ok := discordMemberTurn(m.Member, channelID, s.State.User.ID)
		if !ok {
			return
		}
		d.logger.Info("discord member joined", "guild", m.GuildID, "member", turn.AddedMembers[0].ID)
		bus.Publish(turn)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error {
	return nil
}

func (d *Discord) welcomeChannel(s *discordgo.Session, guildID string) string {
	if d.welcomeChannelID != "" {
		return d.welcomeChannelID
	}
	if g, err := s.State.Guild(guildID); err == nil && g.SystemChannelID != "" {
		return g.SystemChannelID
	}
	g, err := s.Guild(guildID)
	if err != nil {
		d.logger.Warn("discord guild lookup failed", "guild", guildID, "err", err)
		return ""
	}
	return g.SystemChannelID
}

func discordMessageTurn(m *discordgo.Message, botID string) (domain.Turn, bool) {
	if m == nil || m.Author == nil {
		return domain.Turn{}, false
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return domain.Turn{}, false
	}
	turn := newMessageTurn("discord", m.ChannelID, m.Author.ID, botID, text)
	turn.ReplyToID = m.ID
	if !m.Timestamp.IsZero() {
		turn.Timestamp = m.Timestamp
	}
	return turn, true
}

func discordMemberTurn(member *discordgo.Member, channelID, botID string) (domain.Turn, bool) {
	if member == nil || member.User == nil {
		return domain.Turn{}, false
	}
	return newMembersTurn("discord", channelID, botID, domain.Member{
		ID:   member.User.ID,
		Name: member.User.Username,
	}), true
}

func (d *Discord) sendMessage(channelID, content string) error {
	var errs []error
	for _, chunk := range splitMessage(content, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			errs = append(errs, fmt.Errorf("discord send to %s: %w", channelID, err))
		}
	}
	return errors.Join(errs...)
}
