package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"relaybot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel for Slack using Socket Mode.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	bus      domain.TurnBus
	logger   *slog.Logger
	botUID   string
}

type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects via Socket Mode and blocks until ctx is done.
func (s *Slack) Start(ctx context.Context, bus domain.TurnBus) error {
	s.bus = bus

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)

	bus.OnOutbound(s.Name(), func(ctx context.Context, msg domain.OutboundMessage) error {
		return s.sendMessage(ctx, msg.ChatID, msg.Content)
	})

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				if turn, ok := slackTurn(eventsAPIEvent, s.botUID); ok {
					s.logger.Info("slack turn received",
						"kind", turn.Kind,
						"channel", turn.ChatID,
						"sender", turn.SenderID,
					)
					bus.Publish(turn)
				}
			default:
				// Unacknowledged envelopes make Socket Mode redeliver and eventually disconnect.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error {
	return nil
}

// slackTurn maps plain messages, app mentions and member_joined_channel events.
func slackTurn(event slackevents.EventsAPIEvent, botUID string) (domain.Turn, bool) {
	if event.Type != slackevents.CallbackEvent {
		return domain.Turn{}, false
	}

	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == botUID || ev.User == "" || ev.SubType != "" || ev.BotID != "" {
			return domain.Turn{}, false
		}
		// Slack also delivers an app_mention for these; that event owns the turn.
		if botUID != "" && strings.Contains(ev.Text, "<@"+botUID+">") {
			return domain.Turn{}, false
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" {
			return domain.Turn{}, false
		}
		turn := newMessageTurn("slack", ev.Channel, ev.User, botUID, text)
		turn.ReplyToID = ev.TimeStamp
		return turn, true

	case *slackevents.AppMentionEvent:
		text := ev.Text
		if idx := strings.Index(text, ">"); idx >= 0 {
			text = strings.TrimSpace(text[idx+1:])
		}
		if text == "" {
			return domain.Turn{}, false
		}
		turn := newMessageTurn("slack", ev.Channel, ev.User, botUID, text)
		turn.ReplyToID = ev.TimeStamp
		return turn, true

	case *slackevents.MemberJoinedChannelEvent:
		return newMembersTurn("slack", ev.Channel, botUID, domain.Member{ID: ev.User}), true
	}
	return domain.Turn{}, false
}

func (s *Slack) sendMessage(ctx context.Context, channelID, content string) error {
	var errs []error
	for _, chunk := range splitMessage(content, slackMaxMsgLen) {
		_, _, err := s.client.PostMessageContext(ctx, channelID, slack.MsgOptionText(chunk, false))
		if err != nil {
			errs = append(errs, fmt.Errorf("slack send to %s: %w", channelID, err))
		}
	}
	return errors.Join(errs...)
}
