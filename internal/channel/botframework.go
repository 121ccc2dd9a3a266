package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/domain"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	botFrameworkScope         = "https://api.botframework.com/.default"
	botFrameworkDefaultTenant = "botframework.com"
	botFrameworkTokenURLFmt   = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"

	activityMessage            = "message"
	activityConversationUpdate = "conversationUpdate"
)

// Activity is the subset of the Bot Framework activity schema the relay reads and writes.
type Activity struct {
	Type         string           `json:"type"`
	ID           string           `json:"id,omitempty"`
	Timestamp    *time.Time       `json:"timestamp,omitempty"`
	ServiceURL   string           `json:"serviceUrl,omitempty"`
	ChannelID    string           `json:"channelId,omitempty"`
	From         *ChannelAccount  `json:"from,omitempty"`
	Conversation *ConversationRef `json:"conversation,omitempty"`
	Recipient    *ChannelAccount  `json:"recipient,omitempty"`
	Text         string           `json:"text,omitempty"`
	Speak        string           `json:"speak,omitempty"`
	ReplyToID    string           `json:"replyToId,omitempty"`
	MembersAdded []ChannelAccount `json:"membersAdded,omitempty"`
}

type ChannelAccount struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ConversationRef struct {
	ID      string `json:"id"`
	IsGroup bool   `json:"isGroup,omitempty"`
}

type BotFrameworkConfig struct {
	Host        string
	Port        int
	Path        string // default /api/messages
	AppID       string
	AppPassword string
	TenantID    string
	TokenURL    string // overrides the Microsoft login endpoint
	Client      *http.Client
	Logger      *slog.Logger
}

// BotFramework receives activities on the messaging endpoint and replies through
// the connector service named by each activity's serviceUrl.
type BotFramework struct {
	addr   string
	path   string
	client *http.Client
	bus    domain.TurnBus
	logger *slog.Logger
	server *http.Server
}

func NewBotFramework(cfg BotFrameworkConfig) *BotFramework {
	if cfg.Path == "" {
		cfg.Path = "/api/messages"
	}
	if cfg.Port == 0 {
		cfg.Port = 3978
	}
	base := cfg.Client
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}

	client := base
	if cfg.AppID != "" && cfg.AppPassword != "" {
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tenant := cfg.TenantID
			if tenant == "" {
				tenant = botFrameworkDefaultTenant
			}
			tokenURL = fmt.Sprintf(botFrameworkTokenURLFmt, tenant)
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.AppID,
			ClientSecret: cfg.AppPassword,
			TokenURL:     tokenURL,
			Scopes:       []string{botFrameworkScope},
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client = cc.Client(ctx)
		client.Timeout = base.Timeout
	}

	return &BotFramework{
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		path:   cfg.Path,
		client: client,
		logger: cfg.Logger,
	}
}

func (b *BotFramework) Name() string { return "botframework" }

func (b *BotFramework) Start(ctx context.Context, bus domain.TurnBus) error {
	b.attach(bus)

	b.server = &http.Server{
		Addr:              b.addr,
		Handler:           b.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	b.logger.Info("bot framework endpoint listening", "addr", b.addr, "path", b.path)

	errCh := make(chan error, 1)
	go func() {
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return b.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("bot framework server: %w", err)
	}
}

func (b *BotFramework) Stop() error {
	return nil
}

func (b *BotFramework) attach(bus domain.TurnBus) {
	b.bus = bus
	bus.OnOutbound(b.Name(), b.reply)
}

func (b *BotFramework) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(b.path, b.handleActivity)
	return mux
}

func (b *BotFramework) handleActivity(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	var act Activity
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&act); err != nil {
		http.Error(rw, "Invalid activity", http.StatusBadRequest)
		return
	}

	turn, ok := activityTurn(act)
	if !ok {
		b.logger.Debug("ignoring activity", "type", act.Type, "id", act.ID)
		rw.WriteHeader(http.StatusOK)
		return
	}

	b.logger.Info("activity received",
		"kind", turn.Kind,
		"conversation", turn.ChatID,
		"from", turn.SenderID,
		"channel_id", act.ChannelID,
	)
	b.bus.Publish(turn)
	rw.WriteHeader(http.StatusAccepted)
}

// activityTurn maps message and conversationUpdate activities to turns.
func activityTurn(act Activity) (domain.Turn, bool) {
	if act.Conversation == nil || act.Conversation.ID == "" {
		return domain.Turn{}, false
	}
	var recipient, sender string
	if act.Recipient != nil {
		recipient = act.Recipient.ID
	}
	if act.From != nil {
		sender = act.From.ID
	}

	var turn domain.Turn
	switch act.Type {
	case activityMessage:
		turn = newMessageTurn("botframework", act.Conversation.ID, sender, recipient, act.Text)
	case activityConversationUpdate:
		if len(act.MembersAdded) == 0 {
			return domain.Turn{}, false
		}
		members := make([]domain.Member, 0, len(act.MembersAdded))
		for _, m := range act.MembersAdded {
			members = append(members, domain.Member{ID: m.ID, Name: m.Name})
		}
		turn = newMembersTurn("botframework", act.Conversation.ID, recipient, members...)
		turn.SenderID = sender
	default:
		return domain.Turn{}, false
	}

	turn.ReplyToID = act.ID
	turn.ServiceURL = act.ServiceURL
	if act.Timestamp != nil {
		turn.Timestamp = *act.Timestamp
	}
	return turn, true
}

// reply posts a message activity to the connector. The text is also set as
// the speak field for voice-enabled channels.
func (b *BotFramework) reply(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.ServiceURL == "" {
		return fmt.Errorf("bot framework reply for %s: missing serviceUrl", msg.ChatID)
	}

	endpoint := strings.TrimRight(msg.ServiceURL, "/") + "/v3/conversations/" + url.PathEscape(msg.ChatID) + "/activities"
	if msg.ReplyToID != "" {
		endpoint += "/" + url.PathEscape(msg.ReplyToID)
	}

	body, err := json.Marshal(Activity{
		Type:         activityMessage,
		Conversation: &ConversationRef{ID: msg.ChatID},
		Text:         msg.Content,
		Speak:        msg.Content,
		ReplyToID:    msg.ReplyToID,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bot framework reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("bot framework reply: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("bot framework reply: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
