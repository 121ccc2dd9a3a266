package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// DefaultSampling is sent with every completion request.
var DefaultSampling = domain.Sampling{
	Temperature:      1,
	TopP:             0.9,
	PresencePenalty:  0,
	FrequencyPenalty: 1,
	MaxTokens:        512,
}

// ErrNoChoices is reported when the provider answers with an empty choice list.
var ErrNoChoices = errors.New("no completion choices returned")

// Settings is the process-wide configuration the handler runs with.
type Settings struct {
	Model        string
	SystemPrompt string
	// IncludeSystemPrompt prepends SystemPrompt as a system message. Off by default.
	IncludeSystemPrompt bool
	BotName             string
}

// Messages renders the user-facing reply templates.
type Messages interface {
	Welcome(bot, model string) string
	Error(detail string) string
}

type HandlerConfig struct {
	Provider domain.Provider
	Settings Settings
	Catalog  Messages
	Events   *bus.EventBus // optional
	Logger   *slog.Logger
}

// Handler turns message turns into completion requests and greets new members.
type Handler struct {
	provider domain.Provider
	settings Settings
	catalog  Messages
	events   *bus.EventBus
	logger   *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	s := cfg.Settings
	if s.Model == "" {
		s.Model = config.DefaultModelName
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = config.DefaultSystemPrompt
	}
	if s.BotName == "" {
		s.BotName = config.DefaultBotName
	}
	return &Handler{
		provider: cfg.Provider,
		settings: s,
		catalog:  cfg.Catalog,
		events:   cfg.Events,
		logger:   cfg.Logger,
	}
}

// Settings returns the effective settings after defaulting.
func (h *Handler) Settings() Settings { return h.settings }

// OnMessage answers a message turn with exactly one reply and then calls next,
// on every exit path.
func (h *Handler) OnMessage(ctx context.Context, tc domain.TurnContext, next domain.Next) (err error) {
	turn := tc.Turn()
	var reply string
	var inference *bus.Event
	outcome := bus.OutcomeOK

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("message handler panic", "turn", turn.ID, "panic", r)
			reply = h.catalog.Error(fmt.Sprint(r))
			outcome = bus.OutcomeError
		}

		var sendErr error
		if sendErr = tc.SendText(ctx, reply); sendErr != nil {
			h.logger.Error("send reply failed", "turn", turn.ID, "channel", turn.Channel, "error", sendErr)
			sendErr = fmt.Errorf("send reply: %w", sendErr)
		} else {
			h.events.Emit(bus.Event{Type: bus.EventReplySent, Turn: turn, Outcome: outcome})
		}
		// Inference events are emitted only after the reply has been sent.
		if inference != nil {
			h.events.Emit(*inference)
		}
		err = errors.Join(sendErr, next(ctx))
	}()

	req := h.buildRequest(turn.Text)
	start := time.Now()
	resp, callErr := h.provider.Chat(ctx, req)
	if callErr == nil && (resp == nil || len(resp.Choices) == 0) {
		callErr = ErrNoChoices
	}
	latency := time.Since(start)

	if callErr != nil {
		reply, outcome = h.failureReply(turn, callErr)
		inference = &bus.Event{
			Type:    bus.EventInferenceFailed,
			Turn:    turn,
			Model:   req.Model,
			Latency: latency,
			Outcome: outcome,
			Err:     callErr,
		}
		return nil
	}

	first := resp.Choices[0]
	reply = first.Content

	h.logger.Info("completion received",
		"turn", turn.ID,
		"index", first.Index,
		"role", first.Role,
		"finish_reason", first.FinishReason,
		"content", first.Content,
	)
	h.logger.Info("token usage",
		"turn", turn.ID,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
	)
	h.logger.Info("reply", "turn", turn.ID, "text", flatten(reply))

	inference = &bus.Event{
		Type:    bus.EventInferenceCompleted,
		Turn:    turn,
		Model:   req.Model,
		Usage:   resp.Usage,
		Latency: latency,
		Outcome: bus.OutcomeOK,
	}
	return nil
}

// OnMembersAdded sends one welcome per added member other than the bot itself,
// then calls next once.
func (h *Handler) OnMembersAdded(ctx context.Context, tc domain.TurnContext, next domain.Next) error {
	turn := tc.Turn()
	welcome := h.catalog.Welcome(h.settings.BotName, h.settings.Model)

	var errs []error
	for _, m := range turn.AddedMembers {
		if m.ID == turn.RecipientID {
			continue
		}
		if err := tc.SendText(ctx, welcome); err != nil {
			h.logger.Error("send welcome failed", "turn", turn.ID, "member", m.ID, "error", err)
			errs = append(errs, fmt.Errorf("welcome %s: %w", m.ID, err))
			continue
		}
		h.logger.Info("welcomed member", "turn", turn.ID, "member", m.ID)
		h.events.Emit(bus.Event{Type: bus.EventWelcomeSent, Turn: turn})
	}

	errs = append(errs, next(ctx))
	return errors.Join(errs...)
}

func (h *Handler) buildRequest(text string) domain.ChatRequest {
	msgs := make([]domain.Message, 0, 2)
	if h.settings.IncludeSystemPrompt {
		msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: h.settings.SystemPrompt})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: text})

	return domain.ChatRequest{
		Model:    h.settings.Model,
		Messages: msgs,
		Sampling: DefaultSampling,
	}
}

func (h *Handler) failureReply(turn domain.Turn, err error) (string, string) {
	var respErr *domain.ResponseError
	if errors.As(err, &respErr) {
		h.logger.Error("inference api error",
			"turn", turn.ID,
			"status", respErr.StatusCode,
			"body", respErr.Body,
		)
		return h.catalog.Error(respErr.Body), bus.OutcomeAPIError
	}

	h.logger.Error("inference failed", "turn", turn.ID, "error", err)
	return h.catalog.Error(err.Error()), bus.OutcomeError
}

var lineBreaks = strings.NewReplacer("\r\n", "", "\n", "", "\r", "")

func flatten(s string) string {
	return lineBreaks.Replace(s)
}
