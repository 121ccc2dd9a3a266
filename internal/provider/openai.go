package provider

import (
	"context"
	"log/slog"
	"time"

	"relaybot/internal/domain"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAI implements domain.Provider for OpenAI-compatible endpoints.
type OpenAI struct {
	client openai.Client
	logger *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIDefaultBaseURL
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithHTTPClient(SharedHTTPClient(cfg.Timeout)),
		option.WithMaxRetries(0),
	)
	return &OpenAI{client: client, logger: cfg.Logger}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Healthy(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return mapOpenAIError(err)
	}
	return nil
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:            openai.ChatModel(req.Model),
		Messages:         msgs,
		Temperature:      openai.Float(req.Sampling.Temperature),
		TopP:             openai.Float(req.Sampling.TopP),
		PresencePenalty:  openai.Float(req.Sampling.PresencePenalty),
		FrequencyPenalty: openai.Float(req.Sampling.FrequencyPenalty),
		MaxTokens:        openai.Int(int64(req.Sampling.MaxTokens)),
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	out := &domain.ChatResponse{
		Model:   resp.Model,
		Latency: time.Since(start),
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, domain.Choice{
			Index:        int(c.Index),
			Role:         string(c.Message.Role),
			Content:      c.Message.Content,
			FinishReason: c.FinishReason,
		})
	}

	o.logger.Debug("openai completion", "choices", len(out.Choices), "latency_ms", out.Latency.Milliseconds())
	return out, nil
}
