package provider

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"relaybot/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// Azure implements domain.Provider for Azure OpenAI chat deployments.
//
// The request body carries the configured model name while the URL carries the
// deployment, so greetings and logs can show a human model name that differs
// from the deployment id.
type Azure struct {
	client     *openai.Client
	deployment string
	logger     *slog.Logger
}

type AzureConfig struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string // go-openai default when empty
	Timeout    time.Duration
	Logger     *slog.Logger
}

func NewAzure(cfg AzureConfig) *Azure {
	oc := openai.DefaultAzureConfig(cfg.APIKey, strings.TrimRight(cfg.Endpoint, "/"))
	if cfg.APIVersion != "" {
		oc.APIVersion = cfg.APIVersion
	}
	deployment := cfg.Deployment
	oc.AzureModelMapperFunc = func(model string) string {
		if deployment == "" {
			return model
		}
		return deployment
	}
	oc.HTTPClient = SharedHTTPClient(cfg.Timeout)

	return &Azure{
		client:     openai.NewClientWithConfig(oc),
		deployment: deployment,
		logger:     cfg.Logger,
	}
}

func (a *Azure) Name() string { return "azure" }

func (a *Azure) Healthy(ctx context.Context) error {
	if _, err := a.client.ListModels(ctx); err != nil {
		return mapAzureError(err)
	}
	return nil
}

func (a *Azure) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	body := openai.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         msgs,
		Temperature:      float32(req.Sampling.Temperature),
		TopP:             float32(req.Sampling.TopP),
		PresencePenalty:  float32(req.Sampling.PresencePenalty),
		FrequencyPenalty: float32(req.Sampling.FrequencyPenalty),
		MaxTokens:        req.Sampling.MaxTokens,
	}

	start := time.Now()
	resp, err := a.client.CreateChatCompletion(ctx, body)
	if err != nil {
		return nil, mapAzureError(err)
	}

	out := &domain.ChatResponse{
		Model:   resp.Model,
		Latency: time.Since(start),
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, domain.Choice{
			Index:        c.Index,
			Role:         c.Message.Role,
			Content:      c.Message.Content,
			FinishReason: string(c.FinishReason),
		})
	}

	a.logger.Debug("azure completion",
		"deployment", a.deployment,
		"choices", len(out.Choices),
		"latency_ms", out.Latency.Milliseconds(),
	)
	return out, nil
}
