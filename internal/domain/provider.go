package domain

import (
	"context"
	"fmt"
	"time"
)

// Provider is the inference client: one request in, one completion out.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Healthy(ctx context.Context) error
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Sampling holds the fixed generation parameters sent with every request.
type Sampling struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"top_p"`
	PresencePenalty  float64 `json:"presence_penalty"`
	FrequencyPenalty float64 `json:"frequency_penalty"`
	MaxTokens        int     `json:"max_tokens"`
}

type ChatRequest struct {
	Model    string
	Messages []Message
	Sampling Sampling
}

type ChatResponse struct {
	Model   string
	Choices []Choice
	Usage   Usage
	Latency time.Duration
}

type Choice struct {
	Index        int    `json:"index"`
	Role         string `json:"role"`
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ResponseError is a failure that carried an HTTP response from the inference API.
type ResponseError struct {
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("inference api %d: %s", e.StatusCode, e.Body)
}
