package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"relaybot/internal/domain"
	"relaybot/internal/locale"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider records requests and answers with a canned response or error.
type fakeProvider struct {
	mu       sync.Mutex
	requests []domain.ChatRequest
	resp     *domain.ChatResponse
	err      error
	panicMsg string
}

func (f *fakeProvider) Name() string                      { return "fake" }
func (f *fakeProvider) Healthy(ctx context.Context) error { return nil }

func (f *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.resp, f.err
}

func (f *fakeProvider) lastRequest() domain.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func answer(text string) *domain.ChatResponse {
	return &domain.ChatResponse{
		Model: "gpt-35-turbo",
		Choices: []domain.Choice{
			{Index: 0, Role: domain.RoleAssistant, Content: text, FinishReason: "stop"},
		},
		Usage: domain.Usage{PromptTokens: 14, CompletionTokens: 1, TotalTokens: 15},
	}
}

// recordingContext captures sends and interleaves them with continuation calls
// in a single journal so ordering can be asserted.
type recordingContext struct {
	turn    domain.Turn
	sendErr error

	mu      sync.Mutex
	sent    []string
	journal []string
}

func (r *recordingContext) Turn() domain.Turn { return r.turn }

func (r *recordingContext) SendText(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal = append(r.journal, "send")
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingContext) next() (domain.Next, *int) {
	calls := 0
	return func(ctx context.Context) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		calls++
		r.journal = append(r.journal, "next")
		return nil
	}, &calls
}

func messageTurn(text string) domain.Turn {
	return domain.Turn{
		ID:          "turn-1",
		Kind:        domain.TurnMessage,
		Channel:     "test",
		ChatID:      "conv-1",
		SenderID:    "alice",
		RecipientID: "bot",
		Text:        text,
	}
}

func membersTurn(members ...string) domain.Turn {
	t := domain.Turn{
		ID:          "turn-2",
		Kind:        domain.TurnMembersAdded,
		Channel:     "test",
		ChatID:      "conv-1",
		RecipientID: "bot",
	}
	for _, m := range members {
		t.AddedMembers = append(t.AddedMembers, domain.Member{ID: m})
	}
	return t
}

func jaCatalog() *locale.Catalog {
	c, err := locale.New("ja")
	if err != nil {
		panic(err)
	}
	return c
}

func newTestHandler(p domain.Provider, s Settings) *Handler {
	return NewHandler(HandlerConfig{
		Provider: p,
		Settings: s,
		Catalog:  jaCatalog(),
		Logger:   discardLogger(),
	})
}

var errSocketTimeout = errors.New("socket timeout")
