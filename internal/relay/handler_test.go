package relay

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"relaybot/internal/bus"
	"relaybot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnMessageRepliesWithFirstChoice(t *testing.T) {
	p := &fakeProvider{resp: answer("Paris")}
	h := newTestHandler(p, Settings{Model: "gpt-35-turbo (version 0301)"})
	tc := &recordingContext{turn: messageTurn("What is the capital of France?")}
	next, calls := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))

	assert.Equal(t, []string{"Paris"}, tc.sent)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"send", "next"}, tc.journal)

	req := p.lastRequest()
	assert.Equal(t, "gpt-35-turbo (version 0301)", req.Model)
	assert.Equal(t, DefaultSampling, req.Sampling)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "What is the capital of France?"}, req.Messages[0])
}

func TestDefaultSampling(t *testing.T) {
	assert.Equal(t, domain.Sampling{
		Temperature:      1,
		TopP:             0.9,
		PresencePenalty:  0,
		FrequencyPenalty: 1,
		MaxTokens:        512,
	}, DefaultSampling)
}

func TestOnMessageUsesConfiguredModel(t *testing.T) {
	p := &fakeProvider{resp: answer("ok")}
	h := newTestHandler(p, Settings{Model: "gpt4o"})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, _ := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))
	assert.Equal(t, "gpt4o", p.lastRequest().Model)
}

func TestOnMessageDefaultsModel(t *testing.T) {
	p := &fakeProvider{resp: answer("ok")}
	h := newTestHandler(p, Settings{})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, _ := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))
	assert.Equal(t, "gpt-35-turbo (version 0301)", p.lastRequest().Model)
}

func TestOnMessageSystemPromptNotSentByDefault(t *testing.T) {
	p := &fakeProvider{resp: answer("ok")}
	h := newTestHandler(p, Settings{SystemPrompt: "be terse"})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, _ := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))
	msgs := p.lastRequest().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "be terse", h.Settings().SystemPrompt)
}

func TestOnMessageIncludeSystemPrompt(t *testing.T) {
	p := &fakeProvider{resp: answer("ok")}
	h := newTestHandler(p, Settings{IncludeSystemPrompt: true})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, _ := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))
	msgs := p.lastRequest().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.Message{
		Role:    domain.RoleSystem,
		Content: "You are an AI assistant that helps people find information.",
	}, msgs[0])
	assert.Equal(t, domain.Message{Role: domain.RoleUser, Content: "hi"}, msgs[1])
}

func TestOnMessageStructuredError(t *testing.T) {
	p := &fakeProvider{err: &domain.ResponseError{StatusCode: http.StatusTooManyRequests, Body: "rate limited"}}
	h := newTestHandler(p, Settings{})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, calls := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))

	require.Len(t, tc.sent, 1)
	assert.Equal(t, "エラーが発生しました。もう1回試してみてね。詳細：rate limited", tc.sent[0])
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"send", "next"}, tc.journal)
}

func TestOnMessageWrappedStructuredError(t *testing.T) {
	wrapped := errors.Join(errors.New("post failed"), &domain.ResponseError{StatusCode: 500, Body: "boom"})
	h := newTestHandler(&fakeProvider{err: wrapped}, Settings{})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, _ := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))
	assert.Equal(t, []string{jaCatalog().Error("boom")}, tc.sent)
}

func TestOnMessageUnstructuredError(t *testing.T) {
	h := newTestHandler(&fakeProvider{err: errSocketTimeout}, Settings{})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, calls := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))

	assert.Equal(t, []string{"エラーが発生しました。もう1回試してみてね。詳細：socket timeout"}, tc.sent)
	assert.Equal(t, 1, *calls)
}

func TestOnMessageNoChoices(t *testing.T) {
	h := newTestHandler(&fakeProvider{resp: &domain.ChatResponse{}}, Settings{})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, calls := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))

	assert.Equal(t, []string{jaCatalog().Error(ErrNoChoices.Error())}, tc.sent)
	assert.Equal(t, 1, *calls)
}

func TestOnMessageProviderPanicStillReplies(t *testing.T) {
	h := newTestHandler(&fakeProvider{panicMsg: "nil map"}, Settings{})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, calls := tc.next()

	require.NoError(t, h.OnMessage(context.Background(), tc, next))

	assert.Equal(t, []string{jaCatalog().Error("nil map")}, tc.sent)
	assert.Equal(t, 1, *calls)
}

func TestOnMessageSendFailureStillCallsNext(t *testing.T) {
	sendErr := errors.New("connector unavailable")
	h := newTestHandler(&fakeProvider{resp: answer("Paris")}, Settings{})
	tc := &recordingContext{turn: messageTurn("hi"), sendErr: sendErr}
	next, calls := tc.next()

	err := h.OnMessage(context.Background(), tc, next)
	require.Error(t, err)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"send", "next"}, tc.journal)
}

func TestOnMessageEmitsEvents(t *testing.T) {
	events := bus.NewEventBus(discardLogger())
	var got []bus.Event
	events.On("*", func(e bus.Event) { got = append(got, e) })

	h := NewHandler(HandlerConfig{
		Provider: &fakeProvider{resp: answer("Paris")},
		Catalog:  jaCatalog(),
		Events:   events,
		Logger:   discardLogger(),
	})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, _ := tc.next()
	require.NoError(t, h.OnMessage(context.Background(), tc, next))

	require.Len(t, got, 2)
	assert.Equal(t, bus.EventReplySent, got[0].Type)
	assert.Equal(t, bus.OutcomeOK, got[0].Outcome)
	assert.Equal(t, bus.EventInferenceCompleted, got[1].Type)
	assert.Equal(t, 15, got[1].Usage.TotalTokens)
}

func TestOnMessageInferenceSubscribersRunAfterReply(t *testing.T) {
	for name, p := range map[string]*fakeProvider{
		"completed": {resp: answer("Paris")},
		"failed":    {err: errors.New("dial tcp: timeout")},
	} {
		t.Run(name, func(t *testing.T) {
			tc := &recordingContext{turn: messageTurn("hi")}
			events := bus.NewEventBus(discardLogger())
			sink := func(e bus.Event) {
				tc.mu.Lock()
				defer tc.mu.Unlock()
				tc.journal = append(tc.journal, e.Type)
			}
			events.On(bus.EventInferenceCompleted, sink)
			events.On(bus.EventInferenceFailed, sink)

			h := NewHandler(HandlerConfig{
				Provider: p,
				Catalog:  jaCatalog(),
				Events:   events,
				Logger:   discardLogger(),
			})
			next, _ := tc.next()
			require.NoError(t, h.OnMessage(context.Background(), tc, next))

			require.Len(t, tc.journal, 3)
			assert.Equal(t, "send", tc.journal[0])
			assert.Contains(t, []string{bus.EventInferenceCompleted, bus.EventInferenceFailed}, tc.journal[1])
			assert.Equal(t, "next", tc.journal[2])
		})
	}
}

func TestOnMessageEmitsFailureOutcome(t *testing.T) {
	events := bus.NewEventBus(discardLogger())
	var outcomes []string
	events.On(bus.EventReplySent, func(e bus.Event) { outcomes = append(outcomes, e.Outcome) })

	h := NewHandler(HandlerConfig{
		Provider: &fakeProvider{err: &domain.ResponseError{StatusCode: 429, Body: "rate limited"}},
		Catalog:  jaCatalog(),
		Events:   events,
		Logger:   discardLogger(),
	})
	tc := &recordingContext{turn: messageTurn("hi")}
	next, _ := tc.next()
	require.NoError(t, h.OnMessage(context.Background(), tc, next))

	assert.Equal(t, []string{bus.OutcomeAPIError}, outcomes)
}

func TestOnMembersAddedSkipsRecipient(t *testing.T) {
	h := newTestHandler(&fakeProvider{}, Settings{})
	tc := &recordingContext{turn: membersTurn("bot", "alice")}
	next, calls := tc.next()

	require.NoError(t, h.OnMembersAdded(context.Background(), tc, next))

	assert.Equal(t, []string{"こんにちは。my-chat-bot - gpt-35-turbo (version 0301)です。"}, tc.sent)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"send", "next"}, tc.journal)
}

func TestOnMembersAddedOnePerMember(t *testing.T) {
	h := newTestHandler(&fakeProvider{}, Settings{Model: "gpt4o", BotName: "helper"})
	tc := &recordingContext{turn: membersTurn("alice", "bot", "carol")}
	next, calls := tc.next()

	require.NoError(t, h.OnMembersAdded(context.Background(), tc, next))

	welcome := "こんにちは。helper - gpt4oです。"
	assert.Equal(t, []string{welcome, welcome}, tc.sent)
	assert.Equal(t, 1, *calls)
}

func TestOnMembersAddedEmpty(t *testing.T) {
	p := &fakeProvider{}
	h := newTestHandler(p, Settings{})
	tc := &recordingContext{turn: membersTurn()}
	next, calls := tc.next()

	require.NoError(t, h.OnMembersAdded(context.Background(), tc, next))

	assert.Empty(t, tc.sent)
	assert.Equal(t, 1, *calls)
	assert.Empty(t, p.requests)
}

func TestOnMembersAddedSendFailure(t *testing.T) {
	sendErr := errors.New("forbidden")
	h := newTestHandler(&fakeProvider{}, Settings{})
	tc := &recordingContext{turn: membersTurn("alice", "carol"), sendErr: sendErr}
	next, calls := tc.next()

	err := h.OnMembersAdded(context.Background(), tc, next)
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []string{"send", "send", "next"}, tc.journal)
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "line1line2line3line4", flatten("line1\r\nline2\nline3\rline4"))
}
