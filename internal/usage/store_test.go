package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/domain"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "nested", "usage.db"), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_RecordAndTotals(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	entries := []Entry{
		{TurnID: "a", Channel: "cli", ConversationID: "c1", Model: "m", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		{TurnID: "b", Channel: "cli", ConversationID: "c1", Model: "m", PromptTokens: 20, CompletionTokens: 2, TotalTokens: 22},
		{TurnID: "c", Channel: "slack", ConversationID: "c2", Model: "m", Outcome: bus.OutcomeAPIError},
	}
	for _, e := range entries {
		if err := l.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := l.Totals(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if all.Turns != 3 || all.Failed != 1 || all.TotalTokens != 37 {
		t.Errorf("unexpected totals: %+v", all)
	}

	c1, err := l.Totals(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c1.Turns != 2 || c1.PromptTokens != 30 || c1.CompletionTokens != 7 {
		t.Errorf("unexpected c1 totals: %+v", c1)
	}

	none, err := l.Totals(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if none.Turns != 0 || none.TotalTokens != 0 {
		t.Errorf("expected empty totals, got %+v", none)
	}
}

func TestLedger_Recent(t *testing.T) {
	l := openLedger(t)
	ctx := context.Background()

	for i, id := range []string{"first", "second", "third"} {
		err := l.Record(ctx, Entry{
			TurnID:         id,
			Channel:        "cli",
			ConversationID: "direct",
			Latency:        time.Duration(i+1) * 100 * time.Millisecond,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	recent, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[0].TurnID != "third" || recent[1].TurnID != "second" {
		t.Errorf("expected newest first, got %s, %s", recent[0].TurnID, recent[1].TurnID)
	}
	if recent[0].Latency != 300*time.Millisecond {
		t.Errorf("expected 300ms latency, got %s", recent[0].Latency)
	}
	if recent[0].Outcome != bus.OutcomeOK {
		t.Errorf("expected default outcome ok, got %s", recent[0].Outcome)
	}
}

func TestLedger_SubscribeRecordsInferenceEvents(t *testing.T) {
	l := openLedger(t)
	events := bus.NewEventBus(testLogger())
	l.Subscribe(events)

	turn := domain.Turn{ID: "t1", Channel: "botframework", ChatID: "conv-1"}
	events.Emit(bus.Event{
		Type:    bus.EventInferenceCompleted,
		Turn:    turn,
		Model:   "gpt-35-turbo (version 0301)",
		Usage:   domain.Usage{PromptTokens: 14, CompletionTokens: 1, TotalTokens: 15},
		Latency: 800 * time.Millisecond,
	})
	events.Emit(bus.Event{
		Type:    bus.EventInferenceFailed,
		Turn:    turn,
		Outcome: bus.OutcomeError,
		Err:     errors.New("socket timeout"),
	})
	events.Emit(bus.Event{Type: bus.EventReplySent, Turn: turn, Outcome: bus.OutcomeOK})

	totals, err := l.Totals(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if totals.Turns != 2 {
		t.Errorf("expected 2 recorded attempts, got %d", totals.Turns)
	}
	if totals.Failed != 1 {
		t.Errorf("expected 1 failure, got %d", totals.Failed)
	}
	if totals.TotalTokens != 15 {
		t.Errorf("expected 15 tokens, got %d", totals.TotalTokens)
	}
}
