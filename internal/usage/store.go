// Package usage keeps an operator-side ledger of token usage per turn in SQLite.
// Nothing in it is read back by the relay; replies never depend on history.
package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"relaybot/internal/bus"

	_ "modernc.org/sqlite"
)

const recordTimeout = 5 * time.Second

// Entry is one completion attempt.
type Entry struct {
	TurnID           string
	Channel          string
	ConversationID   string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Latency          time.Duration
	Outcome          string
	CreatedAt        time.Time
}

// Totals aggregates entries.
type Totals struct {
	Turns            int
	Failed           int
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the ledger database at dbPath.
func Open(dbPath string, logger *slog.Logger) (*Ledger, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Ledger{db: db, logger: logger}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Outcome == "" {
		e.Outcome = bus.OutcomeOK
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO turn_usage
		 (turn_id, channel, conversation_id, model, prompt_tokens, completion_tokens, total_tokens, outcome, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.TurnID, e.Channel, e.ConversationID, e.Model,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens,
		e.Outcome, e.Latency.Milliseconds(), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// Totals sums the ledger, optionally restricted to one conversation.
func (l *Ledger) Totals(ctx context.Context, conversationID string) (Totals, error) {
	query := `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN outcome != 'ok' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(prompt_tokens), 0),
		COALESCE(SUM(completion_tokens), 0),
		COALESCE(SUM(total_tokens), 0)
		FROM turn_usage`
	var args []any
	if conversationID != "" {
		query += " WHERE conversation_id = ?"
		args = append(args, conversationID)
	}

	var t Totals
	err := l.db.QueryRowContext(ctx, query, args...).Scan(
		&t.Turns, &t.Failed, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens,
	)
	if err != nil {
		return Totals{}, fmt.Errorf("usage totals: %w", err)
	}
	return t, nil
}

// Recent returns the latest entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT turn_id, channel, conversation_id, model, prompt_tokens, completion_tokens,
		        total_tokens, outcome, latency_ms, created_at
		 FROM turn_usage ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent usage: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var latencyMS int64
		if err := rows.Scan(&e.TurnID, &e.Channel, &e.ConversationID, &e.Model,
			&e.PromptTokens, &e.CompletionTokens, &e.TotalTokens,
			&e.Outcome, &latencyMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// Subscribe records every completion attempt published on the event bus.
func (l *Ledger) Subscribe(events *bus.EventBus) {
	record := func(e bus.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		outcome := e.Outcome
		if e.Type == bus.EventInferenceCompleted {
			outcome = bus.OutcomeOK
		}
		err := l.Record(ctx, Entry{
			TurnID:           e.Turn.ID,
			Channel:          e.Turn.Channel,
			ConversationID:   e.Turn.ChatID,
			Model:            e.Model,
			PromptTokens:     e.Usage.PromptTokens,
			CompletionTokens: e.Usage.CompletionTokens,
			TotalTokens:      e.Usage.TotalTokens,
			Latency:          e.Latency,
			Outcome:          outcome,
			CreatedAt:        e.Timestamp,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Warn("usage ledger write failed", "turn", e.Turn.ID, "err", err)
		}
	}
	events.On(bus.EventInferenceCompleted, record)
	events.On(bus.EventInferenceFailed, record)
}
