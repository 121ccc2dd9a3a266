package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"relaybot/internal/domain"
)

// Event is a turn lifecycle notification published on the EventBus.
type Event struct {
	Type      string
	Turn      domain.Turn
	Model     string
	Usage     domain.Usage
	Latency   time.Duration
	Outcome   string // ok | api_error | error, for reply.sent and inference.failed
	Err       error
	Timestamp time.Time
}

const (
	OutcomeOK       = "ok"
	OutcomeAPIError = "api_error"
	OutcomeError    = "error"
)

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe bus for internal events.
// Metrics and the usage ledger hang off it so the relay does not know about them.
type EventBus struct {
	handlers map[string][]namedHandler
	mu       sync.RWMutex
	logger   *slog.Logger
	seq      int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers: make(map[string][]namedHandler),
		logger:   logger,
	}
}

// On registers a handler for the given event type.
// Use "*" to listen to all events. Returns the handler ID for unsubscription.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.seq++
	id := eventType + "-" + strconv.Itoa(eb.seq)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its ID.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every matching handler synchronously, in registration order.
// A nil EventBus is valid and drops everything.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	var handlers []namedHandler
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.RUnlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// --- Well-known event types ---
const (
	EventTurnReceived       = "turn.received"
	EventTurnCompleted      = "turn.completed"
	EventReplySent          = "reply.sent"
	EventWelcomeSent        = "welcome.sent"
	EventInferenceCompleted = "inference.completed"
	EventInferenceFailed    = "inference.failed"
)
