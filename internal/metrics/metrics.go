// Package metrics exports relay activity in Prometheus format. Everything is fed
// from the internal EventBus, so the relay itself does not know metrics exist.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/bus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the relay's metric vectors.
type Collector struct {
	turns            *prometheus.CounterVec
	replies          *prometheus.CounterVec
	welcomes         prometheus.Counter
	inferenceLatency *prometheus.HistogramVec
	tokens           *prometheus.CounterVec
	inFlight         prometheus.Gauge
}

// New creates the collector and registers it with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_turns_total",
			Help: "Turns received, by kind.",
		}, []string{"kind"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_replies_total",
			Help: "Replies sent to message turns, by outcome.",
		}, []string{"outcome"}),
		welcomes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relaybot_welcomes_total",
			Help: "Welcome messages sent to added members.",
		}),
		inferenceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaybot_inference_latency_seconds",
			Help:    "Completion request latency in seconds.",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32, 64, 120},
		}, []string{"outcome"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaybot_tokens_total",
			Help: "Tokens reported by the inference service, by type.",
		}, []string{"type"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relaybot_turns_in_flight",
			Help: "Turns currently being handled.",
		}),
	}

	for _, col := range []prometheus.Collector{c.turns, c.replies, c.welcomes, c.inferenceLatency, c.tokens, c.inFlight} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return c, nil
}

// Subscribe wires the collector to the event bus.
func (c *Collector) Subscribe(events *bus.EventBus) {
	events.On(bus.EventTurnReceived, func(e bus.Event) {
		c.turns.WithLabelValues(string(e.Turn.Kind)).Inc()
		c.inFlight.Inc()
	})
	events.On(bus.EventTurnCompleted, func(bus.Event) {
		c.inFlight.Dec()
	})
	events.On(bus.EventReplySent, func(e bus.Event) {
		c.replies.WithLabelValues(e.Outcome).Inc()
	})
	events.On(bus.EventWelcomeSent, func(bus.Event) {
		c.welcomes.Inc()
	})
	events.On(bus.EventInferenceCompleted, func(e bus.Event) {
		c.inferenceLatency.WithLabelValues(bus.OutcomeOK).Observe(e.Latency.Seconds())
		c.tokens.WithLabelValues("prompt").Add(float64(e.Usage.PromptTokens))
		c.tokens.WithLabelValues("completion").Add(float64(e.Usage.CompletionTokens))
	})
	events.On(bus.EventInferenceFailed, func(e bus.Event) {
		c.inferenceLatency.WithLabelValues(e.Outcome).Observe(e.Latency.Seconds())
	})
}

// Handler serves the metrics of gatherer plus a liveness endpoint at /healthz.
func Handler(gatherer prometheus.Gatherer, endpoint string) http.Handler {
	if endpoint == "" {
		endpoint = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve runs the metrics endpoint until ctx is done.
func Serve(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	logger.Info("metrics endpoint listening", "port", port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	}
}
