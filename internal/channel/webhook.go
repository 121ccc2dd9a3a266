package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const (
	webhookBotID        = "relaybot"
	webhookSignatureHdr = "X-Signature-256"
)

type WebhookConfig struct {
	Port   int
	Path   string // default /webhook
	Secret string // HMAC secret for inbound signatures and outbound callbacks
	// AllowedReplyHosts restricts reply_url hosts; any host when empty.
	// reply_url is refused outright unless Secret is set.
	AllowedReplyHosts []string
	Client            *http.Client
	Logger            *slog.Logger
}

// Webhook accepts turns as signed HTTP POSTs. Replies are POSTed to the
// payload's reply_url when one is given, otherwise only logged.
type Webhook struct {
	port       int
	path       string
	secret     string
	replyHosts []string
	client     *http.Client
	bus        domain.TurnBus
	logger     *slog.Logger
	server     *http.Server
}

// WebhookPayload is the JSON body accepted by the webhook endpoint.
type WebhookPayload struct {
	Type     string          `json:"type"` // message (default) | membersAdded
	ChatID   string          `json:"chat_id"`
	UserID   string          `json:"user_id"`
	Content  string          `json:"content"`
	Members  []domain.Member `json:"members,omitempty"`
	ReplyURL string          `json:"reply_url,omitempty"`
}

// WebhookReply is POSTed to reply_url for every outbound send.
type WebhookReply struct {
	TurnID  string `json:"turn_id"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Webhook{
		port:       cfg.Port,
		path:       cfg.Path,
		secret:     cfg.Secret,
		replyHosts: lowerAll(cfg.AllowedReplyHosts),
		client:     cfg.Client,
		logger:     cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Start(ctx context.Context, bus domain.TurnBus) error {
	w.attach(bus)

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)

	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "port", w.port, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error {
	return nil
}

func (w *Webhook) attach(bus domain.TurnBus) {
	w.bus = bus
	bus.OnOutbound(w.Name(), w.deliver)
}

func (w *Webhook) deliver(ctx context.Context, msg domain.OutboundMessage) error {
	if msg.ReplyURL == "" {
		w.logger.Info("webhook reply (no reply_url)", "chat_id", msg.ChatID, "turn", msg.TurnID, "content_len", len(msg.Content))
		return nil
	}

	body, err := json.Marshal(WebhookReply{TurnID: msg.TurnID, ChatID: msg.ChatID, Content: msg.Content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.ReplyURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook reply request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(webhookSignatureHdr, signHMAC(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook reply: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook reply: status %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get(webhookSignatureHdr)
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if payload.ReplyURL != "" {
		if err := w.checkReplyURL(payload.ReplyURL); err != nil {
			w.logger.Warn("webhook reply_url rejected", "reply_url", payload.ReplyURL, "err", err)
			http.Error(rw, err.Error(), http.StatusForbidden)
			return
		}
	}

	turn, err := webhookTurn(payload)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	w.logger.Info("webhook received",
		"kind", turn.Kind,
		"chat_id", turn.ChatID,
		"user_id", turn.SenderID,
		"content_len", len(turn.Text),
	)
	w.bus.Publish(turn)

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(rw).Encode(map[string]string{
		"status":  "accepted",
		"turn_id": turn.ID,
	})
}

func webhookTurn(p WebhookPayload) (domain.Turn, error) {
	if p.ChatID == "" {
		p.ChatID = "webhook-default"
	}
	if p.UserID == "" {
		p.UserID = "webhook"
	}

	var turn domain.Turn
	switch domain.TurnKind(p.Type) {
	case "", domain.TurnMessage:
		turn = newMessageTurn("webhook", p.ChatID, p.UserID, webhookBotID, p.Content)
	case domain.TurnMembersAdded:
		members := p.Members
		if len(members) == 0 {
			members = []domain.Member{{ID: p.UserID}}
		}
		turn = newMembersTurn("webhook", p.ChatID, webhookBotID, members...)
	default:
		return domain.Turn{}, fmt.Errorf("unsupported type %q", p.Type)
	}
	turn.ReplyURL = p.ReplyURL
	return turn, nil
}

// checkReplyURL allows callbacks only from signed payloads, over http(s), to
// an allowed host.
func (w *Webhook) checkReplyURL(raw string) error {
	if w.secret == "" {
		return errors.New("reply_url requires a signing secret")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("reply_url must be an absolute http(s) url")
	}
	if len(w.replyHosts) > 0 && !slices.Contains(w.replyHosts, strings.ToLower(u.Hostname())) {
		return fmt.Errorf("reply_url host %q is not allowed", u.Hostname())
	}
	return nil
}

func lowerAll(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func signHMAC(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(signHMAC(body, secret)), []byte(signature))
}
