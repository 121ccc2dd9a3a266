package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"relaybot/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const websocketBotID = "relaybot"

type WSConfig struct {
	Port   int
	Path   string // default /ws
	Logger *slog.Logger
}

// WebSocketChannel serves a JSON chat protocol over WebSocket. Opening a
// connection counts as the client joining its chat.
type WebSocketChannel struct {
	port   int
	path   string
	bus    domain.TurnBus
	logger *slog.Logger
	server *http.Server

	mu      sync.RWMutex
	clients map[string]*wsClient
}

type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// WSMessage is the wire format in both directions.
type WSMessage struct {
	Type    string `json:"type"` // message | status
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8081
	}
	return &WebSocketChannel{
		port:    cfg.Port,
		path:    cfg.Path,
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

func (ws *WebSocketChannel) Start(ctx context.Context, bus domain.TurnBus) error {
	ws.attach(bus)

	ws.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", ws.port),
		Handler:           ws.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ws.logger.Info("websocket server starting", "port", ws.port, "path", ws.path)

	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ws.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (ws *WebSocketChannel) Stop() error {
	ws.closeAllClients()
	return nil
}

func (ws *WebSocketChannel) attach(bus domain.TurnBus) {
	ws.bus = bus
	bus.OnOutbound(ws.Name(), func(ctx context.Context, msg domain.OutboundMessage) error {
		return ws.sendToChat(msg.ChatID, WSMessage{Type: "message", Content: msg.Content, ChatID: msg.ChatID})
	})
}

func (ws *WebSocketChannel) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, ws.handleUpgrade)
	return mux
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = "ws-" + uuid.NewString()
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "ws-user-" + uuid.NewString()[:8]
	}

	client := &wsClient{conn: conn, chatID: chatID}
	clientID := fmt.Sprintf("%s-%p", chatID, conn)
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()

	ws.logger.Info("websocket client connected", "client_id", clientID, "chat_id", chatID, "user_id", userID)

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	if err := client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID, UserID: userID}); err != nil {
		return
	}
	ws.bus.Publish(newMembersTurn(ws.Name(), chatID, websocketBotID, domain.Member{ID: userID}))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ws.logger.Warn("invalid websocket message", "err", err)
			continue
		}
		if msg.Type != "message" || msg.Content == "" {
			continue
		}
		sender := msg.UserID
		if sender == "" {
			sender = userID
		}
		ws.bus.Publish(newMessageTurn(ws.Name(), chatID, sender, websocketBotID, msg.Content))
	}
}

func (ws *WebSocketChannel) sendToChat(chatID string, msg WSMessage) error {
	ws.mu.RLock()
	var targets []*wsClient
	for _, c := range ws.clients {
		if c.chatID == chatID {
			targets = append(targets, c)
		}
	}
	ws.mu.RUnlock()

	if len(targets) == 0 {
		return fmt.Errorf("no websocket client for chat %q", chatID)
	}
	var errs []error
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *wsClient) send(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
