package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The editor page is served from the game server's origin.
		return true
	},
}

type MessageType string

const (
	MessageTypeAnswers   MessageType = "answers"
	MessageTypeRefresh   MessageType = "refresh"
	MessageTypeNavigate  MessageType = "navigate"
	MessageTypeFocus     MessageType = "focus"
	MessageTypeMessage   MessageType = "message"
	MessageTypeButton    MessageType = "button"
	MessageTypeWorkspace MessageType = "workspace"
)

type UpdateMessage struct {
	Type MessageType `json:"type"`
	Data any         `json:"data,omitempty"`
}

// Notice is the payload of a message event.
type Notice struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// ButtonState is the payload of a button event.
type ButtonState struct {
	Spinning bool   `json:"spinning"`
	TextID   string `json:"textId"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg UpdateMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(msg)
}

// Hub fans UI events out to every connected websocket client.
type Hub struct {
	logger *zap.Logger

	clientsMu sync.RWMutex
	clients   map[*client]struct{}
	broadcast chan UpdateMessage

	initialMu sync.RWMutex
	initial   func() []UpdateMessage
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:    logger,
		clients:   make(map[*client]struct{}),
		broadcast: make(chan UpdateMessage, 256),
	}
}

// OnConnect sets the messages sent to every new client before any broadcast.
func (h *Hub) OnConnect(fn func() []UpdateMessage) {
	h.initialMu.Lock()
	defer h.initialMu.Unlock()
	h.initial = fn
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Run delivers broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg UpdateMessage) {
	h.clientsMu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.write(msg); err != nil {
			h.logger.Debug("Error broadcasting to client, dropping it", zap.Error(err))
			h.remove(c)
		}
	}
}

func (h *Hub) remove(c *client) {
	h.clientsMu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.clientsMu.Unlock()
	if ok {
		c.conn.Close()
	}
}

func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.clientsMu.Unlock()
	for c := range clients {
		c.conn.Close()
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msgType MessageType, data any) {
	select {
	case h.broadcast <- UpdateMessage{Type: msgType, Data: data}:
	default:
		h.logger.Warn("Broadcast channel full, dropping message", zap.String("type", string(msgType)))
	}
}

// ServeWS upgrades the request and keeps the client registered until it
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade error", zap.Error(err))
		return
	}
	c := &client{conn: conn}

	h.initialMu.RLock()
	initial := h.initial
	h.initialMu.RUnlock()

	// Hold the write lock while registering so the initial state is the
	// first thing the client sees.
	c.mu.Lock()
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug("WebSocket client connected", zap.Int("clients", count))

	if initial != nil {
		for _, msg := range initial() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("Error sending initial state", zap.Error(err))
				break
			}
		}
	}
	c.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			h.logger.Debug("WebSocket client disconnected", zap.Int("clients", h.ClientCount()))
			return
		}
	}
}

func (h *Hub) RefreshPullRequest(htmlURL string) {
	h.Broadcast(MessageTypeRefresh, map[string]string{"url": htmlURL})
}

func (h *Hub) Navigate(url string) {
	h.Broadcast(MessageTypeNavigate, map[string]string{"url": url})
}

func (h *Hub) FocusAnswers() {
	h.Broadcast(MessageTypeFocus, map[string]string{"view": "answers"})
}

func (h *Hub) SubmitButton(spinning bool, textID string) {
	h.Broadcast(MessageTypeButton, ButtonState{Spinning: spinning, TextID: textID})
}

func (h *Hub) Info(message string) {
	h.Broadcast(MessageTypeMessage, Notice{Level: "info", Text: message})
}

func (h *Hub) Error(message string) {
	h.Broadcast(MessageTypeMessage, Notice{Level: "error", Text: message})
}
