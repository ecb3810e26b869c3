// Package webchat is a WebSocket transport adapter. Each connected session
// acts as a sender, which lets the router run end to end without a live
// WhatsApp link.
package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/IanOtollo/whatsapp-ai-bot/internal/transport"
	"github.com/IanOtollo/whatsapp-ai-bot/pkg/logging"
)

// Publisher enqueues inbound message events for worker processing.
type Publisher interface {
	EnqueueInbound(ctx context.Context, msg transport.Message) error
}

// Handler manages web chat connections and messages.
type Handler struct {
	publisher Publisher
	logger    *logging.Logger

	mu       sync.RWMutex
	sessions map[string]*wsConn // sender -> active connection
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writes
}

// InboundFrame is what the chat client sends.
type InboundFrame struct {
	Type      string `json:"type"` // "message", "ping"
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
}

// OutboundFrame is what we send to the chat client.
type OutboundFrame struct {
	Type      string `json:"type"` // "message", "session", "pong", "error"
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// NewHandler creates a web chat handler.
func NewHandler(publisher Publisher, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		publisher: publisher,
		logger:    logger,
		sessions:  make(map[string]*wsConn),
	}
}

// SenderID builds the canonical sender identifier for a webchat session.
func SenderID(sessionID string) string {
	return fmt.Sprintf("%s@webchat", sessionID)
}

func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket upgrades to WebSocket and handles real-time messaging.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Handler(func(conn *websocket.Conn) {
		h.serveWS(conn, r)
	}).ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	sender := SenderID(sessionID)

	ws := &wsConn{conn: conn}
	h.register(sender, ws)
	defer h.unregister(sender, ws)

	h.logger.Info("webchat session connected", "sender", sender)
	_ = ws.write(OutboundFrame{Type: "session", SessionID: sessionID})

	for {
		var frame InboundFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			h.logger.Info("webchat session closed", "sender", sender, "error", err)
			return
		}

		switch frame.Type {
		case "ping":
			_ = ws.write(OutboundFrame{Type: "pong"})
		case "message":
			msg := transport.Message{Sender: sender, Body: frame.Text}
			if err := h.publisher.EnqueueInbound(r.Context(), msg); err != nil {
				h.logger.Error("failed to enqueue webchat message", "sender", sender, "error", err)
				_ = ws.write(OutboundFrame{Type: "error", Text: "message not accepted, try again"})
			}
		default:
			_ = ws.write(OutboundFrame{Type: "error", Text: "unknown frame type"})
		}
	}
}

// SendMessage implements transport.Messenger by routing to the live session.
func (h *Handler) SendMessage(_ context.Context, to, body string) error {
	h.mu.RLock()
	ws, ok := h.sessions[to]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("webchat: no active session for %s", to)
	}

	return ws.write(OutboundFrame{
		Type:      "message",
		Text:      body,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) register(sender string, ws *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.sessions[sender]; ok {
		_ = old.conn.Close()
	}
	h.sessions[sender] = ws
}

func (h *Handler) unregister(sender string, ws *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[sender] == ws {
		delete(h.sessions, sender)
	}
}

func (c *wsConn) write(frame OutboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return websocket.Message.Send(c.conn, string(data))
}
