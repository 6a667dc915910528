package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"raidboard/internal/session"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

// EventSnapshot is the first frame sent to a new subscriber
const EventSnapshot = "snapshot"

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Allow all origins for development
		// Production deployments should implement stricter origin checking
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades event-feed requests and keeps the subscriptions alive
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> session -> upgrade -> registration)
// prevents invalid connections from consuming resources
type Handler struct {
	registry     *Registry
	sessions     interfaces.SessionReader
	pingInterval time.Duration
	readTimeout  time.Duration
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, sessions interfaces.SessionReader) *Handler {
	return &Handler{
		registry:     registry,
		sessions:     sessions,
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
	}
}

// SetHeartbeat overrides the ping interval and read deadline
func (h *Handler) SetHeartbeat(pingInterval, readTimeout time.Duration) {
	h.pingInterval = pingInterval
	h.readTimeout = readTimeout
}

// HandleWebSocket serves /ws?session_id=...&player_id=...
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	playerID := r.URL.Query().Get("player_id")
	sessionID := r.URL.Query().Get("session_id")

	if playerID == "" || sessionID == "" {
		http.Error(w, "Missing required query parameters: player_id, session_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidPlayerID(playerID) {
		http.Error(w, "Invalid player_id format", http.StatusBadRequest)
		return
	}

	snapshot, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			http.Error(w, "Session not found or ended", http.StatusNotFound)
			return
		}
		http.Error(w, "Session lookup failed", http.StatusInternalServerError)
		return
	}

	// FUNCTIONAL DISCOVERY: Private sessions are only visible to their roster and queue
	if snapshot.Settings.Visibility == types.VisibilityPrivate &&
		snapshot.MemberIndex(playerID) < 0 && snapshot.ApplicantIndex(playerID) < 0 {
		http.Error(w, "Not authorized to watch this session", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn)
	wsConn.Bind(playerID, sessionID)

	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	// RACE CONDITION FIX: the session may have ended between the lookup and the
	// registration, after the hub already released its subscribers. Looking it
	// up again once registered closes that window.
	current, err := h.sessions.GetSession(r.Context(), sessionID)
	if err != nil {
		h.registry.UnregisterConnection(wsConn)
		_ = wsConn.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(time.Second))
		_ = wsConn.Close()
		log.Printf("Feed subscriber turned away, session %s ended: %v", sessionID, err)
		return
	}
	snapshot = current
	log.Printf("Feed subscriber connected: player=%s session=%s", playerID, sessionID)

	// Initial state so the client does not have to race the first event
	if err := wsConn.WriteJSON(&types.Event{
		Type:      EventSnapshot,
		SessionID: sessionID,
		PlayerID:  playerID,
		Session:   snapshot,
		Timestamp: time.Now(),
	}); err != nil {
		log.Printf("Failed to send snapshot to %s: %v", playerID, err)
	}

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat until the client goes away
// TECHNICAL DISCOVERY: The feed is server-to-client only; reads exist to
// process pongs and notice disconnects
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		log.Printf("Feed subscriber disconnected: player=%s session=%s", conn.GetPlayerID(), conn.GetSessionID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.heartbeat(conn.ctx, conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			log.Printf("Ignoring client frame from %s (%d bytes)", conn.GetPlayerID(), len(data))
		}
	}
}

func (h *Handler) heartbeat(ctx context.Context, conn *Connection) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
