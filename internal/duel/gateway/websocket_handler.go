package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordduel/internal/duel"
)

// WebSocketHandler handles WebSocket upgrade requests for duel connections.
// It resolves the player's external identity before the connect event ever
// reaches the coordinator, so the coordinator's loop stays free of lookups.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	coordinator       *duel.Coordinator
	users             duel.UserStore // nil allows unresolved identities (dev mode)
	lookupTimeout     time.Duration
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager, coordinator *duel.Coordinator, users duel.UserStore) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		coordinator:       coordinator,
		users:             users,
		lookupTimeout:     5 * time.Second,
	}
}

// HandleDuelConnection upgrades the connection, resolves the name query
// parameter against the user store, and hands the channel to the
// coordinator. Identity failures are rejected over the socket and closed,
// matching how the client is told about a full session.
func (h *WebSocketHandler) HandleDuelConnection(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")

	conn, err := h.connectionManager.Upgrade(w, r)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	if name == "" {
		h.reject(conn, "Player name is required.")
		return
	}

	identity := duel.Identity{Username: name}
	if h.users != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.lookupTimeout)
		user, err := h.users.FindUserByExternalName(ctx, name)
		cancel()
		if err != nil {
			log.Error().Err(err).Str("name", name).Msg("user lookup failed")
			h.reject(conn, "Internal server error.")
			return
		}
		if user == nil {
			log.Info().Str("name", name).Msg("rejecting connection, user not found")
			h.reject(conn, "User not found.")
			return
		}
		identity.UserID = user.ID
	}

	h.coordinator.HandleConnect(conn, identity)
}

func (h *WebSocketHandler) reject(conn *Connection, message string) {
	ev, err := duel.NewEvent(duel.EventTypeError, duel.ErrorPayload{Message: message})
	if err == nil {
		if err := conn.Send(ev); err != nil {
			log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to send rejection")
		}
	}
	// Give the write pump a moment to flush before tearing down.
	time.AfterFunc(100*time.Millisecond, func() { conn.Close() })
}

// HandleSessionStats exposes a snapshot of the coordinator plus connection
// counts, mostly for debugging and tests.
func (h *WebSocketHandler) HandleSessionStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snap, err := h.coordinator.GetSnapshot(ctx)
	if err != nil {
		http.Error(w, "coordinator unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"session":     snap,
		"connections": h.connectionManager.ConnectionCount(),
	})
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/duel", h.HandleDuelConnection)
	mux.HandleFunc("/ws/stats", h.HandleSessionStats)
}
