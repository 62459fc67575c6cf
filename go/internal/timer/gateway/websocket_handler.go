package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/cuecard/go/internal/roomid"
	"github.com/mcdev12/cuecard/go/internal/timer/store"
)

// WebSocketHandler handles WebSocket upgrade requests for session viewers and
// browser controllers.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	store             store.SessionReader
}

func NewWebSocketHandler(cm *ConnectionManager, st store.SessionReader) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		store:             st,
	}
}

// HandleSessionConnection handles GET /ws/session?session_id=...
func (h *WebSocketHandler) HandleSessionConnection(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("session_id")
	if raw == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	sessionID := roomid.Normalize(raw)

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to load session")
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	// Upgrade writes its own error response.
	if err := h.connectionManager.UpgradeConnection(w, r, sess); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats handles GET /ws/stats
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/session", h.HandleSessionConnection)
	mux.HandleFunc("GET /ws/stats", h.HandleConnectionStats)
}
