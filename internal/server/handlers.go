// Package server exposes HTTP handlers, including WebSocket upgrades, the
// health check, and the deliberately disabled execution endpoint.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler returns the handler for WebSocket upgrade requests. It
// validates the method and origin, upgrades the connection, and registers a
// new Client with the hub, which launches the read/write pumps.
func WebSocketHandler(h *Hub) http.HandlerFunc {
	checker := newOriginChecker(h.serverCfg.AllowedOrigins, h.logger)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checker.check,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := NewClient(conn, h, r.RemoteAddr)
		h.register <- client
	}
}

// HealthHandler reports server liveness as a fixed JSON status payload.
func HealthHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	}
}

// ExecuteHandler unconditionally rejects code execution requests. Submitted
// code runs client-side in the browser; the server only relays text.
func ExecuteHandler(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Server-side execution disabled. Run code in the browser (WASM).",
		}, logger)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("writing json response", zap.Error(err))
	}
}
