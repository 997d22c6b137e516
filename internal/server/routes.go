// Package server wires HTTP handlers into a ServeMux for the pairsync
// application via routing helpers.
package server

import (
	"net/http"

	"go.uber.org/zap"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application
// routes: health check, WebSocket endpoint, and the disabled execution
// endpoint.
func SetupRoutes(h *Hub, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler(logger))
	mux.HandleFunc("/ws", WebSocketHandler(h))
	mux.HandleFunc("/execute", ExecuteHandler(logger))
	return mux
}
