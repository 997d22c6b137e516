// Package server implements the pairsync session relay: the WebSocket hub and
// per-connection clients, the in-memory session store and connection
// registry, and the coordinator that relays create/join/update/disconnect
// events between session members.
//
// The implementation is organized into specialized files for the protocol,
// store, registry, coordinator, hub, clients, routing, and HTTP handlers to
// keep the codebase maintainable and testable as the project grows.
package server
