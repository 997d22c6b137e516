// Package server coordinates client registration, session event dispatch, and
// connection cleanup for the pairsync WebSocket relay via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pairsync/pairsync/internal/config"
)

// inboundEvent pairs a decoded client frame with the connection it came from.
type inboundEvent struct {
	connID   string
	envelope Envelope
}

// Hub owns every live WebSocket connection and the session broadcast groups
// ("rooms"). It runs a single event-loop goroutine that feeds the session
// coordinator, so all store and registry mutations are serialized without
// fine-grained locks: each inbound event runs its full mutate-then-notify
// sequence before the next one starts.
type Hub struct {
	coordinator *Coordinator

	clients map[string]*Client
	rooms   map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent

	serverCfg    config.ServerConfig
	rateLimitCfg config.RateLimitConfig
	logger       *zap.Logger

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub wired to a coordinator over the given store and
// registry. The returned Hub is ready to manage connections once Run is
// started in its own goroutine.
func NewHub(store *Store, registry *Registry, serverCfg config.ServerConfig, rateLimitCfg config.RateLimitConfig, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:      make(map[string]*Client),
		rooms:        make(map[string]map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		inbound:      make(chan inboundEvent, 64),
		serverCfg:    serverCfg,
		rateLimitCfg: rateLimitCfg,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	h.coordinator = NewCoordinator(store, registry, h, logger)
	return h
}

// GetRegisterChan returns the channel used for registering new clients.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's event loop, handling client registration,
// unregistration, and protocol events. This method should be called in a
// separate goroutine as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case evt := <-h.inbound:
			h.coordinator.Dispatch(evt.connID, evt.envelope)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.logger.Info("client connected",
		zap.String("conn_id", client.id),
		zap.String("addr", client.addr),
		zap.Int("clients", clientCount),
	)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.RLock()
	_, ok := h.clients[client.id]
	h.mutex.RUnlock()
	if !ok {
		return
	}

	// Leave the session first so the departing connection is excluded from
	// the resulting users_count broadcast.
	h.coordinator.Disconnect(client.id)

	h.mutex.Lock()
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)

	h.logger.Info("client disconnected",
		zap.String("conn_id", client.id),
		zap.String("addr", client.addr),
		zap.Int("clients", clientCount),
	)
}

// JoinRoom subscribes the connection to the session's broadcast group.
func (h *Hub) JoinRoom(connID, sessionID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[connID]
	if !ok {
		return
	}
	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[string]*Client)
		h.rooms[sessionID] = room
	}
	room[connID] = client
}

// LeaveRoom removes the connection from the session's broadcast group,
// dropping the group once it is empty.
func (h *Hub) LeaveRoom(connID, sessionID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	room, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// Unicast sends an event to a single connection.
func (h *Hub) Unicast(connID, event string, payload any) {
	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encoding unicast frame",
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}

	h.mutex.RLock()
	client, ok := h.clients[connID]
	h.mutex.RUnlock()
	if !ok {
		return
	}
	h.send(client, frame)
}

// Broadcast sends an event to every member of the session's broadcast group.
func (h *Hub) Broadcast(sessionID, event string, payload any) {
	h.broadcast(sessionID, "", event, payload)
}

// BroadcastExcept sends an event to every member of the session's broadcast
// group except the named connection.
func (h *Hub) BroadcastExcept(sessionID, excludeConnID, event string, payload any) {
	h.broadcast(sessionID, excludeConnID, event, payload)
}

func (h *Hub) broadcast(sessionID, excludeConnID, event string, payload any) {
	frame, err := EncodeEnvelope(event, payload)
	if err != nil {
		h.logger.Error("encoding broadcast frame",
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}

	for _, client := range h.roomSnapshot(sessionID) {
		if client.id == excludeConnID {
			continue
		}
		h.send(client, frame)
	}
}

// roomSnapshot returns the current members of a broadcast group.
func (h *Hub) roomSnapshot(sessionID string) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	room := h.rooms[sessionID]
	clients := make([]*Client, 0, len(room))
	for _, client := range room {
		clients = append(clients, client)
	}
	return clients
}

// send queues a frame on the client's outbound channel. A client whose send
// buffer is full simply misses the frame; delivery is fire-and-forget and the
// connection's own liveness checks handle truly stuck peers.
func (h *Hub) send(client *Client, frame []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.id]; !exists || client.closed {
		return
	}

	select {
	case client.send <- frame:
	default:
		h.logger.Warn("dropping frame for slow client",
			zap.String("conn_id", client.id),
			zap.String("addr", client.addr),
		)
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn("closing client connection",
					zap.String("addr", client.addr),
					zap.Error(err),
				)
			}
		}
	}

	h.logger.Info("closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to finish, or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
