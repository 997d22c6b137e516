// Package server contains the session coordinator, the protocol handler that
// consumes inbound client events, mutates the session store and connection
// registry, and fans out notifications through the transport.
package server

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Transport is the outbound capability the coordinator relays through:
// room membership plus per-connection and per-room delivery. Sends are
// fire-and-forget; the coordinator never waits for acknowledgment.
type Transport interface {
	JoinRoom(connID, sessionID string)
	LeaveRoom(connID, sessionID string)
	Unicast(connID, event string, payload any)
	Broadcast(sessionID, event string, payload any)
	BroadcastExcept(sessionID, excludeConnID, event string, payload any)
}

// Coordinator handles the five protocol events. It holds no state of its own;
// the session store and connection registry are injected so tests can build a
// fresh coordinator per case.
//
// Every handler follows the same ordering: mutate authoritative state first,
// then notify. Handlers never return errors; an event that cannot be applied
// (e.g. an update from an unbound connection) is silently dropped.
type Coordinator struct {
	store     *Store
	registry  *Registry
	transport Transport
	logger    *zap.Logger
}

// NewCoordinator creates a Coordinator over the given store, registry, and
// transport.
func NewCoordinator(store *Store, registry *Registry, transport Transport, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		registry:  registry,
		transport: transport,
		logger:    logger,
	}
}

// Dispatch decodes an inbound envelope and routes it to the matching handler.
// Unknown events and malformed payloads are dropped.
func (c *Coordinator) Dispatch(connID string, env Envelope) {
	switch env.Event {
	case EventCreateSession:
		c.CreateSession(connID)
	case EventJoinSession:
		var payload JoinSessionPayload
		if !c.decodePayload(connID, env, &payload) {
			return
		}
		c.JoinSession(connID, payload.SessionID)
	case EventUpdateCode:
		var payload UpdateCodePayload
		if !c.decodePayload(connID, env, &payload) {
			return
		}
		c.UpdateCode(connID, payload.Code)
	case EventUpdateLanguage:
		var payload UpdateLanguagePayload
		if !c.decodePayload(connID, env, &payload) {
			return
		}
		c.UpdateLanguage(connID, payload.Language)
	default:
		c.logger.Debug("dropping unknown event",
			zap.String("conn_id", connID),
			zap.String("event", env.Event),
		)
	}
}

func (c *Coordinator) decodePayload(connID string, env Envelope, dst any) bool {
	if len(env.Payload) == 0 {
		c.logger.Debug("dropping event with missing payload",
			zap.String("conn_id", connID),
			zap.String("event", env.Event),
		)
		return false
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		c.logger.Debug("dropping event with malformed payload",
			zap.String("conn_id", connID),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		return false
	}
	return true
}

// CreateSession allocates a fresh session, makes the connection its first
// member, and acknowledges with session_created.
func (c *Coordinator) CreateSession(connID string) {
	session := c.store.Create("")
	session.Members[connID] = struct{}{}
	c.registry.Bind(connID, session.ID)
	c.transport.JoinRoom(connID, session.ID)

	c.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("conn_id", connID),
	)

	c.transport.Unicast(connID, EventSessionCreated, SessionCreatedPayload{SessionID: session.ID})
	c.broadcastUsersCount(session)
}

// JoinSession adds the connection to the named session, creating it with
// default content if it has never been seen, and replies with the current
// session snapshot. Joining an unknown id is not an error.
func (c *Coordinator) JoinSession(connID, sessionID string) {
	session, ok := c.store.Get(sessionID)
	if !ok {
		session = c.store.Create(sessionID)
	}
	session.Members[connID] = struct{}{}
	c.registry.Bind(connID, session.ID)
	c.transport.JoinRoom(connID, session.ID)

	c.logger.Info("session joined",
		zap.String("session_id", session.ID),
		zap.String("conn_id", connID),
		zap.Int("members", session.MemberCount()),
	)

	c.transport.Unicast(connID, EventSessionJoined, SessionJoinedPayload{
		SessionID: session.ID,
		Code:      session.Code,
		Language:  session.Language,
	})
	c.broadcastUsersCount(session)
}

// UpdateCode overwrites the session document (last write wins) and relays the
// new text to every other member. Updates from unbound connections are
// silently dropped.
func (c *Coordinator) UpdateCode(connID, code string) {
	session, ok := c.sessionFor(connID)
	if !ok {
		return
	}
	session.Code = code

	c.transport.BroadcastExcept(session.ID, connID, EventCodeUpdated, CodeUpdatedPayload{Code: code})
	c.broadcastUsersCount(session)
}

// UpdateLanguage overwrites the session language tag and relays it to every
// other member.
func (c *Coordinator) UpdateLanguage(connID, language string) {
	session, ok := c.sessionFor(connID)
	if !ok {
		return
	}
	session.Language = language

	c.logger.Info("language updated",
		zap.String("session_id", session.ID),
		zap.String("language", language),
	)

	c.transport.BroadcastExcept(session.ID, connID, EventLanguageUpdated, LanguageUpdatedPayload{Language: language})
	c.broadcastUsersCount(session)
}

// Disconnect removes the connection's binding and session membership. The
// session is deleted outright when its last member leaves; otherwise the
// remaining members get a users_count refresh.
func (c *Coordinator) Disconnect(connID string) {
	sessionID, ok := c.registry.Lookup(connID)
	if !ok {
		return
	}
	c.registry.Unbind(connID)

	session, ok := c.store.Get(sessionID)
	if !ok {
		return
	}
	delete(session.Members, connID)
	c.transport.LeaveRoom(connID, sessionID)

	if session.MemberCount() == 0 {
		c.store.Delete(sessionID)
		c.logger.Info("session closed",
			zap.String("session_id", sessionID),
			zap.Int("sessions", c.store.Len()),
		)
		return
	}
	c.broadcastUsersCount(session)
}

// sessionFor resolves the connection's current session. A missing binding or
// a stale binding to a deleted session yields false.
func (c *Coordinator) sessionFor(connID string) (*Session, bool) {
	sessionID, ok := c.registry.Lookup(connID)
	if !ok {
		c.logger.Debug("dropping update from unbound connection",
			zap.String("conn_id", connID),
		)
		return nil, false
	}
	session, ok := c.store.Get(sessionID)
	if !ok {
		c.logger.Debug("dropping update for missing session",
			zap.String("conn_id", connID),
			zap.String("session_id", sessionID),
		)
		return nil, false
	}
	return session, true
}

func (c *Coordinator) broadcastUsersCount(session *Session) {
	c.transport.Broadcast(session.ID, EventUsersCount, UsersCountPayload{Count: session.MemberCount()})
}
