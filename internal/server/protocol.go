// Package server defines the wire protocol shared by clients and the
// session coordinator.
package server

import "encoding/json"

// Inbound event names (client -> server).
const (
	EventCreateSession  = "create_session"
	EventJoinSession    = "join_session"
	EventUpdateCode     = "update_code"
	EventUpdateLanguage = "update_language"
)

// Outbound event names (server -> client).
const (
	EventSessionCreated  = "session_created"
	EventSessionJoined   = "session_joined"
	EventCodeUpdated     = "code_updated"
	EventLanguageUpdated = "language_updated"
	EventUsersCount      = "users_count"
)

// Envelope is the JSON frame exchanged in both directions: an event name plus
// an event-specific payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinSessionPayload carries the target session for a join_session event.
type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
}

// UpdateCodePayload carries the full replacement document text.
type UpdateCodePayload struct {
	Code string `json:"code"`
}

// UpdateLanguagePayload carries the replacement language tag.
type UpdateLanguagePayload struct {
	Language string `json:"language"`
}

// SessionCreatedPayload acknowledges a create_session to the requester.
type SessionCreatedPayload struct {
	SessionID string `json:"sessionId"`
}

// SessionJoinedPayload carries the session snapshot a joining client
// starts from.
type SessionJoinedPayload struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

// CodeUpdatedPayload relays a document update to the other session members.
type CodeUpdatedPayload struct {
	Code string `json:"code"`
}

// LanguageUpdatedPayload relays a language change to the other session members.
type LanguageUpdatedPayload struct {
	Language string `json:"language"`
}

// UsersCountPayload reports the current member count of a session.
type UsersCountPayload struct {
	Count int `json:"count"`
}

// EncodeEnvelope marshals an outbound event and its payload into a wire frame.
func EncodeEnvelope(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}
