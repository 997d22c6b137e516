package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransport records every outbound call so tests can assert on exact
// delivery without a live hub.
type fakeTransport struct {
	rooms map[string]map[string]struct{}
	sent  []sentFrame
}

type sentFrame struct {
	kind    string // "unicast", "broadcast", "broadcast_except"
	connID  string // unicast target or broadcast exclusion
	roomID  string
	event   string
	payload any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rooms: make(map[string]map[string]struct{})}
}

func (f *fakeTransport) JoinRoom(connID, sessionID string) {
	if f.rooms[sessionID] == nil {
		f.rooms[sessionID] = make(map[string]struct{})
	}
	f.rooms[sessionID][connID] = struct{}{}
}

func (f *fakeTransport) LeaveRoom(connID, sessionID string) {
	delete(f.rooms[sessionID], connID)
	if len(f.rooms[sessionID]) == 0 {
		delete(f.rooms, sessionID)
	}
}

func (f *fakeTransport) Unicast(connID, event string, payload any) {
	f.sent = append(f.sent, sentFrame{kind: "unicast", connID: connID, event: event, payload: payload})
}

func (f *fakeTransport) Broadcast(sessionID, event string, payload any) {
	f.sent = append(f.sent, sentFrame{kind: "broadcast", roomID: sessionID, event: event, payload: payload})
}

func (f *fakeTransport) BroadcastExcept(sessionID, excludeConnID, event string, payload any) {
	f.sent = append(f.sent, sentFrame{kind: "broadcast_except", roomID: sessionID, connID: excludeConnID, event: event, payload: payload})
}

func (f *fakeTransport) framesOf(event string) []sentFrame {
	var frames []sentFrame
	for _, frame := range f.sent {
		if frame.event == event {
			frames = append(frames, frame)
		}
	}
	return frames
}

func (f *fakeTransport) reset() {
	f.sent = nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *Store, *Registry, *fakeTransport) {
	t.Helper()
	store := NewStore(testDefaults())
	registry := NewRegistry()
	transport := newFakeTransport()
	coord := NewCoordinator(store, registry, transport, zap.NewNop())
	return coord, store, registry, transport
}

func TestCoordinator_CreateSession(t *testing.T) {
	coord, store, registry, transport := newTestCoordinator(t)

	coord.CreateSession("conn-a")

	require.Equal(t, 1, store.Len())
	created := transport.framesOf(EventSessionCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "unicast", created[0].kind)
	assert.Equal(t, "conn-a", created[0].connID)

	sessionID := created[0].payload.(SessionCreatedPayload).SessionID
	session, ok := store.Get(sessionID)
	require.True(t, ok)
	assert.Contains(t, session.Members, "conn-a")

	bound, ok := registry.Lookup("conn-a")
	require.True(t, ok)
	assert.Equal(t, sessionID, bound)
	assert.Contains(t, transport.rooms[sessionID], "conn-a")

	counts := transport.framesOf(EventUsersCount)
	require.Len(t, counts, 1)
	assert.Equal(t, "broadcast", counts[0].kind)
	assert.Equal(t, UsersCountPayload{Count: 1}, counts[0].payload)
}

func TestCoordinator_JoinExistingSessionReceivesSnapshot(t *testing.T) {
	coord, _, _, transport := newTestCoordinator(t)

	coord.CreateSession("conn-a")
	sessionID := transport.framesOf(EventSessionCreated)[0].payload.(SessionCreatedPayload).SessionID
	coord.UpdateCode("conn-a", "print(1)")
	coord.UpdateLanguage("conn-a", "python")
	transport.reset()

	coord.JoinSession("conn-b", sessionID)

	joined := transport.framesOf(EventSessionJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "conn-b", joined[0].connID)
	assert.Equal(t, SessionJoinedPayload{
		SessionID: sessionID,
		Code:      "print(1)",
		Language:  "python",
	}, joined[0].payload)

	counts := transport.framesOf(EventUsersCount)
	require.Len(t, counts, 1)
	assert.Equal(t, UsersCountPayload{Count: 2}, counts[0].payload)
}

func TestCoordinator_JoinUnknownSessionCreatesIt(t *testing.T) {
	coord, store, registry, transport := newTestCoordinator(t)

	coord.JoinSession("conn-a", "never-seen")

	session, ok := store.Get("never-seen")
	require.True(t, ok)
	assert.Equal(t, "// Start coding together...\n", session.Code)
	assert.Equal(t, "javascript", session.Language)
	assert.Contains(t, session.Members, "conn-a")

	bound, ok := registry.Lookup("conn-a")
	require.True(t, ok)
	assert.Equal(t, "never-seen", bound)

	joined := transport.framesOf(EventSessionJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, SessionJoinedPayload{
		SessionID: "never-seen",
		Code:      "// Start coding together...\n",
		Language:  "javascript",
	}, joined[0].payload)
}

func TestCoordinator_UpdateCodeExcludesSender(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.JoinSession("conn-a", "pair")
	coord.JoinSession("conn-b", "pair")
	transport.reset()

	coord.UpdateCode("conn-a", "print(1)")

	session, ok := store.Get("pair")
	require.True(t, ok)
	assert.Equal(t, "print(1)", session.Code)

	updated := transport.framesOf(EventCodeUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "broadcast_except", updated[0].kind)
	assert.Equal(t, "conn-a", updated[0].connID)
	assert.Equal(t, CodeUpdatedPayload{Code: "print(1)"}, updated[0].payload)

	// The informational refresh goes to the whole session.
	counts := transport.framesOf(EventUsersCount)
	require.Len(t, counts, 1)
	assert.Equal(t, "broadcast", counts[0].kind)
	assert.Equal(t, UsersCountPayload{Count: 2}, counts[0].payload)
}

func TestCoordinator_SoleMemberUpdateStillRefreshesCount(t *testing.T) {
	coord, _, _, transport := newTestCoordinator(t)

	coord.CreateSession("conn-a")
	transport.reset()

	coord.UpdateCode("conn-a", "print(1)")

	updated := transport.framesOf(EventCodeUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "conn-a", updated[0].connID, "sender must be excluded from its own update")

	counts := transport.framesOf(EventUsersCount)
	require.Len(t, counts, 1)
	assert.Equal(t, UsersCountPayload{Count: 1}, counts[0].payload)
}

func TestCoordinator_RepeatedUpdatesAreNotDeduplicated(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.JoinSession("conn-a", "pair")
	transport.reset()

	coord.UpdateCode("conn-a", "print(1)")
	coord.UpdateCode("conn-a", "print(1)")

	session, _ := store.Get("pair")
	assert.Equal(t, "print(1)", session.Code)
	assert.Len(t, transport.framesOf(EventCodeUpdated), 2)
}

func TestCoordinator_UpdateLanguage(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.JoinSession("conn-a", "pair")
	coord.JoinSession("conn-b", "pair")
	transport.reset()

	coord.UpdateLanguage("conn-a", "python")

	session, _ := store.Get("pair")
	assert.Equal(t, "python", session.Language)

	updated := transport.framesOf(EventLanguageUpdated)
	require.Len(t, updated, 1)
	assert.Equal(t, "conn-a", updated[0].connID)
	assert.Equal(t, LanguageUpdatedPayload{Language: "python"}, updated[0].payload)

	// A later join observes the changed language in its snapshot.
	transport.reset()
	coord.JoinSession("conn-c", "pair")
	joined := transport.framesOf(EventSessionJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "python", joined[0].payload.(SessionJoinedPayload).Language)
}

func TestCoordinator_UpdateFromUnboundConnectionIsDropped(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.UpdateCode("conn-a", "print(1)")
	coord.UpdateLanguage("conn-a", "python")

	assert.Empty(t, transport.sent)
	assert.Equal(t, 0, store.Len())
}

func TestCoordinator_UpdateWithStaleBindingIsDropped(t *testing.T) {
	coord, store, registry, transport := newTestCoordinator(t)

	registry.Bind("conn-a", "ghost")
	coord.UpdateCode("conn-a", "print(1)")

	assert.Empty(t, transport.sent)
	assert.Equal(t, 0, store.Len())
}

func TestCoordinator_DisconnectNotifiesRemainingMembers(t *testing.T) {
	coord, store, registry, transport := newTestCoordinator(t)

	coord.JoinSession("conn-a", "pair")
	coord.JoinSession("conn-b", "pair")
	transport.reset()

	coord.Disconnect("conn-a")

	_, ok := registry.Lookup("conn-a")
	assert.False(t, ok)

	session, ok := store.Get("pair")
	require.True(t, ok)
	assert.NotContains(t, session.Members, "conn-a")
	assert.NotContains(t, transport.rooms["pair"], "conn-a")

	counts := transport.framesOf(EventUsersCount)
	require.Len(t, counts, 1)
	assert.Equal(t, UsersCountPayload{Count: 1}, counts[0].payload)
}

func TestCoordinator_LastDisconnectDeletesSession(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.JoinSession("conn-a", "pair")
	coord.UpdateCode("conn-a", "print(1)")
	transport.reset()

	coord.Disconnect("conn-a")

	_, ok := store.Get("pair")
	assert.False(t, ok)
	// Terminal cleanup: nobody is left to notify.
	assert.Empty(t, transport.sent)

	// Rejoining the same id yields a brand-new session with defaults, not
	// the old content.
	coord.JoinSession("conn-b", "pair")
	joined := transport.framesOf(EventSessionJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "// Start coding together...\n", joined[0].payload.(SessionJoinedPayload).Code)
}

func TestCoordinator_DisconnectWithoutBindingIsNoOp(t *testing.T) {
	coord, _, _, transport := newTestCoordinator(t)

	coord.Disconnect("conn-a")
	assert.Empty(t, transport.sent)
}

func TestCoordinator_DispatchRoutesEvents(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.Dispatch("conn-a", envelope(t, EventJoinSession, JoinSessionPayload{SessionID: "pair"}))
	coord.Dispatch("conn-a", envelope(t, EventUpdateCode, UpdateCodePayload{Code: "print(1)"}))
	coord.Dispatch("conn-a", envelope(t, EventUpdateLanguage, UpdateLanguagePayload{Language: "python"}))

	session, ok := store.Get("pair")
	require.True(t, ok)
	assert.Equal(t, "print(1)", session.Code)
	assert.Equal(t, "python", session.Language)

	transport.reset()
	coord.Dispatch("conn-b", Envelope{Event: EventCreateSession})
	assert.Len(t, transport.framesOf(EventSessionCreated), 1)
}

func TestCoordinator_DispatchDropsUnknownEvent(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.Dispatch("conn-a", Envelope{Event: "format_code"})

	assert.Empty(t, transport.sent)
	assert.Equal(t, 0, store.Len())
}

func TestCoordinator_DispatchDropsMalformedPayload(t *testing.T) {
	coord, store, _, transport := newTestCoordinator(t)

	coord.Dispatch("conn-a", Envelope{Event: EventJoinSession, Payload: json.RawMessage(`"not an object"`)})
	coord.Dispatch("conn-a", Envelope{Event: EventUpdateCode})

	assert.Empty(t, transport.sent)
	assert.Equal(t, 0, store.Len())
}

func envelope(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Event: event, Payload: raw}
}
