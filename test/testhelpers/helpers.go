// Package testhelpers provides common utilities for testing the pairsync
// server.
//
// It contains reusable helpers for starting a relay backed by a real HTTP
// server, dialing WebSocket clients, and exchanging protocol envelopes, to
// reduce duplication in the integration tests.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pairsync/pairsync/internal/config"
	"github.com/pairsync/pairsync/internal/server"
)

// Relay bundles a running hub and HTTP test server.
type Relay struct {
	Hub    *server.Hub
	Server *httptest.Server
	WSURL  string
}

// StartRelay builds a complete relay (store, registry, hub, routes) on an
// httptest server and registers cleanup with the test.
func StartRelay(t *testing.T) *Relay {
	t.Helper()

	logger := zap.NewNop()
	store := server.NewStore(server.SessionDefaults{
		Code:     "// Start coding together...\n",
		Language: "javascript",
	})
	registry := server.NewRegistry()
	hub := server.NewHub(store, registry,
		config.ServerConfig{
			Port:            ":0",
			AllowedOrigins:  []string{"*"},
			MaxMessageSize:  1 << 20,
			ShutdownTimeout: 2 * time.Second,
		},
		config.RateLimitConfig{Burst: 200, RefillInterval: time.Second},
		logger,
	)
	go hub.Run()

	mux := server.SetupRoutes(hub, logger)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		ts.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return &Relay{
		Hub:    hub,
		Server: ts,
		WSURL:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

// Dial opens a WebSocket connection to the relay and registers cleanup.
func Dial(t *testing.T, relay *Relay) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(relay.WSURL, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dialing %s: %v", relay.WSURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Send writes a protocol envelope to the connection.
func Send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshalling payload for %s: %v", event, err)
	}
	env := server.Envelope{Event: event, Payload: raw}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("sending %s: %v", event, err)
	}
}

// SendBare writes an envelope with no payload.
func SendBare(t *testing.T, conn *websocket.Conn, event string) {
	t.Helper()

	if err := conn.WriteJSON(server.Envelope{Event: event}); err != nil {
		t.Fatalf("sending %s: %v", event, err)
	}
}

// WaitFor reads frames until one with the given event name arrives, decoding
// its payload into dst (if non-nil). Other events are skipped.
func WaitFor(t *testing.T, conn *websocket.Conn, event string, dst any) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}

	for {
		var env server.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event != event {
			continue
		}
		if dst != nil {
			if err := json.Unmarshal(env.Payload, dst); err != nil {
				t.Fatalf("decoding %s payload: %v", event, err)
			}
		}
		return
	}
}

// WaitForUsersCount reads frames until a users_count with the given count
// arrives. Other events, and users_count frames with different counts, are
// skipped.
func WaitForUsersCount(t *testing.T, conn *websocket.Conn, count int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}

	for {
		var env server.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for users_count %d: %v", count, err)
		}
		if env.Event != server.EventUsersCount {
			continue
		}
		var payload server.UsersCountPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			t.Fatalf("decoding users_count payload: %v", err)
		}
		if payload.Count == count {
			return
		}
	}
}

// ExpectNoEvent asserts that no frame with the given event name arrives
// within the window. Frames with other event names are ignored.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, event string, window time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(window)); err != nil {
		t.Fatalf("setting read deadline: %v", err)
	}

	for {
		var env server.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			// Timeout means the window passed without the event.
			return
		}
		if env.Event == event {
			t.Fatalf("received unexpected %s event", event)
		}
	}
}

// MakeRequest performs an HTTP request against the relay and returns the
// response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("making request: %v", err)
	}
	return resp
}

// DecodeJSONBody decodes the response body into a generic map.
func DecodeJSONBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}
