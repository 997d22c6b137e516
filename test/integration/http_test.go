package integration

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pairsync/pairsync/test/testhelpers"
)

func TestHealthEndpoint(t *testing.T) {
	relay := testhelpers.StartRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, relay.Server.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body := testhelpers.DecodeJSONBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestExecuteEndpointIsDisabled(t *testing.T) {
	relay := testhelpers.StartRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodPost, relay.Server.URL+"/execute")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := testhelpers.DecodeJSONBody(t, resp)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "execution disabled")
}

func TestExecuteEndpointRejectsGet(t *testing.T) {
	relay := testhelpers.StartRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, relay.Server.URL+"/execute")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestWebSocketEndpointRejectsNonGet(t *testing.T) {
	relay := testhelpers.StartRelay(t)

	resp := testhelpers.MakeRequest(t, http.MethodPost, relay.Server.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
