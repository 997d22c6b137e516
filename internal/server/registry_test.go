package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BindAndLookup(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-a", "session-1")
	sessionID, ok := r.Lookup("conn-a")
	require.True(t, ok)
	assert.Equal(t, "session-1", sessionID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_BindOverwrites(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-a", "session-1")
	r.Bind("conn-a", "session-2")

	sessionID, ok := r.Lookup("conn-a")
	require.True(t, ok)
	assert.Equal(t, "session-2", sessionID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_LookupAbsent(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup("conn-a")
	assert.False(t, ok)
}

func TestRegistry_Unbind(t *testing.T) {
	r := NewRegistry()

	r.Bind("conn-a", "session-1")
	r.Unbind("conn-a")

	_, ok := r.Lookup("conn-a")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())

	// Unbinding an unknown connection is a no-op.
	r.Unbind("conn-a")
}
