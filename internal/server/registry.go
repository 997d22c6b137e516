// Package server tracks which session each live connection belongs to.
package server

// Registry maps a connection id to the session it is currently bound to.
// A connection has at most one binding at a time.
//
// Registry is not safe for concurrent use; all access must happen on the
// hub's event loop goroutine.
type Registry struct {
	bindings map[string]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]string)}
}

// Bind associates the connection with the session, replacing any prior
// binding for that connection.
func (r *Registry) Bind(connID, sessionID string) {
	r.bindings[connID] = sessionID
}

// Lookup returns the session the connection is bound to, if any.
func (r *Registry) Lookup(connID string) (string, bool) {
	sessionID, ok := r.bindings[connID]
	return sessionID, ok
}

// Unbind removes the connection's binding. Unbinding an unknown connection
// is a no-op.
func (r *Registry) Unbind(connID string) {
	delete(r.bindings, connID)
}

// Len returns the number of bound connections.
func (r *Registry) Len() int {
	return len(r.bindings)
}
