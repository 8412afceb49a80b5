package internal

import (
	"sync"
	"time"
)

// ConnState is the shared-mutable metadata for one live connection. The
// Registry's mutex is the single synchronization domain for every field
// here; workers never touch a ConnState outside a registry call.
type ConnState struct {
	RemoteAddr   string    `json:"remote_addr"`
	Username     string    `json:"username,omitempty"`
	SessionToken string    `json:"-"`
	Room         string    `json:"room,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Registry tracks every live connection and its metadata.
type Registry struct {
	mu    sync.Mutex
	conns map[*Conn]*ConnState
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[*Conn]*ConnState)}
}

// Register adds a freshly accepted connection.
func (r *Registry) Register(c *Conn) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = &ConnState{
		RemoteAddr:   c.RemoteAddr(),
		ConnectedAt:  now,
		LastActivity: now,
	}
}

// Unregister removes a connection and returns its final metadata so the
// caller can run room-leave side effects. Returns nil if never registered.
func (r *Registry) Unregister(c *Conn) *ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.conns[c]
	if !ok {
		return nil
	}
	delete(r.conns, c)
	return state
}

// Update applies a read-modify-write to a connection's metadata atomically.
func (r *Registry) Update(c *Conn, fn func(*ConnState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.conns[c]; ok {
		fn(state)
	}
}

// Get returns a copy of the connection's metadata.
func (r *Registry) Get(c *Conn) (ConnState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.conns[c]
	if !ok {
		return ConnState{}, false
	}
	return *state, true
}

// Touch refreshes the last-activity timestamp.
func (r *Registry) Touch(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.conns[c]; ok {
		state.LastActivity = time.Now()
	}
}

// FindByUsername returns some connection authenticated as username,
// skipping exclude. Used by the rendezvous broker, which must not
// introduce a connection to itself.
func (r *Registry) FindByUsername(username string, exclude *Conn) (*Conn, ConnState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c, state := range r.conns {
		if c != exclude && state.Username == username {
			return c, *state, true
		}
	}
	return nil, ConnState{}, false
}

// FindByAddr locates a connection by its remote endpoint.
func (r *Registry) FindByAddr(addr string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c, state := range r.conns {
		if state.RemoteAddr == addr {
			return c, true
		}
	}
	return nil, false
}

// ConnsInRoom returns every connection whose current room is roomID.
func (r *Registry) ConnsInRoom(roomID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Conn
	for c, state := range r.conns {
		if state.Room == roomID {
			out = append(out, c)
		}
	}
	return out
}

// Conns returns every live connection.
func (r *Registry) Conns() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Snapshot returns a consistent copy of all connection metadata, taken
// under the registry lock so the monitoring view never sees a torn state.
func (r *Registry) Snapshot() []ConnState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnState, 0, len(r.conns))
	for _, state := range r.conns {
		out = append(out, *state)
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
