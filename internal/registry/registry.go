// ABOUTME: In-memory connection registry mapping user ids to live connection handles
// ABOUTME: The one process-wide mutable structure; safe for concurrent lifecycle and broadcast

package registry

import (
	"log/slog"
	"sync"
)

// Handle is one live connection's write side. Implementations must be safe for
// concurrent WriteMessage calls from multiple broadcasters.
type Handle interface {
	WriteMessage(data []byte) error
	Close() error
}

// Registry maps a user id to the set of that user's currently-open
// connections. It is constructed once per process, injected wherever
// reachability or delivery is needed, and torn down on shutdown.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]map[string]Handle // userID -> connID -> handle
	logger *slog.Logger
}

// New creates a Registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		conns:  make(map[string]map[string]Handle),
		logger: logger.With("component", "registry"),
	}
}

// Register adds a handle for the user.
func (r *Registry) Register(userID, connID string, h Handle) {
	r.mu.Lock()
	if _, ok := r.conns[userID]; !ok {
		r.conns[userID] = make(map[string]Handle)
	}
	r.conns[userID][connID] = h
	r.mu.Unlock()

	r.logger.Debug("connection registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes a handle. No-op if the handle is already gone, so every
// close path may call it unconditionally.
func (r *Registry) Unregister(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles, ok := r.conns[userID]
	if !ok {
		return
	}
	if _, exists := handles[connID]; !exists {
		return
	}

	delete(handles, connID)
	if len(handles) == 0 {
		delete(r.conns, userID)
	}

	r.logger.Debug("connection unregistered", "user_id", userID, "conn_id", connID)
}

// IsReachable reports whether the user has at least one open connection.
func (r *Registry) IsReachable(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Send delivers data to every currently-registered handle of the user.
// Handles that fail to write are treated as already closed: they are pruned
// and the failure never reaches the caller. The handle snapshot is taken under
// a read lock and the writes happen outside it, so a slow or dead socket never
// blocks registry mutation by other callers.
func (r *Registry) Send(userID string, data []byte) {
	r.mu.RLock()
	handles, ok := r.conns[userID]
	if !ok || len(handles) == 0 {
		r.mu.RUnlock()
		return
	}

	type target struct {
		connID string
		handle Handle
	}
	targets := make([]target, 0, len(handles))
	for id, h := range handles {
		targets = append(targets, target{connID: id, handle: h})
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if err := t.handle.WriteMessage(data); err != nil {
			r.logger.Debug("dropping dead connection",
				"user_id", userID,
				"conn_id", t.connID,
				"error", err)
			r.Unregister(userID, t.connID)
			_ = t.handle.Close()
		}
	}
}

// Close tears down every registered handle at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, handles := range r.conns {
		for connID, h := range handles {
			_ = h.Close()
			delete(handles, connID)
		}
		delete(r.conns, userID)
	}

	r.logger.Debug("registry closed")
}
