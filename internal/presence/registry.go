package presence

import (
	"sort"
	"sync"

	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

// Broadcaster delivers an event to every live connection.
type Broadcaster interface {
	BroadcastAll(event models.ChatEvent)
}

// Registry maps each online user to their single live connection. A newer connection
// for the same user replaces the older one.
type Registry struct {
	mu          sync.Mutex
	byUser      map[string]string
	byConn      map[string]string
	broadcaster Broadcaster
}

// NewRegistry builds an empty registry. A nil broadcaster disables snapshots.
func NewRegistry(broadcaster Broadcaster) *Registry {
	return &Registry{
		byUser:      make(map[string]string),
		byConn:      make(map[string]string),
		broadcaster: broadcaster,
	}
}

// SetBroadcaster wires the hub after construction.
func (r *Registry) SetBroadcaster(b Broadcaster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcaster = b
}

// Announce binds userID to connID and broadcasts the new snapshot.
func (r *Registry) Announce(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok {
		delete(r.byConn, old)
	}
	if prevUser, ok := r.byConn[connID]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
	r.publishLocked()
}

// Withdraw removes the entry bound to connID. A connection that was already replaced
// leaves the newer entry intact. It reports whether anything changed.
func (r *Registry) Withdraw(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return false
	}
	delete(r.byConn, connID)
	if r.byUser[userID] == connID {
		delete(r.byUser, userID)
	}
	r.publishLocked()
	return true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byUser[userID]
	return ok
}

// ConnectionFor returns the live connection of userID.
func (r *Registry) ConnectionFor(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	connID, ok := r.byUser[userID]
	return connID, ok
}

// Snapshot returns the online user ids, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []string {
	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	sort.Strings(users)
	return users
}

// publishLocked runs under mu so snapshots leave in mutation order.
func (r *Registry) publishLocked() {
	observability.SetOnlineUsers(len(r.byUser))
	if r.broadcaster != nil {
		r.broadcaster.BroadcastAll(models.PresenceChanged(r.snapshotLocked()))
	}
}
