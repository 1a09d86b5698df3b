package websocket

import (
	"sync"

	"foxchat/internal/models"

	"github.com/google/uuid"
)

// ConnID identifies a live connection for the lifetime of the process.
type ConnID uint64

type connEntry struct {
	client   *Client
	identity models.Identity
	rooms    map[uuid.UUID]struct{}
}

// Registry is the in-memory map from connections to identities and room
// subscriptions, owned by the fanout server. All mutation and dispatch reads
// go through one mutex, so a publish in flight either sees a connection's
// full subscription set or none of it.
type Registry struct {
	mu     sync.RWMutex
	nextID ConnID
	conns  map[ConnID]*connEntry
	rooms  map[uuid.UUID]map[ConnID]struct{}
	users  map[uuid.UUID]ConnID
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*connEntry),
		rooms: make(map[uuid.UUID]map[ConnID]struct{}),
		users: make(map[uuid.UUID]ConnID),
	}
}

// Register assigns a fresh id to an authenticated connection. Never fails.
// A user's most recent connection wins the user-targeted delivery slot.
// The id is stored on the client before it becomes reachable through the
// registry, so a disconnect racing with registration still unregisters it.
func (r *Registry) Register(client *Client, identity models.Identity) ConnID {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	client.id = id
	r.conns[id] = &connEntry{
		client:   client,
		identity: identity,
		rooms:    make(map[uuid.UUID]struct{}),
	}
	r.users[identity.UserID] = id
	return id
}

// Subscribe adds the connection to a room's subscriber set. Idempotent;
// no-op for unknown connections.
func (r *Registry) Subscribe(id ConnID, roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[id]
	if !ok {
		return
	}
	entry.rooms[roomID] = struct{}{}

	subs, ok := r.rooms[roomID]
	if !ok {
		subs = make(map[ConnID]struct{})
		r.rooms[roomID] = subs
	}
	subs[id] = struct{}{}
}

// Unsubscribe removes the connection from a room's subscriber set.
// Idempotent.
func (r *Registry) Unsubscribe(id ConnID, roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unsubscribeLocked(id, roomID)
}

func (r *Registry) unsubscribeLocked(id ConnID, roomID uuid.UUID) {
	if entry, ok := r.conns[id]; ok {
		delete(entry.rooms, roomID)
	}
	if subs, ok := r.rooms[roomID]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// UnregisterAll removes the connection from every room's subscriber set and
// drops it entirely, atomically with respect to concurrent dispatch reads.
// Called once on disconnect; safe to call again.
func (r *Registry) UnregisterAll(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.conns[id]
	if !ok {
		return
	}
	for roomID := range entry.rooms {
		r.unsubscribeLocked(id, roomID)
	}
	if current, ok := r.users[entry.identity.UserID]; ok && current == id {
		delete(r.users, entry.identity.UserID)
	}
	delete(r.conns, id)
}

// SubscribersOf returns a consistent snapshot of a room's live subscribers.
// Each connection appears at most once.
func (r *Registry) SubscribersOf(roomID uuid.UUID) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	clients := make([]*Client, 0, len(subs))
	for id := range subs {
		if entry, ok := r.conns[id]; ok {
			clients = append(clients, entry.client)
		}
	}
	return clients
}

// ClientForUser returns the live connection of a user, if any.
func (r *Registry) ClientForUser(userID uuid.UUID) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.users[userID]
	if !ok {
		return nil, false
	}
	entry, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// IsSubscribed reports whether a connection currently subscribes to a room.
func (r *Registry) IsSubscribed(id ConnID, roomID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.conns[id]
	if !ok {
		return false
	}
	_, ok = entry.rooms[roomID]
	return ok
}

// AllClients returns a snapshot of every registered connection.
func (r *Registry) AllClients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.conns))
	for _, entry := range r.conns {
		clients = append(clients, entry.client)
	}
	return clients
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
