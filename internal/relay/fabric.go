package relay

import (
	"log"
	"sync"

	"github.com/Imok282/glassmeet/internal/models"
)

// room is a reference-counted membership handle. It exists exactly as long as
// it has members; the last Leave deletes it from the fabric. The mutex is the
// room's ordering point: membership changes and broadcasts both take it
// exclusively, so every member observes events in one publish order.
type room struct {
	name    string
	mu      sync.Mutex
	members map[string]*Client
}

// Fabric is the group-membership primitive under the relay: join/leave a
// named room, broadcast to its members, unicast to one connection. Membership
// changes and broadcasts for one room are serialized by that room's mutex, so
// every member observes events in publish order. Different rooms proceed
// independently.
type Fabric struct {
	mu    sync.RWMutex
	rooms map[string]*room
	conns map[string]*Client
	// joined tracks room names per connection for leave-all on disconnect.
	joined map[string]map[string]struct{}
}

func NewFabric() *Fabric {
	return &Fabric{
		rooms:  make(map[string]*room),
		conns:  make(map[string]*Client),
		joined: make(map[string]map[string]struct{}),
	}
}

// Register makes a connection addressable for unicast and global broadcast.
func (f *Fabric) Register(c *Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conns[c.ID] = c
	f.joined[c.ID] = make(map[string]struct{})
}

// Unregister removes a connection and returns the rooms it was still in, so
// the relay can announce the departures.
func (f *Fabric) Unregister(c *Client) []string {
	f.mu.Lock()
	delete(f.conns, c.ID)
	var names []string
	for name := range f.joined[c.ID] {
		names = append(names, name)
	}
	delete(f.joined, c.ID)
	f.mu.Unlock()

	for _, name := range names {
		f.removeMember(name, c.ID)
	}
	return names
}

// Join subscribes a connection to a room, creating the room on first use.
func (f *Fabric) Join(c *Client, name string) {
	r := f.roomFor(c, name)

	r.mu.Lock()
	r.members[c.ID] = c
	r.mu.Unlock()
}

// JoinAnnounce subscribes a connection to a room and delivers env to the
// members that were already present, as one step under the room's lock. Of
// two racing joins exactly one observes the other as present, so exactly one
// side of any pair is announced to — the arrival-order rule holds under
// concurrency.
func (f *Fabric) JoinAnnounce(c *Client, name string, env models.Envelope) {
	r := f.roomFor(c, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	for connID, member := range r.members {
		if connID != c.ID {
			member.SendEnvelope(env)
		}
	}
	r.members[c.ID] = c
}

func (f *Fabric) roomFor(c *Client, name string) *room {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, exists := f.rooms[name]
	if !exists {
		r = &room{name: name, members: make(map[string]*Client)}
		f.rooms[name] = r
		log.Printf("Created room: %s", name)
	}
	if set, ok := f.joined[c.ID]; ok {
		set[name] = struct{}{}
	}
	return r
}

// Leave unsubscribes a connection from a room.
func (f *Fabric) Leave(c *Client, name string) {
	f.mu.Lock()
	if set, ok := f.joined[c.ID]; ok {
		delete(set, name)
	}
	f.mu.Unlock()

	f.removeMember(name, c.ID)
}

func (f *Fabric) removeMember(name, connID string) {
	f.mu.Lock()
	r, exists := f.rooms[name]
	f.mu.Unlock()
	if !exists {
		return
	}

	r.mu.Lock()
	delete(r.members, connID)
	empty := len(r.members) == 0
	r.mu.Unlock()

	if empty {
		f.mu.Lock()
		// Re-check under the fabric lock; a concurrent Join may have revived it.
		r.mu.Lock()
		if len(r.members) == 0 && f.rooms[name] == r {
			delete(f.rooms, name)
			log.Printf("Removed empty room: %s", name)
		}
		r.mu.Unlock()
		f.mu.Unlock()
	}
}

// Broadcast delivers an envelope to every member of a room, optionally
// excluding one connection (normally the sender). Broadcasts to one room are
// strictly ordered: the room lock is held exclusively for the whole delivery.
func (f *Fabric) Broadcast(name string, env models.Envelope, excludeConnID string) {
	f.mu.RLock()
	r, exists := f.rooms[name]
	f.mu.RUnlock()
	if !exists {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for connID, client := range r.members {
		if connID != excludeConnID {
			client.SendEnvelope(env)
		}
	}
}

// Unicast delivers an envelope to a single connection id. An unknown target
// is a silent no-op: the sender's orchestrator times out or retries at the
// room layer, never through an error from here.
func (f *Fabric) Unicast(connID string, env models.Envelope) {
	f.mu.RLock()
	client, exists := f.conns[connID]
	f.mu.RUnlock()
	if !exists {
		return
	}
	client.SendEnvelope(env)
}

// BroadcastAll delivers an envelope to every registered connection,
// regardless of room membership. Used for presence snapshots.
func (f *Fabric) BroadcastAll(env models.Envelope) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, client := range f.conns {
		client.SendEnvelope(env)
	}
}

// MemberCount reports how many connections are currently in a room.
func (f *Fabric) MemberCount(name string) int {
	f.mu.RLock()
	r, exists := f.rooms[name]
	f.mu.RUnlock()
	if !exists {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}
