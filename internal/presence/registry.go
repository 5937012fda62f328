// Package presence maps live connection ids to durable usernames and is the
// source of truth for the online-user directory.
package presence

import (
	"sort"
	"sync"

	"github.com/Imok282/glassmeet/internal/models"
)

// Registry tracks which connections are online and who they belong to. It is
// created at process start and handed to the relay by reference; mutations are
// serialized under a single mutex. A username may have several live
// connections (one per device).
type Registry struct {
	mu        sync.RWMutex
	byConn    map[string]models.Profile
	onPublish func(snapshot []models.Profile)
}

// NewRegistry creates an empty registry. publish, if non-nil, is invoked with
// a full snapshot after every register/unregister. Full snapshots keep every
// client consistent without diffing; at this scale the O(n) cost is fine.
func NewRegistry(publish func([]models.Profile)) *Registry {
	return &Registry{
		byConn:    make(map[string]models.Profile),
		onPublish: publish,
	}
}

// Register records a connection for profile.Username. Re-registering the same
// connection id overwrites the previous profile (last write wins).
func (r *Registry) Register(connID string, profile models.Profile) {
	profile.ConnectionID = connID

	r.mu.Lock()
	r.byConn[connID] = profile
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.publish(snapshot)
}

// Unregister removes a connection. Unknown ids are a no-op and publish no
// snapshot.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	_, known := r.byConn[connID]
	delete(r.byConn, connID)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if known {
		r.publish(snapshot)
	}
}

// Resolve returns every live connection id registered for username. An empty
// result means "deliver nothing" — it is never an error.
func (r *Registry) Resolve(username string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for connID, profile := range r.byConn {
		if profile.Username == username {
			ids = append(ids, connID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Lookup returns the profile registered for a connection id.
func (r *Registry) Lookup(connID string) (models.Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.byConn[connID]
	return profile, ok
}

// Snapshot returns the full online-user directory, ordered by username for
// stable output.
func (r *Registry) Snapshot() []models.Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []models.Profile {
	snapshot := make([]models.Profile, 0, len(r.byConn))
	for _, profile := range r.byConn {
		snapshot = append(snapshot, profile)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].Username != snapshot[j].Username {
			return snapshot[i].Username < snapshot[j].Username
		}
		return snapshot[i].ConnectionID < snapshot[j].ConnectionID
	})
	return snapshot
}

func (r *Registry) publish(snapshot []models.Profile) {
	if r.onPublish != nil {
		r.onPublish(snapshot)
	}
}
