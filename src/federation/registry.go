// Package federation implements HQ/remote aggregation: an in-memory
// remote registry with session-ownership tracking on the HQ side, a
// registering client on the remote side, and a transparent HTTP/WebSocket
// proxy layer built on net/http/httputil rather than hand-rolled framing.
package federation

import (
	"sync"
	"time"

	"vibetunnel/server/src/errs"
)

// Remote is one registered remote node, as HQ knows it.
type Remote struct {
	ID    string
	Name  string
	URL   string
	Token string

	mu        sync.Mutex
	healthy   bool
	sessions  map[string]struct{}
	failures  int
	nextProbe time.Time
}

// Healthy reports the remote's last known health state.
func (r *Remote) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.healthy
}

// SessionIDs returns a snapshot of the remote's known session ids.
func (r *Remote) SessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// AddSession records sessionID in this remote's ownership set, used when a
// forced-placement create on HQ succeeds.
func (r *Remote) AddSession(id string) {
	r.mu.Lock()
	r.sessions[id] = struct{}{}
	r.mu.Unlock()
}

// RemoveSession drops sessionID from this remote's ownership set.
func (r *Remote) RemoveSession(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Remote) replaceSessions(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.mu.Lock()
	r.sessions = set
	r.mu.Unlock()
}

func (r *Remote) ownsSession(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

func (r *Remote) setHealth(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthy = ok
	if ok {
		r.failures = 0
		return
	}
	r.failures++
}

// backoff returns the exponential backoff delay (capped at 30s) for this
// remote's current failure count. The Refresher does not consult it: every
// remote is probed on each refresh tick.
func (r *Remote) backoff() time.Duration {
	r.mu.Lock()
	n := r.failures
	r.mu.Unlock()
	d := time.Second
	for i := 0; i < n && d < 30*time.Second; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// Registry is HQ's in-memory remote registry, keyed by id with a secondary
// index by name.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Remote
	byName  map[string]*Remote
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Remote), byName: make(map[string]*Remote)}
}

// Register adds a remote, idempotent on an identical resubmission;
// conflicting identity under the same id or name yields AlreadyRegistered.
func (reg *Registry) Register(id, name, url, token string) (*Remote, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.byID[id]; ok {
		if existing.Name == name && existing.URL == url && existing.Token == token {
			return existing, nil
		}
		return nil, errs.New(errs.KindAlreadyRegistered, "remote id already registered with different identity: "+id)
	}
	if existing, ok := reg.byName[name]; ok {
		if existing.ID != id {
			return nil, errs.New(errs.KindAlreadyRegistered, "remote name already registered under a different id: "+name)
		}
	}

	r := &Remote{ID: id, Name: name, URL: url, Token: token, healthy: true, sessions: make(map[string]struct{})}
	reg.byID[id] = r
	reg.byName[name] = r
	return r, nil
}

// Unregister removes a remote by id; unregistering an unknown id is a no-op
// (idempotent).
func (reg *Registry) Unregister(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.byID[id]; ok {
		delete(reg.byName, r.Name)
		delete(reg.byID, id)
	}
}

// Get looks up a remote by id.
func (reg *Registry) Get(id string) (*Remote, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.byID[id]
	return r, ok
}

// All returns a snapshot slice of every registered remote.
func (reg *Registry) All() []*Remote {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Remote, 0, len(reg.byID))
	for _, r := range reg.byID {
		out = append(out, r)
	}
	return out
}

// OwnerOf finds which remote owns sessionID, if any, whatever its health.
func (reg *Registry) OwnerOf(sessionID string) (*Remote, bool) {
	for _, r := range reg.All() {
		if r.ownsSession(sessionID) {
			return r, true
		}
	}
	return nil, false
}
