package conversation

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Registry maps session ids to live sessions. The map lock is never held
// while a session lock is being acquired or during I/O.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	generation atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// nextGeneration returns a value greater than every generation handed out
// before.
func (r *Registry) nextGeneration() uint64 {
	return r.generation.Add(1)
}

func (r *Registry) lookup(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// insertIfAbsent stores s unless another session already holds id, and
// returns whichever session is registered afterwards.
func (r *Registry) insertIfAbsent(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.id]; ok {
		return cur
	}
	r.sessions[s.id] = s
	return s
}

func (r *Registry) getOrCreate(id string, now time.Time) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := newSession(id, r.nextGeneration(), now)
	r.sessions[id] = s
	return s
}

// replace registers s, dropping whatever held its id.
func (r *Registry) replace(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.id] = s
}

// remove unregisters s. It is a no-op when s was already replaced.
func (r *Registry) remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.id] != s {
		return false
	}
	delete(r.sessions, s.id)
	return true
}

func (r *Registry) current(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[s.id] == s
}

func (r *Registry) all() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Get returns a snapshot of the session registered under id.
func (r *Registry) Get(id string) (Snapshot, bool) {
	s := r.lookup(id)
	if s == nil {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Snapshots lists every live session ordered by id.
func (r *Registry) Snapshots() []Snapshot {
	sessions := r.all()
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
