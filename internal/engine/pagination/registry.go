package pagination

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTTL is how long an untouched session stays registered.
const DefaultIdleTTL = 30 * time.Minute

// Session is a cursor the registry can own. Cursor and any type embedding a
// *Cursor satisfy it.
type Session interface {
	SessionID() string
	bindRegistry(retire, revive func())
}

// Registry maps session ids to live cursors. Done cursors are removed, and
// so are sessions nobody looked up for longer than the idle TTL.
type Registry[S Session] struct {
	mu        sync.Mutex
	sessions  map[string]*entry[S]
	idleTTL   time.Duration
	now       func() time.Time
	lastSweep time.Time
}

type entry[S Session] struct {
	s    S
	used time.Time
}

// RegistryOption customizes a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	idleTTL time.Duration
	now     func() time.Time
}

// WithIdleTTL sets how long an unused session survives. 0 keeps sessions
// until they are done.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(o *registryOptions) { o.idleTTL = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(o *registryOptions) { o.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry[S Session](opts ...RegistryOption) *Registry[S] {
	o := registryOptions{idleTTL: DefaultIdleTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry[S]{
		sessions:  make(map[string]*entry[S]),
		idleTTL:   o.idleTTL,
		now:       o.now,
		lastSweep: o.now(),
	}
}

// GetOrCreate returns the session registered under id, or builds one with
// create and registers it. An empty or malformed id gets a fresh random one.
func (r *Registry[S]) GetOrCreate(id string, create func(id string) S) S {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	if s, ok := r.Get(id); ok {
		return s
	}

	s := create(id)
	s.bindRegistry(func() { r.remove(id) }, func() { r.put(id, s) })

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.used = r.now()
		return e.s
	}
	r.sessions[id] = &entry[S]{s: s, used: r.now()}
	return s
}

// Get looks up a live session and marks it used.
func (r *Registry[S]) Get(id string) (S, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.sweepLocked(now)
	e, ok := r.sessions[id]
	if !ok {
		var zero S
		return zero, false
	}
	e.used = now
	return e.s, true
}

// Len returns the number of live sessions.
func (r *Registry[S]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Expire drops every session idle for the TTL and returns how many went.
func (r *Registry[S]) Expire() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expireLocked(r.now())
}

// sweepLocked expires idle sessions at most twice per TTL so lookups stay cheap.
func (r *Registry[S]) sweepLocked(now time.Time) {
	if r.idleTTL <= 0 || now.Sub(r.lastSweep) < r.idleTTL/2 {
		return
	}
	if n := r.expireLocked(now); n > 0 {
		slog.Debug("pagination: expired idle sessions", slog.Int("count", n))
	}
}

func (r *Registry[S]) expireLocked(now time.Time) int {
	r.lastSweep = now
	if r.idleTTL <= 0 {
		return 0
	}
	n := 0
	for id, e := range r.sessions {
		if now.Sub(e.used) >= r.idleTTL {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry[S]) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry[S]) put(id string, s S) {
	r.mu.Lock()
	r.sessions[id] = &entry[S]{s: s, used: r.now()}
	r.mu.Unlock()
}
