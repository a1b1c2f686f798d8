// Package session keeps the live library sessions of the HTTP API. Every
// session owns its own seeded catalog and is discarded when it ends or sits
// idle past the TTL.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"SmartLibrary/internal/library"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("registry closed")
)

type entry struct {
	mu       sync.Mutex
	lib      *library.Session
	lastSeen time.Time
	// ended is set once the entry leaves the map; a caller that looked the
	// entry up just before must not touch it.
	ended bool
}

type Info struct {
	ID       string
	OpenedAt time.Time
}

// Registry maps session ids to catalogs. Calls on a single session are
// serialised; different sessions proceed independently.
type Registry struct {
	mu     sync.RWMutex
	m      map[string]*entry
	ttl    time.Duration
	closed bool

	now     func() time.Time
	newLib  func() *library.Session
	onEvict func(id string)
}

type Option func(*Registry)

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLibraryFactory replaces how each session's catalog is built.
func WithLibraryFactory(fn func() *library.Session) Option {
	return func(r *Registry) { r.newLib = fn }
}

// WithEvictHook is called, outside the registry lock, for every session
// removed by Sweep.
func WithEvictHook(fn func(id string)) Option {
	return func(r *Registry) { r.onEvict = fn }
}

func NewRegistry(ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		m:   make(map[string]*entry),
		ttl: ttl,
		now: time.Now,
		newLib: func() *library.Session {
			return library.NewSession()
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) Open() (Info, error) {
	now := r.now()
	id := "s_" + uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Info{}, ErrClosed
	}
	r.m[id] = &entry{lib: r.newLib(), lastSeen: now}

	return Info{ID: id, OpenedAt: now}, nil
}

// End discards the session and its catalog.
func (r *Registry) End(id string) error {
	r.mu.Lock()
	e, ok := r.m[id]
	if ok {
		delete(r.m, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	e.ended = true
	e.mu.Unlock()
	return nil
}

// With runs fn with exclusive access to the session's catalog and refreshes
// its idle timer.
func (r *Registry) With(id string, fn func(*library.Session) error) error {
	r.mu.RLock()
	e, ok := r.m[id]
	r.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	return r.use(e, fn)
}

// use runs fn on e unless the entry was ended or expired after lookup.
func (r *Registry) use(e *entry, fn func(*library.Session) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	if e.ended || r.expired(e, now) {
		return ErrNotFound
	}
	e.lastSeen = now

	return fn(e.lib)
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return r.ttl > 0 && now.Sub(e.lastSeen) > r.ttl
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed. Staleness is checked outside the registry lock so a slow
// callback on one session does not stall the others.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.RLock()
	snapshot := make(map[string]*entry, len(r.m))
	for id, e := range r.m {
		snapshot[id] = e
	}
	r.mu.RUnlock()

	var evicted []string
	for id, e := range snapshot {
		e.mu.Lock()
		stale := !e.ended && r.expired(e, now)
		e.mu.Unlock()
		if !stale {
			continue
		}

		r.mu.Lock()
		// The entry may have been ended or replaced meanwhile.
		if cur, ok := r.m[id]; ok && cur == e {
			delete(r.m, id)
			evicted = append(evicted, id)
		}
		r.mu.Unlock()

		e.mu.Lock()
		e.ended = true
		e.mu.Unlock()
	}

	if r.onEvict != nil {
		for _, id := range evicted {
			r.onEvict(id)
		}
	}
	return len(evicted)
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

func (r *Registry) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

// Close drops every session and refuses new ones.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, e := range r.m {
		e.mu.Lock()
		e.ended = true
		e.mu.Unlock()
	}
	r.m = make(map[string]*entry)
}
