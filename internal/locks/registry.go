// Package locks provides an in-process registry of advisory keyed locks.
// Consolidation holds them while it rewrites sessions and records; the
// ranker inspects them to decide whether to serve a cached snapshot instead
// of queueing behind a merge.
package locks

import "sync"

// Registry hands out advisory locks by string key. Keys are namespaced by
// the caller, e.g. "session:<id>" or "memory:<id>".
type Registry struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{held: make(map[string]chan struct{})}
}

// Acquire blocks until the key is free, then holds it. The returned release
// function must be called exactly once.
func (r *Registry) Acquire(key string) (release func()) {
	for {
		r.mu.Lock()
		ch, busy := r.held[key]
		if !busy {
			done := make(chan struct{})
			r.held[key] = done
			r.mu.Unlock()
			return func() {
				r.mu.Lock()
				delete(r.held, key)
				r.mu.Unlock()
				close(done)
			}
		}
		r.mu.Unlock()
		<-ch
	}
}

// TryAcquire holds the key if it is free. ok is false when another caller
// holds it; release must be called only when ok.
func (r *Registry) TryAcquire(key string) (release func(), ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.held[key]; busy {
		return nil, false
	}
	done := make(chan struct{})
	r.held[key] = done
	return func() {
		r.mu.Lock()
		delete(r.held, key)
		r.mu.Unlock()
		close(done)
	}, true
}

// Locked reports whether the key is currently held.
func (r *Registry) Locked(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, busy := r.held[key]
	return busy
}

// MemoryKey builds the lock key for a memory record.
func MemoryKey(id string) string { return "memory:" + id }

// SessionKey builds the lock key for a session.
func SessionKey(id string) string { return "session:" + id }
