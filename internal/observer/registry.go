// Package observer implements the weak-reference listener registry
// described in spec.md §9 ("Circular listener references"): the SDK
// never strong-holds UI state, so a listener the host app drops is
// skipped silently on the next dispatch rather than leaking.
package observer

import (
	"sync"
	"weak"

	"github.com/swiftim-go/core/internal/model"
)

// Listener receives dispatched SDK events. Implementations must return
// quickly; Registry delivers on a single goroutine per spec.md §5
// ("Listener callbacks are delivered on a single observation thread...
// and do not interleave per listener").
type Listener interface {
	OnEvent(model.Event)
}

type entry struct {
	key string
	ptr weak.Pointer[Listener]
}

// Registry holds listeners by weak reference, keyed by a caller-chosen
// string (so re-registering the same key replaces the prior listener).
type Registry struct {
	mu        sync.Mutex
	listeners []entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds *l under key, replacing any previous listener at the
// same key. The Registry keeps only a weak.Pointer into the caller's
// own storage: l must point at a Listener field the host app (typically
// UI-owned state) holds a strong reference to elsewhere. Once the host
// drops that field, the weak pointer resolves to nil and Dispatch
// silently forgets the entry — the core SDK never pins UI objects in
// memory itself.
func (r *Registry) Register(key string, l *Listener) {
	p := weak.Make(l)
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.listeners {
		if r.listeners[i].key == key {
			r.listeners[i].ptr = p
			return
		}
	}
	r.listeners = append(r.listeners, entry{key: key, ptr: p})
}

// Unregister removes the listener at key, if present.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.listeners {
		if r.listeners[i].key == key {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// Dispatch delivers ev to every live listener, in registration order,
// and compacts entries whose listener has been garbage collected.
func (r *Registry) Dispatch(ev model.Event) {
	r.mu.Lock()
	live := r.listeners[:0]
	var toCall []Listener
	for _, e := range r.listeners {
		if lp := e.ptr.Value(); lp != nil {
			live = append(live, e)
			toCall = append(toCall, *lp)
		}
	}
	r.listeners = live
	r.mu.Unlock()

	for _, l := range toCall {
		l.OnEvent(ev)
	}
}

// Len reports the number of currently-live listeners (best effort:
// entries pending GC may still be counted until the next Dispatch).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.listeners)
}
