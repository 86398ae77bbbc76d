package vm

import (
	"sync"
	"sync/atomic"
	"weak"
)

// ---------------------------------------------------------------------------
// WeakReference: a reference that doesn't keep its target alive
// ---------------------------------------------------------------------------

// WeakReference holds a weak reference to an object. Once the Go garbage
// collector reclaims the target, Get returns nil.
type WeakReference struct {
	id      uint32
	target  weak.Pointer[Object]
	cleared atomic.Bool
}

// NewWeakReference creates a new weak reference to the given object.
// The registry is used to generate a unique ID; if nil, a zero ID is assigned
// (suitable only for tests that don't need globally unique IDs).
func NewWeakReference(registry *WeakRegistry, target *Object) *WeakReference {
	var id uint32
	if registry != nil {
		id = registry.nextID()
	}
	return &WeakReference{
		id:     id,
		target: weak.Make(target),
	}
}

// ID returns the unique identifier for this weak reference.
func (wr *WeakReference) ID() uint32 {
	return wr.id
}

// Get returns the target object, or nil if it has been collected or cleared.
func (wr *WeakReference) Get() *Object {
	if wr.cleared.Load() {
		return nil
	}
	return wr.target.Value()
}

// IsAlive returns true if the target object is still reachable.
func (wr *WeakReference) IsAlive() bool {
	return wr.Get() != nil
}

// Clear detaches the reference from its target.
func (wr *WeakReference) Clear() {
	wr.cleared.Store(true)
}

// ---------------------------------------------------------------------------
// WeakRegistry: tracks weak references handed out by the VM
// ---------------------------------------------------------------------------

// WeakRegistry manages weak references by ID.
type WeakRegistry struct {
	mu     sync.RWMutex
	refs   map[uint32]*WeakReference
	lastID atomic.Uint32
}

// NewWeakRegistry creates a new weak reference registry.
func NewWeakRegistry() *WeakRegistry {
	return &WeakRegistry{
		refs: make(map[uint32]*WeakReference),
	}
}

func (r *WeakRegistry) nextID() uint32 {
	return r.lastID.Add(1)
}

// Register adds a weak reference to the registry.
func (r *WeakRegistry) Register(wr *WeakReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[wr.id] = wr
}

// Unregister removes a weak reference from the registry.
func (r *WeakRegistry) Unregister(wr *WeakReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refs, wr.id)
}

// Lookup finds a weak reference by ID.
func (r *WeakRegistry) Lookup(id uint32) *WeakReference {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refs[id]
}

// Prune removes references whose targets are gone and returns how many
// were removed.
func (r *WeakRegistry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, wr := range r.refs {
		if !wr.IsAlive() {
			delete(r.refs, id)
			removed++
		}
	}
	return removed
}

// Count returns the number of registered weak references.
func (r *WeakRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.refs)
}
