package vm

import "sync"

// VTable holds the method dispatch table for a class.
//
// Methods are stored in a slice indexed by selector ID. Inheritance is
// handled by walking the parent chain when a method is not found locally.
// Slot writes take the table's write lock, so a concurrent Lookup observes
// either the old or the new implementation, never a torn slot.
type VTable struct {
	mu      sync.RWMutex
	class   *Class   // nil for per-object shadow tables
	parent  *VTable  // parent vtable for inheritance lookup
	methods []Method // methods indexed by selector ID
}

// NewVTable creates a new vtable for a class.
func NewVTable(class *Class, parent *VTable) *VTable {
	return &VTable{
		class:   class,
		parent:  parent,
		methods: make([]Method, 0, 16),
	}
}

// Lookup finds a method by selector ID, walking the inheritance chain.
// Returns nil if no method is found.
func (vt *VTable) Lookup(selector int) Method {
	for v := vt; v != nil; v = v.Parent() {
		if m := v.LookupLocal(selector); m != nil {
			return m
		}
	}
	return nil
}

// LookupLocal finds a method by selector ID in this vtable only.
func (vt *VTable) LookupLocal(selector int) Method {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	if selector >= 0 && selector < len(vt.methods) {
		return vt.methods[selector]
	}
	return nil
}

// AddMethod adds or replaces a method at the given selector ID.
func (vt *VTable) AddMethod(selector int, method Method) {
	vt.ReplaceMethod(selector, method)
}

// ReplaceMethod stores method at the given selector ID and returns the
// method that previously occupied the local slot (nil if there was none).
func (vt *VTable) ReplaceMethod(selector int, method Method) Method {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	vt.grow(selector)
	prev := vt.methods[selector]
	vt.methods[selector] = method
	return prev
}

// AddMethodIfAbsent stores method only if the local slot is empty.
// Returns false if the slot was already occupied.
func (vt *VTable) AddMethodIfAbsent(selector int, method Method) bool {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	vt.grow(selector)
	if vt.methods[selector] != nil {
		return false
	}
	vt.methods[selector] = method
	return true
}

// grow extends the methods slice so selector is a valid index.
// Callers must hold the write lock.
func (vt *VTable) grow(selector int) {
	if selector < len(vt.methods) {
		return
	}
	newMethods := make([]Method, selector+1)
	copy(newMethods, vt.methods)
	vt.methods = newMethods
}

// RemoveMethod clears the local slot for selector.
func (vt *VTable) RemoveMethod(selector int) {
	vt.mu.Lock()
	defer vt.mu.Unlock()
	if selector >= 0 && selector < len(vt.methods) {
		vt.methods[selector] = nil
	}
}

// HasMethod returns true if this vtable (not parents) has a method for selector.
func (vt *VTable) HasMethod(selector int) bool {
	return vt.LookupLocal(selector) != nil
}

// Parent returns the parent vtable. It is fixed when the table is created.
func (vt *VTable) Parent() *VTable {
	return vt.parent
}

// Class returns the class this vtable belongs to, or nil for a shadow table.
func (vt *VTable) Class() *Class {
	return vt.class
}

// MethodCount returns the number of method slots (including nil slots).
func (vt *VTable) MethodCount() int {
	vt.mu.RLock()
	defer vt.mu.RUnlock()
	return len(vt.methods)
}
