package vm

import (
	"sync"
	"sync/atomic"
)

// Object represents a heap-allocated runtime object.
//
// The class pointer is what dispatch uses. It can be swapped at runtime
// (see SetClass), which is how per-object subclasses and the observation
// framework scope behaviour to a single instance. An optional shadow table
// is consulted before the class table.
type Object struct {
	class  atomic.Pointer[Class]
	shadow atomic.Pointer[VTable]

	mu    sync.RWMutex
	slots []Value
}

// NewObject creates a new Object of the given class with all slots nil.
func NewObject(c *Class) *Object {
	obj := &Object{}
	numSlots := 0
	if c != nil {
		numSlots = c.NumSlots
	}
	obj.slots = make([]Value, numSlots)
	obj.class.Store(c)
	return obj
}

// Class returns the object's actual class, which is not necessarily the
// class the object reports through the "class" message.
func (obj *Object) Class() *Class {
	return obj.class.Load()
}

// SetClass swaps the object's class pointer and returns the previous class.
func (obj *Object) SetClass(c *Class) *Class {
	return obj.class.Swap(c)
}

// Shadow returns the object's shadow dispatch table, or nil.
func (obj *Object) Shadow() *VTable {
	return obj.shadow.Load()
}

// InstallShadow installs vt as the object's shadow table if none is set.
// Returns the table that is installed afterwards.
func (obj *Object) InstallShadow(vt *VTable) *VTable {
	if obj.shadow.CompareAndSwap(nil, vt) {
		return vt
	}
	return obj.shadow.Load()
}

// lookup resolves a selector ID for this object: shadow table first,
// then the actual class chain.
func (obj *Object) lookup(selector int) Method {
	if sh := obj.shadow.Load(); sh != nil {
		if m := sh.LookupLocal(selector); m != nil {
			return m
		}
	}
	c := obj.class.Load()
	if c == nil {
		return nil
	}
	return c.VTable.Lookup(selector)
}

// GetSlot returns the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) GetSlot(index int) Value {
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	if index < 0 || index >= len(obj.slots) {
		panic("Object.GetSlot: index out of range")
	}
	return obj.slots[index]
}

// SetSlot sets the value at the given slot index.
// Panics if index is out of range.
func (obj *Object) SetSlot(index int, value Value) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if index < 0 || index >= len(obj.slots) {
		panic("Object.SetSlot: index out of range")
	}
	obj.slots[index] = value
}

// NumSlots returns the total number of slots in this object.
func (obj *Object) NumSlots() int {
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return len(obj.slots)
}
