package vm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrDuplicateClass         = errors.New("class already registered")
	ErrUnknownSuperclass      = errors.New("unknown superclass")
	ErrUnknownPrimitive       = errors.New("unknown primitive")
	ErrArityMismatch          = errors.New("primitive arity does not match selector")
	ErrInvalidClassName       = errors.New("invalid class name")
	ErrTrampolinesUnsupported = errors.New("super trampolines are not supported")
	ErrAlreadyImplemented     = errors.New("selector already implemented directly")
	ErrNoSuperclass           = errors.New("class has no superclass")
)

// MessageNotUnderstood is the panic value raised when a send finds no method.
type MessageNotUnderstood struct {
	Class    *Class
	Selector string
}

func (e *MessageNotUnderstood) Error() string {
	return fmt.Sprintf("%s does not understand #%s", e.Class, e.Selector)
}

// ---------------------------------------------------------------------------
// VM
// ---------------------------------------------------------------------------

// VM is the runtime: selector table, class table and the root class.
type VM struct {
	Selectors  *SelectorTable
	Classes    *ClassTable
	Primitives *PrimitiveRegistry

	// ObjectClass is the root of every class hierarchy created through the VM.
	ObjectClass *Class

	weakRefs *WeakRegistry

	// supportsTrampolines reports whether AddSuperTrampoline is available.
	supportsTrampolines atomic.Bool

	imageMu        sync.Mutex
	imageListeners map[int]func(*Image)
	nextListenerID int

	observations *observationTable
}

// NewVM creates a new VM with the root Object class bootstrapped.
func NewVM() *VM {
	vm := &VM{
		Selectors:      NewSelectorTable(),
		Classes:        NewClassTable(),
		Primitives:     NewPrimitiveRegistry(),
		weakRefs:       NewWeakRegistry(),
		imageListeners: make(map[int]func(*Image)),
		observations:   newObservationTable(),
	}
	vm.supportsTrampolines.Store(true)
	vm.bootstrap()
	return vm
}

// bootstrap creates the root class and its reflection methods.
func (vm *VM) bootstrap() {
	vm.ObjectClass = NewClass("Object", nil)

	// class reports the actual class; dynamic subclasses override it to
	// report the class they stand in for.
	vm.ObjectClass.AddMethod0(vm.Selectors, "class", func(_ *VM, recv *Object) Value {
		return recv.Class()
	})
	vm.ObjectClass.AddMethod1(vm.Selectors, "respondsTo:", func(v *VM, recv *Object, sel Value) Value {
		name, ok := sel.(string)
		if !ok {
			return false
		}
		id := v.Selectors.Lookup(name)
		return id >= 0 && recv.lookup(id) != nil
	})
	vm.ObjectClass.AddMethod1(vm.Selectors, "isKindOf:", func(v *VM, recv *Object, cls Value) Value {
		c, ok := cls.(*Class)
		if !ok {
			return false
		}
		return v.PerceivedClass(recv).IsSubclassOf(c)
	})
	vm.ObjectClass.AddMethod0(vm.Selectors, "printString", func(v *VM, recv *Object) Value {
		return "a " + v.PerceivedClass(recv).Name
	})

	_ = vm.Classes.Register(vm.ObjectClass)
}

// DefineClass creates and registers a class. A nil superclass means Object.
func (vm *VM) DefineClass(name string, superclass *Class, instVars ...string) (*Class, error) {
	if name == "" {
		return nil, ErrInvalidClassName
	}
	if superclass == nil {
		superclass = vm.ObjectClass
	}
	c := NewClassWithInstVars(name, superclass, instVars)
	if err := vm.Classes.Register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LookupClass returns a class by name.
func (vm *VM) LookupClass(name string) *Class {
	return vm.Classes.Lookup(name)
}

// Send sends a message to a receiver. Panics with *MessageNotUnderstood if
// no method is found.
func (vm *VM) Send(receiver *Object, selector string, args ...Value) Value {
	var m Method
	if id := vm.Selectors.Lookup(selector); id >= 0 {
		m = receiver.lookup(id)
	}
	if m == nil {
		panic(&MessageNotUnderstood{Class: receiver.Class(), Selector: selector})
	}
	return m.Invoke(vm, receiver, args)
}

// SendSafe is like Send but converts a MessageNotUnderstood panic into an
// error.
func (vm *VM) SendSafe(receiver *Object, selector string, args ...Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			if mnu, ok := r.(*MessageNotUnderstood); ok {
				err = mnu
				return
			}
			panic(r)
		}
	}()
	return vm.Send(receiver, selector, args...), nil
}

// NewWeakRef creates and registers a weak reference to target.
func (vm *VM) NewWeakRef(target *Object) *WeakReference {
	wr := NewWeakReference(vm.weakRefs, target)
	vm.weakRefs.Register(wr)
	return wr
}

// LookupWeakRef finds a weak reference by ID.
func (vm *VM) LookupWeakRef(id uint32) *WeakReference {
	return vm.weakRefs.Lookup(id)
}

// WeakRefCount returns the number of registered weak references.
func (vm *VM) WeakRefCount() int {
	return vm.weakRefs.Count()
}

// PruneWeakRefs drops registered weak references whose target is gone.
func (vm *VM) PruneWeakRefs() int {
	return vm.weakRefs.Prune()
}
