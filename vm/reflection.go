package vm

import "fmt"

// ---------------------------------------------------------------------------
// Reflection primitives
//
// These are the atomic operations a method interceptor needs from the
// runtime. Each one performs at most one dispatch table write.
// ---------------------------------------------------------------------------

// Intern returns the selector ID for name, creating it if needed.
func (vm *VM) Intern(selector string) int {
	return vm.Selectors.Intern(selector)
}

// FindMethod looks up selector on class, walking the superclass chain.
// Returns nil if the selector is not understood.
func (vm *VM) FindMethod(class *Class, selector string) Method {
	if class == nil {
		return nil
	}
	id := vm.Selectors.Lookup(selector)
	if id < 0 {
		return nil
	}
	return class.VTable.Lookup(id)
}

// ObjectMethod resolves selector for a specific object, including its
// shadow table.
func (vm *VM) ObjectMethod(obj *Object, selector string) Method {
	id := vm.Selectors.Lookup(selector)
	if id < 0 {
		return nil
	}
	return obj.lookup(id)
}

// ImplementsDirectly reports whether class itself (not a superclass) has an
// entry for selector.
func (vm *VM) ImplementsDirectly(class *Class, selector string) bool {
	return class.HasMethod(vm.Selectors, selector)
}

// ReplaceMethod installs impl for selector on class and returns the
// implementation it displaced. If class had no direct entry, the method is
// added and nil is returned.
func (vm *VM) ReplaceMethod(class *Class, selector string, impl Method) Method {
	return class.VTable.ReplaceMethod(vm.Selectors.Intern(selector), impl)
}

// AddMethod adds impl for selector on class. Returns false if class already
// has a direct entry for selector.
func (vm *VM) AddMethod(class *Class, selector string, impl Method) bool {
	return class.VTable.AddMethodIfAbsent(vm.Selectors.Intern(selector), impl)
}

// AllocateSubclass creates an unregistered subclass of parent. The name must
// not be taken by a registered class.
func (vm *VM) AllocateSubclass(parent *Class, name string) (*Class, error) {
	if parent == nil {
		return nil, fmt.Errorf("allocate %s: %w", name, ErrNoSuperclass)
	}
	if name == "" {
		return nil, ErrInvalidClassName
	}
	if vm.Classes.Has(name) {
		return nil, fmt.Errorf("allocate %s: %w", name, ErrDuplicateClass)
	}
	c := NewClass(name, parent)
	c.Namespace = parent.Namespace
	return c, nil
}

// RegisterSubclass makes an allocated class visible by name.
func (vm *VM) RegisterSubclass(class *Class) error {
	return vm.Classes.Register(class)
}

// ClassNamed returns a registered class by name, or nil.
func (vm *VM) ClassNamed(name string) *Class {
	return vm.Classes.Lookup(name)
}

// ActualClass returns the class pointer dispatch uses for obj.
func (vm *VM) ActualClass(obj *Object) *Class {
	return obj.Class()
}

// PerceivedClass returns the class obj reports through the "class" message.
// Dynamic subclasses override "class" to hide themselves, so this can
// differ from ActualClass.
func (vm *VM) PerceivedClass(obj *Object) *Class {
	if v, err := vm.SendSafe(obj, "class"); err == nil {
		if c, ok := v.(*Class); ok && c != nil {
			return c
		}
	}
	return obj.Class()
}

// SetClass swaps obj's class pointer and returns the previous class.
func (vm *VM) SetClass(obj *Object, class *Class) *Class {
	return obj.SetClass(class)
}

// InstallShadowTable gives obj a shadow dispatch table, or returns the one
// it already has.
func (vm *VM) InstallShadowTable(obj *Object) *VTable {
	if sh := obj.Shadow(); sh != nil {
		return sh
	}
	return obj.InstallShadow(NewVTable(nil, nil))
}

// SupportsSuperTrampolines reports whether AddSuperTrampoline is available.
func (vm *VM) SupportsSuperTrampolines() bool {
	return vm.supportsTrampolines.Load()
}

// SetSuperTrampolinesSupported toggles trampoline support. Hosts that cannot
// forward calls of unknown arity turn this off.
func (vm *VM) SetSuperTrampolinesSupported(supported bool) {
	vm.supportsTrampolines.Store(supported)
}

// AddSuperTrampoline adds a method to class that forwards selector to the
// superclass implementation. Fails if class already implements selector.
func (vm *VM) AddSuperTrampoline(class *Class, selector string) error {
	if !vm.SupportsSuperTrampolines() {
		return ErrTrampolinesUnsupported
	}
	if class.Superclass == nil {
		return fmt.Errorf("trampoline %s>>%s: %w", class, selector, ErrNoSuperclass)
	}
	id := vm.Selectors.Intern(selector)
	t := &SuperTrampoline{owner: class, selector: selector, id: id}
	if !class.VTable.AddMethodIfAbsent(id, t) {
		return fmt.Errorf("trampoline %s>>%s: %w", class, selector, ErrAlreadyImplemented)
	}
	return nil
}
