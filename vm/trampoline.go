package vm

// SuperTrampoline forwards a send to whatever the superclass of its owner
// implements at call time. Installing one on a freshly created subclass
// gives later overrides a stable implementation to call through, and later
// changes to the superclass chain are picked up automatically.
type SuperTrampoline struct {
	owner    *Class
	selector string
	id       int
}

func (t *SuperTrampoline) Invoke(vm *VM, receiver *Object, args []Value) Value {
	var m Method
	if super := t.owner.Superclass; super != nil {
		m = super.VTable.Lookup(t.id)
	}
	if m == nil {
		panic(&MessageNotUnderstood{Class: t.owner.Superclass, Selector: t.selector})
	}
	return m.Invoke(vm, receiver, args)
}

func (t *SuperTrampoline) Name() string { return t.selector }
func (t *SuperTrampoline) Arity() int   { return -1 }

// Owner returns the class the trampoline is installed on.
func (t *SuperTrampoline) Owner() *Class { return t.owner }

// ShadowTrampoline is the shadow-table counterpart of SuperTrampoline: it
// forwards to the receiver's actual class chain, skipping the shadow table.
type ShadowTrampoline struct {
	selector string
	id       int
}

// NewShadowTrampoline creates a trampoline for a shadow table entry.
func NewShadowTrampoline(selector string, id int) *ShadowTrampoline {
	return &ShadowTrampoline{selector: selector, id: id}
}

func (t *ShadowTrampoline) Invoke(vm *VM, receiver *Object, args []Value) Value {
	var m Method
	if c := receiver.Class(); c != nil {
		m = c.VTable.Lookup(t.id)
	}
	if m == nil {
		panic(&MessageNotUnderstood{Class: receiver.Class(), Selector: t.selector})
	}
	return m.Invoke(vm, receiver, args)
}

func (t *ShadowTrampoline) Name() string { return t.selector }
func (t *ShadowTrampoline) Arity() int   { return -1 }
