package vm

import (
	"fmt"
	"strings"
	"sync"
	"weak"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Observation: per-object change notification via runtime subclassing
//
// Observing a selector on an object moves the object into a shared
// Observing_<Class> subclass that overrides "class" to report the original
// class and wraps the selector so observers run after every send. Other
// subsystems that subclass objects at runtime have to detect this and stay
// out of the way.
// ---------------------------------------------------------------------------

// ObservingPrefix is the name prefix of classes created by Observe.
const ObservingPrefix = "Observing_"

var observeLog = commonlog.GetLogger("vm.observe")

// ObserverFunc is called after an observed selector returns.
type ObserverFunc func(obj *Object, selector string, result Value)

// Observation is a live registration returned by Observe.
type Observation struct {
	vm       *VM
	key      weak.Pointer[Object]
	selector string
	fn       ObserverFunc
	once     sync.Once
}

// Selector returns the observed selector.
func (o *Observation) Selector() string { return o.selector }

type observationTable struct {
	mu       sync.Mutex
	byObject map[weak.Pointer[Object]][]*Observation
	restore  map[weak.Pointer[Object]]*Class
}

func newObservationTable() *observationTable {
	return &observationTable{
		byObject: make(map[weak.Pointer[Object]][]*Observation),
		restore:  make(map[weak.Pointer[Object]]*Class),
	}
}

// Observe starts observing selector on obj.
func (vm *VM) Observe(obj *Object, selector string, fn ObserverFunc) (*Observation, error) {
	if vm.ObjectMethod(obj, selector) == nil {
		return nil, &MessageNotUnderstood{Class: obj.Class(), Selector: selector}
	}

	actual := obj.Class()
	sub := actual
	if !strings.HasPrefix(actual.Name, ObservingPrefix) {
		var err error
		sub, err = vm.observingClass(obj, actual)
		if err != nil {
			return nil, err
		}
	}

	if !vm.ImplementsDirectly(sub, selector) {
		vm.AddMethod(sub, selector, vm.notifyingMethod(sub, selector))
	}

	key := weak.Make(obj)
	o := &Observation{vm: vm, key: key, selector: selector, fn: fn}

	t := vm.observations
	t.mu.Lock()
	if _, ok := t.restore[key]; !ok {
		t.restore[key] = actual
	}
	t.byObject[key] = append(t.byObject[key], o)
	t.mu.Unlock()

	if sub != actual {
		obj.SetClass(sub)
		observeLog.Debugf("moved %s instance into %s", actual, sub)
	}
	return o, nil
}

// observingClass returns the shared observing subclass for actual,
// creating and registering it on first use.
func (vm *VM) observingClass(obj *Object, actual *Class) (*Class, error) {
	name := ObservingPrefix + actual.Name
	if existing := vm.Classes.Lookup(name); existing != nil {
		if existing.Superclass != actual {
			return nil, fmt.Errorf("observe: %w: %s", ErrDuplicateClass, name)
		}
		return existing, nil
	}

	perceived := vm.PerceivedClass(obj)
	sub, err := vm.AllocateSubclass(actual, name)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	vm.ReplaceMethod(sub, "class", NewMethod0("class", func(*VM, *Object) Value {
		return perceived
	}))
	if err := vm.RegisterSubclass(sub); err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	return sub, nil
}

// notifyingMethod calls the superclass implementation, then every observer
// registered for the receiver and selector.
func (vm *VM) notifyingMethod(owner *Class, selector string) Method {
	id := vm.Selectors.Intern(selector)
	return NewPrimitiveMethod(selector, func(v *VM, recv *Object, args []Value) Value {
		m := owner.Superclass.VTable.Lookup(id)
		if m == nil {
			panic(&MessageNotUnderstood{Class: owner.Superclass, Selector: selector})
		}
		result := m.Invoke(v, recv, args)
		for _, o := range v.observations.matching(weak.Make(recv), selector) {
			o.fn(recv, selector, result)
		}
		return result
	})
}

func (t *observationTable) matching(key weak.Pointer[Object], selector string) []*Observation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Observation
	for _, o := range t.byObject[key] {
		if o.selector == selector {
			out = append(out, o)
		}
	}
	return out
}

// IsObserved reports whether obj has any live observation.
func (vm *VM) IsObserved(obj *Object) bool {
	t := vm.observations
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byObject[weak.Make(obj)]) > 0
}

// Cancel stops the observation. When the last observation of an object is
// cancelled, the object is moved back to the class it had before observing
// started, unless something else has replaced its class in the meantime.
func (o *Observation) Cancel() {
	o.once.Do(func() {
		t := o.vm.observations
		t.mu.Lock()
		list := t.byObject[o.key]
		for i, other := range list {
			if other == o {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		var restore *Class
		if len(list) == 0 {
			delete(t.byObject, o.key)
			restore = t.restore[o.key]
			delete(t.restore, o.key)
		} else {
			t.byObject[o.key] = list
		}
		t.mu.Unlock()

		obj := o.key.Value()
		if restore == nil || obj == nil {
			return
		}
		current := obj.Class()
		if !strings.HasPrefix(current.Name, ObservingPrefix) {
			observeLog.Warningf("not restoring %s: object is now a %s", restore, current)
			return
		}
		obj.SetClass(restore)
	})
}
