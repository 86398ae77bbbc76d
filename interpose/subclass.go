package interpose

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/steipete/InterposeKit/vm"
)

// DefaultSubclassPrefix names the per-object classes created by
// ClassPairStrategy.
const DefaultSubclassPrefix = "InterposeKit_"

// Subclass is the per-object dispatch layer an ObjectHook writes to. All
// selector operations act on that layer only, never on the object's
// original class.
type Subclass interface {
	Name() string
	ImplementsDirectly(selector string) bool
	// Implementation returns what a send of selector to the object
	// currently resolves to.
	Implementation(selector string) vm.Method
	// Replace installs impl and returns the displaced direct entry, or nil
	// if the entry was added.
	Replace(selector string, impl vm.Method) vm.Method
	// Add installs impl; false if the layer already implements selector.
	Add(selector string, impl vm.Method) bool
	// AddSuperTrampoline adds an entry that forwards to whatever the
	// object's class chain implements at call time.
	AddSuperTrampoline(selector string) error
}

// IsolationStrategy decides how an object gets its private dispatch layer.
type IsolationStrategy interface {
	// Existing returns the layer this strategy already installed on obj,
	// or nil.
	Existing(rt Runtime, obj *vm.Object, prefix string) Subclass
	// Create installs a new layer on obj. perceived is the class obj
	// reports and must keep reporting.
	Create(rt Runtime, obj *vm.Object, perceived *vm.Class, prefix string) (Subclass, error)
}

// ClassPairStrategy allocates a uniquely named subclass of the object's
// actual class and swaps the object's class pointer to it.
type ClassPairStrategy struct{}

// ShadowTableStrategy gives the object a shadow dispatch table that is
// consulted before its class. The class pointer is left alone.
type ShadowTableStrategy struct{}

var (
	_ IsolationStrategy = ClassPairStrategy{}
	_ IsolationStrategy = ShadowTableStrategy{}
)

func (ClassPairStrategy) Existing(rt Runtime, obj *vm.Object, prefix string) Subclass {
	actual := rt.ActualClass(obj)
	if actual != nil && strings.HasPrefix(actual.Name, prefix) {
		return &classPair{rt: rt, class: actual}
	}
	return nil
}

func (ClassPairStrategy) Create(rt Runtime, obj *vm.Object, perceived *vm.Class, prefix string) (Subclass, error) {
	actual := rt.ActualClass(obj)
	name := prefix + perceived.Name + strings.ReplaceAll(uuid.NewString(), "-", "")

	sub := rt.ClassNamed(name)
	if sub == nil {
		var err error
		sub, err = rt.AllocateSubclass(actual, name)
		if err != nil {
			return nil, &Error{Kind: KindFailedToAllocateClassPair, Class: perceived.Name, Detail: name, Err: err}
		}
		// The subclass keeps reporting the class the object had.
		rt.AddMethod(sub, "class", vm.NewMethod0("class", func(*vm.VM, *vm.Object) vm.Value {
			return perceived
		}))
		if err := rt.RegisterSubclass(sub); err != nil {
			return nil, &Error{Kind: KindFailedToAllocateClassPair, Class: perceived.Name, Detail: name, Err: err}
		}
	}

	rt.SetClass(obj, sub)
	dynamicSubclasses.Inc()
	logf(subclassLog, "Generated %s for object (was: %s)", sub.Name, actual.Name)
	return &classPair{rt: rt, class: sub}, nil
}

func (ShadowTableStrategy) Existing(rt Runtime, obj *vm.Object, prefix string) Subclass {
	if sh := obj.Shadow(); sh != nil && rt.ActualClass(obj) == rt.PerceivedClass(obj) {
		return &shadowTable{rt: rt, obj: obj, table: sh}
	}
	return nil
}

func (ShadowTableStrategy) Create(rt Runtime, obj *vm.Object, perceived *vm.Class, prefix string) (Subclass, error) {
	sh := rt.InstallShadowTable(obj)
	if sh == nil {
		return nil, newError(KindFailedToAllocateClassPair, perceived.Name, "", "no shadow table")
	}
	dynamicSubclasses.Inc()
	logf(subclassLog, "Installed shadow table for %s object", perceived.Name)
	return &shadowTable{rt: rt, obj: obj, table: sh}, nil
}

// classPair is a Subclass backed by a real runtime class.
type classPair struct {
	rt    Runtime
	class *vm.Class
}

func (c *classPair) Name() string { return c.class.Name }

func (c *classPair) ImplementsDirectly(selector string) bool {
	return c.rt.ImplementsDirectly(c.class, selector)
}

func (c *classPair) Implementation(selector string) vm.Method {
	return c.rt.FindMethod(c.class, selector)
}

func (c *classPair) Replace(selector string, impl vm.Method) vm.Method {
	return c.rt.ReplaceMethod(c.class, selector, impl)
}

func (c *classPair) Add(selector string, impl vm.Method) bool {
	return c.rt.AddMethod(c.class, selector, impl)
}

func (c *classPair) AddSuperTrampoline(selector string) error {
	if err := c.rt.AddSuperTrampoline(c.class, selector); err != nil {
		return err
	}
	logf(subclassLog, "Added super for -[%s %s]", c.class.Name, selector)
	return nil
}

// shadowTable is a Subclass backed by an object's shadow dispatch table.
type shadowTable struct {
	rt    Runtime
	obj   *vm.Object
	table *vm.VTable
}

func (s *shadowTable) Name() string {
	return fmt.Sprintf("shadow(%s)", s.rt.ActualClass(s.obj).Name)
}

func (s *shadowTable) ImplementsDirectly(selector string) bool {
	return s.table.LookupLocal(s.rt.Intern(selector)) != nil
}

func (s *shadowTable) Implementation(selector string) vm.Method {
	return s.rt.ObjectMethod(s.obj, selector)
}

func (s *shadowTable) Replace(selector string, impl vm.Method) vm.Method {
	return s.table.ReplaceMethod(s.rt.Intern(selector), impl)
}

func (s *shadowTable) Add(selector string, impl vm.Method) bool {
	return s.table.AddMethodIfAbsent(s.rt.Intern(selector), impl)
}

func (s *shadowTable) AddSuperTrampoline(selector string) error {
	if !s.rt.SupportsSuperTrampolines() {
		return vm.ErrTrampolinesUnsupported
	}
	id := s.rt.Intern(selector)
	if !s.table.AddMethodIfAbsent(id, vm.NewShadowTrampoline(selector, id)) {
		return fmt.Errorf("shadow trampoline %s: %w", selector, vm.ErrAlreadyImplemented)
	}
	return nil
}

// subclassManager finds or creates the private layer for one object.
type subclassManager struct {
	rt       Runtime
	strategy IsolationStrategy
	prefix   string
}

// prepare returns the object's existing layer or creates one. Conflicts
// are checked before anything is created.
func (m *subclassManager) prepare(obj *vm.Object, perceived *vm.Class) (Subclass, error) {
	if sc := m.strategy.Existing(m.rt, obj, m.prefix); sc != nil {
		return sc, nil
	}
	if err := checkConflict(m.rt, obj, m.prefix); err != nil {
		return nil, err
	}
	return m.strategy.Create(m.rt, obj, perceived, m.prefix)
}

// checkConflict rejects objects whose class was already swapped by some
// other subsystem.
func checkConflict(rt Runtime, obj *vm.Object, prefix string) error {
	perceived, actual := rt.PerceivedClass(obj), rt.ActualClass(obj)
	if perceived == actual || strings.HasPrefix(actual.Name, prefix) {
		return nil
	}
	detail := "actual class is " + actual.Name
	if strings.HasPrefix(actual.Name, vm.ObservingPrefix) {
		return newError(KindKeyValueObservationDetected, perceived.Name, "", detail)
	}
	return newError(KindObjectPosingAsDifferentClass, perceived.Name, "", detail)
}
