package interpose

import (
	"fmt"
	"sync"
	"weak"

	"github.com/sasha-s/go-deadlock"
	"github.com/steipete/InterposeKit/vm"
)

// AspectStrategy says when a dynamic hook's action runs relative to the
// hooked method.
type AspectStrategy int

const (
	AspectBefore AspectStrategy = iota
	AspectInstead
	AspectAfter
)

func (s AspectStrategy) String() string {
	switch s {
	case AspectBefore:
		return "before"
	case AspectInstead:
		return "instead"
	case AspectAfter:
		return "after"
	}
	return fmt.Sprintf("AspectStrategy(%d)", int(s))
}

// AspectPrefix names the selector under which an object's layer keeps the
// implementation that dynamic hooks wrap.
const AspectPrefix = "interpose_"

func aspectPrefixed(selector string) string {
	return AspectPrefix + selector
}

// DynamicHook runs an action around a method of a single object instead of
// replacing its body. All dynamic hooks on one object and selector share a
// dispatcher that runs the before actions, then the instead actions or the
// wrapped implementation, then the after actions. The action does not see
// the arguments; the send's result is the wrapped implementation's, or nil
// when instead actions ran.
type DynamicHook struct {
	*hook
	object     *vm.WeakReference
	subclasses *subclassManager
	strategy   AspectStrategy
	action     func(*vm.Object)
	subclass   Subclass
}

var _ Hook = (*DynamicHook)(nil)

// NewDynamicHook creates a prepared dynamic hook for selector on obj.
// Dynamic hooks need super trampolines regardless of WithGenerateSuper.
func NewDynamicHook(rt Runtime, obj *vm.Object, selector string, strategy AspectStrategy, action func(*vm.Object), opts ...Option) (*DynamicHook, error) {
	o := newOptions(opts)
	if obj == nil {
		return nil, newError(KindUnknownError, "", selector, "nil object")
	}
	perceived := rt.PerceivedClass(obj)
	if action == nil {
		return nil, newError(KindUnknownError, perceived.Name, selector, "nil action")
	}
	if strategy < AspectBefore || strategy > AspectAfter {
		return nil, newError(KindUnknownError, perceived.Name, selector, "unknown "+strategy.String())
	}
	if !rt.SupportsSuperTrampolines() {
		return nil, newError(KindUnknownError, perceived.Name, selector, "super trampolines are required for dynamic invocation")
	}
	if rt.FindMethod(perceived, selector) == nil {
		return nil, newError(KindMethodNotFound, perceived.Name, selector, "")
	}
	dh := &DynamicHook{
		hook:       &hook{rt: rt, class: perceived, selector: selector},
		object:     rt.NewWeakRef(obj),
		subclasses: &subclassManager{rt: rt, strategy: o.strategy, prefix: o.prefix},
		strategy:   strategy,
		action:     action,
	}
	dh.variant = dh
	err := dh.build(func(Store) vm.Method {
		return vm.NewPrimitiveMethod(selector, func(_ *vm.VM, recv *vm.Object, _ []vm.Value) vm.Value {
			action(recv)
			return nil
		})
	}, dh)
	if err != nil {
		return nil, err
	}
	return dh, nil
}

// Strategy returns when the action runs.
func (dh *DynamicHook) Strategy() AspectStrategy { return dh.strategy }

// Object returns the hooked object, or nil once it has been collected.
func (dh *DynamicHook) Object() *vm.Object {
	return dh.object.Get()
}

// Subclass returns the object's private dispatch layer, or nil before the
// first Apply.
func (dh *DynamicHook) Subclass() Subclass {
	dh.mu.RLock()
	defer dh.mu.RUnlock()
	return dh.subclass
}

func (dh *DynamicHook) kind() string { return "dynamic" }

func (dh *DynamicHook) replaceImplementation() error {
	obj := dh.object.Get()
	if obj == nil {
		return newError(KindUnknownError, dh.class.Name, dh.selector, "object was collected")
	}
	sc, err := dh.subclasses.prepare(obj, dh.class)
	if err != nil {
		return err
	}
	dh.mu.Lock()
	dh.subclass = sc
	dh.mu.Unlock()

	c, err := globalAspects().attach(obj, sc, dh)
	if err != nil {
		return err
	}
	dh.setOriginal(c.capturedOriginal())
	logf(hookLog, "Added dynamic -[%s %s] %s", dh.class.Name, dh.selector, dh.strategy)
	return nil
}

func (dh *DynamicHook) resetImplementation() error {
	obj := dh.object.Get()
	if obj == nil {
		return newError(KindUnknownError, dh.class.Name, dh.selector, "object was collected")
	}
	if err := globalAspects().detach(obj, dh.Subclass(), dh); err != nil {
		return err
	}
	logf(hookLog, "Removed dynamic -[%s %s] %s", dh.class.Name, dh.selector, dh.strategy)
	return nil
}

func (dh *DynamicHook) lookupOriginal() vm.Method {
	return dh.rt.FindMethod(dh.class, dh.selector)
}

// aspectKey identifies the dynamic hooks of one object and selector.
type aspectKey struct {
	object   weak.Pointer[vm.Object]
	selector string
}

// aspectTable is the process-wide side table of dynamic hooks. Like the
// registry it is created on first use and never torn down.
type aspectTable struct {
	mu         deadlock.Mutex
	containers map[aspectKey]*aspectContainer
}

var (
	aspectsOnce sync.Once
	aspects     *aspectTable
)

func globalAspects() *aspectTable {
	aspectsOnce.Do(func() {
		lockCheckingFixed.Store(true)
		aspects = &aspectTable{containers: make(map[aspectKey]*aspectContainer)}
	})
	return aspects
}

// attach adds dh to the container for its object and selector, installing
// the container as the layer's implementation on first use.
func (t *aspectTable) attach(obj *vm.Object, sc Subclass, dh *DynamicHook) (*aspectContainer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune()

	key := aspectKey{object: weak.Make(obj), selector: dh.selector}
	c := t.containers[key]
	if c == nil {
		var err error
		if c, err = installAspects(sc, dh.selector); err != nil {
			return nil, err
		}
		t.containers[key] = c
	}
	c.add(dh)
	return c, nil
}

// detach removes dh. The last hook out restores the wrapped implementation
// if the container is still on top; otherwise the container stays in the
// chain and keeps forwarding.
func (t *aspectTable) detach(obj *vm.Object, sc Subclass, dh *DynamicHook) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := aspectKey{object: weak.Make(obj), selector: dh.selector}
	c := t.containers[key]
	if c == nil || !c.remove(dh) {
		return newError(KindUnexpectedImplementation, dh.class.Name, dh.selector, "dynamic hook is not attached")
	}
	if c.len() > 0 || sc.Implementation(dh.selector) != vm.Method(c) {
		return nil
	}
	orig := c.capturedOriginal()
	if prev := sc.Replace(dh.selector, orig); prev != vm.Method(c) {
		return newError(KindUnexpectedImplementation, sc.Name(), dh.selector, "found "+describe(prev))
	}
	delete(t.containers, key)
	logf(hookLog, "Restored -[%s %s] IMP: %s", dh.class.Name, dh.selector, describe(orig))
	return nil
}

// prune drops containers of collected objects. Callers hold t.mu.
func (t *aspectTable) prune() {
	for key := range t.containers {
		if key.object.Value() == nil {
			delete(t.containers, key)
		}
	}
}

// installAspects puts a dispatcher in front of selector on sc. The
// implementation it displaces is also kept under the prefixed selector.
func installAspects(sc Subclass, selector string) (*aspectContainer, error) {
	if !sc.ImplementsDirectly(selector) {
		if err := sc.AddSuperTrampoline(selector); err != nil {
			return nil, wrapError(KindUnableToAddMethod, sc.Name(), selector, err)
		}
	}
	c := &aspectContainer{layer: sc, selector: selector, prefixed: aspectPrefixed(selector)}
	orig := sc.Replace(selector, c)
	if orig == nil {
		return nil, newError(KindNonExistingImplementation, sc.Name(), selector, "")
	}
	c.setOriginal(orig)
	logf(subclassLog, "Generated -[%s %s] IMP: %s", sc.Name(), c.prefixed, describe(orig))
	return c, nil
}

// aspectContainer is the dispatcher installed for dynamic hooks on one
// object and selector. It holds the hooks in registration order.
type aspectContainer struct {
	layer    Subclass
	selector string
	prefixed string

	mu       sync.RWMutex
	original vm.Method
	hooks    []*DynamicHook
}

func (c *aspectContainer) Invoke(v *vm.VM, receiver *vm.Object, args []vm.Value) vm.Value {
	before, instead, after := c.split()
	runActions(before, receiver)
	var result vm.Value
	if len(instead) == 0 {
		result = v.Send(receiver, c.prefixed, args...)
	} else {
		runActions(instead, receiver)
	}
	runActions(after, receiver)
	return result
}

func (c *aspectContainer) String() string {
	return fmt.Sprintf("dynamic -[%s %s]", c.layer.Name(), c.selector)
}

func (c *aspectContainer) split() (before, instead, after []*DynamicHook) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, dh := range c.hooks {
		switch dh.strategy {
		case AspectBefore:
			before = append(before, dh)
		case AspectInstead:
			instead = append(instead, dh)
		case AspectAfter:
			after = append(after, dh)
		}
	}
	return before, instead, after
}

func runActions(hooks []*DynamicHook, receiver *vm.Object) {
	for _, dh := range hooks {
		dh.action(receiver)
	}
}

func (c *aspectContainer) add(dh *DynamicHook) {
	c.mu.Lock()
	c.hooks = append(c.hooks, dh)
	c.mu.Unlock()
}

func (c *aspectContainer) remove(dh *DynamicHook) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.hooks {
		if other == dh {
			c.hooks = append(c.hooks[:i:i], c.hooks[i+1:]...)
			return true
		}
	}
	return false
}

func (c *aspectContainer) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hooks)
}

func (c *aspectContainer) capturedOriginal() vm.Method {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.original
}

// setOriginal points the container, and the prefixed selector it sends, at
// m. Used when a hook below it is unlinked.
func (c *aspectContainer) setOriginal(m vm.Method) {
	c.mu.Lock()
	c.original = m
	c.mu.Unlock()
	c.layer.Replace(c.prefixed, m)
}
