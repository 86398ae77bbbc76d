package interpose

import (
	"fmt"
	"sync"

	"github.com/steipete/InterposeKit/vm"
)

// Builder adds hooks to an Interposer. It runs before a batch is applied
// or reverted.
type Builder func(*Interposer) error

// Interposer owns a batch of hooks for one class or one object and applies
// or reverts them together.
type Interposer struct {
	rt     Runtime
	class  *vm.Class
	object *vm.WeakReference
	opts   []Option

	mu    sync.Mutex
	hooks []internalHook
}

// internalHook is implemented by ClassHook and ObjectHook.
type internalHook interface {
	Hook
	validate(expected State) error
	cleanup()
}

// NewClassInterposer creates an Interposer for class. If builder is not
// nil it is run and the resulting hooks are applied before returning.
func NewClassInterposer(rt Runtime, class *vm.Class, builder Builder, opts ...Option) (*Interposer, error) {
	if class == nil {
		return nil, newError(KindUnknownError, "", "", "nil class")
	}
	ip := &Interposer{rt: rt, class: class, opts: opts}
	if builder != nil {
		if err := ip.Apply(builder); err != nil {
			return ip, err
		}
	}
	return ip, nil
}

// NewObjectInterposer creates an Interposer for a single object. Objects
// whose class was swapped by another subsystem are rejected before
// anything is changed.
func NewObjectInterposer(rt Runtime, obj *vm.Object, builder Builder, opts ...Option) (*Interposer, error) {
	if obj == nil {
		return nil, newError(KindUnknownError, "", "", "nil object")
	}
	o := newOptions(opts)
	if err := checkConflict(rt, obj, o.prefix); err != nil {
		return nil, err
	}
	ip := &Interposer{
		rt:     rt,
		class:  rt.PerceivedClass(obj),
		object: rt.NewWeakRef(obj),
		opts:   opts,
	}
	if builder != nil {
		if err := ip.Apply(builder); err != nil {
			return ip, err
		}
	}
	return ip, nil
}

// Class returns the target class. For object interposers this is the class
// the object reported at construction.
func (ip *Interposer) Class() *vm.Class { return ip.class }

// Object returns the target object, or nil for class interposers and
// collected objects.
func (ip *Interposer) Object() *vm.Object {
	if ip.object == nil {
		return nil
	}
	return ip.object.Get()
}

// Hook creates a prepared hook for selector and adds it to the batch.
func (ip *Interposer) Hook(selector string, factory Factory) (Hook, error) {
	var (
		h   internalHook
		err error
	)
	if ip.object != nil {
		obj := ip.object.Get()
		if obj == nil {
			return nil, newError(KindUnknownError, ip.class.Name, selector, "object was collected")
		}
		var oh *ObjectHook
		if oh, err = NewObjectHook(ip.rt, obj, selector, factory, ip.opts...); err == nil {
			h = oh
		}
	} else {
		var ch *ClassHook
		if ch, err = NewClassHook(ip.rt, ip.class, selector, factory); err == nil {
			h = ch
		}
	}
	if err != nil {
		return nil, err
	}
	ip.mu.Lock()
	ip.hooks = append(ip.hooks, h)
	ip.mu.Unlock()
	return h, nil
}

// Aspect creates a prepared dynamic hook that runs action around selector
// and adds it to the batch. Only object interposers support it.
func (ip *Interposer) Aspect(selector string, strategy AspectStrategy, action func(*vm.Object)) (Hook, error) {
	if ip.object == nil {
		return nil, newError(KindUnknownError, ip.class.Name, selector, "dynamic hooks need an object")
	}
	obj := ip.object.Get()
	if obj == nil {
		return nil, newError(KindUnknownError, ip.class.Name, selector, "object was collected")
	}
	dh, err := NewDynamicHook(ip.rt, obj, selector, strategy, action, ip.opts...)
	if err != nil {
		return nil, err
	}
	ip.mu.Lock()
	ip.hooks = append(ip.hooks, dh)
	ip.mu.Unlock()
	return dh, nil
}

// Hooks returns the hooks in registration order.
func (ip *Interposer) Hooks() []Hook {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	hooks := make([]Hook, len(ip.hooks))
	for i, h := range ip.hooks {
		hooks[i] = h
	}
	return hooks
}

func (ip *Interposer) snapshot() []internalHook {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return append([]internalHook(nil), ip.hooks...)
}

// Apply runs pre, if given, then applies every hook. If any hook is not
// Prepared or no longer resolves, nothing is applied. Once applying has
// started a failure stops the batch; hooks applied before it stay applied.
func (ip *Interposer) Apply(pre Builder) error {
	return ip.execute("apply", pre, StatePrepared, Hook.Apply)
}

// Revert runs pre, if given, then reverts every hook in registration order
// under the same rules as Apply.
func (ip *Interposer) Revert(pre Builder) error {
	return ip.execute("revert", pre, StateInterposed, Hook.Revert)
}

func (ip *Interposer) execute(op string, pre Builder, expected State, task func(Hook) error) error {
	if pre != nil {
		if err := pre(ip); err != nil {
			return err
		}
	}
	hooks := ip.snapshot()
	for _, h := range hooks {
		if err := h.validate(expected); err != nil {
			if KindOf(err) != KindInvalidState {
				return err
			}
			return &Error{
				Kind:     KindInvalidState,
				Class:    h.Class().Name,
				Selector: h.Selector(),
				Detail:   fmt.Sprintf("%s aborted before any change", op),
				Err:      err,
			}
		}
	}
	for _, h := range hooks {
		if err := task(h); err != nil {
			return err
		}
	}
	return nil
}

// Close releases hooks that were never applied. Applied hooks stay in
// place, and hooks in the error state are left as they are.
func (ip *Interposer) Close() error {
	for _, h := range ip.snapshot() {
		h.cleanup()
	}
	return nil
}
