package interpose

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/steipete/InterposeKit/vm"
)

// Hook is one replaced method on a class or object.
type Hook interface {
	// Class is the class the hook targets. For object hooks this is the
	// class the object reported when the hook was created.
	Class() *vm.Class
	Selector() string
	State() State
	// Err returns the error that moved the hook into StateError, or nil.
	Err() error
	// Original returns the implementation the replacement should call
	// through to. It may change while the hook is installed, so callers
	// must not cache it.
	Original() vm.Method
	// Replacement returns the implementation built by the factory. It never
	// changes for the lifetime of the hook.
	Replacement() vm.Method
	// CallOriginal invokes Original on receiver. It panics with an *Error
	// if there is no original to call.
	CallOriginal(v *vm.VM, receiver *vm.Object, args ...vm.Value) vm.Value
	Apply() error
	Revert() error
	String() string
}

// Store is handed to a Factory while the hook is being built. The
// replacement captures it to call the original implementation.
type Store interface {
	Class() *vm.Class
	Selector() string
	Original() vm.Method
	CallOriginal(v *vm.VM, receiver *vm.Object, args ...vm.Value) vm.Value
}

// Factory builds the replacement implementation for a hook.
type Factory func(Store) vm.Method

// variant is the per-kind half of a hook.
type variant interface {
	kind() string
	replaceImplementation() error
	resetImplementation() error
	// lookupOriginal resolves an original when none has been captured.
	lookupOriginal() vm.Method
}

// hook holds the state shared by ClassHook and ObjectHook and drives the
// Prepared -> Interposed -> Prepared state machine.
type hook struct {
	rt          Runtime
	class       *vm.Class
	selector    string
	variant     variant
	replacement vm.Method

	op       sync.Mutex // serializes Apply and Revert
	mu       sync.RWMutex
	original vm.Method
	state    State
	err      *Error
	released bool
}

func (h *hook) Class() *vm.Class       { return h.class }
func (h *hook) Selector() string       { return h.selector }
func (h *hook) Replacement() vm.Method { return h.replacement }

func (h *hook) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *hook) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.err == nil {
		return nil
	}
	return h.err
}

func (h *hook) Original() vm.Method {
	if orig := h.capturedOriginal(); orig != nil {
		return orig
	}
	return h.variant.lookupOriginal()
}

func (h *hook) CallOriginal(v *vm.VM, receiver *vm.Object, args ...vm.Value) vm.Value {
	orig := h.Original()
	if orig == nil {
		panic(newError(KindNonExistingImplementation, h.class.Name, h.selector, "no original to call"))
	}
	return orig.Invoke(v, receiver, args)
}

func (h *hook) capturedOriginal() vm.Method {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.original
}

func (h *hook) setOriginal(m vm.Method) {
	h.mu.Lock()
	h.original = m
	h.mu.Unlock()
}

func (h *hook) String() string {
	return fmt.Sprintf("-[%s %s] %s", h.class.Name, h.selector, h.State())
}

// build runs the factory and registers the replacement.
func (h *hook) build(factory Factory, self Store) error {
	if factory == nil {
		return newError(KindUnknownError, h.class.Name, h.selector, "nil implementation factory")
	}
	h.replacement = factory(self)
	if h.replacement == nil {
		return newError(KindUnknownError, h.class.Name, h.selector, "factory returned no implementation")
	}
	if !reflect.TypeOf(h.replacement).Comparable() {
		return newError(KindUnknownError, h.class.Name, h.selector,
			fmt.Sprintf("implementation %T is not comparable", h.replacement))
	}
	return globalRegistry().register(h.replacement, h)
}

// validate checks that the selector still resolves and that the hook is in
// the expected state.
func (h *hook) validate(expected State) error {
	if h.rt.FindMethod(h.class, h.selector) == nil {
		return newError(KindMethodNotFound, h.class.Name, h.selector, "")
	}
	h.mu.RLock()
	state, released := h.state, h.released
	h.mu.RUnlock()
	if released {
		return newError(KindInvalidState, h.class.Name, h.selector, "replacement was released")
	}
	if state != expected {
		return newError(KindInvalidState, h.class.Name, h.selector,
			fmt.Sprintf("expected %s, is %s", expected, state))
	}
	return nil
}

// Apply installs the replacement. The hook must be Prepared.
func (h *hook) Apply() error {
	return h.transition("apply", StatePrepared, StateInterposed, h.variant.replaceImplementation)
}

// Revert restores the original. The hook must be Interposed.
func (h *hook) Revert() error {
	return h.transition("revert", StateInterposed, StatePrepared, h.variant.resetImplementation)
}

// transition validates, runs task and records the outcome. A state
// mismatch is reported without touching the hook; every other failure
// moves the hook into StateError, after which only a fresh hook can be
// applied.
func (h *hook) transition(op string, from, to State, task func() error) error {
	h.op.Lock()
	defer h.op.Unlock()

	err := h.validate(from)
	if err == nil {
		err = task()
	}
	recordTransition(h.variant.kind(), op, err)

	if err != nil {
		if KindOf(err) != KindInvalidState {
			h.fail(err)
		}
		logf(hookLog, "%s of %s failed: %v", op, h, err)
		return err
	}

	h.mu.Lock()
	h.state = to
	h.err = nil
	if to == StatePrepared {
		h.original = nil
	}
	h.mu.Unlock()
	return nil
}

func (h *hook) fail(err error) {
	var ie *Error
	if !errors.As(err, &ie) {
		ie = wrapError(KindUnknownError, h.class.Name, h.selector, err)
	}
	h.mu.Lock()
	h.state = StateError
	h.err = ie
	h.mu.Unlock()
}

// cleanup runs when the owning Interposer is closed. Only a replacement
// that was never installed can be released; installed ones are still
// reachable from a dispatch table.
func (h *hook) cleanup() {
	switch h.State() {
	case StatePrepared:
		logf(hookLog, "Releasing %s IMP: %s", h, describe(h.replacement))
		globalRegistry().unregister(h.replacement, h)
		h.mu.Lock()
		h.released = true
		h.mu.Unlock()
	case StateInterposed:
		logf(hookLog, "Keeping %s IMP: %s", h, describe(h.replacement))
	case StateError:
		logf(hookLog, "Leaking %s IMP: %s due to error: %v", h, describe(h.replacement), h.Err())
	}
}

// describe formats an implementation handle for log output.
func describe(m vm.Method) string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%T(%p)", m, m)
}
