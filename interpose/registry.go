package interpose

import (
	"fmt"
	"sync"
	"weak"

	"github.com/sasha-s/go-deadlock"
	"github.com/steipete/InterposeKit/vm"
)

// Registry maps installed implementation handles back to the hook that
// built them. It is process-wide, created on first use and never torn
// down. Entries are weak, so the registry alone never keeps a hook alive.
type Registry struct {
	mu    deadlock.Mutex
	hooks map[vm.Method]weak.Pointer[hook]
}

var (
	registryOnce sync.Once
	registry     *Registry
)

func globalRegistry() *Registry {
	registryOnce.Do(func() {
		lockCheckingFixed.Store(true)
		registry = &Registry{hooks: make(map[vm.Method]weak.Pointer[hook])}
	})
	return registry
}

// HookForImplementation returns the hook whose replacement is impl, or nil.
func HookForImplementation(impl vm.Method) Hook {
	h := globalRegistry().hookFor(impl)
	if h == nil {
		return nil
	}
	if pub, ok := h.variant.(Hook); ok {
		return pub
	}
	return nil
}

// register records impl as h's replacement. An implementation can belong
// to one live hook only; a second owner would capture it as its own
// original.
func (r *Registry) register(impl vm.Method, h *hook) error {
	r.mu.Lock()
	var owner *hook
	if wp, ok := r.hooks[impl]; ok {
		owner = wp.Value()
	}
	if owner == nil || owner == h {
		r.hooks[impl] = weak.Make(h)
	}
	r.mu.Unlock()

	if owner != nil && owner != h {
		return newError(KindUnknownError, h.class.Name, h.selector,
			fmt.Sprintf("implementation %s already belongs to %s", describe(impl), owner))
	}
	logf(registryLog, "Registered %s for %s", describe(impl), h)
	return nil
}

// unregister drops impl only if it still belongs to h.
func (r *Registry) unregister(impl vm.Method, h *hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wp, ok := r.hooks[impl]; ok && wp.Value() == h {
		delete(r.hooks, impl)
		logf(registryLog, "Unregistered %s", describe(impl))
	}
}

func (r *Registry) hookFor(impl vm.Method) *hook {
	if impl == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	wp, ok := r.hooks[impl]
	if !ok {
		return nil
	}
	h := wp.Value()
	if h == nil {
		delete(r.hooks, impl)
	}
	return h
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, wp := range r.hooks {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

// chainLink is an entry in a chain of installed implementations whose
// original can be redirected: a hook, or the dispatcher of dynamic hooks.
type chainLink interface {
	capturedOriginal() vm.Method
	setOriginal(vm.Method)
}

// findNextHook walks the chain that starts at the installed implementation
// topmost and returns the link whose original is self's replacement, i.e.
// the entry directly above self. Returns nil if self is not in the chain or
// is topmost.
func (r *Registry) findNextHook(self *hook, topmost vm.Method) chainLink {
	var above chainLink
	for impl := topmost; impl != nil; {
		var link chainLink
		if h := r.hookFor(impl); h != nil {
			if h == self {
				return above
			}
			link = h
		} else if l, ok := impl.(chainLink); ok {
			link = l
		} else {
			return nil
		}
		above = link
		impl = link.capturedOriginal()
	}
	return nil
}
