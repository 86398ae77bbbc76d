package interpose

import (
	"github.com/steipete/InterposeKit/vm"
)

// ObjectHook replaces an instance method on a single object. The object
// gets a private dispatch layer (see IsolationStrategy) the first time one
// of its methods is hooked. Hooks never keep the object alive.
type ObjectHook struct {
	*hook
	object        *vm.WeakReference
	subclasses    *subclassManager
	generateSuper bool
	subclass      Subclass
}

var _ Hook = (*ObjectHook)(nil)

// NewObjectHook creates a prepared hook for selector on obj.
func NewObjectHook(rt Runtime, obj *vm.Object, selector string, factory Factory, opts ...Option) (*ObjectHook, error) {
	o := newOptions(opts)
	if obj == nil {
		return nil, newError(KindUnknownError, "", selector, "nil object")
	}
	perceived := rt.PerceivedClass(obj)
	if o.generateSuper && !rt.SupportsSuperTrampolines() {
		return nil, newError(KindUnknownError, perceived.Name, selector, "super trampolines are not available")
	}
	if rt.FindMethod(perceived, selector) == nil {
		return nil, newError(KindMethodNotFound, perceived.Name, selector, "")
	}
	oh := &ObjectHook{
		hook:          &hook{rt: rt, class: perceived, selector: selector},
		object:        rt.NewWeakRef(obj),
		subclasses:    &subclassManager{rt: rt, strategy: o.strategy, prefix: o.prefix},
		generateSuper: o.generateSuper,
	}
	oh.variant = oh
	if err := oh.build(factory, oh); err != nil {
		return nil, err
	}
	return oh, nil
}

// Object returns the hooked object, or nil once it has been collected.
func (oh *ObjectHook) Object() *vm.Object {
	return oh.object.Get()
}

// Subclass returns the object's private dispatch layer, or nil before the
// first Apply.
func (oh *ObjectHook) Subclass() Subclass {
	oh.mu.RLock()
	defer oh.mu.RUnlock()
	return oh.subclass
}

func (oh *ObjectHook) kind() string { return "object" }

func (oh *ObjectHook) replaceImplementation() error {
	obj := oh.object.Get()
	if obj == nil {
		return newError(KindUnknownError, oh.class.Name, oh.selector, "object was collected")
	}
	sc, err := oh.subclasses.prepare(obj, oh.class)
	if err != nil {
		return err
	}
	oh.mu.Lock()
	oh.subclass = sc
	oh.mu.Unlock()

	// There must be something to call through to.
	if oh.lookupOriginal() == nil {
		return newError(KindNonExistingImplementation, oh.class.Name, oh.selector, "")
	}

	direct := sc.ImplementsDirectly(oh.selector)
	if oh.generateSuper {
		// A layer that already has an entry carries an earlier hook.
		if !direct {
			if err := sc.AddSuperTrampoline(oh.selector); err != nil {
				return wrapError(KindUnableToAddMethod, sc.Name(), oh.selector, err)
			}
		}
		prev := sc.Replace(oh.selector, oh.replacement)
		if prev == nil {
			return newError(KindNonExistingImplementation, sc.Name(), oh.selector, "")
		}
		oh.setOriginal(prev)
		logf(hookLog, "Added -[%s %s] IMP: %s -> %s", oh.class.Name, oh.selector, describe(prev), describe(oh.replacement))
		return nil
	}

	if direct {
		prev := sc.Replace(oh.selector, oh.replacement)
		oh.setOriginal(prev)
		logf(hookLog, "Added -[%s %s] IMP: %s via replacement", oh.class.Name, oh.selector, describe(oh.replacement))
		return nil
	}
	if !sc.Add(oh.selector, oh.replacement) {
		return newError(KindUnableToAddMethod, sc.Name(), oh.selector, "")
	}
	logf(hookLog, "Added -[%s %s] IMP: %s", oh.class.Name, oh.selector, describe(oh.replacement))
	return nil
}

func (oh *ObjectHook) resetImplementation() error {
	orig := oh.capturedOriginal()
	if orig == nil {
		// Entries cannot be removed from a live dispatch table.
		logf(hookLog, "Reset of -[%s %s] not supported. No IMP", oh.class.Name, oh.selector)
		return newError(KindResetUnsupported, oh.class.Name, oh.selector, "no original implementation, super trampolines disabled?")
	}
	sc := oh.Subclass()
	current := sc.Implementation(oh.selector)

	if current == oh.replacement {
		prev := sc.Replace(oh.selector, orig)
		if prev != oh.replacement {
			return newError(KindUnexpectedImplementation, sc.Name(), oh.selector, "found "+describe(prev))
		}
		logf(hookLog, "Restored -[%s %s] IMP: %s", oh.class.Name, oh.selector, describe(orig))
		return nil
	}

	// Something sits on top of this hook; unlink it from the chain.
	next := globalRegistry().findNextHook(oh.hook, current)
	if next == nil {
		return newError(KindUnexpectedImplementation, sc.Name(), oh.selector, "found "+describe(current))
	}
	next.setOriginal(orig)
	logf(hookLog, "Unlinked -[%s %s] from chain below %s", oh.class.Name, oh.selector, next)
	return nil
}

// lookupOriginal resolves selector from the class the object reports, so
// class hooks installed later are picked up.
func (oh *ObjectHook) lookupOriginal() vm.Method {
	return oh.rt.FindMethod(oh.class, oh.selector)
}
