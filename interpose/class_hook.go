package interpose

import "github.com/steipete/InterposeKit/vm"

// ClassHook replaces an instance method for every instance of a class.
type ClassHook struct {
	*hook
}

var _ Hook = (*ClassHook)(nil)

// NewClassHook creates a prepared hook for selector on class. The factory
// is called once, before NewClassHook returns.
func NewClassHook(rt Runtime, class *vm.Class, selector string, factory Factory) (*ClassHook, error) {
	if class == nil {
		return nil, newError(KindUnknownError, "", selector, "nil class")
	}
	if rt.FindMethod(class, selector) == nil {
		return nil, newError(KindMethodNotFound, class.Name, selector, "")
	}
	ch := &ClassHook{hook: &hook{rt: rt, class: class, selector: selector}}
	ch.variant = ch
	if err := ch.build(factory, ch); err != nil {
		return nil, err
	}
	return ch, nil
}

func (ch *ClassHook) kind() string { return "class" }

func (ch *ClassHook) replaceImplementation() error {
	// Replacing an inherited method would add a new entry that reset
	// cannot take out again.
	if !ch.rt.ImplementsDirectly(ch.class, ch.selector) {
		return newError(KindNonExistingImplementation, ch.class.Name, ch.selector, "method is inherited")
	}
	prev := ch.rt.ReplaceMethod(ch.class, ch.selector, ch.replacement)
	if prev == nil {
		return newError(KindNonExistingImplementation, ch.class.Name, ch.selector, "")
	}
	ch.setOriginal(prev)
	logf(hookLog, "Swizzled -[%s %s] IMP: %s -> %s", ch.class.Name, ch.selector, describe(prev), describe(ch.replacement))
	return nil
}

func (ch *ClassHook) resetImplementation() error {
	orig := ch.capturedOriginal()
	if orig == nil {
		return newError(KindNonExistingImplementation, ch.class.Name, ch.selector, "no original captured")
	}
	prev := ch.rt.ReplaceMethod(ch.class, ch.selector, orig)
	if prev != ch.replacement {
		return newError(KindUnexpectedImplementation, ch.class.Name, ch.selector, "found "+describe(prev))
	}
	logf(hookLog, "Restored -[%s %s] IMP: %s", ch.class.Name, ch.selector, describe(orig))
	return nil
}

func (ch *ClassHook) lookupOriginal() vm.Method {
	return ch.rt.FindMethod(ch.class, ch.selector)
}
