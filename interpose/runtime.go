package interpose

import "github.com/steipete/InterposeKit/vm"

// Runtime is the set of reflection primitives the engine needs from the
// host. Each call is expected to be atomic with respect to concurrent
// dispatch; the engine adds no locking of its own around them.
//
// *vm.VM implements Runtime.
type Runtime interface {
	// Intern returns the dispatch table index for selector.
	Intern(selector string) int
	// FindMethod resolves selector on class, walking superclasses.
	FindMethod(class *vm.Class, selector string) vm.Method
	// ObjectMethod resolves selector for one object, shadow table first.
	ObjectMethod(obj *vm.Object, selector string) vm.Method
	// ImplementsDirectly reports whether class itself has an entry.
	ImplementsDirectly(class *vm.Class, selector string) bool
	// ReplaceMethod installs impl and returns the displaced direct entry,
	// or nil if the entry was added.
	ReplaceMethod(class *vm.Class, selector string, impl vm.Method) vm.Method
	// AddMethod adds impl; false if class already has a direct entry.
	AddMethod(class *vm.Class, selector string, impl vm.Method) bool

	AllocateSubclass(parent *vm.Class, name string) (*vm.Class, error)
	RegisterSubclass(class *vm.Class) error
	ClassNamed(name string) *vm.Class

	// ActualClass is the class pointer dispatch uses; PerceivedClass is what
	// the object reports about itself.
	ActualClass(obj *vm.Object) *vm.Class
	PerceivedClass(obj *vm.Object) *vm.Class
	SetClass(obj *vm.Object, class *vm.Class) *vm.Class

	InstallShadowTable(obj *vm.Object) *vm.VTable

	SupportsSuperTrampolines() bool
	AddSuperTrampoline(class *vm.Class, selector string) error

	NewWeakRef(obj *vm.Object) *vm.WeakReference
	OnImageLoaded(fn func(*vm.Image)) (cancel func())
}

var _ Runtime = (*vm.VM)(nil)
