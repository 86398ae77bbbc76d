package vm

import (
	"errors"
	"testing"
)

func newGreeter(t *testing.T) (*VM, *Class) {
	t.Helper()
	vm := NewVM()
	c, err := vm.DefineClass("Greeter", nil)
	if err != nil {
		t.Fatalf("DefineClass: %v", err)
	}
	c.AddMethod0(vm.Selectors, "greet", func(*VM, *Object) Value { return "hello" })
	return vm, c
}

func TestReplaceMethodSemantics(t *testing.T) {
	vm, c := newGreeter(t)
	orig := vm.FindMethod(c, "greet")
	repl := NewMethod0("greet", func(*VM, *Object) Value { return "bye" })

	if prev := vm.ReplaceMethod(c, "greet", repl); prev != orig {
		t.Error("ReplaceMethod should return the displaced implementation")
	}
	if got := vm.Send(c.NewInstance(), "greet"); got != "bye" {
		t.Errorf("greet = %v, want bye", got)
	}

	sub, _ := vm.DefineClass("LoudGreeter", c)
	if vm.ImplementsDirectly(sub, "greet") {
		t.Error("subclass should not implement greet directly")
	}
	if prev := vm.ReplaceMethod(sub, "greet", orig); prev != nil {
		t.Error("ReplaceMethod on a class without a direct entry should return nil")
	}
	if !vm.ImplementsDirectly(sub, "greet") {
		t.Error("ReplaceMethod should add the entry")
	}
}

func TestAddMethodRefusesCollision(t *testing.T) {
	vm, c := newGreeter(t)
	if vm.AddMethod(c, "greet", NewMethod0("greet", nil)) {
		t.Error("AddMethod should refuse an existing selector")
	}
	if !vm.AddMethod(c, "wave", NewMethod0("wave", nil)) {
		t.Error("AddMethod should add a new selector")
	}
}

func TestAllocateAndRegisterSubclass(t *testing.T) {
	vm, c := newGreeter(t)

	sub, err := vm.AllocateSubclass(c, "Dyn_Greeter")
	if err != nil {
		t.Fatalf("AllocateSubclass: %v", err)
	}
	if vm.ClassNamed("Dyn_Greeter") != nil {
		t.Error("allocated class should not be visible before registration")
	}
	if err := vm.RegisterSubclass(sub); err != nil {
		t.Fatalf("RegisterSubclass: %v", err)
	}
	if vm.ClassNamed("Dyn_Greeter") != sub {
		t.Error("registered class should be visible by name")
	}

	if _, err := vm.AllocateSubclass(c, "Dyn_Greeter"); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("AllocateSubclass with taken name = %v, want ErrDuplicateClass", err)
	}
	if _, err := vm.AllocateSubclass(nil, "X"); !errors.Is(err, ErrNoSuperclass) {
		t.Errorf("AllocateSubclass(nil) = %v, want ErrNoSuperclass", err)
	}
}

func TestPerceivedVersusActualClass(t *testing.T) {
	vm, c := newGreeter(t)
	obj := c.NewInstance()

	if vm.PerceivedClass(obj) != c || vm.ActualClass(obj) != c {
		t.Fatal("fresh object should report its own class")
	}

	sub, _ := vm.AllocateSubclass(c, "Hidden_Greeter")
	vm.ReplaceMethod(sub, "class", NewMethod0("class", func(*VM, *Object) Value { return c }))
	_ = vm.RegisterSubclass(sub)
	vm.SetClass(obj, sub)

	if vm.ActualClass(obj) != sub {
		t.Error("actual class should be the subclass")
	}
	if vm.PerceivedClass(obj) != c {
		t.Error("perceived class should be the original class")
	}
	if got := vm.Send(obj, "printString"); got != "a Greeter" {
		t.Errorf("printString = %v, want %q", got, "a Greeter")
	}
}

func TestSuperTrampolineForwardsDynamically(t *testing.T) {
	vm, c := newGreeter(t)
	sub, _ := vm.AllocateSubclass(c, "Tramp_Greeter")

	if err := vm.AddSuperTrampoline(sub, "greet"); err != nil {
		t.Fatalf("AddSuperTrampoline: %v", err)
	}
	if err := vm.AddSuperTrampoline(sub, "greet"); !errors.Is(err, ErrAlreadyImplemented) {
		t.Errorf("second AddSuperTrampoline = %v, want ErrAlreadyImplemented", err)
	}

	obj := c.NewInstance()
	vm.SetClass(obj, sub)
	if got := vm.Send(obj, "greet"); got != "hello" {
		t.Errorf("greet = %v, want hello", got)
	}

	// The trampoline resolves at call time, so superclass changes show through.
	vm.ReplaceMethod(c, "greet", NewMethod0("greet", func(*VM, *Object) Value { return "howdy" }))
	if got := vm.Send(obj, "greet"); got != "howdy" {
		t.Errorf("greet after superclass change = %v, want howdy", got)
	}
}

func TestSuperTrampolineUnsupported(t *testing.T) {
	vm, c := newGreeter(t)
	vm.SetSuperTrampolinesSupported(false)
	sub, _ := vm.AllocateSubclass(c, "NoTramp")
	if err := vm.AddSuperTrampoline(sub, "greet"); !errors.Is(err, ErrTrampolinesUnsupported) {
		t.Errorf("AddSuperTrampoline = %v, want ErrTrampolinesUnsupported", err)
	}
}

func TestShadowTrampolineSkipsShadowTable(t *testing.T) {
	vm, c := newGreeter(t)
	obj := c.NewInstance()
	sh := vm.InstallShadowTable(obj)
	id := vm.Intern("greet")
	sh.AddMethod(id, NewShadowTrampoline("greet", id))

	if got := vm.Send(obj, "greet"); got != "hello" {
		t.Errorf("greet = %v, want hello", got)
	}
	if vm.ObjectMethod(obj, "greet") == vm.FindMethod(c, "greet") {
		t.Error("ObjectMethod should resolve the shadow entry first")
	}
}
