package vm

// Method represents a callable method.
//
// Method values double as implementation handles: they are compared by
// identity (all implementations in this package are pointers), so two
// handles are equal only if they are the same installed body.
type Method interface {
	Invoke(vm *VM, receiver *Object, args []Value) Value
}

// NamedMethod is implemented by methods that know their selector and arity.
type NamedMethod interface {
	Method
	Name() string
	Arity() int
}

// PrimitiveFunc is a Go function that implements a variable-arity method.
type PrimitiveFunc func(vm *VM, receiver *Object, args []Value) Value

// Method0Func is a primitive taking no arguments.
type Method0Func func(vm *VM, receiver *Object) Value

// Method1Func is a primitive taking one argument.
type Method1Func func(vm *VM, receiver *Object, arg1 Value) Value

// Method2Func is a primitive taking two arguments.
type Method2Func func(vm *VM, receiver *Object, arg1, arg2 Value) Value

// Method3Func is a primitive taking three arguments.
type Method3Func func(vm *VM, receiver *Object, arg1, arg2, arg3 Value) Value

// ---------------------------------------------------------------------------
// Arity-specialized method wrappers
// ---------------------------------------------------------------------------

// PrimitiveMethod wraps a general PrimitiveFunc as a Method.
type PrimitiveMethod struct {
	name string
	fn   PrimitiveFunc
}

func (m *PrimitiveMethod) Invoke(vm *VM, receiver *Object, args []Value) Value {
	return m.fn(vm, receiver, args)
}

func (m *PrimitiveMethod) Name() string { return m.name }
func (m *PrimitiveMethod) Arity() int   { return -1 } // Variable arity

// Method0 wraps a zero-argument primitive.
type Method0 struct {
	name string
	fn   Method0Func
}

func (m *Method0) Invoke(vm *VM, receiver *Object, args []Value) Value {
	return m.fn(vm, receiver)
}

func (m *Method0) Name() string { return m.name }
func (m *Method0) Arity() int   { return 0 }

// Method1 wraps a one-argument primitive.
type Method1 struct {
	name string
	fn   Method1Func
}

func (m *Method1) Invoke(vm *VM, receiver *Object, args []Value) Value {
	return m.fn(vm, receiver, args[0])
}

func (m *Method1) Name() string { return m.name }
func (m *Method1) Arity() int   { return 1 }

// Method2 wraps a two-argument primitive.
type Method2 struct {
	name string
	fn   Method2Func
}

func (m *Method2) Invoke(vm *VM, receiver *Object, args []Value) Value {
	return m.fn(vm, receiver, args[0], args[1])
}

func (m *Method2) Name() string { return m.name }
func (m *Method2) Arity() int   { return 2 }

// Method3 wraps a three-argument primitive.
type Method3 struct {
	name string
	fn   Method3Func
}

func (m *Method3) Invoke(vm *VM, receiver *Object, args []Value) Value {
	return m.fn(vm, receiver, args[0], args[1], args[2])
}

func (m *Method3) Name() string { return m.name }
func (m *Method3) Arity() int   { return 3 }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// NewPrimitiveMethod creates a variable-arity method.
func NewPrimitiveMethod(name string, fn PrimitiveFunc) *PrimitiveMethod {
	return &PrimitiveMethod{name: name, fn: fn}
}

// NewMethod0 creates a zero-argument method.
func NewMethod0(name string, fn Method0Func) *Method0 {
	return &Method0{name: name, fn: fn}
}

// NewMethod1 creates a one-argument method.
func NewMethod1(name string, fn Method1Func) *Method1 {
	return &Method1{name: name, fn: fn}
}

// NewMethod2 creates a two-argument method.
func NewMethod2(name string, fn Method2Func) *Method2 {
	return &Method2{name: name, fn: fn}
}

// NewMethod3 creates a three-argument method.
func NewMethod3(name string, fn Method3Func) *Method3 {
	return &Method3{name: name, fn: fn}
}
