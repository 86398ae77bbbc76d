package interpose

import (
	"errors"
	"testing"

	"github.com/steipete/InterposeKit/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassHookRoundTrip(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	var h Hook
	ip, err := NewClassInterposer(f.vm, f.testClass, hookOne("sayHi", appendString(" and Interpose"), &h))
	require.NoError(t, err)
	assert.Equal(t, StateInterposed, h.State())

	for cycle := 0; cycle < 2; cycle++ {
		if cycle > 0 {
			require.NoError(t, ip.Apply(nil))
		}
		assert.Equal(t, testClassHi+" and Interpose", f.send(obj, "sayHi"), "cycle %d", cycle)

		require.NoError(t, ip.Revert(nil))
		assert.Equal(t, testClassHi, f.send(obj, "sayHi"), "cycle %d", cycle)
		assert.Equal(t, StatePrepared, h.State())
	}
}

func TestClassHookVisibleFromSubclass(t *testing.T) {
	f := newFixture(t)
	sub := f.testSubclass.NewInstance()
	assert.Equal(t, testClassHi+"Subclass is here!", f.send(sub, "sayHi"))

	ip, err := NewClassInterposer(f.vm, f.testClass, hookOne("sayHi", appendString(" and Interpose"), nil))
	require.NoError(t, err)
	assert.Equal(t, testClassHi+" and InterposeSubclass is here!", f.send(sub, "sayHi"))

	require.NoError(t, ip.Revert(nil))
	assert.Equal(t, testClassHi+"Subclass is here!", f.send(sub, "sayHi"))
}

func TestClassHookArguments(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	ip, err := NewClassInterposer(f.vm, f.testClass, func(ip *Interposer) error {
		if _, err := ip.Hook("calculate:with:and:", func(s Store) vm.Method {
			return vm.NewMethod3(s.Selector(), func(v *vm.VM, recv *vm.Object, a, b, c vm.Value) vm.Value {
				return s.CallOriginal(v, recv, a, b, c).(int) * 10
			})
		}); err != nil {
			return err
		}
		_, err := ip.Hook("doubleString:", func(s Store) vm.Method {
			return vm.NewMethod1(s.Selector(), func(v *vm.VM, recv *vm.Object, str vm.Value) vm.Value {
				return "[" + s.CallOriginal(v, recv, str).(string) + "]"
			})
		})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, 60, f.send(obj, "calculate:with:and:", 1, 2, 3))
	assert.Equal(t, "[abab]", f.send(obj, "doubleString:", "ab"))

	require.NoError(t, ip.Revert(nil))
	assert.Equal(t, 6, f.send(obj, "calculate:with:and:", 1, 2, 3))
	assert.Equal(t, "abab", f.send(obj, "doubleString:", "ab"))
}

func TestClassHookStateGuard(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	h, err := NewClassHook(f.vm, f.testClass, "sayHi", appendString("!"))
	require.NoError(t, err)

	err = h.Revert()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatePrepared, h.State())

	require.NoError(t, h.Apply())
	err = h.Apply()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateInterposed, h.State())
	assert.NoError(t, h.Err())
	assert.Equal(t, testClassHi+"!", f.send(obj, "sayHi"))

	require.NoError(t, h.Revert())
	err = h.Revert()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatePrepared, h.State())
	assert.Equal(t, testClassHi, f.send(obj, "sayHi"))
}

func TestClassHookOriginal(t *testing.T) {
	f := newFixture(t)
	base := f.vm.FindMethod(f.testClass, "sayHi")

	h, err := NewClassHook(f.vm, f.testClass, "sayHi", appendString("!"))
	require.NoError(t, err)
	assert.Same(t, base, h.Original(), "prepared hooks resolve the current implementation")

	require.NoError(t, h.Apply())
	assert.Same(t, base, h.Original())
	assert.Equal(t, h.Replacement(), f.vm.FindMethod(f.testClass, "sayHi"))

	require.NoError(t, h.Revert())
	assert.Same(t, base, f.vm.FindMethod(f.testClass, "sayHi"))
}

func TestClassHookMethodNotFound(t *testing.T) {
	f := newFixture(t)
	ip, err := NewClassInterposer(f.vm, f.testClass, nil)
	require.NoError(t, err)

	_, err = ip.Hook("doesNotExist", appendString("!"))
	require.ErrorIs(t, err, ErrMethodNotFound)
	assert.Empty(t, ip.Hooks())

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "TestClass", ie.Class)
	assert.Equal(t, "doesNotExist", ie.Selector)
}

func TestClassHookInheritedMethod(t *testing.T) {
	f := newFixture(t)
	base := f.vm.FindMethod(f.testClass, "returnInt")

	h, err := NewClassHook(f.vm, f.testSubclass, "returnInt", addInt(1))
	require.NoError(t, err)

	err = h.Apply()
	require.ErrorIs(t, err, ErrNonExistingImplementation)
	assert.Equal(t, StateError, h.State())
	require.ErrorIs(t, h.Err(), ErrNonExistingImplementation)

	// Nothing was added to the subclass.
	assert.False(t, f.vm.ImplementsDirectly(f.testSubclass, "returnInt"))
	assert.Same(t, base, f.vm.FindMethod(f.testSubclass, "returnInt"))

	// Errors are sticky.
	require.ErrorIs(t, h.Apply(), ErrInvalidState)
	require.ErrorIs(t, h.Revert(), ErrInvalidState)
	assert.Equal(t, StateError, h.State())
}

func TestClassHookUnexpectedImplementation(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	h, err := NewClassHook(f.vm, f.testClass, "sayHi", appendString("!"))
	require.NoError(t, err)
	require.NoError(t, h.Apply())

	intruder := vm.NewMethod0("sayHi", func(*vm.VM, *vm.Object) vm.Value { return "intruder" })
	f.vm.ReplaceMethod(f.testClass, "sayHi", intruder)

	err = h.Revert()
	require.ErrorIs(t, err, ErrUnexpectedImplementation)
	assert.Equal(t, StateError, h.State())
	assert.Equal(t, KindUnexpectedImplementation, KindOf(h.Err()))
	assert.Equal(t, testClassHi, f.send(obj, "sayHi"))
}

func TestClassHookFactoryErrors(t *testing.T) {
	f := newFixture(t)

	_, err := NewClassHook(f.vm, f.testClass, "sayHi", nil)
	require.ErrorIs(t, err, ErrUnknown)

	_, err = NewClassHook(f.vm, f.testClass, "sayHi", func(Store) vm.Method { return nil })
	require.ErrorIs(t, err, ErrUnknown)

	_, err = NewClassHook(f.vm, nil, "sayHi", appendString("!"))
	require.ErrorIs(t, err, ErrUnknown)
}

func TestClassHookString(t *testing.T) {
	f := newFixture(t)
	h, err := NewClassHook(f.vm, f.testClass, "sayHi", appendString("!"))
	require.NoError(t, err)
	assert.Equal(t, "-[TestClass sayHi] prepared", h.String())

	require.NoError(t, h.Apply())
	assert.Equal(t, "-[TestClass sayHi] interposed", h.String())
}
