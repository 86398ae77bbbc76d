package interpose

import (
	"errors"
	"strings"
	"testing"

	"github.com/steipete/InterposeKit/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterposerManualApply(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	ip, err := NewClassInterposer(f.vm, f.testClass, nil)
	require.NoError(t, err)
	h, err := ip.Hook("sayHi", appendString("!"))
	require.NoError(t, err)

	// Hooks are not applied until asked.
	assert.Equal(t, StatePrepared, h.State())
	assert.Equal(t, testClassHi, f.send(obj, "sayHi"))

	require.NoError(t, ip.Apply(nil))
	assert.Equal(t, testClassHi+"!", f.send(obj, "sayHi"))
	assert.Equal(t, []Hook{h}, ip.Hooks())
	assert.Same(t, f.testClass, ip.Class())
	assert.Nil(t, ip.Object())
}

func TestInterposerPreStep(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	ip, err := NewClassInterposer(f.vm, f.testClass, hookOne("sayHi", appendString("!"), nil))
	require.NoError(t, err)
	require.NoError(t, ip.Revert(nil))

	// Hooks added by the pre-step join the batch.
	require.NoError(t, ip.Apply(hookOne("returnInt", addInt(1), nil)))
	assert.Len(t, ip.Hooks(), 2)
	assert.Equal(t, testClassHi+"!", f.send(obj, "sayHi"))
	assert.Equal(t, 8, f.send(obj, "returnInt"))

	boom := errors.New("boom")
	err = ip.Revert(func(*Interposer) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 8, f.send(obj, "returnInt"), "failed pre-step reverts nothing")
}

func TestInterposerBatchValidation(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	ip, err := NewClassInterposer(f.vm, f.testClass, nil)
	require.NoError(t, err)
	hi, err := ip.Hook("sayHi", appendString("!"))
	require.NoError(t, err)
	num, err := ip.Hook("returnInt", addInt(1))
	require.NoError(t, err)

	// One hook already applied poisons the whole batch.
	require.NoError(t, num.Apply())
	err = ip.Apply(nil)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StatePrepared, hi.State())
	assert.Equal(t, testClassHi, f.send(obj, "sayHi"))

	// Same the other way round.
	err = ip.Revert(nil)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateInterposed, num.State())
	assert.Equal(t, 8, f.send(obj, "returnInt"))
}

func TestInterposerBatchMethodNotFound(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	ip, err := NewClassInterposer(f.vm, f.testClass, nil)
	require.NoError(t, err)
	num, err := ip.Hook("returnInt", addInt(1))
	require.NoError(t, err)
	hi, err := ip.Hook("sayHi", appendString("!"))
	require.NoError(t, err)

	f.testClass.VTable.RemoveMethod(f.vm.Intern("sayHi"))

	err = ip.Apply(nil)
	require.ErrorIs(t, err, ErrMethodNotFound)
	assert.Equal(t, StatePrepared, num.State())
	assert.Equal(t, StatePrepared, hi.State())
	assert.Equal(t, 7, f.send(obj, "returnInt"))
}

func TestInterposerApplyTwice(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	ip, err := NewClassInterposer(f.vm, f.testClass, hookOne("sayHi", appendString("!"), nil))
	require.NoError(t, err)

	require.ErrorIs(t, ip.Apply(nil), ErrInvalidState)
	assert.Equal(t, testClassHi+"!", f.send(obj, "sayHi"))

	require.NoError(t, ip.Revert(nil))
	require.ErrorIs(t, ip.Revert(nil), ErrInvalidState)
	assert.Equal(t, testClassHi, f.send(obj, "sayHi"))
}

func TestInterposerPartialFailureIsNotRolledBack(t *testing.T) {
	f := newFixture(t)
	obj := f.testSubclass.NewInstance()

	ip, err := NewClassInterposer(f.vm, f.testSubclass, nil)
	require.NoError(t, err)
	hi, err := ip.Hook("sayHi", appendString("!"))
	require.NoError(t, err)
	// Inherited: passes validation, fails when applied.
	num, err := ip.Hook("returnInt", addInt(1))
	require.NoError(t, err)

	err = ip.Apply(nil)
	require.ErrorIs(t, err, ErrNonExistingImplementation)
	assert.Equal(t, StateInterposed, hi.State())
	assert.Equal(t, StateError, num.State())
	assert.Equal(t, testClassHi+"Subclass is here!!", f.send(obj, "sayHi"))
	assert.Equal(t, 7, f.send(obj, "returnInt"))
}

func TestInterposerClose(t *testing.T) {
	f := newFixture(t)

	ip, err := NewClassInterposer(f.vm, f.testClass, nil)
	require.NoError(t, err)
	applied, err := ip.Hook("sayHi", appendString("!"))
	require.NoError(t, err)
	prepared, err := ip.Hook("returnInt", addInt(1))
	require.NoError(t, err)
	require.NoError(t, applied.Apply())

	require.NoError(t, ip.Close())

	// The installed hook stays reachable, the unused one is gone.
	assert.Equal(t, applied, HookForImplementation(applied.Replacement()))
	assert.Nil(t, HookForImplementation(prepared.Replacement()))
	require.ErrorIs(t, prepared.Apply(), ErrInvalidState)
	assert.Equal(t, testClassHi+"!", f.send(f.testClass.NewInstance(), "sayHi"))
}

func TestObjectInterposerRejectsObservedObject(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	obs, err := f.vm.Observe(obj, "sayHi", func(*vm.Object, string, vm.Value) {})
	require.NoError(t, err)
	observing := f.vm.ActualClass(obj)
	classCount := f.vm.Classes.Len()

	for _, s := range strategies {
		_, err = NewObjectInterposer(f.vm, obj, hookOne("sayHi", appendString("!"), nil), s.opts...)
		require.ErrorIs(t, err, ErrKeyValueObservationDetected, s.name)
	}

	assert.Same(t, observing, f.vm.ActualClass(obj))
	assert.Nil(t, obj.Shadow())
	assert.Equal(t, classCount, f.vm.Classes.Len())
	assert.Equal(t, testClassHi, f.send(obj, "sayHi"))

	// Once observation ends the object can be hooked.
	obs.Cancel()
	_, err = NewObjectInterposer(f.vm, obj, hookOne("sayHi", appendString("!"), nil))
	require.NoError(t, err)
	assert.Equal(t, testClassHi+"!", f.send(obj, "sayHi"))
}

func TestObjectInterposerRejectsPosingObject(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	proxy, err := f.vm.AllocateSubclass(f.testClass, "Proxy_TestClass")
	require.NoError(t, err)
	proxy.AddMethod0(f.vm.Selectors, "class", func(*vm.VM, *vm.Object) vm.Value { return f.testClass })
	require.NoError(t, f.vm.RegisterSubclass(proxy))
	f.vm.SetClass(obj, proxy)

	_, err = NewObjectInterposer(f.vm, obj, hookOne("sayHi", appendString("!"), nil))
	require.ErrorIs(t, err, ErrObjectPosingAsDifferentClass)

	var ie *Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "TestClass", ie.Class)
	assert.Contains(t, ie.Detail, "Proxy_TestClass")
	assert.Same(t, proxy, f.vm.ActualClass(obj))
}

func TestObservedAfterHookBlocksNewHooks(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()

	_, err := NewObjectInterposer(f.vm, obj, hookOne("sayHi", appendString("!"), nil))
	require.NoError(t, err)
	hooked := f.vm.ActualClass(obj)

	var seen []vm.Value
	obs, err := f.vm.Observe(obj, "sayHi", func(_ *vm.Object, _ string, result vm.Value) {
		seen = append(seen, result)
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(f.vm.ActualClass(obj).Name, vm.ObservingPrefix))

	// Observation wraps the hooked method.
	assert.Equal(t, testClassHi+"!", f.send(obj, "sayHi"))
	assert.Equal(t, []vm.Value{testClassHi + "!"}, seen)

	_, err = NewObjectInterposer(f.vm, obj, hookOne("returnInt", addInt(1), nil))
	require.ErrorIs(t, err, ErrKeyValueObservationDetected)

	obs.Cancel()
	assert.Same(t, hooked, f.vm.ActualClass(obj))
	assert.Equal(t, testClassHi+"!", f.send(obj, "sayHi"))
}

func TestObjectInterposerNilTargets(t *testing.T) {
	f := newFixture(t)
	_, err := NewObjectInterposer(f.vm, nil, nil)
	require.ErrorIs(t, err, ErrUnknown)
	_, err = NewClassInterposer(f.vm, nil, nil)
	require.ErrorIs(t, err, ErrUnknown)
}

func TestObjectInterposerObject(t *testing.T) {
	f := newFixture(t)
	obj := f.testClass.NewInstance()
	ip, err := NewObjectInterposer(f.vm, obj, nil)
	require.NoError(t, err)
	assert.Same(t, obj, ip.Object())
	assert.Same(t, f.testClass, ip.Class())
}
