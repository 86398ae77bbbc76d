package interpose

import (
	"testing"

	"github.com/steipete/InterposeKit/vm"
	"github.com/stretchr/testify/require"
)

const testClassHi = "Hi from TestClass!"

// fixture is a fresh runtime with TestClass and TestSubclass.
type fixture struct {
	vm           *vm.VM
	testClass    *vm.Class
	testSubclass *vm.Class
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v := vm.NewVM()

	tc, err := v.DefineClass("TestClass", nil, "age")
	require.NoError(t, err)
	tc.AddMethod0(v.Selectors, "sayHi", func(*vm.VM, *vm.Object) vm.Value {
		return testClassHi
	})
	tc.AddMethod0(v.Selectors, "returnInt", func(*vm.VM, *vm.Object) vm.Value {
		return 7
	})
	tc.AddMethod3(v.Selectors, "calculate:with:and:", func(_ *vm.VM, _ *vm.Object, a, b, c vm.Value) vm.Value {
		return a.(int) + b.(int) + c.(int)
	})
	tc.AddMethod1(v.Selectors, "executeBlock:", func(_ *vm.VM, _ *vm.Object, block vm.Value) vm.Value {
		block.(func())()
		return nil
	})
	tc.AddMethod1(v.Selectors, "doubleString:", func(_ *vm.VM, _ *vm.Object, s vm.Value) vm.Value {
		return s.(string) + s.(string)
	})

	sub, err := v.DefineClass("TestSubclass", tc)
	require.NoError(t, err)
	sub.AddMethod0(v.Selectors, "sayHi", func(v *vm.VM, recv *vm.Object) vm.Value {
		super := v.FindMethod(tc, "sayHi")
		return super.Invoke(v, recv, nil).(string) + "Subclass is here!"
	})

	return &fixture{vm: v, testClass: tc, testSubclass: sub}
}

func (f *fixture) send(obj *vm.Object, selector string, args ...vm.Value) vm.Value {
	return f.vm.Send(obj, selector, args...)
}

// appendString hooks a zero-argument string method.
func appendString(suffix string) Factory {
	return func(s Store) vm.Method {
		return vm.NewMethod0(s.Selector(), func(v *vm.VM, recv *vm.Object) vm.Value {
			return s.CallOriginal(v, recv).(string) + suffix
		})
	}
}

// addInt hooks a zero-argument int method.
func addInt(n int) Factory {
	return func(s Store) vm.Method {
		return vm.NewMethod0(s.Selector(), func(v *vm.VM, recv *vm.Object) vm.Value {
			return s.CallOriginal(v, recv).(int) + n
		})
	}
}

// mulInt hooks a zero-argument int method.
func mulInt(n int) Factory {
	return func(s Store) vm.Method {
		return vm.NewMethod0(s.Selector(), func(v *vm.VM, recv *vm.Object) vm.Value {
			return s.CallOriginal(v, recv).(int) * n
		})
	}
}

// hookOne returns a builder that adds a single hook and stores it in out.
func hookOne(selector string, factory Factory, out *Hook) Builder {
	return func(ip *Interposer) error {
		h, err := ip.Hook(selector, factory)
		if out != nil {
			*out = h
		}
		return err
	}
}

// strategies runs object hook tests once per isolation strategy.
var strategies = []struct {
	name string
	opts []Option
}{
	{"class-pair", []Option{WithStrategy(ClassPairStrategy{})}},
	{"shadow-table", []Option{WithStrategy(ShadowTableStrategy{})}},
}
