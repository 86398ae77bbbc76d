// Package interpose replaces method implementations on a live runtime while
// keeping the original callable and the replacement reversible.
//
// An Interposer targets exactly one class or exactly one object. Hooks are
// registered with Hook and installed as a batch with Apply; Revert undoes
// them. Class hooks rewrite the class's own dispatch table. Object hooks
// move the object into a private per-object subclass (or give it a shadow
// table) so that no other instance is affected.
//
//	i, err := interpose.NewClassInterposer(rt, class, func(i *interpose.Interposer) error {
//		_, err := i.Hook("sayHi", func(s interpose.Store) vm.Method {
//			return vm.NewMethod0("sayHi", func(v *vm.VM, recv *vm.Object) vm.Value {
//				return s.CallOriginal(v, recv).(string) + " and Interpose"
//			})
//		})
//		return err
//	})
//
// Several object hooks on the same method chain through each other's
// original implementation; reverting one that is not topmost splices it out
// of the chain. Installed hooks are never torn down by the runtime, so a
// hooked object keeps its private subclass for the rest of the process.
package interpose
