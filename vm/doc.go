// Package vm implements a small dynamic object runtime.
//
// This package contains:
//   - Selector interning and selector-indexed dispatch tables
//   - Single-inheritance classes with a superclass chain
//   - Objects whose class pointer can be swapped at runtime
//   - Per-object shadow dispatch tables
//   - Super trampolines that forward to the superclass implementation
//   - An observation framework that subclasses objects at runtime
//   - CBOR runtime images and image-load notifications
//
// The runtime is the host that the interpose package mutates. All
// dispatch table writes are atomic with respect to concurrent sends.
package vm
