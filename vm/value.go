package vm

// Value is anything a method accepts or returns.
//
// Receivers are always *Object; arguments and results are plain Go values.
type Value = any
