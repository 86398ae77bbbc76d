package vm

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Class
// ---------------------------------------------------------------------------

// Class represents a runtime class: a name, a superclass and a dispatch table.
type Class struct {
	Name       string   // Class name
	Namespace  string   // Namespace (empty for default)
	Superclass *Class   // Parent class (nil for the root class)
	VTable     *VTable  // Method dispatch table
	InstVars   []string // Instance variable names
	NumSlots   int      // Total number of slots needed, including inherited
}

// NewClass creates a new class with the given name and superclass.
// The VTable is created and linked to the superclass's table.
func NewClass(name string, superclass *Class) *Class {
	var parentVT *VTable
	var numSlots int
	if superclass != nil {
		parentVT = superclass.VTable
		numSlots = superclass.NumSlots
	}

	c := &Class{
		Name:       name,
		Superclass: superclass,
		NumSlots:   numSlots,
	}
	c.VTable = NewVTable(c, parentVT)
	return c
}

// NewClassWithInstVars creates a new class with instance variables.
func NewClassWithInstVars(name string, superclass *Class, instVars []string) *Class {
	c := NewClass(name, superclass)
	c.InstVars = instVars
	c.NumSlots += len(instVars)
	return c
}

// InstVarIndex returns the slot index for an instance variable by name.
// Returns -1 if the variable is not found.
func (c *Class) InstVarIndex(name string) int {
	for i, n := range c.InstVars {
		if n == name {
			return c.instVarOffset() + i
		}
	}
	if c.Superclass != nil {
		return c.Superclass.InstVarIndex(name)
	}
	return -1
}

// instVarOffset returns the starting slot index for this class's instance
// variables.
func (c *Class) instVarOffset() int {
	if c.Superclass == nil {
		return 0
	}
	return c.Superclass.NumSlots
}

// IsSubclassOf returns true if c is a subclass of other (or is the same class).
func (c *Class) IsSubclassOf(other *Class) bool {
	for current := c; current != nil; current = current.Superclass {
		if current == other {
			return true
		}
	}
	return false
}

// NewInstance creates a new instance of this class.
func (c *Class) NewInstance() *Object {
	return NewObject(c)
}

// AddMethod registers a method on this class under the given selector name.
func (c *Class) AddMethod(selectors *SelectorTable, name string, method Method) {
	c.VTable.AddMethod(selectors.Intern(name), method)
}

// AddMethod0 registers a zero-argument method on this class.
func (c *Class) AddMethod0(selectors *SelectorTable, name string, fn Method0Func) {
	c.AddMethod(selectors, name, NewMethod0(name, fn))
}

// AddMethod1 registers a one-argument method on this class.
func (c *Class) AddMethod1(selectors *SelectorTable, name string, fn Method1Func) {
	c.AddMethod(selectors, name, NewMethod1(name, fn))
}

// AddMethod2 registers a two-argument method on this class.
func (c *Class) AddMethod2(selectors *SelectorTable, name string, fn Method2Func) {
	c.AddMethod(selectors, name, NewMethod2(name, fn))
}

// AddMethod3 registers a three-argument method on this class.
func (c *Class) AddMethod3(selectors *SelectorTable, name string, fn Method3Func) {
	c.AddMethod(selectors, name, NewMethod3(name, fn))
}

// LookupMethod looks up a method by selector name, walking superclasses.
func (c *Class) LookupMethod(selectors *SelectorTable, name string) Method {
	selectorID := selectors.Lookup(name)
	if selectorID < 0 {
		return nil
	}
	return c.VTable.Lookup(selectorID)
}

// HasMethod returns true if this class (not superclasses) defines a method.
func (c *Class) HasMethod(selectors *SelectorTable, name string) bool {
	selectorID := selectors.Lookup(name)
	if selectorID < 0 {
		return false
	}
	return c.VTable.HasMethod(selectorID)
}

// FullName returns the fully qualified class name (namespace::name or just name).
func (c *Class) FullName() string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "::" + c.Name
}

// String implements the Stringer interface.
func (c *Class) String() string {
	if c == nil {
		return "<nil class>"
	}
	return c.FullName()
}

// Superclasses returns all superclasses from immediate parent to root.
func (c *Class) Superclasses() []*Class {
	var result []*Class
	for current := c.Superclass; current != nil; current = current.Superclass {
		result = append(result, current)
	}
	return result
}

// ---------------------------------------------------------------------------
// ClassTable: registered classes
// ---------------------------------------------------------------------------

// ClassTable manages registered classes by name.
// It's safe for concurrent access.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates a new empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		classes: make(map[string]*Class),
	}
}

// Register adds a class to the table. Registering a different class under a
// name that is already taken fails; registering the same class twice is a
// no-op.
func (ct *ClassTable) Register(c *Class) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	key := c.FullName()
	if old, ok := ct.classes[key]; ok {
		if old == c {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicateClass, key)
	}
	ct.classes[key] = c
	return nil
}

// Lookup finds a class by (fully qualified) name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Has returns true if a class with this name is registered.
func (ct *ClassTable) Has(name string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	_, ok := ct.classes[name]
	return ok
}

// All returns all registered classes.
func (ct *ClassTable) All() []*Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	result := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		result = append(result, c)
	}
	return result
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
