package vm

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Runtime images
//
// An image is a CBOR document declaring classes and the primitives that
// implement their methods. Loading an image registers its classes and
// notifies image listeners, the way a dynamic loader announces new code.
// ---------------------------------------------------------------------------

// Image is a loadable batch of class definitions.
type Image struct {
	Name    string      `cbor:"name"`
	Classes []ClassSpec `cbor:"classes"`
}

// ClassSpec declares one class in an image.
type ClassSpec struct {
	Name       string       `cbor:"name"`
	Superclass string       `cbor:"superclass,omitempty"`
	InstVars   []string     `cbor:"ivars,omitempty"`
	Methods    []MethodSpec `cbor:"methods,omitempty"`
}

// MethodSpec binds a selector to a named primitive.
type MethodSpec struct {
	Selector  string `cbor:"selector"`
	Primitive string `cbor:"primitive"`
}

var imageEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	imageEncMode = em
}

// EncodeImage serializes an image to canonical CBOR.
func EncodeImage(img *Image) ([]byte, error) {
	return imageEncMode.Marshal(img)
}

// DecodeImage deserializes an image from CBOR bytes.
func DecodeImage(data []byte) (*Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, fmt.Errorf("vm: decode image: %w", err)
	}
	return &img, nil
}

// ReadImageFile reads and decodes an image file.
func ReadImageFile(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read image %s: %w", path, err)
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if img.Name == "" {
		img.Name = path
	}
	return img, nil
}

// ---------------------------------------------------------------------------
// PrimitiveRegistry
// ---------------------------------------------------------------------------

// PrimitiveRegistry maps primitive names to method bodies so images can
// refer to Go code by name.
type PrimitiveRegistry struct {
	mu    sync.RWMutex
	prims map[string]Method
}

// NewPrimitiveRegistry creates an empty registry.
func NewPrimitiveRegistry() *PrimitiveRegistry {
	return &PrimitiveRegistry{prims: make(map[string]Method)}
}

// Register binds name to m, replacing any earlier binding.
func (r *PrimitiveRegistry) Register(name string, m Method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prims[name] = m
}

// Lookup returns the primitive bound to name, or nil.
func (r *PrimitiveRegistry) Lookup(name string) Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prims[name]
}

// Names returns all registered primitive names, sorted.
func (r *PrimitiveRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.prims))
	for n := range r.prims {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadImage builds and registers every class in img, then notifies image
// listeners on the calling goroutine. Nothing is registered if any class
// fails to resolve.
func (vm *VM) LoadImage(img *Image) ([]*Class, error) {
	pending := make(map[string]*Class, len(img.Classes))
	classes := make([]*Class, 0, len(img.Classes))

	for _, cs := range img.Classes {
		if cs.Name == "" {
			return nil, fmt.Errorf("image %s: %w", img.Name, ErrInvalidClassName)
		}
		if vm.Classes.Has(cs.Name) || pending[cs.Name] != nil {
			return nil, fmt.Errorf("image %s: %w: %s", img.Name, ErrDuplicateClass, cs.Name)
		}

		super := vm.ObjectClass
		if cs.Superclass != "" {
			super = pending[cs.Superclass]
			if super == nil {
				super = vm.Classes.Lookup(cs.Superclass)
			}
			if super == nil {
				return nil, fmt.Errorf("image %s: %w: %s (superclass of %s)",
					img.Name, ErrUnknownSuperclass, cs.Superclass, cs.Name)
			}
		}

		c := NewClassWithInstVars(cs.Name, super, cs.InstVars)
		for _, ms := range cs.Methods {
			prim := vm.Primitives.Lookup(ms.Primitive)
			if prim == nil {
				return nil, fmt.Errorf("image %s: %w: %s (%s>>%s)",
					img.Name, ErrUnknownPrimitive, ms.Primitive, cs.Name, ms.Selector)
			}
			if nm, ok := prim.(NamedMethod); ok && nm.Arity() >= 0 && nm.Arity() != SelectorArity(ms.Selector) {
				return nil, fmt.Errorf("image %s: %w: %s takes %d, %s>>%s takes %d",
					img.Name, ErrArityMismatch, ms.Primitive, nm.Arity(), cs.Name, ms.Selector, SelectorArity(ms.Selector))
			}
			c.AddMethod(vm.Selectors, ms.Selector, prim)
		}
		pending[cs.Name] = c
		classes = append(classes, c)
	}

	for _, c := range classes {
		if err := vm.Classes.Register(c); err != nil {
			return nil, fmt.Errorf("image %s: %w", img.Name, err)
		}
	}

	vm.notifyImageLoaded(img)
	return classes, nil
}

// OnImageLoaded registers fn to be called after every successful LoadImage.
// The returned function removes the listener.
func (vm *VM) OnImageLoaded(fn func(*Image)) (cancel func()) {
	vm.imageMu.Lock()
	id := vm.nextListenerID
	vm.nextListenerID++
	vm.imageListeners[id] = fn
	vm.imageMu.Unlock()

	return func() {
		vm.imageMu.Lock()
		delete(vm.imageListeners, id)
		vm.imageMu.Unlock()
	}
}

// notifyImageLoaded calls listeners in registration order without holding
// imageMu, so listeners may register further listeners or load images.
func (vm *VM) notifyImageLoaded(img *Image) {
	vm.imageMu.Lock()
	ids := make([]int, 0, len(vm.imageListeners))
	for id := range vm.imageListeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(*Image), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, vm.imageListeners[id])
	}
	vm.imageMu.Unlock()

	for _, fn := range listeners {
		fn(img)
	}
}
