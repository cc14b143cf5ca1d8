package ecs

import (
	"reflect"
	"unsafe"

	"github.com/kamstrup/intmap"
)

// Hooks are optional lifecycle callbacks for a component type.
//
// Ctor runs when a value is created in storage without a source value and
// Dtor runs when a value leaves storage for good. Move runs when storage
// relocates a value between rows or tables; the source is zeroed afterwards
// and is not destructed. Copy runs when a value is copied in from outside
// storage, for example by Set.
//
// OnAdd, OnSet and OnRemove are called with the world in deferred mode, so
// structural changes they make are queued and applied when the current
// operation completes.
type Hooks[T any] struct {
	Ctor func(v *T)
	Dtor func(v *T)
	Copy func(dst, src *T)
	Move func(dst, src *T)

	OnAdd    func(w *World, e EntityId, v *T)
	OnSet    func(w *World, e EntityId, v *T)
	OnRemove func(w *World, e EntityId, v *T)
}

// TypeInfo describes how values of a component are stored. Components with
// a zero sized type are stored as tags.
type TypeInfo struct {
	Component Id
	Type      reflect.Type
	Size      uintptr
	Name      string

	newColumn func() column
	newPool   func() sparsePool

	ctor     func(ptr unsafe.Pointer)
	dtor     func(ptr unsafe.Pointer)
	copy     func(dst, src unsafe.Pointer)
	move     func(dst, src unsafe.Pointer)
	onAdd    func(w *World, e Id, ptr unsafe.Pointer)
	onSet    func(w *World, e Id, ptr unsafe.Pointer)
	onRemove func(w *World, e Id, ptr unsafe.Pointer)

	hasMove bool

	assign   func(dst, src unsafe.Pointer)
	clone    func(src unsafe.Pointer) unsafe.Pointer
	newValue func() unsafe.Pointer
	boxed    func(ptr unsafe.Pointer) any
}

// HasHooks reports whether any lifecycle callback is set.
func (ti *TypeInfo) HasHooks() bool {
	return ti.ctor != nil || ti.dtor != nil || ti.copy != nil || ti.hasMove ||
		ti.onAdd != nil || ti.onSet != nil || ti.onRemove != nil
}

func (ti *TypeInfo) isTag() bool {
	return ti == nil || ti.Size == 0
}

func newTypeInfo[T any](hooks Hooks[T]) *TypeInfo {
	t := reflect.TypeFor[T]()
	h := &hooks

	ti := &TypeInfo{
		Type: t,
		Size: t.Size(),
		Name: t.String(),
		newColumn: func() column {
			return &typedColumn[T]{hooks: h}
		},
		newPool: func() sparsePool {
			return newTypedPool(h)
		},
		move: func(dst, src unsafe.Pointer) {
			moveValue(h, (*T)(dst), (*T)(src))
		},
		assign: func(dst, src unsafe.Pointer) {
			if h.Copy != nil {
				h.Copy((*T)(dst), (*T)(src))
			} else {
				*(*T)(dst) = *(*T)(src)
			}
		},
		clone: func(src unsafe.Pointer) unsafe.Pointer {
			v := new(T)
			if h.Copy != nil {
				h.Copy(v, (*T)(src))
			} else {
				*v = *(*T)(src)
			}
			return unsafe.Pointer(v)
		},
		newValue: func() unsafe.Pointer {
			v := new(T)
			if h.Ctor != nil {
				h.Ctor(v)
			}
			return unsafe.Pointer(v)
		},
		boxed: func(ptr unsafe.Pointer) any {
			return (*T)(ptr)
		},
	}

	ti.hasMove = h.Move != nil
	if h.Ctor != nil {
		ti.ctor = func(ptr unsafe.Pointer) { h.Ctor((*T)(ptr)) }
	}
	if h.Dtor != nil {
		ti.dtor = func(ptr unsafe.Pointer) { h.Dtor((*T)(ptr)) }
	}
	if h.Copy != nil {
		ti.copy = func(dst, src unsafe.Pointer) { h.Copy((*T)(dst), (*T)(src)) }
	}
	if h.OnAdd != nil {
		ti.onAdd = func(w *World, e Id, ptr unsafe.Pointer) { h.OnAdd(w, e, (*T)(ptr)) }
	}
	if h.OnSet != nil {
		ti.onSet = func(w *World, e Id, ptr unsafe.Pointer) { h.OnSet(w, e, (*T)(ptr)) }
	}
	if h.OnRemove != nil {
		ti.onRemove = func(w *World, e Id, ptr unsafe.Pointer) { h.OnRemove(w, e, (*T)(ptr)) }
	}
	return ti
}

// moveValue relocates src into dst and zeroes src.
func moveValue[T any](h *Hooks[T], dst, src *T) {
	if h.Move != nil {
		h.Move(dst, src)
	} else {
		*dst = *src
	}
	var zero T
	*src = zero
}

// ComponentRegistry maps Go types to component ids for a world. Each World
// owns its registry, so independent worlds may assign different ids to the
// same type.
type ComponentRegistry struct {
	byType map[reflect.Type]*TypeInfo
	byId   *intmap.Map[Id, *TypeInfo]
}

func newComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		byType: make(map[reflect.Type]*TypeInfo),
		byId:   intmap.New[Id, *TypeInfo](64),
	}
}

func (r *ComponentRegistry) add(ti *TypeInfo) {
	r.byType[ti.Type] = ti
	r.byId.Put(ti.Component, ti)
}

func (r *ComponentRegistry) remove(id Id) {
	ti, ok := r.byId.Get(id)
	if !ok {
		return
	}
	r.byId.Del(id)
	delete(r.byType, ti.Type)
}

// ByType returns the type info registered for t, or nil.
func (r *ComponentRegistry) ByType(t reflect.Type) *TypeInfo {
	return r.byType[t]
}

// ById returns the type info registered for a component id, or nil.
func (r *ComponentRegistry) ById(id Id) *TypeInfo {
	ti, _ := r.byId.Get(id)
	return ti
}

// Len returns the number of registered component types.
func (r *ComponentRegistry) Len() int {
	return r.byId.Len()
}

// RegisterComponent registers T as a component of w and returns its id.
// Registering a type twice returns the existing id and leaves its hooks
// untouched.
func RegisterComponent[T any](w *World, hooks ...Hooks[T]) Id {
	if ti := w.registry.ByType(reflect.TypeFor[T]()); ti != nil {
		return ti.Component
	}
	var h Hooks[T]
	if len(hooks) > 0 {
		h = hooks[0]
	}
	return w.registerComponent(newTypeInfo(h))
}

// ComponentId returns the id of a registered component type. It panics if T
// was never registered.
func ComponentId[T any](w *World) Id {
	ti := w.registry.ByType(reflect.TypeFor[T]())
	if ti == nil {
		w.fatal(ErrInvalidId, "component type "+reflect.TypeFor[T]().String()+" not registered")
	}
	return ti.Component
}

// LookupComponent returns the id of T if it is registered.
func LookupComponent[T any](w *World) (Id, bool) {
	ti := w.registry.ByType(reflect.TypeFor[T]())
	if ti == nil {
		return 0, false
	}
	return ti.Component, true
}
