package ecs

import (
	"iter"
	"reflect"
	"unsafe"
)

// View maps a struct of component pointers onto entities. Every field of T
// must be a pointer to a component type. Embedded fields are required;
// named fields may be marked optional with the `ecs:"optional"` tag, in which
// case they are nil for entities that lack the component. A field of type
// EntityId receives the entity itself.
type View[T any] struct {
	world       *World
	ids         []Id
	optional    []bool
	fieldOffset []uintptr
	entityField []uintptr
	filter      *Filter
}

// NewView creates a view for T. Every component type must be registered.
func NewView[T any](w *World) *View[T] {
	structType := reflect.TypeFor[T]()
	if structType.Kind() != reflect.Struct {
		panic("View type parameter must be a struct")
	}

	v := &View[T]{world: w}
	var required []Id
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if field.Type == reflect.TypeFor[EntityId]() {
			v.entityField = append(v.entityField, field.Offset)
			continue
		}
		if field.Type.Kind() != reflect.Ptr {
			panic("View struct fields must be pointer types")
		}

		isOptional := false
		if !field.Anonymous {
			switch tag := field.Tag.Get("ecs"); tag {
			case "":
			case "optional":
				isOptional = true
			default:
				panic("invalid ecs tag value: \"" + tag + "\" (only \"optional\" is supported)")
			}
		}

		id := w.componentByType(field.Type.Elem())
		v.ids = append(v.ids, id)
		v.optional = append(v.optional, isOptional)
		v.fieldOffset = append(v.fieldOffset, field.Offset)
		if !isOptional {
			required = append(required, id)
		}
	}
	v.filter = w.NewFilter(required...)
	return v
}

func (w *World) componentByType(t reflect.Type) Id {
	ti := w.registry.ByType(t)
	if ti == nil {
		w.fatal(ErrInvalidId, "component type "+t.String()+" not registered")
	}
	return ti.Component
}

// Filter returns the filter matching the required fields.
func (v *View[T]) Filter() *Filter { return v.filter }

// Fill points the fields of ptr at the components of e. It returns false
// when e is missing a required component.
func (v *View[T]) Fill(e EntityId, ptr *T) bool {
	base := unsafe.Pointer(ptr)
	v.setEntity(base, e)
	for i, id := range v.ids {
		field := (*unsafe.Pointer)(unsafe.Add(base, v.fieldOffset[i]))
		p := v.world.GetRaw(e, id)
		if p == nil && !v.optional[i] {
			return false
		}
		*field = p
	}
	return true
}

// Get returns the view of e, or nil when e lacks a required component.
func (v *View[T]) Get(e EntityId) *T {
	var result T
	if !v.Fill(e, &result) {
		return nil
	}
	return &result
}

// GetRef is Get for an EntityRef.
func (v *View[T]) GetRef(ref *EntityRef) *T {
	e, ok := v.world.ResolveEntityRef(ref)
	if !ok {
		return nil
	}
	return v.Get(e)
}

type viewColumn struct {
	col    column
	sparse *sparseStorage
}

func (v *View[T]) columns(t *Table) []viewColumn {
	cols := make([]viewColumn, len(v.ids))
	for i, id := range v.ids {
		idr := v.world.idRecord(id)
		if idr == nil {
			continue
		}
		if idr.sparse != nil {
			cols[i].sparse = idr.sparse
			continue
		}
		if c := t.ColumnIndex(id); c >= 0 {
			cols[i].col = t.columns[c].data
		}
	}
	return cols
}

func (v *View[T]) setEntity(base unsafe.Pointer, e Id) {
	for _, off := range v.entityField {
		*(*EntityId)(unsafe.Add(base, off)) = e
	}
}

func (v *View[T]) populate(base unsafe.Pointer, e Id, row int, cols []viewColumn) bool {
	v.setEntity(base, e)
	for i, c := range cols {
		var p unsafe.Pointer
		switch {
		case c.col != nil:
			p = c.col.ptr(row)
		case c.sparse != nil:
			p = c.sparse.get(e)
		}
		if p == nil && !v.optional[i] {
			return false
		}
		*(*unsafe.Pointer)(unsafe.Add(base, v.fieldOffset[i])) = p
	}
	return true
}

func (v *View[T]) iterTable(t *Table) iter.Seq2[EntityId, T] {
	return func(yield func(EntityId, T) bool) {
		cols := v.columns(t)
		var result T
		base := unsafe.Pointer(&result)
		for row, e := range t.entities {
			if !v.populate(base, e, row, cols) {
				continue
			}
			if !yield(e, result) {
				return
			}
		}
	}
}

// Iter yields every entity that has the required components together with
// its populated view.
func (v *View[T]) Iter() iter.Seq2[EntityId, T] {
	return func(yield func(EntityId, T) bool) {
		for t := range v.filter.Tables() {
			for e, item := range v.iterTable(t) {
				if !yield(e, item) {
					return
				}
			}
		}
	}
}

// Values yields only the view structs.
func (v *View[T]) Values() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, value := range v.Iter() {
			if !yield(value) {
				return
			}
		}
	}
}

// Spawn creates an entity on the world with a copy of every non-nil field
// of data.
func (v *View[T]) Spawn(data T) EntityId {
	return v.SpawnOn(v.world, data)
}

// SpawnOn is Spawn through any Mutator, such as the stage of a system.
func (v *View[T]) SpawnOn(m Mutator, data T) EntityId {
	base := unsafe.Pointer(&data)
	values := make([]unsafe.Pointer, len(v.ids))
	n := 0
	for i := range v.ids {
		values[i] = *(*unsafe.Pointer)(unsafe.Add(base, v.fieldOffset[i]))
		if values[i] == nil {
			if !v.optional[i] {
				panic("required component is nil in View.Spawn")
			}
			continue
		}
		n++
	}
	if n == 0 {
		panic("cannot spawn entity without components")
	}

	e := m.New()
	for i, id := range v.ids {
		if values[i] != nil {
			m.SetRaw(e, id, values[i])
		}
	}
	return e
}
