package ecs

import (
	"slices"
	"unsafe"
)

// EventKind identifies a lifecycle event.
type EventKind uint8

const (
	OnAdd EventKind = iota
	OnSet
	OnRemove
	eventKindCount
)

func (k EventKind) String() string {
	switch k {
	case OnAdd:
		return "OnAdd"
	case OnSet:
		return "OnSet"
	case OnRemove:
		return "OnRemove"
	}
	return "Unknown"
}

// Event is delivered to observers. Ptr points at the component value while
// the handler runs, or is nil for tags.
type Event struct {
	Kind   EventKind
	Entity EntityId
	Id     Id
	Table  *Table
	Ptr    unsafe.Pointer
}

// ObserverHandle identifies a registered observer.
type ObserverHandle uint64

type observer struct {
	handle ObserverHandle
	id     Id
	fn     func(Event)
}

type observers struct {
	byKind [eventKindCount][]*observer
	next   ObserverHandle
}

// Observe calls fn for every event of kind on an id matching id. A zero id
// observes every id. Handlers run with the world deferred.
func (w *World) Observe(kind EventKind, id Id, fn func(Event)) ObserverHandle {
	w.observers.next++
	o := &observer{handle: w.observers.next, id: id, fn: fn}
	w.observers.byKind[kind] = append(w.observers.byKind[kind], o)
	return o.handle
}

// Unobserve removes an observer. It returns false if the handle is unknown.
func (w *World) Unobserve(h ObserverHandle) bool {
	for k := range w.observers.byKind {
		list := w.observers.byKind[k]
		if i := slices.IndexFunc(list, func(o *observer) bool { return o.handle == h }); i >= 0 {
			w.observers.byKind[k] = slices.Delete(list, i, i+1)
			return true
		}
	}
	return false
}

func (w *World) hasObservers(kind EventKind) bool {
	return len(w.observers.byKind[kind]) > 0
}

// emit delivers kind for id on e to the component hook and to observers.
func (w *World) emit(kind EventKind, e Id, id Id, t *Table, ptr unsafe.Pointer, ti *TypeInfo) {
	if ti != nil {
		var hook func(*World, Id, unsafe.Pointer)
		switch kind {
		case OnAdd:
			hook = ti.onAdd
		case OnSet:
			hook = ti.onSet
		case OnRemove:
			hook = ti.onRemove
		}
		if hook != nil {
			hook(w, e, ptr)
		}
	}

	list := w.observers.byKind[kind]
	if len(list) == 0 {
		return
	}
	ev := Event{Kind: kind, Entity: e, Id: id, Table: t, Ptr: ptr}
	for _, o := range list {
		if o.id == 0 || id == o.id || id.Matches(o.id) {
			o.fn(ev)
		}
	}
}
