package ecs

import (
	"strings"
	"unsafe"

	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// EntityName is the value of the built-in Name component.
type EntityName string

// PathSeparator separates scopes in paths passed to Lookup.
const PathSeparator = "::"

type nameKey struct {
	parent Id
	name   string
}

// nameIndex maps (parent, name) to entities. Names are unique within a
// parent scope.
type nameIndex struct {
	scopes   *intmap.Map[Id, map[string]Id]
	byEntity *intmap.Map[Id, nameKey]
}

func newNameIndex() *nameIndex {
	return &nameIndex{
		scopes:   intmap.New[Id, map[string]Id](16),
		byEntity: intmap.New[Id, nameKey](64),
	}
}

func (n *nameIndex) lookup(parent Id, name string) Id {
	scope, ok := n.scopes.Get(parent)
	if !ok {
		return 0
	}
	return scope[name]
}

func (n *nameIndex) insert(e Id, key nameKey) bool {
	scope, ok := n.scopes.Get(key.parent)
	if !ok {
		scope = make(map[string]Id)
		n.scopes.Put(key.parent, scope)
	}
	if other, taken := scope[key.name]; taken && other != e {
		return false
	}
	scope[key.name] = e
	n.byEntity.Put(e, key)
	return true
}

func (n *nameIndex) remove(e Id) {
	key, ok := n.byEntity.Get(e)
	if !ok {
		return
	}
	n.byEntity.Del(e)
	scope, ok := n.scopes.Get(key.parent)
	if !ok {
		return
	}
	if scope[key.name] == e {
		delete(scope, key.name)
	}
	if len(scope) == 0 {
		n.scopes.Del(key.parent)
	}
}

// rekey moves the name of prev, and the scope it parents, to e.
func (n *nameIndex) rekey(prev, e Id) {
	if key, ok := n.byEntity.Get(prev); ok {
		n.byEntity.Del(prev)
		n.byEntity.Put(e, key)
		if scope, ok := n.scopes.Get(key.parent); ok && scope[key.name] == prev {
			scope[key.name] = e
		}
	}
	scope, ok := n.scopes.Get(prev)
	if !ok {
		return
	}
	n.scopes.Del(prev)
	n.scopes.Put(e, scope)
	for _, child := range scope {
		if key, ok := n.byEntity.Get(child); ok {
			key.parent = e
			n.byEntity.Put(child, key)
		}
	}
}

func (n *nameIndex) set(w *World, e Id, parent Id, name string) {
	n.remove(e)
	if name == "" {
		return
	}
	if !n.insert(e, nameKey{parent: parent, name: name}) {
		w.log.Warn("name not indexed, already in use in scope",
			zap.Stringer("entity", e), zap.String("name", name), zap.Stringer("parent", parent))
	}
}

func (n *nameIndex) reparent(w *World, e Id, oldParent, newParent Id) {
	key, ok := n.byEntity.Get(e)
	if !ok || key.parent != oldParent {
		return
	}
	n.set(w, e, newParent, key.name)
}

func (n *nameIndex) reset() {
	n.scopes.Clear()
	n.byEntity.Clear()
}

func nameHooks() Hooks[EntityName] {
	return Hooks[EntityName]{
		OnSet: func(w *World, e EntityId, v *EntityName) {
			w.names.set(w, e, w.Parent(e), string(*v))
		},
		OnRemove: func(w *World, e EntityId, _ *EntityName) {
			w.names.remove(e)
		},
	}
}

// GetName returns the name of e, or "".
func (w *World) GetName(e EntityId) string {
	if v := (*EntityName)(w.GetRaw(e, Name)); v != nil {
		return string(*v)
	}
	return ""
}

// SetName names e within the scope of its parent. It fails with
// ErrNameConflict when another entity in the scope has the name.
func (w *World) SetName(e EntityId, name string) error {
	return w.stages[0].SetName(e, name)
}

// Lookup resolves a path of names separated by PathSeparator, starting at
// the root scope. It returns 0 when any element is missing.
func (w *World) Lookup(path string) EntityId {
	var e Id
	for _, name := range strings.Split(path, PathSeparator) {
		e = w.LookupChild(e, name)
		if e == 0 {
			return 0
		}
	}
	return e
}

// LookupChild returns the entity named name in the scope of parent. A zero
// parent is the root scope.
func (w *World) LookupChild(parent EntityId, name string) EntityId {
	e := w.names.lookup(parent, name)
	if e != 0 && !w.IsAlive(e) {
		return 0
	}
	return e
}

// Path returns the names of e and its ancestors joined by PathSeparator.
func (w *World) Path(e EntityId) string {
	var parts []string
	for cur := e; cur != 0; cur = w.Parent(cur) {
		name := w.GetName(cur)
		if name == "" {
			name = cur.String()
		}
		parts = append(parts, name)
		if len(parts) > 1024 {
			break
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, PathSeparator)
}

func (w *World) setNameImmediate(e Id, name string) error {
	w.aliveRecord(e)
	if name == "" {
		w.removeImmediate(e, Name)
		return nil
	}
	parent := w.Parent(e)
	if other := w.LookupChild(parent, name); other != 0 && other != e {
		return eris.Wrapf(ErrNameConflict, "name %q in scope %s", name, parent)
	}
	v := EntityName(name)
	w.setImmediate(e, Name, unsafe.Pointer(&v), false)
	return nil
}

// EntityDesc describes an entity for World.Entity and Stage.Entity.
type EntityDesc struct {
	// Id of an existing entity to use instead of creating one.
	Id     EntityId
	Name   string
	Parent EntityId
	Add    []Id
}

// Entity finds or creates an entity. When Name is set and an entity with
// that name exists in the Parent scope, the existing entity is returned and
// the Add ids are added to it.
func (w *World) Entity(desc EntityDesc) (EntityId, error) {
	return w.stages[0].Entity(desc)
}

func (w *World) entityImmediate(desc EntityDesc) (Id, error) {
	e := desc.Id
	if desc.Name != "" {
		if existing := w.LookupChild(desc.Parent, desc.Name); existing != 0 {
			if e != 0 && e != existing {
				return 0, eris.Wrapf(ErrNameConflict, "name %q belongs to %s", desc.Name, existing)
			}
			e = existing
		}
	}

	switch {
	case e == 0:
		e = w.newImmediate()
	case !w.IsAlive(e):
		w.makeAlive(e)
	}

	if desc.Parent != 0 {
		w.addImmediate(e, Pair(ChildOf, desc.Parent))
	}
	for _, id := range desc.Add {
		w.addImmediate(e, id)
	}
	if desc.Name != "" && w.GetName(e) != desc.Name {
		if err := w.setNameImmediate(e, desc.Name); err != nil {
			return e, err
		}
	}
	return e, nil
}
