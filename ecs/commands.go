package ecs

import (
	"unsafe"

	"github.com/kamstrup/intmap"
	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type cmdKind uint8

const (
	cmdNew cmdKind = iota
	cmdEntity
	cmdAdd
	cmdRemove
	cmdSet
	cmdEnsure
	cmdClear
	cmdModified
	cmdEnable
	cmdDelete
	cmdSetName
	cmdFn
)

func (k cmdKind) String() string {
	switch k {
	case cmdNew:
		return "new"
	case cmdEntity:
		return "entity"
	case cmdAdd:
		return "add"
	case cmdRemove:
		return "remove"
	case cmdSet:
		return "set"
	case cmdEnsure:
		return "ensure"
	case cmdClear:
		return "clear"
	case cmdModified:
		return "modified"
	case cmdEnable:
		return "enable"
	case cmdDelete:
		return "delete"
	case cmdSetName:
		return "set_name"
	case cmdFn:
		return "fn"
	}
	return "unknown"
}

// structural commands only change the table of an entity and can be folded
// into a single move.
func (k cmdKind) structural() bool {
	switch k {
	case cmdAdd, cmdRemove, cmdSet, cmdEnsure, cmdClear:
		return true
	}
	return false
}

// cmd is a queued mutation. value holds a copy of the component owned by
// the command until it is moved into storage or discarded.
type cmd struct {
	kind   cmdKind
	done   bool
	flag   bool
	entity Id
	id     Id
	value  unsafe.Pointer
	ti     *TypeInfo
	name   string
	parent Id
	fn     func()
}

func (s *Stage) push(c cmd) {
	s.queue = append(s.queue, c)
	s.counters.queued++
}

func (s *Stage) discardCmd(c *cmd) {
	if c.value != nil && c.ti != nil && c.ti.dtor != nil {
		c.ti.dtor(c.value)
	}
	c.value = nil
	c.done = true
	s.counters.discarded++
}

func (s *Stage) drop(c *cmd, reason string) {
	s.world.log.Warn("command dropped",
		zap.String("reason", reason),
		zap.Stringer("kind", c.kind),
		zap.Stringer("entity", c.entity),
		zap.Stringer("id", c.id),
		zap.Int("stage", s.id))
	s.discardCmd(c)
	s.counters.dropped++
}

// flush applies q in order. Consecutive structural commands for the same
// entity are folded into one table move.
func (s *Stage) flush(q []cmd) error {
	next := linkEntities(q)

	var errs error
	for i := range q {
		c := &q[i]
		if c.done || !s.admit(c) {
			continue
		}
		if c.kind.structural() && s.batchable(c) {
			s.applyBatch(q, next, i)
			continue
		}
		errs = multierr.Append(errs, s.apply(c))
	}
	return errs
}

// linkEntities returns, for every command, the index of the next command
// for the same entity, or -1.
func linkEntities(q []cmd) []int32 {
	next := make([]int32, len(q))
	last := intmap.New[Id, int32](len(q))
	for i := len(q) - 1; i >= 0; i-- {
		next[i] = -1
		e := q[i].entity
		if e == 0 {
			continue
		}
		if j, ok := last.Get(e); ok {
			next[i] = j
		}
		last.Put(e, int32(i))
	}
	return next
}

// admit checks a command against the current world. It drops commands for
// dead entities or ids. A pair whose target died turns into a delete when
// the relationship has the (OnDeleteTarget, Delete) policy.
func (s *Stage) admit(c *cmd) bool {
	w := s.world
	switch c.kind {
	case cmdFn:
		return true
	case cmdNew:
		// flag marks an id reserved by an async stage that is not alive yet
		if w.IsAlive(c.entity) || (c.flag && !w.entityIndex.exists(c.entity)) {
			return true
		}
		s.drop(c, "entity deleted or id taken before merge")
		return false
	}

	if !w.IsAlive(c.entity) {
		s.drop(c, "entity not alive")
		return false
	}

	switch c.kind {
	case cmdAdd, cmdSet, cmdEnsure, cmdEnable:
	default:
		return true
	}

	id := c.id
	if !id.IsPair() {
		if w.GetAlive(id) == 0 {
			s.drop(c, "id not alive")
			return false
		}
		return true
	}
	if w.GetAlive(id.First()) == 0 {
		s.drop(c, "relationship not alive")
		return false
	}
	if w.GetAlive(id.Second()) != 0 || id.Second() == Wildcard {
		return true
	}
	if w.traitFlags(w.GetAlive(id.First())).onDeleteTarget() == CleanupDelete {
		s.discardCmd(c)
		c.done = false
		c.kind = cmdDelete
		c.id = 0
		return true
	}
	s.drop(c, "target not alive")
	return false
}

// batchable reports whether c can be folded with the structural commands
// around it. Non-fragmenting ids live outside tables and are applied one
// by one.
func (s *Stage) batchable(c *cmd) bool {
	w := s.world
	switch c.kind {
	case cmdClear:
		r := w.entityIndex.get(c.entity)
		return r != nil && r.flags&recordHasDontFragment == 0
	case cmdRemove:
		for _, idr := range w.dontFragment {
			if idr.id.Matches(idKey(c.id)) {
				return false
			}
		}
		return true
	}
	if c.id.IsWildcard() {
		return false
	}
	return w.ensureIdRecord(c.id).flags&IdIsDontFragment == 0
}

// applyBatch folds the structural commands of one entity, starting at
// q[i], into a single move. Folding stops at the first command that cannot
// be folded, and at a remove or clear that follows a set so the set still
// emits OnSet before the value goes away.
func (s *Stage) applyBatch(q []cmd, next []int32, i int) {
	w := s.world
	e := q[i].entity
	r := w.entityIndex.get(e)
	w.ensureTable(e, r)

	dst := r.table
	var values []*cmd
	n := 0
fold:
	for j := i; j >= 0; j = int(next[j]) {
		c := &q[j]
		if c.done {
			continue
		}
		if j != i && (!s.admit(c) || c.kind == cmdDelete) {
			if c.done {
				continue
			}
			break fold
		}
		if !c.kind.structural() || !s.batchable(c) {
			break fold
		}

		switch c.kind {
		case cmdAdd, cmdSet, cmdEnsure:
			w.validateId(c.id)
			dst = w.TableAdd(dst, c.id)
			if c.kind != cmdAdd {
				values = append(values, c)
			}
		case cmdRemove:
			if pendingValue(values, c.id) {
				break fold
			}
			dst = w.TableRemove(dst, c.id)
		case cmdClear:
			if len(values) > 0 {
				break fold
			}
			dst = w.tables.root
		}
		c.done = true
		n++
	}

	w.commit(e, r, dst)
	for _, c := range values {
		if ptr := w.GetRaw(e, c.id); ptr != nil {
			c.ti.move(ptr, c.value)
			if c.kind == cmdSet {
				w.emit(OnSet, e, idKey(c.id), r.table, ptr, c.ti)
			}
		}
		c.value = nil
	}
	s.counters.merged += uint64(n)
	if n > 1 {
		s.counters.batched += uint64(n)
	}
}

func pendingValue(values []*cmd, id Id) bool {
	for _, c := range values {
		if c.id.Matches(idKey(id)) {
			return true
		}
	}
	return false
}

// apply runs a single command against the world.
func (s *Stage) apply(c *cmd) error {
	w := s.world
	c.done = true
	s.counters.merged++

	switch c.kind {
	case cmdNew:
		r := w.entityIndex.get(c.entity)
		if r == nil {
			r = w.entityIndex.makeAlive(c.entity)
		}
		w.ensureTable(c.entity, r)
	case cmdEntity:
		return s.applyEntity(c)
	case cmdAdd:
		w.addImmediate(c.entity, c.id)
	case cmdRemove:
		w.removeImmediate(c.entity, c.id)
	case cmdClear:
		w.clearImmediate(c.entity)
	case cmdSet, cmdEnsure:
		ptr := w.ensureImmediate(c.entity, c.id)
		if ptr != nil {
			c.ti.move(ptr, c.value)
			if c.kind == cmdSet {
				w.emit(OnSet, c.entity, idKey(c.id), w.TableOf(c.entity), ptr, c.ti)
			}
		}
		c.value = nil
	case cmdModified:
		w.modifiedImmediate(c.entity, c.id)
	case cmdEnable:
		w.enableImmediate(c.entity, c.id, c.flag)
	case cmdDelete:
		return w.deleteImmediate(c.entity)
	case cmdSetName:
		return w.setNameImmediate(c.entity, c.name)
	case cmdFn:
		c.fn()
	}
	return nil
}

// applyEntity finishes a queued Entity call. When another entity claimed
// the name first, an entity created by the call is deleted again.
func (s *Stage) applyEntity(c *cmd) error {
	w := s.world
	if c.name == "" {
		return nil
	}
	if owner := w.LookupChild(c.parent, c.name); owner != 0 && owner != c.entity {
		if c.flag {
			if err := w.deleteImmediate(c.entity); err != nil {
				w.log.Warn("rollback of conflicting entity failed", zap.Error(err))
			}
		}
		return eris.Wrapf(ErrNameConflict, "name %q in scope %s already belongs to %s", c.name, c.parent, owner)
	}
	return w.setNameImmediate(c.entity, c.name)
}

// Set assigns v to component T on e, registering T if needed.
func Set[T any](m Mutator, e EntityId, v T) {
	m.SetRaw(e, componentFor[T](m.World()), unsafe.Pointer(&v))
}

// SetPair assigns v to the pair (T, tgt) on e.
func SetPair[T any](m Mutator, e EntityId, tgt Id, v T) {
	m.SetRaw(e, Pair(componentFor[T](m.World()), tgt), unsafe.Pointer(&v))
}

// Ensure returns a pointer to component T on e, adding it when missing.
func Ensure[T any](m Mutator, e EntityId) *T {
	return (*T)(m.EnsureRaw(e, componentFor[T](m.World())))
}

// Get returns component T of e, or nil when e lacks it.
func Get[T any](w *World, e EntityId) *T {
	id, ok := LookupComponent[T](w)
	if !ok {
		return nil
	}
	return (*T)(w.GetRaw(e, id))
}

// GetPair returns the value of the pair (T, tgt) on e, or nil.
func GetPair[T any](w *World, e EntityId, tgt Id) *T {
	id, ok := LookupComponent[T](w)
	if !ok {
		return nil
	}
	return (*T)(w.GetRaw(e, Pair(id, tgt)))
}

// componentFor returns the id of T, registering it when the world can be
// written to.
func componentFor[T any](w *World) Id {
	if id, ok := LookupComponent[T](w); ok {
		return id
	}
	return RegisterComponent[T](w)
}
