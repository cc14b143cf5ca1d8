package ecs

import (
	"unsafe"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Mutator is the mutation surface shared by World and Stage. Code that
// takes a Mutator works both immediately on the world and from a system
// writing to its own stage.
type Mutator interface {
	World() *World
	New(ids ...Id) EntityId
	Entity(desc EntityDesc) (EntityId, error)
	Add(e EntityId, id Id)
	Remove(e EntityId, id Id)
	AddPair(e EntityId, rel, tgt Id)
	RemovePair(e EntityId, rel, tgt Id)
	SetRaw(e EntityId, id Id, ptr unsafe.Pointer)
	EnsureRaw(e EntityId, id Id) unsafe.Pointer
	Modified(e EntityId, id Id)
	Delete(e EntityId) error
	Clear(e EntityId)
	Enable(e EntityId, id Id, enabled bool)
	SetName(e EntityId, name string) error
}

var (
	_ Mutator = (*World)(nil)
	_ Mutator = (*Stage)(nil)
)

type stageCounters struct {
	queued    uint64
	batched   uint64
	merged    uint64
	dropped   uint64
	discarded uint64
}

// Stage records mutations. Stage 0 belongs to the world and runs commands
// immediately unless deferred. Async stages always queue, and their
// commands are applied by Merge or ReadonlyEnd.
type Stage struct {
	world      *World
	id         int
	async      bool
	deferDepth int
	suspended  bool
	merging    bool

	queue []cmd
	spare []cmd

	counters stageCounters
}

func newStage(w *World, id int, async bool) *Stage {
	return &Stage{world: w, id: id, async: async}
}

// Id returns the index of the stage in the world.
func (s *Stage) Id() int { return s.id }

// World returns the world the stage writes to.
func (s *Stage) World() *World { return s.world }

// Pending returns the number of queued commands.
func (s *Stage) Pending() int { return len(s.queue) }

func (s *Stage) checkWrite() {
	w := s.world
	if w.state >= StateFinalized {
		w.fatal(ErrFinalized, "mutation after Fini")
	}
	if !s.async && w.readonly.Load() {
		w.fatal(ErrReadonly, "direct mutation while readonly, use a stage")
	}
}

// beginOp reports whether the operation must be queued. When it returns
// false the caller runs the operation immediately and calls endOp.
func (s *Stage) beginOp() bool {
	s.checkWrite()
	if s.async {
		return true
	}
	if s.suspended {
		return false
	}
	if s.deferDepth > 0 {
		return true
	}
	s.deferDepth++
	return false
}

func (s *Stage) endOp() error {
	if s.async || s.suspended {
		return nil
	}
	return s.endDefer()
}

func (s *Stage) endDefer() error {
	if s.deferDepth <= 0 {
		s.world.fatal(ErrDeferUnderflow, "end of defer without begin", zap.Int("stage", s.id))
	}
	s.deferDepth--
	if s.deferDepth > 0 || s.suspended {
		return nil
	}
	return s.flushAll()
}

// flushAll applies the queue until commands issued by hooks stop producing
// new ones.
func (s *Stage) flushAll() error {
	if s.merging {
		return nil
	}
	w := s.world
	s.merging = true
	defer func() { s.merging = false }()

	var errs error
	for round := 0; len(s.queue) > 0; round++ {
		if w.state == StateFinalizing && round >= w.finiMergeLimit {
			w.fatal(ErrMergeOverflow, "commands queued during fini did not converge",
				zap.Int("rounds", round), zap.Int("pending", len(s.queue)))
		}

		q := s.queue
		s.queue = s.spare[:0]
		s.spare = nil

		if !s.async {
			s.deferDepth++
		}
		errs = multierr.Append(errs, s.flush(q))
		if !s.async {
			s.deferDepth--
		}

		clear(q)
		s.spare = q[:0]
	}
	return errs
}

// Merge applies the commands queued on an async stage. The world must not
// be readonly.
func (s *Stage) Merge() error {
	w := s.world
	if w.readonly.Load() {
		w.fatal(ErrReadonly, "stage merge while readonly", zap.Int("stage", s.id))
	}
	if !s.async {
		if s.deferDepth > 0 {
			return nil
		}
		return s.flushAll()
	}

	s0 := w.stages[0]
	s0.deferDepth++
	errs := s.flushAll()
	return multierr.Append(errs, s0.endDefer())
}

// Discard drops every queued command, destructing captured values.
func (s *Stage) Discard() {
	for i := range s.queue {
		s.discardCmd(&s.queue[i])
	}
	clear(s.queue)
	s.queue = s.queue[:0]
}

// New creates an entity with ids added. On an async stage the id is
// reserved immediately and the entity becomes alive when the stage merges.
func (s *Stage) New(ids ...Id) EntityId {
	w := s.world
	if s.beginOp() {
		var e Id
		if s.async {
			index, ok := w.entityIndex.reserve()
			if !ok {
				w.fatal(ErrIdSpaceExhausted, "no entity ids left")
			}
			e = Id(index)
		} else {
			var ok bool
			if e, ok = w.entityIndex.newId(); !ok {
				w.fatal(ErrIdSpaceExhausted, "no entity ids left")
			}
		}
		s.push(cmd{kind: cmdNew, entity: e, flag: s.async})
		for _, id := range ids {
			s.push(cmd{kind: cmdAdd, entity: e, id: id})
		}
		return e
	}

	e := w.newImmediate()
	for _, id := range ids {
		w.addImmediate(e, id)
	}
	s.endOpFatal()
	return e
}

// NewMany creates n entities with the same ids.
func (s *Stage) NewMany(n int, ids ...Id) []EntityId {
	out := make([]EntityId, n)
	if len(ids) == 0 || s.async || s.deferDepth > 0 {
		for i := range out {
			out[i] = s.New(ids...)
		}
		return out
	}

	w := s.world
	s.beginOp()
	t := w.tables.root
	for _, id := range ids {
		w.validateId(id)
		w.ensureIdRecord(id)
		t = w.TableAdd(t, id)
	}
	for i := range out {
		e := w.newImmediate()
		w.commit(e, w.entityIndex.get(e), t)
		out[i] = e
	}
	s.endOpFatal()
	return out
}

// Entity finds or creates an entity from desc. See World.Entity.
func (s *Stage) Entity(desc EntityDesc) (EntityId, error) {
	w := s.world
	if s.beginOp() {
		e := desc.Id
		created := false
		if e == 0 && desc.Name != "" {
			e = w.LookupChild(desc.Parent, desc.Name)
		}
		if e == 0 {
			e = s.New()
			created = true
		}
		if desc.Parent != 0 {
			s.push(cmd{kind: cmdAdd, entity: e, id: Pair(ChildOf, desc.Parent)})
		}
		s.push(cmd{kind: cmdEntity, entity: e, parent: desc.Parent, name: desc.Name, flag: created})
		for _, id := range desc.Add {
			s.push(cmd{kind: cmdAdd, entity: e, id: id})
		}
		return e, nil
	}

	e, err := w.entityImmediate(desc)
	return e, multierr.Append(err, s.endOp())
}

// Add adds id to e.
func (s *Stage) Add(e EntityId, id Id) {
	if s.beginOp() {
		s.push(cmd{kind: cmdAdd, entity: e, id: id})
		return
	}
	s.world.addImmediate(e, id)
	s.endOpFatal()
}

// Remove removes id from e. Wildcards remove every matching id.
func (s *Stage) Remove(e EntityId, id Id) {
	if s.beginOp() {
		s.push(cmd{kind: cmdRemove, entity: e, id: id})
		return
	}
	s.world.removeImmediate(e, id)
	s.endOpFatal()
}

// AddPair adds the pair (rel, tgt) to e.
func (s *Stage) AddPair(e EntityId, rel, tgt Id) {
	s.Add(e, Pair(rel, tgt))
}

// RemovePair removes the pair (rel, tgt) from e.
func (s *Stage) RemovePair(e EntityId, rel, tgt Id) {
	s.Remove(e, Pair(rel, tgt))
}

// SetRaw copies the value at ptr into id on e. A queued set holds its own
// copy, so ptr may be reused after the call returns.
func (s *Stage) SetRaw(e EntityId, id Id, ptr unsafe.Pointer) {
	w := s.world
	if s.beginOp() {
		ti := w.typeInfoFor(id)
		if ti.isTag() || ptr == nil {
			s.push(cmd{kind: cmdAdd, entity: e, id: id})
			return
		}
		s.push(cmd{kind: cmdSet, entity: e, id: id, ti: ti, value: ti.clone(ptr)})
		return
	}
	w.setImmediate(e, id, ptr, false)
	s.endOpFatal()
}

// EnsureRaw returns a pointer to the value of id on e, adding it when
// missing. When queued the pointer refers to a staged value that is moved
// into storage on merge; OnSet is not emitted for it, call Modified for that.
func (s *Stage) EnsureRaw(e EntityId, id Id) unsafe.Pointer {
	w := s.world
	if s.beginOp() {
		ti := w.typeInfoFor(id)
		if ti.isTag() {
			s.push(cmd{kind: cmdAdd, entity: e, id: id})
			return nil
		}
		v := ti.newValue()
		s.push(cmd{kind: cmdEnsure, entity: e, id: id, ti: ti, value: v})
		return v
	}
	ptr := w.ensureImmediate(e, id)
	s.endOpFatal()
	return ptr
}

// Modified emits OnSet for id on e.
func (s *Stage) Modified(e EntityId, id Id) {
	if s.beginOp() {
		s.push(cmd{kind: cmdModified, entity: e, id: id})
		return
	}
	s.world.modifiedImmediate(e, id)
	s.endOpFatal()
}

// Delete deletes e. A queued delete reports cleanup errors from Merge.
func (s *Stage) Delete(e EntityId) error {
	if s.beginOp() {
		s.push(cmd{kind: cmdDelete, entity: e})
		return nil
	}
	err := s.world.deleteImmediate(e)
	return multierr.Append(err, s.endOp())
}

// Clear removes every id from e and keeps it alive.
func (s *Stage) Clear(e EntityId) {
	if s.beginOp() {
		s.push(cmd{kind: cmdClear, entity: e})
		return
	}
	s.world.clearImmediate(e)
	s.endOpFatal()
}

// Enable toggles id on e. The id needs the CanToggle trait.
func (s *Stage) Enable(e EntityId, id Id, enabled bool) {
	if s.beginOp() {
		s.push(cmd{kind: cmdEnable, entity: e, id: id, flag: enabled})
		return
	}
	s.world.enableImmediate(e, id, enabled)
	s.endOpFatal()
}

// SetName names e. A queued rename reports conflicts from Merge.
func (s *Stage) SetName(e EntityId, name string) error {
	if s.beginOp() {
		s.push(cmd{kind: cmdSetName, entity: e, name: name})
		return nil
	}
	err := s.world.setNameImmediate(e, name)
	return multierr.Append(err, s.endOp())
}

// Defer queues fn. It runs in order with the other commands of the stage,
// or right away when the stage is not deferred.
func (s *Stage) Defer(fn func()) {
	if s.beginOp() {
		s.push(cmd{kind: cmdFn, fn: fn})
		return
	}
	fn()
	s.endOpFatal()
}

// endOpFatal ends an operation whose signature has no error. Errors from
// the flush it triggers are logged.
func (s *Stage) endOpFatal() {
	if err := s.endOp(); err != nil {
		s.world.log.Warn("deferred commands failed", zap.Int("stage", s.id), zap.Error(err))
	}
}

// World returns w, so World satisfies Mutator.
func (w *World) World() *World { return w }

// DeferBegin starts deferring mutations on the world. Calls nest.
func (w *World) DeferBegin() {
	w.assertMutable()
	w.stages[0].deferDepth++
}

// DeferEnd ends a DeferBegin. The outermost call applies the queued
// commands and returns the recoverable errors they produced. The outermost
// call may not happen while a DeferSuspend is active.
func (w *World) DeferEnd() error {
	s := w.stages[0]
	w.check(!s.suspended || s.deferDepth > 1, ErrInvalidOperation, "DeferEnd while suspended, call DeferResume first")
	return s.endDefer()
}

// DeferSuspend makes mutations run immediately until DeferResume, even
// when deferred.
func (w *World) DeferSuspend() {
	s := w.stages[0]
	w.check(s.deferDepth > 0, ErrInvalidOperation, "suspend while not deferred")
	s.suspended = true
}

// DeferResume ends a DeferSuspend.
func (w *World) DeferResume() {
	s := w.stages[0]
	w.check(s.suspended, ErrInvalidOperation, "resume while not suspended")
	s.suspended = false
}

// IsDeferred reports whether world mutations are being queued.
func (w *World) IsDeferred() bool {
	s := w.stages[0]
	return s.deferDepth > 0 && !s.suspended
}

// IsDeferSuspended reports whether a DeferSuspend is active.
func (w *World) IsDeferSuspended() bool {
	return w.stages[0].suspended
}

// NewStage creates an async stage.
func (w *World) NewStage() *Stage {
	w.assertMutable()
	s := newStage(w, len(w.stages), true)
	w.stages = append(w.stages, s)
	return s
}

// Stage returns the stage at index i. Stage 0 is the world's own stage.
func (w *World) Stage(i int) *Stage {
	w.check(i >= 0 && i < len(w.stages), ErrOutOfRange, "stage index", zap.Int("stage", i))
	return w.stages[i]
}

// StageCount returns the number of stages, stage 0 included.
func (w *World) StageCount() int { return len(w.stages) }

// ReadonlyBegin makes the world readonly. Until ReadonlyEnd the world may
// be read from any goroutine and written only through async stages.
func (w *World) ReadonlyBegin() {
	w.assertMutable()
	w.check(w.stages[0].deferDepth == 0, ErrInvalidOperation, "readonly while deferred")
	w.readonly.Store(true)
}

// ReadonlyEnd leaves readonly mode and merges every async stage in stage
// order.
func (w *World) ReadonlyEnd() error {
	w.check(w.readonly.Load(), ErrInvalidOperation, "ReadonlyEnd without ReadonlyBegin")
	w.readonly.Store(false)

	s0 := w.stages[0]
	s0.deferDepth++
	var errs error
	for _, s := range w.stages[1:] {
		errs = multierr.Append(errs, s.flushAll())
	}
	return multierr.Append(errs, s0.endDefer())
}

// IsReadonly reports whether the world is in readonly mode.
func (w *World) IsReadonly() bool { return w.readonly.Load() }

// New creates an entity with ids added.
func (w *World) New(ids ...Id) EntityId { return w.stages[0].New(ids...) }

// NewMany creates n entities with the same ids. Without deferral the
// entities are appended straight to their final table.
func (w *World) NewMany(n int, ids ...Id) []EntityId { return w.stages[0].NewMany(n, ids...) }

// Add adds id to e.
func (w *World) Add(e EntityId, id Id) { w.stages[0].Add(e, id) }

// Remove removes id from e. Wildcards remove every matching id.
func (w *World) Remove(e EntityId, id Id) { w.stages[0].Remove(e, id) }

// AddPair adds (rel, tgt) to e.
func (w *World) AddPair(e EntityId, rel, tgt Id) { w.stages[0].Add(e, Pair(rel, tgt)) }

// RemovePair removes (rel, tgt) from e.
func (w *World) RemovePair(e EntityId, rel, tgt Id) { w.stages[0].Remove(e, Pair(rel, tgt)) }

// SetRaw copies the value at ptr into id on e.
func (w *World) SetRaw(e EntityId, id Id, ptr unsafe.Pointer) { w.stages[0].SetRaw(e, id, ptr) }

// EnsureRaw returns the value of id on e, adding id when missing.
func (w *World) EnsureRaw(e EntityId, id Id) unsafe.Pointer { return w.stages[0].EnsureRaw(e, id) }

// Modified emits OnSet for id on e.
func (w *World) Modified(e EntityId, id Id) { w.stages[0].Modified(e, id) }

// Clear removes every id from e and keeps it alive.
func (w *World) Clear(e EntityId) { w.stages[0].Clear(e) }

// Enable toggles id on e.
func (w *World) Enable(e EntityId, id Id, enabled bool) { w.stages[0].Enable(e, id, enabled) }

// Defer runs fn when the world is no longer deferred.
func (w *World) Defer(fn func()) { w.stages[0].Defer(fn) }

// typeInfoFor returns the storage type of id without creating records.
func (w *World) typeInfoFor(id Id) *TypeInfo {
	if idr := w.idRecord(id); idr != nil {
		return idr.typeInfo
	}
	if !id.IsPair() {
		return w.registry.ById(id.StripGeneration())
	}
	if ti := w.registry.ById(id.First()); !ti.isTag() {
		return ti
	}
	if ti := w.registry.ById(id.Second()); !ti.isTag() {
		return ti
	}
	return nil
}
