package ecs

import (
	"unsafe"

	"github.com/kamstrup/intmap"
	"go.uber.org/zap"
)

// IsAlive reports whether e, with its generation, is alive.
func (w *World) IsAlive(e EntityId) bool {
	return w.entityIndex.isAlive(e)
}

// Exists reports whether the index of e was ever in use, regardless of
// generation or liveness.
func (w *World) Exists(e EntityId) bool {
	return w.entityIndex.exists(e)
}

// GetAlive returns the alive id for the index of e, or 0.
func (w *World) GetAlive(e EntityId) EntityId {
	return w.entityIndex.getAlive(e.Index())
}

// SetGeneration overrides the generation stored for the index of e. An
// alive entity keeps its row and values under the new id. It may not be
// called while the world is deferred.
func (w *World) SetGeneration(e EntityId) {
	w.assertMutable()
	w.check(w.stages[0].deferDepth == 0, ErrInvalidOperation, "SetGeneration while deferred",
		zap.Stringer("entity", e))
	prev := w.entityIndex.getAlive(e.Index())
	w.entityIndex.setGeneration(e)
	if prev != 0 {
		w.rekeyEntity(w.entityIndex.getAny(e), prev, e.StripFlags())
	}
}

// MakeAlive makes e alive with its exact generation, for ids created by
// another world or restored from storage. When another generation of the
// same index is alive, e takes over its row and values and the previous id
// is no longer alive. Nothing is deleted and no events are emitted.
func (w *World) MakeAlive(e EntityId) {
	w.assertMutable()
	w.makeAlive(e)
}

func (w *World) makeAlive(e Id) *record {
	prev := w.entityIndex.getAlive(e.Index())
	r := w.entityIndex.makeAlive(e)
	if prev != 0 {
		w.rekeyEntity(r, prev, e.StripFlags())
	}
	w.ensureTable(e, r)
	return r
}

// rekeyEntity moves everything stored under the full id prev to e, which has
// the same index: the table's entity column, sparse values and names.
func (w *World) rekeyEntity(r *record, prev, e Id) {
	if prev == e || r == nil || r.table == nil {
		return
	}
	t := r.table
	t.entities[r.row] = e
	if t.flags&TableHasSparse != 0 {
		for _, id := range t.typ {
			if idr := w.idRecord(id); idr != nil && idr.sparse != nil {
				idr.sparse.rekey(prev, e)
			}
		}
	}
	if r.flags&recordHasDontFragment != 0 {
		for _, idr := range w.dontFragment {
			idr.sparse.rekey(prev, e)
		}
	}
	w.names.rekey(prev, e)
}

// Count returns the number of alive entities, built-ins included.
func (w *World) Count() int {
	return w.entityIndex.count()
}

// TableOf returns the table of e, or nil.
func (w *World) TableOf(e EntityId) *Table {
	r := w.entityIndex.get(e)
	if r == nil {
		return nil
	}
	return r.table
}

// Type returns the ids of e that live in its table.
func (w *World) Type(e EntityId) []Id {
	if t := w.TableOf(e); t != nil {
		return t.typ
	}
	return nil
}

// Has reports whether e has id. Wildcards are allowed.
func (w *World) Has(e EntityId, id Id) bool {
	r := w.entityIndex.get(e)
	if r == nil || r.table == nil {
		return false
	}
	if r.table.Has(id) {
		return true
	}
	if r.flags&recordHasDontFragment != 0 {
		for _, idr := range w.dontFragment {
			if idr.id.Matches(idKey(id)) && idr.sparse.has(e) {
				return true
			}
		}
	}
	return false
}

// IdName returns the name of id, or its numeric form when it has none.
func (w *World) IdName(id Id) string { return w.idName(id) }

// GetAny returns the value of id on e as a pointer to its component type.
// It returns nil for tags and for ids e does not have.
func (w *World) GetAny(e EntityId, id Id) any {
	idr := w.idRecord(id)
	if idr == nil || idr.typeInfo.isTag() {
		return nil
	}
	p := w.GetRaw(e, id)
	if p == nil {
		return nil
	}
	return idr.typeInfo.boxed(p)
}

// HasPair reports whether e has the pair (rel, tgt).
func (w *World) HasPair(e EntityId, rel, tgt Id) bool {
	return w.Has(e, Pair(rel, tgt))
}

// GetRaw returns a pointer to the value of id on e, or nil.
func (w *World) GetRaw(e EntityId, id Id) unsafe.Pointer {
	r := w.entityIndex.get(e)
	if r == nil || r.table == nil {
		return nil
	}
	idr := w.idRecord(id)
	if idr == nil {
		return nil
	}
	if idr.sparse != nil {
		return idr.sparse.get(e)
	}
	tr := idr.record(r.table)
	if tr == nil || tr.col < 0 {
		return nil
	}
	return r.table.columns[tr.col].data.ptr(int(r.row))
}

// Target returns the index-th target of relationship rel on e, or 0.
func (w *World) Target(e EntityId, rel Id, index int) EntityId {
	r := w.entityIndex.get(e)
	if r == nil || r.table == nil || index < 0 {
		return 0
	}
	t := r.table
	if idr := w.idRecord(Pair(rel, Wildcard)); idr != nil {
		if tr := idr.record(t); tr != nil {
			if index < tr.count {
				pattern := Pair(rel, Wildcard)
				n := 0
				for _, id := range t.typ[tr.index:] {
					if !id.Matches(pattern) {
						continue
					}
					if n == index {
						return w.entityIndex.getAlive(id.Second().Index())
					}
					n++
				}
			}
			index -= tr.count
		}
	}
	if r.flags&recordHasDontFragment != 0 {
		for _, idr := range w.dontFragment {
			if !idr.id.IsPair() || idr.id.First() != Id(rel.Index()) || !idr.sparse.has(e) {
				continue
			}
			if index == 0 {
				return w.entityIndex.getAlive(idr.id.Second().Index())
			}
			index--
		}
	}
	return 0
}

// Parent returns the ChildOf target of e, or 0.
func (w *World) Parent(e EntityId) EntityId {
	return w.Target(e, ChildOf, 0)
}

// IsEnabled reports whether id is enabled on e. Ids that cannot be toggled
// are enabled when present.
func (w *World) IsEnabled(e EntityId, id Id) bool {
	r := w.entityIndex.get(e)
	if r == nil || r.table == nil {
		return false
	}
	if tc := r.table.toggleFor(idKey(id)); tc != nil {
		return tc.get(int(r.row))
	}
	return w.Has(e, id)
}

func (w *World) aliveRecord(e Id) *record {
	r := w.entityIndex.get(e)
	if r == nil {
		w.fatal(ErrNotAlive, "operation on entity that is not alive", zap.Stringer("entity", e))
	}
	w.ensureTable(e, r)
	return r
}

// ensureTable places an alive entity without a table in the root table.
func (w *World) ensureTable(e Id, r *record) {
	if r.table == nil {
		r.table = w.tables.root
		r.row = int32(w.tables.root.appendRow(e))
	}
}

// validateId checks that id can be added to an entity.
func (w *World) validateId(id Id) {
	switch {
	case id == 0:
		w.fatal(ErrInvalidId, "zero id")
	case id.IsWildcard():
		w.fatal(ErrInvalidId, "cannot add a wildcard", zap.Stringer("id", id))
	case id.IsPair():
		if w.entityIndex.getAlive(id.First().Index()) == 0 || w.entityIndex.getAlive(id.Second().Index()) == 0 {
			w.fatal(ErrInvalidId, "pair element is not alive", zap.Stringer("id", id))
		}
	default:
		if w.entityIndex.getAlive(id.Index()) == 0 {
			w.fatal(ErrInvalidId, "id is not alive", zap.Stringer("id", id))
		}
	}
}

func (w *World) newImmediate() Id {
	id, ok := w.entityIndex.newId()
	if !ok {
		w.fatal(ErrIdSpaceExhausted, "no entity ids left")
	}
	w.ensureTable(id, w.entityIndex.get(id))
	return id
}

func (w *World) addImmediate(e, id Id) {
	r := w.aliveRecord(e)
	w.validateId(id)
	idr := w.ensureIdRecord(id)
	if idr.flags&IdIsDontFragment != 0 {
		w.ensureDontFragment(e, r, idr)
		return
	}
	w.commit(e, r, w.TableAdd(r.table, id))
}

func (w *World) removeImmediate(e, id Id) {
	r := w.aliveRecord(e)
	if r.flags&recordHasDontFragment != 0 {
		for _, idr := range append([]*IdRecord(nil), w.dontFragment...) {
			if idr.id.Matches(idKey(id)) {
				w.removeDontFragment(e, r, idr)
			}
		}
	}
	w.commit(e, r, w.TableRemove(r.table, id))
}

func (w *World) clearImmediate(e Id) {
	r := w.aliveRecord(e)
	if r.flags&recordHasDontFragment != 0 {
		for _, idr := range append([]*IdRecord(nil), w.dontFragment...) {
			w.removeDontFragment(e, r, idr)
		}
	}
	w.commit(e, r, w.tables.root)
}

// ensureImmediate returns the value of id on e, adding id first if needed.
// Tags return nil.
func (w *World) ensureImmediate(e, id Id) unsafe.Pointer {
	r := w.aliveRecord(e)
	w.validateId(id)
	idr := w.ensureIdRecord(id)
	if idr.flags&IdIsDontFragment != 0 {
		return w.ensureDontFragment(e, r, idr)
	}
	if !r.table.has(id) {
		w.commit(e, r, w.TableAdd(r.table, id))
	}
	return w.GetRaw(e, id)
}

// setImmediate copies, or moves when move is set, the value at src into id
// on e and emits OnSet.
func (w *World) setImmediate(e, id Id, src unsafe.Pointer, move bool) {
	ptr := w.ensureImmediate(e, id)
	idr := w.idRecord(id)
	ti := idr.typeInfo
	if ptr == nil || ti.isTag() {
		return
	}
	if move {
		ti.move(ptr, src)
	} else {
		ti.assign(ptr, src)
	}
	w.emit(OnSet, e, idKey(id), w.TableOf(e), ptr, ti)
}

func (w *World) modifiedImmediate(e, id Id) {
	ptr := w.GetRaw(e, id)
	if ptr == nil {
		return
	}
	w.emit(OnSet, e, idKey(id), w.TableOf(e), ptr, w.idRecord(id).typeInfo)
}

func (w *World) enableImmediate(e, id Id, enabled bool) {
	idr := w.ensureIdRecord(id)
	if idr.flags&IdCanToggle == 0 {
		w.fatal(ErrInvalidOperation, "id cannot be toggled, add the CanToggle trait", zap.Stringer("id", id))
	}
	r := w.aliveRecord(e)
	if !r.table.has(id) {
		w.commit(e, r, w.TableAdd(r.table, id))
	}
	r.table.toggleFor(idKey(id)).set(int(r.row), enabled)
}

// commit moves e from its current table to dst, emitting OnRemove for the
// ids it loses before the move and OnAdd for the ids it gains after.
func (w *World) commit(e Id, r *record, dst *Table) {
	src := r.table
	if src == dst {
		return
	}
	src.checkUnlocked()
	dst.checkUnlocked()

	added, removed := typeDiff(src.typ, dst.typ)
	traits := false
	for _, list := range [2][]Id{added, removed} {
		for _, id := range list {
			if isTraitId(id) {
				w.checkTraitChange(e, id)
				traits = true
			}
		}
	}

	row := int(r.row)
	if len(removed) > 0 {
		w.emitIds(OnRemove, e, src, row, removed)
		if src.flags&TableHasSparse != 0 {
			for _, id := range removed {
				if idr := w.idRecord(id); idr.sparse != nil {
					idr.sparse.remove(e, true)
				}
			}
		}
	}

	oldParent := w.tableParent(src)
	r.table = dst
	r.row = int32(moveRow(src, row, dst, e))
	w.stats.moves++

	if dst.flags&TableHasSparse != 0 {
		for _, id := range added {
			if idr := w.idRecord(id); idr.sparse != nil {
				idr.sparse.ensure(e, true)
			}
		}
	}
	if dst.flags&TableHasName != 0 && src.flags&TableHasName != 0 {
		if newParent := w.tableParent(dst); newParent != oldParent {
			w.names.reparent(w, e, oldParent, newParent)
		}
	}
	if traits {
		w.refreshTraits(e)
	}
	if len(added) > 0 {
		w.emitIds(OnAdd, e, dst, int(r.row), added)
	}
}

// tableParent returns the ChildOf target stored in t's type, or 0.
func (w *World) tableParent(t *Table) Id {
	if t.flags&TableHasChildOf == 0 {
		return 0
	}
	for _, id := range t.typ {
		if id.IsPair() && id.First() == ChildOf {
			return w.entityIndex.getAlive(id.Second().Index())
		}
	}
	return 0
}

func (w *World) emitIds(kind EventKind, e Id, t *Table, row int, ids []Id) {
	if t.flags&(TableHasHooks|TableHasSparse) == 0 && !w.hasObservers(kind) {
		return
	}
	for _, id := range ids {
		idr := w.idRecord(id)
		if idr == nil {
			continue
		}
		w.emit(kind, e, id, t, w.valuePtr(e, t, row, id, idr), idr.typeInfo)
	}
}

// emitRemoveAll emits OnRemove for every id of e, table and non-fragmenting.
func (w *World) emitRemoveAll(e Id, t *Table, row int) {
	w.emitIds(OnRemove, e, t, row, t.typ)
	if r := w.entityIndex.get(e); r != nil && r.flags&recordHasDontFragment != 0 {
		for _, idr := range w.dontFragment {
			if idr.sparse.has(e) {
				w.emit(OnRemove, e, idr.id, nil, idr.sparse.get(e), idr.typeInfo)
			}
		}
	}
}

func (w *World) valuePtr(e Id, t *Table, row int, id Id, idr *IdRecord) unsafe.Pointer {
	if idr.sparse != nil {
		return idr.sparse.get(e)
	}
	if col := t.ColumnIndex(id); col >= 0 {
		return t.columns[col].data.ptr(row)
	}
	return nil
}

// removeSparseValues drops the sparse and non-fragmenting values of e
// without emitting events.
func (w *World) removeSparseValues(e Id, t *Table) {
	if t.flags&TableHasSparse != 0 {
		for _, id := range t.typ {
			if idr := w.idRecord(id); idr != nil && idr.sparse != nil {
				idr.sparse.remove(e, true)
			}
		}
	}
	r := w.entityIndex.get(e)
	if r == nil || r.flags&recordHasDontFragment == 0 {
		return
	}
	for _, idr := range w.dontFragment {
		if idr.sparse.remove(e, true) {
			w.clearExclusiveTarget(e, idr)
		}
	}
	r.flags &^= recordHasDontFragment
}

// deleteEntityNow removes e from its table and kills the id. Cleanup of
// users of e is the caller's job.
func (w *World) deleteEntityNow(e Id) {
	r := w.entityIndex.get(e)
	if r == nil {
		return
	}
	if t := r.table; t != nil {
		t.checkUnlocked()
		row := int(r.row)
		w.emitRemoveAll(e, t, row)
		w.removeSparseValues(e, t)
		if moved := t.deleteRow(row, true); moved != 0 {
			w.entityIndex.getAny(moved).row = int32(row)
		}
	}
	w.entityIndex.remove(e)
	w.stats.deletes++
}

func (w *World) ensureDontFragment(e Id, r *record, idr *IdRecord) unsafe.Pointer {
	if idr.id.IsPair() && idr.flags&IdIsExclusive != 0 {
		wc := w.ensureIdRecord(Pair(idr.id.First(), Wildcard))
		if wc.targets == nil {
			wc.targets = intmap.New[uint32, Id](8)
		}
		if prev, ok := wc.targets.Get(e.Index()); ok && prev != idr.id {
			w.removeDontFragment(e, r, w.idRecord(prev))
		}
		wc.targets.Put(e.Index(), idr.id)
	}

	ptr, added := idr.sparse.ensure(e, true)
	if added {
		r.flags |= recordHasDontFragment
		w.emit(OnAdd, e, idr.id, r.table, ptr, idr.typeInfo)
	}
	return ptr
}

func (w *World) removeDontFragment(e Id, r *record, idr *IdRecord) {
	if idr == nil || !idr.sparse.has(e) {
		return
	}
	w.emit(OnRemove, e, idr.id, r.table, idr.sparse.get(e), idr.typeInfo)
	idr.sparse.remove(e, true)
	w.clearExclusiveTarget(e, idr)
	w.releaseIdRecord(idr)
}

func (w *World) clearExclusiveTarget(e Id, idr *IdRecord) {
	if !idr.id.IsPair() || idr.flags&IdIsExclusive == 0 {
		return
	}
	if wc := w.idRecord(Pair(idr.id.First(), Wildcard)); wc != nil && wc.targets != nil {
		if cur, ok := wc.targets.Get(e.Index()); ok && cur == idr.id {
			wc.targets.Del(e.Index())
		}
	}
}

// idName returns the name of id for diagnostics.
func (w *World) idName(id Id) string {
	if id.IsPair() {
		return "(" + w.idName(id.First()) + "," + w.idName(id.Second()) + ")"
	}
	if e := w.entityIndex.getAlive(id.Index()); e != 0 {
		if name := w.GetName(e); name != "" {
			return name
		}
	}
	return id.String()
}
