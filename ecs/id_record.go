package ecs

import (
	"iter"
	"slices"

	"github.com/kamstrup/intmap"
	"github.com/plus3/ecscore/ecs/alloc"
	"go.uber.org/zap"
)

// IdFlags describe how an id is stored and cleaned up.
type IdFlags uint32

const (
	IdIsTag IdFlags = 1 << iota
	IdIsSparse
	IdIsDontFragment
	IdIsExclusive
	IdIsTraversable
	IdCanToggle
	IdIsWildcard
	IdMarkedForDelete

	IdOnDeleteRemove
	IdOnDeleteDelete
	IdOnDeletePanic
	IdOnDeleteTargetRemove
	IdOnDeleteTargetDelete
	IdOnDeleteTargetPanic
)

const (
	idOnDeleteMask       = IdOnDeleteRemove | IdOnDeleteDelete | IdOnDeletePanic
	idOnDeleteTargetMask = IdOnDeleteTargetRemove | IdOnDeleteTargetDelete | IdOnDeleteTargetPanic
	idTraitMask          = IdIsSparse | IdIsDontFragment | IdIsExclusive | IdIsTraversable | IdCanToggle |
		idOnDeleteMask | idOnDeleteTargetMask
)

// CleanupPolicy is what happens to users of an id when the id is deleted.
type CleanupPolicy uint8

const (
	CleanupRemove CleanupPolicy = iota
	CleanupDelete
	CleanupPanic
)

func (p CleanupPolicy) String() string {
	switch p {
	case CleanupDelete:
		return "Delete"
	case CleanupPanic:
		return "Panic"
	default:
		return "Remove"
	}
}

func (f IdFlags) onDelete() CleanupPolicy {
	switch {
	case f&IdOnDeletePanic != 0:
		return CleanupPanic
	case f&IdOnDeleteDelete != 0:
		return CleanupDelete
	default:
		return CleanupRemove
	}
}

func (f IdFlags) onDeleteTarget() CleanupPolicy {
	switch {
	case f&IdOnDeleteTargetPanic != 0:
		return CleanupPanic
	case f&IdOnDeleteTargetDelete != 0:
		return CleanupDelete
	default:
		return CleanupRemove
	}
}

// tableRecord locates an id inside one table's type.
type tableRecord struct {
	idr   *IdRecord
	table *Table
	index int // first position of a matching id in the table type
	count int // number of matching ids in the type
	col   int // column index, -1 when the id has no column in this table
	pos   int // position in idr.tables
}

// IdRecord tracks every table that has an id, plus the sparse store when the
// id keeps its data outside of tables.
type IdRecord struct {
	id       Id
	flags    IdFlags
	typeInfo *TypeInfo

	tables     []*tableRecord
	tableIndex *intmap.Map[uint64, *tableRecord]

	sparse *sparseStorage
	// current target per entity for an exclusive non-fragmenting relationship
	targets *intmap.Map[uint32, Id]

	handle alloc.Handle
}

// Id returns the id the record tracks.
func (idr *IdRecord) Id() Id { return idr.id }

// Flags returns the storage and cleanup flags.
func (idr *IdRecord) Flags() IdFlags { return idr.flags }

// TypeInfo returns the type info of the id, or nil for tags.
func (idr *IdRecord) TypeInfo() *TypeInfo { return idr.typeInfo }

// TableCount returns the number of tables with the id.
func (idr *IdRecord) TableCount() int { return len(idr.tables) }

// Tables iterates the tables with the id, in the order they were registered.
func (idr *IdRecord) Tables() iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		for _, tr := range idr.tables {
			if !yield(tr.table) {
				return
			}
		}
	}
}

// First returns the first table registered for the id, or nil.
func (idr *IdRecord) First() *Table {
	if len(idr.tables) == 0 {
		return nil
	}
	return idr.tables[0].table
}

// Count returns the number of entities with the id.
func (idr *IdRecord) Count() int {
	if idr.flags&IdIsDontFragment != 0 {
		if idr.sparse == nil {
			return 0
		}
		return idr.sparse.count()
	}
	n := 0
	for _, tr := range idr.tables {
		n += tr.table.Count()
	}
	return n
}

// Entities returns the entities of a non-fragmenting id. For other ids it
// returns nil; iterate Tables instead.
func (idr *IdRecord) Entities() []Id {
	if idr.flags&IdIsDontFragment == 0 || idr.sparse == nil {
		return nil
	}
	return idr.sparse.entities()
}

func (idr *IdRecord) inUse() bool {
	for _, tr := range idr.tables {
		if tr.table.Count() > 0 {
			return true
		}
	}
	return idr.sparse != nil && idr.sparse.count() > 0
}

func (idr *IdRecord) isEmpty() bool {
	return len(idr.tables) == 0 && (idr.sparse == nil || idr.sparse.count() == 0)
}

func (idr *IdRecord) record(t *Table) *tableRecord {
	tr, _ := idr.tableIndex.Get(t.id)
	return tr
}

func (idr *IdRecord) registerTable(t *Table, index, col int) *tableRecord {
	tr := &tableRecord{idr: idr, table: t, index: index, count: 1, col: col, pos: len(idr.tables)}
	idr.tables = append(idr.tables, tr)
	idr.tableIndex.Put(t.id, tr)
	return tr
}

func (idr *IdRecord) unregisterTable(t *Table) {
	tr := idr.record(t)
	if tr == nil {
		return
	}
	idr.tableIndex.Del(t.id)
	last := len(idr.tables) - 1
	if tr.pos != last {
		moved := idr.tables[last]
		moved.pos = tr.pos
		idr.tables[tr.pos] = moved
	}
	idr.tables[last] = nil
	idr.tables = idr.tables[:last]
}

// IdRecord returns the record for id, or nil if the id was never used.
func (w *World) IdRecord(id Id) *IdRecord {
	return w.idRecord(id)
}

func idKey(id Id) Id {
	if id.IsPair() {
		return id
	}
	return id.StripGeneration()
}

func (w *World) idRecord(id Id) *IdRecord {
	idr, _ := w.idRecords.Get(idKey(id))
	return idr
}

func (w *World) ensureIdRecord(id Id) *IdRecord {
	key := idKey(id)
	if idr, ok := w.idRecords.Get(key); ok {
		return idr
	}

	h, idr := w.idRecordPool.Alloc()
	idr.id = key
	idr.handle = h
	idr.tableIndex = intmap.New[uint64, *tableRecord](8)
	w.deriveIdFlags(idr)
	w.idRecords.Put(key, idr)

	if idr.flags&IdIsSparse != 0 && !key.IsWildcard() {
		idr.sparse = newSparseStorage(idr.typeInfo)
	}
	if idr.flags&IdIsDontFragment != 0 && !key.IsWildcard() {
		w.dontFragment = append(w.dontFragment, idr)
	}
	if key.IsPair() && !key.IsWildcard() {
		// keep the relationship and target ids marked as in use
		if r := w.entityIndex.getAny(key.First()); r != nil {
			r.flags |= recordIsId
		}
		if r := w.entityIndex.getAny(key.Second()); r != nil {
			r.flags |= recordIsTarget
			if idr.flags&IdIsTraversable != 0 {
				r.flags |= recordIsTraversable
			}
		}
	} else if r := w.entityIndex.getAny(key); r != nil && !key.IsPair() {
		r.flags |= recordIsId
	}
	return idr
}

// deriveIdFlags computes storage and cleanup flags from the traits of the
// id, or of the relationship for pairs.
func (w *World) deriveIdFlags(idr *IdRecord) {
	id := idr.id
	idr.flags &^= idTraitMask | IdIsTag | IdIsWildcard
	if id.IsWildcard() {
		idr.flags |= IdIsWildcard
	}

	rel := id
	if id.IsPair() {
		rel = id.First()
	}
	if rel != Wildcard && rel != Any {
		if e := w.entityIndex.getAlive(rel.Index()); e != 0 {
			idr.flags |= w.traitFlags(e)
		}
	}

	idr.typeInfo = nil
	if !id.IsWildcard() {
		if id.IsPair() {
			idr.typeInfo = w.registry.ById(id.First())
			if idr.typeInfo.isTag() {
				if tgt := w.entityIndex.getAlive(id.Second().Index()); tgt != 0 {
					if ti := w.registry.ById(tgt.StripGeneration()); !ti.isTag() {
						idr.typeInfo = ti
					}
				}
			}
		} else {
			idr.typeInfo = w.registry.ById(id)
		}
	}
	if idr.typeInfo.isTag() {
		idr.flags |= IdIsTag
	}
	if idr.flags&IdIsDontFragment != 0 {
		idr.flags |= IdIsSparse
	}
}

// idFlags returns the flags id has or would get, without creating a record.
func (w *World) idFlags(id Id) IdFlags {
	if idr := w.idRecord(id); idr != nil {
		return idr.flags
	}
	rel := id
	if id.IsPair() {
		rel = id.First()
	}
	if e := w.entityIndex.getAlive(rel.Index()); e != 0 {
		return w.traitFlags(e)
	}
	return 0
}

// traitFlags reads the traits stored on entity e.
func (w *World) traitFlags(e Id) IdFlags {
	r := w.entityIndex.get(e)
	if r == nil || r.table == nil {
		return 0
	}
	t := r.table
	var flags IdFlags
	if t.has(Exclusive) {
		flags |= IdIsExclusive
	}
	if t.has(Sparse) {
		flags |= IdIsSparse
	}
	if t.has(DontFragment) {
		flags |= IdIsDontFragment
	}
	if t.has(Traversable) {
		flags |= IdIsTraversable
	}
	if t.has(CanToggle) {
		flags |= IdCanToggle
	}
	switch {
	case t.has(Pair(OnDelete, Panic)):
		flags |= IdOnDeletePanic
	case t.has(Pair(OnDelete, Delete)):
		flags |= IdOnDeleteDelete
	case t.has(Pair(OnDelete, Remove)):
		flags |= IdOnDeleteRemove
	}
	switch {
	case t.has(Pair(OnDeleteTarget, Panic)):
		flags |= IdOnDeleteTargetPanic
	case t.has(Pair(OnDeleteTarget, Delete)):
		flags |= IdOnDeleteTargetDelete
	case t.has(Pair(OnDeleteTarget, Remove)):
		flags |= IdOnDeleteTargetRemove
	}
	return flags
}

func isTraitId(id Id) bool {
	switch id {
	case Exclusive, Sparse, DontFragment, Traversable, CanToggle:
		return true
	}
	return id.IsPair() && (id.First() == OnDelete || id.First() == OnDeleteTarget)
}

// checkTraitChange rejects adding or removing a trait on e once e is used as
// an id by any table or sparse store.
func (w *World) checkTraitChange(e Id, trait Id) {
	for _, key := range [...]Id{e.StripGeneration(), Pair(e, Wildcard)} {
		idr := w.idRecord(key)
		if idr != nil && idr.inUse() {
			w.fatal(ErrIdInUse, "trait change on id in use",
				zap.Stringer("id", e), zap.Stringer("trait", trait))
		}
	}
}

// refreshTraits re-derives the flags of every record that takes its traits
// from e.
func (w *World) refreshTraits(e Id) {
	e = e.StripGeneration()

	// tables and edges built with the old flags are stale. They are empty,
	// since checkTraitChange rejected ids in use.
	var stale []*Table
	found := false
	for _, key := range [...]Id{e, Pair(e, Wildcard)} {
		idr := w.idRecord(key)
		if idr == nil {
			continue
		}
		found = true
		for t := range idr.Tables() {
			if !slices.Contains(stale, t) {
				stale = append(stale, t)
			}
		}
	}
	if !found {
		return
	}
	for _, t := range stale {
		w.deleteTable(t)
	}
	for _, t := range w.tables.list {
		w.clearEdges(t)
	}

	w.idRecords.ForEach(func(id Id, idr *IdRecord) bool {
		if id == e || (id.IsPair() && id.First() == e) {
			wasDontFragment := idr.flags&IdIsDontFragment != 0
			w.deriveIdFlags(idr)
			if idr.flags&IdIsSparse != 0 && idr.sparse == nil && !id.IsWildcard() {
				idr.sparse = newSparseStorage(idr.typeInfo)
			}
			if !wasDontFragment && idr.flags&IdIsDontFragment != 0 && !id.IsWildcard() {
				w.dontFragment = append(w.dontFragment, idr)
			}
		}
		return true
	})
}

// releaseIdRecord frees a pair record once nothing references it.
func (w *World) releaseIdRecord(idr *IdRecord) {
	if idr == nil || !idr.id.IsPair() || !idr.isEmpty() {
		return
	}
	if idr.flags&IdMarkedForDelete != 0 {
		return
	}
	w.freeIdRecord(idr)
}

func (w *World) freeIdRecord(idr *IdRecord) {
	if idr.sparse != nil {
		idr.sparse.clear(true)
	}
	if idr.flags&IdIsDontFragment != 0 {
		for i, other := range w.dontFragment {
			if other == idr {
				w.dontFragment = append(w.dontFragment[:i], w.dontFragment[i+1:]...)
				break
			}
		}
	}
	w.idRecords.Del(idr.id)
	w.idRecordPool.Free(idr.handle)
}
