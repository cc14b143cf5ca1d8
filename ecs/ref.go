package ecs

// Ref is a cached handle to one component of one entity. Get revalidates
// the cached pointer against the entity record and the epoch of the table,
// so it stays correct across moves and swap-removes while costing a few
// comparisons when nothing changed.
type Ref[T any] struct {
	world  *World
	entity EntityId
	id     Id

	table *Table
	row   int32
	epoch uint64
	ptr   *T
}

// NewRef returns a Ref to component T of e.
func NewRef[T any](w *World, e EntityId) Ref[T] {
	id, _ := LookupComponent[T](w)
	return Ref[T]{world: w, entity: e, id: id}
}

// NewPairRef returns a Ref to the value of the pair (T, tgt) on e.
func NewPairRef[T any](w *World, e EntityId, tgt Id) Ref[T] {
	id, ok := LookupComponent[T](w)
	if ok {
		id = Pair(id, tgt)
	}
	return Ref[T]{world: w, entity: e, id: id}
}

// Entity returns the referenced entity.
func (r *Ref[T]) Entity() EntityId { return r.entity }

// Get returns the component, or nil when the entity is no longer alive or
// no longer has it. Values of sparse ids are resolved on every call.
func (r *Ref[T]) Get() *T {
	if r.world == nil || r.id == 0 {
		return nil
	}
	rec := r.world.entityIndex.get(r.entity)
	if rec == nil || rec.table == nil {
		r.ptr = nil
		return nil
	}
	if r.ptr != nil && rec.table == r.table && rec.row == r.row && r.table.epoch == r.epoch {
		return r.ptr
	}

	// sparse values move independently of the table row, so they are
	// looked up on every call and never cached
	if idr := r.world.idRecord(r.id); idr != nil && idr.sparse != nil {
		r.ptr = nil
		return (*T)(idr.sparse.get(r.entity))
	}

	r.table = rec.table
	r.row = rec.row
	r.epoch = rec.table.epoch
	r.ptr = (*T)(r.world.GetRaw(r.entity, r.id))
	return r.ptr
}

// EntityRef is an untyped handle to an entity that remembers where the
// entity was last seen.
type EntityRef struct {
	Id    EntityId
	table *Table
	row   int32
}

// NewEntityRef returns a reference to e, or nil when e is not alive.
func (w *World) NewEntityRef(e EntityId) *EntityRef {
	r := w.entityIndex.get(e)
	if r == nil {
		return nil
	}
	return &EntityRef{Id: e, table: r.table, row: r.row}
}

// ResolveEntityRef reports whether the referenced entity is still alive and
// refreshes the cached location.
func (w *World) ResolveEntityRef(ref *EntityRef) (EntityId, bool) {
	if ref == nil {
		return 0, false
	}
	r := w.entityIndex.get(ref.Id)
	if r == nil {
		ref.table = nil
		return 0, false
	}
	ref.table = r.table
	ref.row = r.row
	return ref.Id, true
}

// Table returns the table the entity was in when last resolved.
func (ref *EntityRef) Table() *Table { return ref.table }

// Row returns the row the entity was in when last resolved.
func (ref *EntityRef) Row() int { return int(ref.row) }
