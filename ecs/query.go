package ecs

import (
	"iter"
	"slices"
)

// Filter matches entities that have every one of a list of ids. Wildcards
// are allowed. Tables holding Disabled or Prefab entities are skipped unless
// the filter names those tags.
type Filter struct {
	world   *World
	ids     []Id
	without []Id
	df      []Id
	skip    TableFlags
}

// NewFilter returns a filter for entities that have all ids.
func (w *World) NewFilter(ids ...Id) *Filter {
	f := &Filter{world: w, skip: TableIsDisabled | TableIsPrefab}
	for _, id := range ids {
		f.with(id)
	}
	return f
}

func (f *Filter) with(id Id) {
	switch idKey(id) {
	case Disabled:
		f.skip &^= TableIsDisabled
	case Prefab:
		f.skip &^= TableIsPrefab
	}
	if f.world.idFlags(id)&IdIsDontFragment != 0 {
		f.df = append(f.df, idKey(id))
		return
	}
	f.ids = append(f.ids, idKey(id))
}

// Without excludes entities that have any of ids.
func (f *Filter) Without(ids ...Id) *Filter {
	for _, id := range ids {
		f.without = append(f.without, idKey(id))
	}
	return f
}

// Ids returns the required ids stored in tables.
func (f *Filter) Ids() []Id { return f.ids }

func (f *Filter) matchTable(t *Table) bool {
	if t.flags&f.skip != 0 {
		return false
	}
	for _, id := range f.ids {
		if !t.Has(id) {
			return false
		}
	}
	for _, id := range f.without {
		if t.Has(id) {
			return false
		}
	}
	return true
}

// matchRow checks the terms on non-fragmenting ids, which tables do not
// record.
func (f *Filter) matchRow(e Id) bool {
	for _, id := range f.df {
		if !f.world.Has(e, id) {
			return false
		}
	}
	return true
}

// Tables yields the non-empty tables that match. The candidates come from
// the id record with the fewest tables.
func (f *Filter) Tables() iter.Seq[*Table] {
	return f.tables(false)
}

func (f *Filter) tables(includeEmpty bool) iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		w := f.world
		var smallest *IdRecord
		for _, id := range f.ids {
			idr := w.idRecord(id)
			if idr == nil {
				return
			}
			if smallest == nil || len(idr.tables) < len(smallest.tables) {
				smallest = idr
			}
		}

		var candidates []*Table
		if smallest != nil {
			candidates = make([]*Table, 0, len(smallest.tables))
			for _, tr := range smallest.tables {
				candidates = append(candidates, tr.table)
			}
		} else {
			candidates = slices.Clone(w.tables.list)
		}

		for _, t := range candidates {
			if (t.Count() == 0 && !includeEmpty) || !f.matchTable(t) {
				continue
			}
			if !yield(t) {
				return
			}
		}
	}
}

// Entities yields every matching entity.
func (f *Filter) Entities() iter.Seq[EntityId] {
	return func(yield func(EntityId) bool) {
		for t := range f.Tables() {
			for _, e := range t.entities {
				if !f.matchRow(e) {
					continue
				}
				if !yield(e) {
					return
				}
			}
		}
	}
}

// Count returns the number of matching entities.
func (f *Filter) Count() int {
	n := 0
	for t := range f.Tables() {
		if len(f.df) == 0 {
			n += t.Count()
			continue
		}
		for _, e := range t.entities {
			if f.matchRow(e) {
				n++
			}
		}
	}
	return n
}

// Each calls fn once per matching table. The table is locked while fn runs
// and, unless the world is readonly, world mutations are deferred until
// every table was visited. The returned error comes from applying them.
func (f *Filter) Each(fn func(it *Iter)) error {
	w := f.world
	deferred := !w.IsReadonly()
	if deferred {
		w.DeferBegin()
	}
	for t := range f.Tables() {
		t.Lock()
		fn(&Iter{world: w, filter: f, table: t})
		t.Unlock()
	}
	if deferred {
		return w.DeferEnd()
	}
	return nil
}

// Iter is the per-table cursor passed to Filter.Each.
type Iter struct {
	world  *World
	filter *Filter
	table  *Table
}

// World returns the world being iterated.
func (it *Iter) World() *World { return it.world }

// Table returns the current table.
func (it *Iter) Table() *Table { return it.table }

// Count returns the number of rows in the current table.
func (it *Iter) Count() int { return it.table.Count() }

// Entities returns the entities of the current table, indexed by row.
func (it *Iter) Entities() []EntityId { return it.table.entities }

// Match reports whether row also satisfies terms on non-fragmenting ids.
// It is always true for filters without such terms.
func (it *Iter) Match(row int) bool {
	return it.filter.matchRow(it.table.entities[row])
}

// IsEnabled reports whether id is enabled for row. Ids without the
// CanToggle trait are always enabled.
func (it *Iter) IsEnabled(row int, id Id) bool {
	if tc := it.table.toggleFor(idKey(id)); tc != nil {
		return tc.get(row)
	}
	return true
}

// Field returns typed access to the values of id in the current table.
func Field[T any](it *Iter, id Id) Column[T] {
	w := it.world
	col := Column[T]{entities: it.table.entities}
	idr := w.idRecord(id)
	if idr == nil {
		return col
	}
	if idr.sparse != nil {
		col.sparse = idr.sparse
		return col
	}
	if c := it.table.ColumnIndex(id); c >= 0 {
		col.col, _ = it.table.columns[c].data.(*typedColumn[T])
	}
	return col
}

// FieldOf is Field for component T.
func FieldOf[T any](it *Iter) Column[T] {
	id, ok := LookupComponent[T](it.world)
	if !ok {
		return Column[T]{}
	}
	return Field[T](it, id)
}

// Query caches the tables matched by a View and the rows they yield for the
// current frame.
type Query[T any] struct {
	view         *View[T]
	world        *World
	tables       []*Table
	tableVersion uint64

	cachedEntities   []EntityId
	cachedComponents []T
	cacheValid       bool
}

// NewQuery creates a Query over the components of T.
func NewQuery[T any](w *World) *Query[T] {
	q := &Query[T]{}
	q.Init(w)
	return q
}

// Init binds the Query to a world. The Scheduler calls it for Query fields
// of registered systems.
func (q *Query[T]) Init(w *World) {
	q.view = NewView[T](w)
	q.world = w
	q.tables = nil
	q.tableVersion = 0
	q.cacheValid = false
}

func (q *Query[T]) ensureTables() {
	version := q.world.tableVersion()
	if q.tables != nil && version == q.tableVersion {
		return
	}
	q.tables = q.tables[:0]
	for t := range q.view.filter.tables(true) {
		q.tables = append(q.tables, t)
	}
	q.tableVersion = version
}

// Execute snapshots the matching rows. The Scheduler calls it before the
// systems of a frame run.
func (q *Query[T]) Execute() {
	q.ensureTables()
	q.cachedEntities = q.cachedEntities[:0]
	q.cachedComponents = q.cachedComponents[:0]

	for _, t := range q.tables {
		if t.Count() == 0 {
			continue
		}
		for e, item := range q.view.iterTable(t) {
			q.cachedEntities = append(q.cachedEntities, e)
			q.cachedComponents = append(q.cachedComponents, item)
		}
	}
	q.cacheValid = true
}

// Iter yields the rows captured by the last Execute. It panics when
// Execute was not called.
func (q *Query[T]) Iter() iter.Seq2[EntityId, T] {
	if !q.cacheValid {
		panic("Query.Iter() called before Query.Execute()")
	}
	return func(yield func(EntityId, T) bool) {
		for i := range q.cachedEntities {
			if !yield(q.cachedEntities[i], q.cachedComponents[i]) {
				return
			}
		}
	}
}

// Values yields the view structs captured by the last Execute.
func (q *Query[T]) Values() iter.Seq[T] {
	if !q.cacheValid {
		panic("Query.Values() called before Query.Execute()")
	}
	return func(yield func(T) bool) {
		for i := range q.cachedComponents {
			if !yield(q.cachedComponents[i]) {
				return
			}
		}
	}
}

// Len returns the number of rows captured by the last Execute.
func (q *Query[T]) Len() int { return len(q.cachedEntities) }

// tableVersion changes whenever a table is created or deleted.
func (w *World) tableVersion() uint64 {
	return w.stats.tablesCreated + w.stats.tablesDeleted
}
