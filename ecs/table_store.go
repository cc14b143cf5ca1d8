package ecs

import (
	"iter"
	"slices"

	"github.com/kamstrup/intmap"
	"go.uber.org/zap"
)

type tableStore struct {
	buckets *intmap.Map[uint64, []*Table]
	byId    *intmap.Map[uint64, *Table]
	list    []*Table
	nextId  uint64
	root    *Table
}

func newTableStore() *tableStore {
	return &tableStore{
		buckets: intmap.New[uint64, []*Table](64),
		byId:    intmap.New[uint64, *Table](64),
	}
}

// hashType generates an FNV-1a hash for a sorted type.
func hashType(typ []Id) uint64 {
	var h uint64 = 14695981039346656037 // FNV-1a 64-bit offset basis
	const prime uint64 = 1099511628211  // FNV-1a 64-bit prime

	for _, id := range typ {
		for shift := 0; shift < 64; shift += 8 {
			h ^= uint64(id>>shift) & 0xFF
			h *= prime
		}
	}
	return h
}

func (w *World) findTable(typ []Id) *Table {
	bucket, _ := w.tables.buckets.Get(hashType(typ))
	for _, t := range bucket {
		if slices.Equal(t.typ, typ) {
			return t
		}
	}
	return nil
}

// findOrCreateTable looks up typ, which may be scratch memory. A new table
// keeps its own copy.
func (w *World) findOrCreateTable(typ []Id) *Table {
	if t := w.findTable(typ); t != nil {
		return t
	}

	s := w.tables
	t := &Table{
		id:    s.nextId,
		hash:  hashType(typ),
		typ:   slices.Clip(slices.Clone(typ)),
		world: w,
	}
	s.nextId++
	t.init()

	bucket, _ := s.buckets.Get(t.hash)
	s.buckets.Put(t.hash, append(bucket, t))
	s.byId.Put(t.id, t)
	s.list = append(s.list, t)
	w.stats.tablesCreated++

	w.log.Debug("table created", zap.Uint64("table", t.id), zap.Stringer("type", t))
	return t
}

// FindTable returns the table for a set of ids, creating it if needed. Ids
// are applied one by one from the root table, so exclusive and
// non-fragmenting ids behave as they do for Add.
func (w *World) FindTable(ids ...Id) *Table {
	t := w.tables.root
	for _, id := range ids {
		t = w.TableAdd(t, id)
	}
	return t
}

// RootTable returns the table of entities without ids.
func (w *World) RootTable() *Table {
	return w.tables.root
}

// TableById returns the table with the given id, or nil.
func (w *World) TableById(id uint64) *Table {
	t, _ := w.tables.byId.Get(id)
	return t
}

// Tables iterates every table in creation order.
func (w *World) Tables() iter.Seq[*Table] {
	return func(yield func(*Table) bool) {
		for _, t := range w.tables.list {
			if !yield(t) {
				return
			}
		}
	}
}

// TableCount returns the number of tables, including the root table.
func (w *World) TableCount() int {
	return len(w.tables.list)
}

// deleteTable destroys t. The table must be empty unless the world is
// finalizing.
func (w *World) deleteTable(t *Table) {
	if t == w.tables.root && w.state < StateFinalizing {
		w.fatal(ErrInvalidOperation, "cannot delete the root table")
	}
	if t.Count() > 0 && w.state < StateFinalizing {
		w.fatal(ErrInvalidOperation, "cannot delete a table with entities",
			zap.Uint64("table", t.id), zap.Int("count", t.Count()))
	}

	s := w.tables
	w.clearEdges(t)

	bucket, _ := s.buckets.Get(t.hash)
	bucket = slices.DeleteFunc(bucket, func(other *Table) bool { return other == t })
	if len(bucket) == 0 {
		s.buckets.Del(t.hash)
	} else {
		s.buckets.Put(t.hash, bucket)
	}
	s.byId.Del(t.id)
	if i := slices.Index(s.list, t); i >= 0 {
		s.list = slices.Delete(s.list, i, i+1)
	}

	t.fini()
	w.stats.tablesDeleted++
	w.log.Debug("table deleted", zap.Uint64("table", t.id))
}

// Shrink deletes every empty table except the root and releases unused
// column pages of the remaining tables. It returns the number of deleted
// tables.
func (w *World) Shrink() int {
	w.assertMutable()

	var empty []*Table
	for _, t := range w.tables.list {
		if t == w.tables.root || t.IsLocked() {
			continue
		}
		if t.Count() == 0 {
			empty = append(empty, t)
			continue
		}
		for i := range t.columns {
			t.columns[i].data.shrink()
		}
	}
	for _, t := range empty {
		w.deleteTable(t)
	}

	w.log.Debug("shrink", zap.Int("tables", len(empty)))
	return len(empty)
}
