package ecs

import (
	"slices"
	"strings"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

// TableFlags summarize the ids of a table.
type TableFlags uint32

const (
	TableHasPairs TableFlags = 1 << iota
	TableHasChildOf
	TableHasSparse
	TableHasToggle
	TableHasTraversable
	TableHasName
	TableHasHooks
	TableIsPrefab
	TableIsDisabled
)

type tableColumn struct {
	id        Id
	ti        *TypeInfo
	data      column
	typeIndex int
}

type toggleColumn struct {
	id   Id
	bits []uint64
}

func (tc *toggleColumn) get(row int) bool {
	return tc.bits[row>>6]&(1<<(row&63)) != 0
}

func (tc *toggleColumn) set(row int, enabled bool) {
	if enabled {
		tc.bits[row>>6] |= 1 << (row & 63)
	} else {
		tc.bits[row>>6] &^= 1 << (row & 63)
	}
}

func (tc *toggleColumn) grow(count int) {
	for len(tc.bits)*64 < count {
		tc.bits = append(tc.bits, 0)
	}
}

// Table stores all entities that have exactly the same set of ids. Each
// component with data gets a column; rows line up with Entities.
type Table struct {
	id    uint64
	hash  uint64
	typ   []Id
	flags TableFlags
	world *World

	entities    []Id
	columns     []tableColumn
	columnIndex []int16 // type index -> column, -1 for ids without data
	records     []*tableRecord
	toggles     []toggleColumn

	node  graphNode
	lock  atomic.Int32
	epoch uint64
}

// Id returns the table's unique identifier.
func (t *Table) Id() uint64 { return t.id }

// Type returns the sorted ids of the table.
func (t *Table) Type() []Id { return t.typ }

// Flags returns the table flags.
func (t *Table) Flags() TableFlags { return t.flags }

// Count returns the number of entities in the table.
func (t *Table) Count() int { return len(t.entities) }

// Entities returns the entity of each row. The slice aliases table storage
// and is invalidated by structural changes.
func (t *Table) Entities() []Id { return t.entities }

// Epoch changes whenever rows of the table are removed or reordered.
func (t *Table) Epoch() uint64 { return t.epoch }

// ColumnCount returns the number of data columns.
func (t *Table) ColumnCount() int { return len(t.columns) }

// Has reports whether the table has id. Wildcards match any id of the table
// that fits the pattern.
func (t *Table) Has(id Id) bool {
	if !id.IsWildcard() {
		return t.has(id)
	}
	idr := t.world.idRecord(id)
	return idr != nil && idr.record(t) != nil
}

func (t *Table) has(id Id) bool {
	return t.typeIndex(id) >= 0
}

func (t *Table) typeIndex(id Id) int {
	i, ok := slices.BinarySearch(t.typ, idKey(id))
	if !ok {
		return -1
	}
	return i
}

// ColumnIndex returns the column of id, or -1 if the table stores no data
// for it.
func (t *Table) ColumnIndex(id Id) int {
	i := t.typeIndex(id)
	if i < 0 {
		return -1
	}
	return int(t.columnIndex[i])
}

// ColumnPtr returns a pointer to the value of column col at row.
func (t *Table) ColumnPtr(col, row int) unsafe.Pointer {
	if col < 0 || col >= len(t.columns) || row < 0 || row >= len(t.entities) {
		return nil
	}
	return t.columns[col].data.ptr(row)
}

// ColumnType returns the type info of column col.
func (t *Table) ColumnType(col int) *TypeInfo {
	return t.columns[col].ti
}

// Slice returns the row range [start, end) processed by worker out of
// workers when the table is split evenly.
func (t *Table) Slice(worker, workers int) (start, end int) {
	if workers <= 1 {
		return 0, len(t.entities)
	}
	n := len(t.entities)
	per := n / workers
	rest := n % workers
	start = worker*per + min(worker, rest)
	end = start + per
	if worker < rest {
		end++
	}
	return start, end
}

// Lock prevents structural changes to the table until Unlock. Locks nest.
func (t *Table) Lock() { t.lock.Add(1) }

// Unlock releases one Lock.
func (t *Table) Unlock() {
	if t.lock.Add(-1) < 0 {
		t.world.fatal(ErrInvalidOperation, "table unlocked more often than locked", zap.Uint64("table", t.id))
	}
}

// IsLocked reports whether the table is locked.
func (t *Table) IsLocked() bool { return t.lock.Load() > 0 }

func (t *Table) String() string {
	if len(t.typ) == 0 {
		return "[]"
	}
	var sb strings.Builder
	sb.WriteByte('[')
	for i, id := range t.typ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(t.world.idName(id))
	}
	sb.WriteByte(']')
	return sb.String()
}

func (t *Table) checkUnlocked() {
	if t.IsLocked() {
		t.world.fatal(ErrLocked, "structural change on locked table", zap.Stringer("table", t))
	}
}

func (t *Table) toggleFor(id Id) *toggleColumn {
	for i := range t.toggles {
		if t.toggles[i].id == id {
			return &t.toggles[i]
		}
	}
	return nil
}

// appendEntity adds e at the end of the table. Columns are left empty so the
// caller can fill them by moving or constructing values.
func (t *Table) appendEntity(e Id) int {
	row := len(t.entities)
	t.entities = append(t.entities, e)
	for i := range t.toggles {
		t.toggles[i].grow(row + 1)
		t.toggles[i].set(row, true)
	}
	return row
}

// appendRow adds e with freshly constructed values in every column.
func (t *Table) appendRow(e Id) int {
	row := t.appendEntity(e)
	for i := range t.columns {
		t.columns[i].data.appendRow(true)
	}
	return row
}

// deleteRow swap-removes row. Columns whose value was moved out already must
// be skipped through destruct=false. Returns the entity that now occupies
// row, or 0 if row was last.
func (t *Table) deleteRow(row int, destruct bool) Id {
	last := len(t.entities) - 1
	for i := range t.columns {
		t.columns[i].data.removeSwap(row, destruct)
	}
	for i := range t.toggles {
		tc := &t.toggles[i]
		tc.set(row, tc.get(last))
		tc.set(last, false)
	}

	var moved Id
	if row != last {
		moved = t.entities[last]
		t.entities[row] = moved
	}
	t.entities[last] = 0
	t.entities = t.entities[:last]
	t.epoch++
	return moved
}

// destructRow runs Dtor for every column of row without removing it.
func (t *Table) destructRow(row int) {
	for i := range t.columns {
		t.columns[i].data.destruct(row)
	}
}

// moveRow moves the entity at srcRow of src into dst and returns the new
// row. Values of shared columns are moved, columns only in dst are
// constructed and columns only in src are destructed.
func moveRow(src *Table, srcRow int, dst *Table, e Id) int {
	dstRow := dst.appendEntity(e)

	i, j := 0, 0
	for i < len(src.columns) || j < len(dst.columns) {
		switch {
		case j == len(dst.columns) || (i < len(src.columns) && src.columns[i].id < dst.columns[j].id):
			src.columns[i].data.destruct(srcRow)
			i++
		case i == len(src.columns) || dst.columns[j].id < src.columns[i].id:
			dst.columns[j].data.appendRow(true)
			j++
		default:
			dst.columns[j].data.moveFrom(src.columns[i].data, srcRow)
			i++
			j++
		}
	}

	for k := range dst.toggles {
		if tc := src.toggleFor(dst.toggles[k].id); tc != nil {
			dst.toggles[k].set(dstRow, tc.get(srcRow))
		}
	}

	if moved := src.deleteRow(srcRow, false); moved != 0 {
		src.world.entityIndex.getAny(moved).row = int32(srcRow)
	}
	return dstRow
}

// init builds columns, flags and id record registrations for a new table.
func (t *Table) init() {
	w := t.world
	t.columnIndex = make([]int16, len(t.typ))

	for i, id := range t.typ {
		idr := w.ensureIdRecord(id)
		col := -1
		if idr.flags&IdIsSparse == 0 && !idr.typeInfo.isTag() {
			col = len(t.columns)
			t.columns = append(t.columns, tableColumn{
				id:        id,
				ti:        idr.typeInfo,
				data:      idr.typeInfo.newColumn(),
				typeIndex: i,
			})
			if idr.typeInfo.HasHooks() {
				t.flags |= TableHasHooks
			}
		}
		t.columnIndex[i] = int16(col)
		t.addRecord(idr, i, col)

		if idr.flags&IdIsSparse != 0 {
			t.flags |= TableHasSparse
		}
		if idr.flags&IdCanToggle != 0 {
			t.flags |= TableHasToggle
			t.toggles = append(t.toggles, toggleColumn{id: id})
		}
		if idr.typeInfo != nil && idr.typeInfo.HasHooks() {
			t.flags |= TableHasHooks
		}

		switch id {
		case Prefab:
			t.flags |= TableIsPrefab
		case Disabled:
			t.flags |= TableIsDisabled
		case Name:
			t.flags |= TableHasName
		}

		if id.IsPair() {
			t.flags |= TableHasPairs
			rel := id.First()
			if rel == ChildOf {
				t.flags |= TableHasChildOf
			}
			if idr.flags&IdIsTraversable != 0 {
				t.flags |= TableHasTraversable
			}
			for _, wc := range [...]Id{Pair(rel, Wildcard), Pair(Wildcard, id.Second()), Pair(Wildcard, Wildcard)} {
				t.addRecord(w.ensureIdRecord(wc), i, col)
			}
		} else {
			t.addRecord(w.ensureIdRecord(Wildcard), i, col)
		}
	}
}

func (t *Table) addRecord(idr *IdRecord, index, col int) {
	if tr := idr.record(t); tr != nil {
		tr.count++
		return
	}
	t.records = append(t.records, idr.registerTable(t, index, col))
}

// fini releases columns and id record registrations.
func (t *Table) fini() {
	w := t.world
	for i := range t.columns {
		t.columns[i].data.destructAll()
	}
	t.entities = nil
	t.epoch++

	released := make([]*IdRecord, 0, len(t.records))
	for _, tr := range t.records {
		tr.idr.unregisterTable(t)
		released = append(released, tr.idr)
	}
	t.records = nil
	for _, idr := range released {
		w.releaseIdRecord(idr)
	}
}
