// Package inspect builds sortable, filterable snapshots of a world's storage
// for debugging tools and reports. Snapshots only read the world and may be
// taken while it is readonly.
package inspect

import (
	"sort"
	"strings"

	"github.com/plus3/ecscore/ecs"
)

// TableInfo describes one table.
type TableInfo struct {
	ID             uint64
	Components     []string
	ComponentCount int
	ColumnCount    int
	EntityCount    int
	Flags          ecs.TableFlags
}

// TableColumn selects the field tables are sorted by.
type TableColumn int

const (
	TableByID TableColumn = iota
	TableByComponents
	TableByComponentCount
	TableByEntityCount
)

// TableViewer keeps a sorted list of tables. The list is rebuilt when
// tables were created or deleted and only recounted otherwise.
type TableViewer struct {
	tables        []TableInfo
	lastCount     int
	sortColumn    TableColumn
	sortAscending bool
	skipEmpty     bool
}

// NewTableViewer returns a viewer sorted by entity count, largest first.
func NewTableViewer() *TableViewer {
	return &TableViewer{
		lastCount:  -1,
		sortColumn: TableByEntityCount,
	}
}

// SetSort changes the sort order.
func (v *TableViewer) SetSort(column TableColumn, ascending bool) {
	v.sortColumn = column
	v.sortAscending = ascending
	v.sortTables()
}

// SkipEmpty hides tables without entities.
func (v *TableViewer) SkipEmpty(skip bool) {
	if v.skipEmpty != skip {
		v.skipEmpty = skip
		v.tables = nil
	}
}

// Tables returns the current snapshot.
func (v *TableViewer) Tables(w *ecs.World) []TableInfo {
	if count := w.TableCount(); count != v.lastCount || v.tables == nil {
		v.lastCount = count
		v.rebuild(w)
	} else {
		v.updateEntityCounts(w)
	}
	return v.tables
}

func (v *TableViewer) rebuild(w *ecs.World) {
	v.tables = make([]TableInfo, 0, w.TableCount())
	for t := range w.Tables() {
		if v.skipEmpty && t.Count() == 0 {
			continue
		}
		v.tables = append(v.tables, describeTable(w, t))
	}
	v.sortTables()
}

func (v *TableViewer) updateEntityCounts(w *ecs.World) {
	for i := range v.tables {
		t := w.TableById(v.tables[i].ID)
		if t == nil {
			continue
		}
		v.tables[i].EntityCount = t.Count()
	}
	if v.sortColumn == TableByEntityCount {
		v.sortTables()
	}
}

func (v *TableViewer) sortTables() {
	sort.SliceStable(v.tables, func(i, j int) bool {
		a, b := v.tables[i], v.tables[j]
		if !v.sortAscending {
			a, b = b, a
		}

		switch v.sortColumn {
		case TableByID:
			return a.ID < b.ID
		case TableByComponents:
			return strings.Join(a.Components, ",") < strings.Join(b.Components, ",")
		case TableByComponentCount:
			return a.ComponentCount < b.ComponentCount
		default:
			return a.EntityCount < b.EntityCount
		}
	})
}

func describeTable(w *ecs.World, t *ecs.Table) TableInfo {
	return TableInfo{
		ID:             t.Id(),
		Components:     idNames(w, t.Type()),
		ComponentCount: len(t.Type()),
		ColumnCount:    t.ColumnCount(),
		EntityCount:    t.Count(),
		Flags:          t.Flags(),
	}
}

func idNames(w *ecs.World, ids []ecs.Id) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = w.IdName(id)
	}
	return names
}
