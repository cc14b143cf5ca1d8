package inspect

import (
	"sort"
	"strconv"
	"strings"

	"github.com/plus3/ecscore/ecs"
)

// EntityInfo describes one entity.
type EntityInfo struct {
	ID             ecs.EntityId
	Path           string
	TableID        uint64
	Components     []string
	ComponentCount int
}

// EntityColumn selects the field entities are sorted by.
type EntityColumn int

const (
	EntityByID EntityColumn = iota
	EntityByTable
	EntityByComponents
	EntityByComponentCount
)

// Page is one page of a filtered entity list.
type Page struct {
	Entities []EntityInfo
	Index    int
	Count    int
	Total    int
}

// EntityBrowser lists entities page by page. Filters match on the entity id,
// its path and its component names. Built-in and component entities are
// left out unless IncludeInternal is set.
type EntityBrowser struct {
	IncludeInternal bool

	entities      []EntityInfo
	filtered      []EntityInfo
	lastCount     int
	lastTables    int
	sortColumn    EntityColumn
	sortAscending bool

	pageSize    int
	currentPage int
	filterText  string
	filterTable *uint64
	selected    ecs.EntityId
}

// NewEntityBrowser returns a browser showing pageSize entities per page.
func NewEntityBrowser(pageSize int) *EntityBrowser {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &EntityBrowser{
		pageSize:      pageSize,
		sortAscending: true,
		lastCount:     -1,
	}
}

// SetFilter keeps only entities whose id, path or component names contain
// text, ignoring case.
func (eb *EntityBrowser) SetFilter(text string) {
	eb.filterText = strings.ToLower(text)
	eb.filtered = nil
	eb.currentPage = 0
}

// SetTableFilter keeps only the entities of one table.
func (eb *EntityBrowser) SetTableFilter(tableID uint64) {
	eb.filterTable = &tableID
	eb.filtered = nil
	eb.currentPage = 0
}

// ClearFilter removes both filters.
func (eb *EntityBrowser) ClearFilter() {
	eb.filterText = ""
	eb.filterTable = nil
	eb.filtered = nil
}

// SetSort changes the sort order.
func (eb *EntityBrowser) SetSort(column EntityColumn, ascending bool) {
	eb.sortColumn = column
	eb.sortAscending = ascending
	eb.sortEntities()
	eb.filtered = nil
}

// Select remembers an entity, for example to pass it to Inspect.
func (eb *EntityBrowser) Select(e ecs.EntityId) { eb.selected = e }

// Selected returns the selected entity.
func (eb *EntityBrowser) Selected() ecs.EntityId { return eb.selected }

// Refresh forces the next Page call to rescan the world.
func (eb *EntityBrowser) Refresh() { eb.entities = nil }

// Next moves to the following page if there is one.
func (eb *EntityBrowser) Next() {
	if (eb.currentPage+1)*eb.pageSize < len(eb.filtered) {
		eb.currentPage++
	}
}

// Prev moves to the previous page if there is one.
func (eb *EntityBrowser) Prev() {
	if eb.currentPage > 0 {
		eb.currentPage--
	}
}

// Page returns the current page. The entity list is rescanned when the
// number of entities or tables in the world changed.
func (eb *EntityBrowser) Page(w *ecs.World) Page {
	eb.rebuildIfNeeded(w)
	if eb.filtered == nil {
		eb.filtered = eb.applyFilter()
	}

	total := len(eb.filtered)
	pages := (total + eb.pageSize - 1) / eb.pageSize
	if eb.currentPage >= pages {
		eb.currentPage = max(pages-1, 0)
	}

	start := eb.currentPage * eb.pageSize
	end := min(start+eb.pageSize, total)
	return Page{
		Entities: eb.filtered[start:end],
		Index:    eb.currentPage,
		Count:    pages,
		Total:    total,
	}
}

func (eb *EntityBrowser) rebuildIfNeeded(w *ecs.World) {
	count, tables := w.Count(), w.TableCount()
	if eb.entities != nil && count == eb.lastCount && tables == eb.lastTables {
		return
	}
	eb.lastCount, eb.lastTables = count, tables
	eb.rebuild(w)
	eb.filtered = nil
}

func (eb *EntityBrowser) rebuild(w *ecs.World) {
	eb.entities = make([]EntityInfo, 0, w.Count())
	for t := range w.Tables() {
		if t.Count() == 0 {
			continue
		}
		if !eb.IncludeInternal && t.Has(ecs.Component) {
			continue
		}
		components := idNames(w, t.Type())
		for _, e := range t.Entities() {
			if !eb.IncludeInternal && e.Index() < ecs.FirstUserEntityIndex {
				continue
			}
			eb.entities = append(eb.entities, EntityInfo{
				ID:             e,
				Path:           w.Path(e),
				TableID:        t.Id(),
				Components:     components,
				ComponentCount: len(components),
			})
		}
	}
	eb.sortEntities()
}

func (eb *EntityBrowser) sortEntities() {
	sort.SliceStable(eb.entities, func(i, j int) bool {
		a, b := eb.entities[i], eb.entities[j]
		if !eb.sortAscending {
			a, b = b, a
		}

		switch eb.sortColumn {
		case EntityByTable:
			return a.TableID < b.TableID
		case EntityByComponents:
			return strings.Join(a.Components, ",") < strings.Join(b.Components, ",")
		case EntityByComponentCount:
			return a.ComponentCount < b.ComponentCount
		default:
			return a.ID < b.ID
		}
	})
}

func (eb *EntityBrowser) applyFilter() []EntityInfo {
	if eb.filterText == "" && eb.filterTable == nil {
		return eb.entities
	}

	filtered := make([]EntityInfo, 0, len(eb.entities))
	for _, entity := range eb.entities {
		if eb.filterTable != nil && entity.TableID != *eb.filterTable {
			continue
		}

		if eb.filterText != "" {
			idStr := strconv.FormatUint(uint64(entity.ID.Index()), 10)
			pathStr := strings.ToLower(entity.Path)
			componentsStr := strings.ToLower(strings.Join(entity.Components, " "))

			if !strings.Contains(idStr, eb.filterText) &&
				!strings.Contains(pathStr, eb.filterText) &&
				!strings.Contains(componentsStr, eb.filterText) {
				continue
			}
		}

		filtered = append(filtered, entity)
	}
	return filtered
}
