package ecs

import "unsafe"

const (
	columnPageShift = 8
	columnPageSize  = 1 << columnPageShift
	columnPageMask  = columnPageSize - 1
)

// column is a type-erased component array owned by a table. Row i of every
// column belongs to the entity at row i of the table.
type column interface {
	// appendRow adds a row at the end. The value is zero, or constructed
	// when construct is set and the type has a Ctor hook.
	appendRow(construct bool) int
	ptr(row int) unsafe.Pointer
	// removeSwap drops row by moving the last row into it. When destruct is
	// set the removed value is destructed first.
	removeSwap(row int, destruct bool)
	// moveFrom appends a row holding the value moved out of src at srcRow.
	moveFrom(src column, srcRow int) int
	destruct(row int)
	destructAll()
	len() int
	pageCount() int
	shrink()
}

// typedColumn stores values in fixed pages so pointers to a row stay valid
// while the table grows.
type typedColumn[T any] struct {
	pages []*[columnPageSize]T
	count int
	hooks *Hooks[T]
}

func (c *typedColumn[T]) at(row int) *T {
	return &c.pages[row>>columnPageShift][row&columnPageMask]
}

func (c *typedColumn[T]) grow() int {
	row := c.count
	if row>>columnPageShift >= len(c.pages) {
		c.pages = append(c.pages, new([columnPageSize]T))
	}
	c.count++
	return row
}

func (c *typedColumn[T]) appendRow(construct bool) int {
	row := c.grow()
	if construct && c.hooks.Ctor != nil {
		c.hooks.Ctor(c.at(row))
	}
	return row
}

func (c *typedColumn[T]) ptr(row int) unsafe.Pointer {
	return unsafe.Pointer(c.at(row))
}

func (c *typedColumn[T]) removeSwap(row int, destruct bool) {
	last := c.count - 1
	if destruct {
		c.destruct(row)
	}
	if row != last {
		moveValue(c.hooks, c.at(row), c.at(last))
	} else {
		var zero T
		*c.at(last) = zero
	}
	c.count--
}

func (c *typedColumn[T]) moveFrom(src column, srcRow int) int {
	from := src.(*typedColumn[T])
	row := c.grow()
	moveValue(c.hooks, c.at(row), from.at(srcRow))
	return row
}

func (c *typedColumn[T]) destruct(row int) {
	if c.hooks.Dtor != nil {
		c.hooks.Dtor(c.at(row))
	}
}

func (c *typedColumn[T]) destructAll() {
	for row := 0; row < c.count; row++ {
		c.destruct(row)
	}
	for _, p := range c.pages {
		*p = [columnPageSize]T{}
	}
	c.count = 0
}

func (c *typedColumn[T]) len() int {
	return c.count
}

func (c *typedColumn[T]) pageCount() int {
	return len(c.pages)
}

// shrink releases pages past the last used row.
func (c *typedColumn[T]) shrink() {
	used := (c.count + columnPageSize - 1) >> columnPageShift
	for i := used; i < len(c.pages); i++ {
		c.pages[i] = nil
	}
	c.pages = c.pages[:used]
}

// Column gives typed access to one component of a matched table.
type Column[T any] struct {
	col      *typedColumn[T]
	sparse   *sparseStorage
	entities []Id
}

// Get returns the value at row, or nil when the table does not store the
// component for that row.
func (c Column[T]) Get(row int) *T {
	if c.col != nil {
		if row < 0 || row >= c.col.count {
			return nil
		}
		return c.col.at(row)
	}
	if c.sparse != nil && row >= 0 && row < len(c.entities) {
		return (*T)(c.sparse.get(c.entities[row]))
	}
	return nil
}

// IsSet reports whether the column holds data.
func (c Column[T]) IsSet() bool {
	return c.col != nil || c.sparse != nil
}
