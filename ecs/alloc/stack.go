package alloc

import "fmt"

// StackPageSize is the number of elements per stack page.
const StackPageSize = 4096

// Cursor is a saved stack position. Popping a cursor releases everything
// allocated after it was pushed.
type Cursor struct {
	page   int
	offset int
	depth  int
}

type stackPage[T any] struct {
	data []T
	used int
}

// StackAllocator hands out scratch slices with push/pop lifetime. Slices
// returned by Alloc must not be used after the cursor that preceded them is
// popped.
type StackAllocator[T any] struct {
	pages []*stackPage[T]
	page  int
	depth int

	debug   bool
	cursors []Cursor
}

// NewStackAllocator creates an empty stack allocator.
func NewStackAllocator[T any]() *StackAllocator[T] {
	return &StackAllocator[T]{
		pages: []*stackPage[T]{{data: make([]T, StackPageSize)}},
	}
}

// SetDebug enables out-of-order pop detection.
func (s *StackAllocator[T]) SetDebug(enabled bool) {
	s.debug = enabled
	s.cursors = s.cursors[:0]
}

// Push saves the current position.
func (s *StackAllocator[T]) Push() Cursor {
	s.depth++
	c := Cursor{page: s.page, offset: s.pages[s.page].used, depth: s.depth}
	if s.debug {
		s.cursors = append(s.cursors, c)
	}
	return c
}

// Alloc returns a zeroed slice of n elements.
func (s *StackAllocator[T]) Alloc(n int) []T {
	if n <= 0 {
		return nil
	}

	p := s.pages[s.page]
	if p.used+n > len(p.data) {
		size := StackPageSize
		if n > size {
			size = n
		}
		s.page++
		if s.page == len(s.pages) {
			s.pages = append(s.pages, &stackPage[T]{data: make([]T, size)})
		} else if len(s.pages[s.page].data) < n {
			s.pages[s.page] = &stackPage[T]{data: make([]T, size)}
		}
		p = s.pages[s.page]
		p.used = 0
	}

	out := p.data[p.used : p.used+n : p.used+n]
	p.used += n
	clear(out)
	return out
}

// Pop restores the position saved by c.
func (s *StackAllocator[T]) Pop(c Cursor) {
	if s.debug {
		if len(s.cursors) == 0 || s.cursors[len(s.cursors)-1] != c {
			panic(fmt.Sprintf("alloc: stack cursor popped out of order (depth %d, top %d)", c.depth, s.depth))
		}
		s.cursors = s.cursors[:len(s.cursors)-1]
	}

	for i := c.page + 1; i <= s.page; i++ {
		s.pages[i].used = 0
	}
	s.page = c.page
	s.pages[s.page].used = c.offset
	s.depth = c.depth - 1
}

// Depth returns the number of cursors currently pushed.
func (s *StackAllocator[T]) Depth() int {
	return s.depth
}

// Reset releases every allocation.
func (s *StackAllocator[T]) Reset() {
	for _, p := range s.pages {
		p.used = 0
	}
	s.page = 0
	s.depth = 0
	s.cursors = s.cursors[:0]
}
