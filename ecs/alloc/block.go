// Package alloc provides the pooled allocators used by the storage engine.
//
// BlockAllocator hands out fixed-size chunks from pages and recycles them
// through a free list threaded through the unused chunks. StackAllocator
// hands out scratch slices that are released in bulk by restoring a cursor.
package alloc

const (
	// BlockPageShift controls the number of chunks per page (1 << BlockPageShift).
	BlockPageShift = 10
	BlockPageSize  = 1 << BlockPageShift
	blockPageMask  = BlockPageSize - 1
)

// Handle addresses a chunk in a BlockAllocator.
type Handle int32

// NullHandle marks the end of the free list.
const NullHandle Handle = -1

type chunk[T any] struct {
	value T
	next  Handle
	used  bool
}

// BlockAllocator is a pool of T values allocated in pages of BlockPageSize.
// Pointers returned by Alloc and Get stay valid until the chunk is freed,
// since pages are never moved or reallocated.
type BlockAllocator[T any] struct {
	pages    []*[BlockPageSize]chunk[T]
	count    int32 // chunks handed out from pages so far (high water mark)
	freeHead Handle
	live     int
}

// NewBlockAllocator creates an allocator with enough pages for capacity chunks.
func NewBlockAllocator[T any](capacity int) *BlockAllocator[T] {
	numPages := (capacity + BlockPageSize - 1) / BlockPageSize
	if numPages < 1 {
		numPages = 1
	}
	return &BlockAllocator[T]{
		pages:    make([]*[BlockPageSize]chunk[T], 0, numPages),
		freeHead: NullHandle,
	}
}

// Alloc returns a zeroed chunk and its handle.
func (a *BlockAllocator[T]) Alloc() (Handle, *T) {
	a.live++

	if a.freeHead != NullHandle {
		h := a.freeHead
		c := a.chunk(h)
		a.freeHead = c.next
		c.next = NullHandle
		c.used = true
		return h, &c.value
	}

	h := Handle(a.count)
	pageIdx := int(h) >> BlockPageShift
	if pageIdx >= len(a.pages) {
		a.pages = append(a.pages, new([BlockPageSize]chunk[T]))
	}
	a.count++

	c := a.chunk(h)
	c.next = NullHandle
	c.used = true
	return h, &c.value
}

// Free returns the chunk to the pool and zeroes its value. Freeing an
// unknown or already free handle is a no-op.
func (a *BlockAllocator[T]) Free(h Handle) {
	if h < 0 || int32(h) >= a.count {
		return
	}
	c := a.chunk(h)
	if !c.used {
		return
	}

	var zero T
	c.value = zero
	c.used = false
	c.next = a.freeHead
	a.freeHead = h
	a.live--
}

// Get returns the chunk for h, or nil if h is not allocated.
func (a *BlockAllocator[T]) Get(h Handle) *T {
	if h < 0 || int32(h) >= a.count {
		return nil
	}
	c := a.chunk(h)
	if !c.used {
		return nil
	}
	return &c.value
}

// Len returns the number of live chunks.
func (a *BlockAllocator[T]) Len() int {
	return a.live
}

// Pages returns the number of allocated pages.
func (a *BlockAllocator[T]) Pages() int {
	return len(a.pages)
}

// Reset drops every chunk but keeps the first page for reuse.
func (a *BlockAllocator[T]) Reset() {
	if len(a.pages) > 0 {
		*a.pages[0] = [BlockPageSize]chunk[T]{}
		a.pages = a.pages[:1]
	}
	a.count = 0
	a.live = 0
	a.freeHead = NullHandle
}

func (a *BlockAllocator[T]) chunk(h Handle) *chunk[T] {
	return &a.pages[int(h)>>BlockPageShift][int(h)&blockPageMask]
}
