package ecs

import (
	"unsafe"

	"github.com/plus3/ecscore/ecs/alloc"
)

const (
	sparsePageShift = 10
	sparsePageSize  = 1 << sparsePageShift
	sparsePageMask  = sparsePageSize - 1
)

// sparsePool hands out value slots that never move once allocated.
type sparsePool interface {
	alloc(construct bool) (alloc.Handle, unsafe.Pointer)
	free(h alloc.Handle, destruct bool)
	ptr(h alloc.Handle) unsafe.Pointer
	len() int
}

type typedPool[T any] struct {
	blocks *alloc.BlockAllocator[T]
	hooks  *Hooks[T]
}

func newTypedPool[T any](h *Hooks[T]) *typedPool[T] {
	return &typedPool[T]{blocks: alloc.NewBlockAllocator[T](0), hooks: h}
}

func (p *typedPool[T]) alloc(construct bool) (alloc.Handle, unsafe.Pointer) {
	h, v := p.blocks.Alloc()
	if construct && p.hooks.Ctor != nil {
		p.hooks.Ctor(v)
	}
	return h, unsafe.Pointer(v)
}

func (p *typedPool[T]) free(h alloc.Handle, destruct bool) {
	if destruct && p.hooks.Dtor != nil {
		if v := p.blocks.Get(h); v != nil {
			p.hooks.Dtor(v)
		}
	}
	p.blocks.Free(h)
}

func (p *typedPool[T]) ptr(h alloc.Handle) unsafe.Pointer {
	return unsafe.Pointer(p.blocks.Get(h))
}

func (p *typedPool[T]) len() int {
	return p.blocks.Len()
}

// sparseStorage keeps per-entity values outside of tables. Entities are
// tracked in a dense list that is compacted on removal, while values live in
// pool slots that keep their address for as long as the entity has the id.
type sparseStorage struct {
	pool    sparsePool
	pages   []*[sparsePageSize]int32
	dense   []Id
	handles []alloc.Handle
}

func newSparseStorage(ti *TypeInfo) *sparseStorage {
	s := &sparseStorage{}
	if !ti.isTag() {
		s.pool = ti.newPool()
	}
	return s
}

// slot returns the dense position of e, or -1.
func (s *sparseStorage) slot(e Id) int {
	index := e.Index()
	p := int(index >> sparsePageShift)
	if p >= len(s.pages) || s.pages[p] == nil {
		return -1
	}
	pos := int(s.pages[p][index&sparsePageMask]) - 1
	if pos < 0 || s.dense[pos] != e {
		return -1
	}
	return pos
}

func (s *sparseStorage) setSlot(index uint32, pos int) {
	p := int(index >> sparsePageShift)
	for p >= len(s.pages) {
		s.pages = append(s.pages, nil)
	}
	if s.pages[p] == nil {
		s.pages[p] = new([sparsePageSize]int32)
	}
	s.pages[p][index&sparsePageMask] = int32(pos + 1)
}

// rekey moves the entry of prev to e, an id with the same index.
func (s *sparseStorage) rekey(prev, e Id) {
	if pos := s.slot(prev); pos >= 0 {
		s.dense[pos] = e
	}
}

func (s *sparseStorage) has(e Id) bool {
	return s.slot(e) >= 0
}

func (s *sparseStorage) get(e Id) unsafe.Pointer {
	pos := s.slot(e)
	if pos < 0 || s.pool == nil {
		return nil
	}
	return s.pool.ptr(s.handles[pos])
}

// ensure adds e if it is not present yet. It returns the value slot and
// whether e was added.
func (s *sparseStorage) ensure(e Id, construct bool) (unsafe.Pointer, bool) {
	if pos := s.slot(e); pos >= 0 {
		if s.pool == nil {
			return nil, false
		}
		return s.pool.ptr(s.handles[pos]), false
	}

	h := alloc.NullHandle
	var ptr unsafe.Pointer
	if s.pool != nil {
		h, ptr = s.pool.alloc(construct)
	}
	s.setSlot(e.Index(), len(s.dense))
	s.dense = append(s.dense, e)
	s.handles = append(s.handles, h)
	return ptr, true
}

func (s *sparseStorage) remove(e Id, destruct bool) bool {
	pos := s.slot(e)
	if pos < 0 {
		return false
	}
	if s.pool != nil {
		s.pool.free(s.handles[pos], destruct)
	}

	last := len(s.dense) - 1
	if pos != last {
		moved := s.dense[last]
		s.dense[pos] = moved
		s.handles[pos] = s.handles[last]
		s.setSlot(moved.Index(), pos)
	}
	s.dense = s.dense[:last]
	s.handles = s.handles[:last]
	s.pages[e.Index()>>sparsePageShift][e.Index()&sparsePageMask] = 0
	return true
}

func (s *sparseStorage) count() int {
	return len(s.dense)
}

// entities returns the entities with a value. The slice aliases storage.
func (s *sparseStorage) entities() []Id {
	return s.dense
}

func (s *sparseStorage) clear(destruct bool) {
	for i := len(s.dense) - 1; i >= 0; i-- {
		s.remove(s.dense[i], destruct)
	}
}
