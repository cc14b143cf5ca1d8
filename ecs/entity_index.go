package ecs

import (
	"math"
	"sync/atomic"
)

const (
	entityPageShift = 12
	entityPageSize  = 1 << entityPageShift
	entityPageMask  = entityPageSize - 1
)

type recordFlags uint32

const (
	// entity is used as a component or relationship id in some table
	recordIsId recordFlags = 1 << iota
	// entity is used as a pair target in some table
	recordIsTarget
	// entity is the target of a traversable relationship
	recordIsTraversable
	// entity owns values in non-fragmenting storage
	recordHasDontFragment
	// entity is scheduled for deletion by a cleanup pass
	recordMarkedForDelete
)

type record struct {
	table *Table
	row   int32
	dense int32
	flags recordFlags
}

type entityPage [entityPageSize]record

// entityIndex maps entity ids to their table and row and owns id recycling.
//
// Ids are kept in a dense array. Positions [1, alive) hold alive ids, the
// remainder holds dead ids with their next generation already applied, so
// recycling an id is a single read. Position 0 is never used, which lets a
// zero dense field mean "never seen".
type entityIndex struct {
	pages []*entityPage
	dense []Id
	alive int32

	// highest index ever issued. Atomic so async stages can reserve ids
	// while the world is readonly.
	maxIndex atomic.Uint32
}

func newEntityIndex(capacity int) *entityIndex {
	if capacity < 1 {
		capacity = 1
	}
	idx := &entityIndex{
		dense: make([]Id, 1, capacity+1),
		alive: 1,
	}
	idx.maxIndex.Store(FirstUserEntityIndex - 1)
	return idx
}

func (idx *entityIndex) page(index uint32) *entityPage {
	p := int(index >> entityPageShift)
	if p >= len(idx.pages) {
		return nil
	}
	return idx.pages[p]
}

func (idx *entityIndex) ensurePage(index uint32) *entityPage {
	p := int(index >> entityPageShift)
	if p >= len(idx.pages) {
		grown := make([]*entityPage, p+1, max(p+1, 2*len(idx.pages)))
		copy(grown, idx.pages)
		idx.pages = grown
	}
	if idx.pages[p] == nil {
		idx.pages[p] = new(entityPage)
	}
	return idx.pages[p]
}

// get returns the record for an alive id, or nil.
func (idx *entityIndex) get(id Id) *record {
	r := idx.getAny(id)
	if r == nil || r.dense == 0 || r.dense >= idx.alive {
		return nil
	}
	if idx.dense[r.dense] != id.StripFlags() {
		return nil
	}
	return r
}

// getAny returns the record for the index of id regardless of liveness.
func (idx *entityIndex) getAny(id Id) *record {
	index := id.Index()
	p := idx.page(index)
	if p == nil {
		return nil
	}
	return &p[index&entityPageMask]
}

func (idx *entityIndex) isAlive(id Id) bool {
	return idx.get(id) != nil
}

// exists reports whether the index of id was ever issued, alive or not.
func (idx *entityIndex) exists(id Id) bool {
	r := idx.getAny(id)
	return r != nil && r.dense != 0
}

// getAlive returns the alive id for an index, or 0.
func (idx *entityIndex) getAlive(index uint32) Id {
	p := idx.page(index)
	if p == nil {
		return 0
	}
	r := &p[index&entityPageMask]
	if r.dense == 0 || r.dense >= idx.alive {
		return 0
	}
	return idx.dense[r.dense]
}

// newId returns a recycled id if one is available, else a fresh index.
// The returned id is alive with no table.
func (idx *entityIndex) newId() (Id, bool) {
	if int(idx.alive) < len(idx.dense) {
		id := idx.dense[idx.alive]
		idx.alive++
		return id, true
	}

	index, ok := idx.reserve()
	if !ok {
		return 0, false
	}
	r := &idx.ensurePage(index)[index&entityPageMask]
	id := Id(index)
	r.dense = int32(len(idx.dense))
	idx.dense = append(idx.dense, id)
	idx.alive++
	return id, true
}

// reserve hands out a never used index without making it alive.
func (idx *entityIndex) reserve() (uint32, bool) {
	for {
		cur := idx.maxIndex.Load()
		if cur == math.MaxUint32 {
			return 0, false
		}
		if idx.maxIndex.CompareAndSwap(cur, cur+1) {
			return cur + 1, true
		}
	}
}

// remove kills id and bumps its generation. Stale or dead ids are ignored.
func (idx *entityIndex) remove(id Id) bool {
	r := idx.get(id)
	if r == nil {
		return false
	}

	pos := r.dense
	last := idx.alive - 1
	if pos != last {
		lastId := idx.dense[last]
		idx.getAny(lastId).dense = pos
		idx.dense[pos] = lastId
		r.dense = last
	}
	idx.dense[last] = id.StripFlags().WithGeneration(id.Generation() + 1)
	idx.alive--

	r.table = nil
	r.row = 0
	r.flags = 0
	return true
}

// makeAlive ensures id, with its exact generation, is alive. An alive id with
// a different generation for the same index is replaced and id inherits its
// table and row. The caller re-keys storage that holds the previous id.
func (idx *entityIndex) makeAlive(id Id) *record {
	id = id.StripFlags()
	index := id.Index()
	r := &idx.ensurePage(index)[index&entityPageMask]

	for {
		cur := idx.maxIndex.Load()
		if index <= cur || idx.maxIndex.CompareAndSwap(cur, index) {
			break
		}
	}

	switch {
	case r.dense == 0:
		r.dense = int32(len(idx.dense))
		idx.dense = append(idx.dense, id)
		idx.swapAlive(r)
	case r.dense < idx.alive:
		idx.dense[r.dense] = id
	default:
		idx.dense[r.dense] = id
		idx.swapAlive(r)
	}
	return r
}

// swapAlive moves a dead record to the end of the alive segment.
func (idx *entityIndex) swapAlive(r *record) {
	pos := r.dense
	first := idx.alive
	if pos != first {
		other := idx.dense[first]
		idx.getAny(other).dense = pos
		idx.dense[pos], idx.dense[first] = other, idx.dense[pos]
		r.dense = first
	}
	idx.alive++
}

// setGeneration overrides the generation stored for the index of id.
func (idx *entityIndex) setGeneration(id Id) {
	r := idx.getAny(id)
	if r == nil || r.dense == 0 {
		return
	}
	idx.dense[r.dense] = id.StripFlags()
}

func (idx *entityIndex) count() int {
	return int(idx.alive) - 1
}

func (idx *entityIndex) notAliveCount() int {
	return len(idx.dense) - int(idx.alive)
}

// ids returns the alive ids. The slice aliases internal storage.
func (idx *entityIndex) ids() []Id {
	return idx.dense[1:idx.alive]
}

func (idx *entityIndex) reset() {
	idx.pages = nil
	idx.dense = idx.dense[:1]
	idx.alive = 1
	idx.maxIndex.Store(FirstUserEntityIndex - 1)
}
