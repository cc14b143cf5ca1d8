package ecs

import (
	"slices"

	"github.com/kamstrup/intmap"
	"github.com/plus3/ecscore/ecs/alloc"
)

// ids below this value get array-indexed edges
const lowIdCount = FirstUserEntityIndex

type graphEdge struct {
	from   *Table
	to     *Table
	id     Id
	add    bool
	handle alloc.Handle
}

type graphEdges struct {
	lo *[lowIdCount]*graphEdge
	hi *intmap.Map[Id, *graphEdge]
}

func (e *graphEdges) get(id Id) *graphEdge {
	if id < lowIdCount {
		if e.lo == nil {
			return nil
		}
		return e.lo[id]
	}
	if e.hi == nil {
		return nil
	}
	edge, _ := e.hi.Get(id)
	return edge
}

func (e *graphEdges) put(id Id, edge *graphEdge) {
	if id < lowIdCount {
		if e.lo == nil {
			e.lo = new([lowIdCount]*graphEdge)
		}
		e.lo[id] = edge
		return
	}
	if e.hi == nil {
		e.hi = intmap.New[Id, *graphEdge](4)
	}
	e.hi.Put(id, edge)
}

func (e *graphEdges) del(id Id) {
	if id < lowIdCount {
		if e.lo != nil {
			e.lo[id] = nil
		}
		return
	}
	if e.hi != nil {
		e.hi.Del(id)
	}
}

func (e *graphEdges) forEach(fn func(*graphEdge)) {
	if e.lo != nil {
		for _, edge := range e.lo {
			if edge != nil {
				fn(edge)
			}
		}
	}
	if e.hi != nil {
		e.hi.ForEach(func(_ Id, edge *graphEdge) bool {
			fn(edge)
			return true
		})
	}
}

// graphNode holds the memoized add and remove transitions of a table, plus
// the edges of other tables that lead to it.
type graphNode struct {
	add    graphEdges
	remove graphEdges
	refs   []*graphEdge
}

func (w *World) newEdge(from, to *Table, id Id, add bool) {
	h, edge := w.edgePool.Alloc()
	edge.from = from
	edge.to = to
	edge.id = id
	edge.add = add
	edge.handle = h
	if add {
		from.node.add.put(id, edge)
	} else {
		from.node.remove.put(id, edge)
	}
	if to != from {
		to.node.refs = append(to.node.refs, edge)
	}
}

func (w *World) freeEdge(edge *graphEdge) {
	w.edgePool.Free(edge.handle)
}

// clearEdges drops every edge from or to t.
func (w *World) clearEdges(t *Table) {
	drop := func(edge *graphEdge) {
		if edge.to != t {
			edge.to.node.refs = slices.DeleteFunc(edge.to.node.refs, func(r *graphEdge) bool { return r == edge })
		}
		w.freeEdge(edge)
	}
	t.node.add.forEach(drop)
	t.node.remove.forEach(drop)
	t.node.add = graphEdges{}
	t.node.remove = graphEdges{}

	for _, edge := range t.node.refs {
		if edge.add {
			edge.from.node.add.del(edge.id)
		} else {
			edge.from.node.remove.del(edge.id)
		}
		w.freeEdge(edge)
	}
	t.node.refs = nil
}

// TableAdd returns the table reached by adding id to t, creating it if
// needed. Adding an exclusive pair replaces the previous target.
func (w *World) TableAdd(t *Table, id Id) *Table {
	id = idKey(id)
	if edge := t.node.add.get(id); edge != nil {
		w.stats.edgeHits++
		return edge.to
	}
	w.stats.edgeMisses++

	idr := w.ensureIdRecord(id)
	dst := t
	if idr.flags&IdIsDontFragment == 0 {
		cur := w.scratch.Push()
		typ := typeAdd(w.scratch.Alloc(len(t.typ)+1)[:0], t.typ, id, idr.flags&IdIsExclusive != 0)
		dst = w.findOrCreateTable(typ)
		w.scratch.Pop(cur)
	}
	w.newEdge(t, dst, id, true)

	// the reverse edge is only the inverse when nothing was replaced
	if dst != t && len(dst.typ) == len(t.typ)+1 && dst.node.remove.get(id) == nil {
		w.newEdge(dst, t, id, false)
	}
	return dst
}

// TableRemove returns the table reached by removing id from t. Wildcards
// remove every matching id.
func (w *World) TableRemove(t *Table, id Id) *Table {
	id = idKey(id)
	if id.IsWildcard() {
		cur := w.scratch.Push()
		defer w.scratch.Pop(cur)
		typ := w.scratch.Alloc(len(t.typ))[:0]
		for _, other := range t.typ {
			if !other.Matches(id) {
				typ = append(typ, other)
			}
		}
		if len(typ) == len(t.typ) {
			return t
		}
		return w.findOrCreateTable(typ)
	}

	if edge := t.node.remove.get(id); edge != nil {
		w.stats.edgeHits++
		return edge.to
	}
	w.stats.edgeMisses++

	dst := t
	if i := t.typeIndex(id); i >= 0 {
		cur := w.scratch.Push()
		typ := append(w.scratch.Alloc(len(t.typ))[:0], t.typ[:i]...)
		dst = w.findOrCreateTable(append(typ, t.typ[i+1:]...))
		w.scratch.Pop(cur)
	}
	w.newEdge(t, dst, id, false)
	if dst != t && dst.node.add.get(id) == nil {
		w.newEdge(dst, t, id, true)
	}
	return dst
}

// typeAdd appends typ with id inserted to out, which needs room for
// len(typ)+1 ids. For an exclusive relationship any pair with the same
// relationship is replaced.
func typeAdd(out, typ []Id, id Id, exclusive bool) []Id {
	exclusive = exclusive && id.IsPair()
	for _, other := range typ {
		if exclusive && other.IsPair() && other.First() == id.First() && other != id {
			continue
		}
		out = append(out, other)
	}
	i, found := slices.BinarySearch(out, id)
	if found {
		return out
	}
	return slices.Insert(out, i, id)
}

// typeDiff returns the ids only in dst (added) and only in src (removed).
func typeDiff(src, dst []Id) (added, removed []Id) {
	i, j := 0, 0
	for i < len(src) || j < len(dst) {
		switch {
		case j == len(dst) || (i < len(src) && src[i] < dst[j]):
			removed = append(removed, src[i])
			i++
		case i == len(src) || dst[j] < src[i]:
			added = append(added, dst[j])
			j++
		default:
			i++
			j++
		}
	}
	return added, removed
}
