package ecs

import (
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

type doomedEntity struct {
	id    Id
	flags recordFlags
}

// cleanupPlan collects everything a delete affects before anything is
// mutated, so a Panic policy can reject the delete with the world intact.
type cleanupPlan struct {
	w        *World
	entities []doomedEntity
	removals []Id
	marked   []*IdRecord
}

// Delete deletes e and applies the cleanup policies of every id that refers
// to it. Deleting a dead entity is a no-op.
func (w *World) Delete(e EntityId) error {
	return w.stages[0].Delete(e)
}

func (w *World) deleteImmediate(e Id) error {
	if !w.IsAlive(e) {
		return nil
	}
	if e.Index() < uint32(lastBuiltin) && w.state < StateFinalizing {
		w.fatal(ErrInvalidOperation, "cannot delete a built-in entity", zap.Stringer("entity", e))
	}

	p := &cleanupPlan{w: w}
	if err := p.markEntity(e); err != nil {
		p.abort()
		return err
	}
	p.execute()
	return nil
}

func (p *cleanupPlan) markEntity(e Id) error {
	w := p.w
	r := w.entityIndex.get(e)
	if r == nil || r.flags&recordMarkedForDelete != 0 {
		return nil
	}
	r.flags |= recordMarkedForDelete
	p.entities = append(p.entities, doomedEntity{id: e, flags: r.flags})

	if r.flags&recordIsId != 0 {
		for _, key := range [...]Id{e.StripGeneration(), Pair(e, Wildcard)} {
			if idr := w.idRecord(key); idr != nil {
				if err := p.markId(idr, idr.flags.onDelete()); err != nil {
					return err
				}
			}
		}
	}
	if r.flags&recordIsTarget != 0 {
		if err := p.markTarget(e); err != nil {
			return err
		}
	}
	return nil
}

func (p *cleanupPlan) markId(idr *IdRecord, policy CleanupPolicy) error {
	if idr.flags&IdMarkedForDelete != 0 {
		return nil
	}
	idr.flags |= IdMarkedForDelete
	p.marked = append(p.marked, idr)

	switch policy {
	case CleanupPanic:
		if idr.inUse() {
			return eris.Wrapf(ErrOnDeletePanic, "id %s is still in use", p.w.idName(idr.id))
		}
	case CleanupDelete:
		for _, tr := range slices.Clone(idr.tables) {
			for _, e := range slices.Clone(tr.table.entities) {
				if err := p.markEntity(e); err != nil {
					return err
				}
			}
		}
		if idr.sparse != nil && idr.flags&IdIsDontFragment != 0 {
			for _, e := range slices.Clone(idr.sparse.entities()) {
				if err := p.markEntity(e); err != nil {
					return err
				}
			}
		}
	default:
		p.removals = append(p.removals, idr.id)
	}
	return nil
}

// markTarget applies the OnDeleteTarget policy of every relationship that
// uses target. Delete takes precedence over the other policies of a table.
func (p *cleanupPlan) markTarget(target Id) error {
	w := p.w
	pattern := Pair(Wildcard, target)

	if idr := w.idRecord(pattern); idr != nil {
		for _, tr := range slices.Clone(idr.tables) {
			t := tr.table
			if t.Count() == 0 {
				continue
			}
			policy := CleanupRemove
			for _, id := range t.typ {
				if !id.IsPair() || !id.Matches(pattern) {
					continue
				}
				switch w.idRecord(id).flags.onDeleteTarget() {
				case CleanupDelete:
					policy = CleanupDelete
				case CleanupPanic:
					if policy != CleanupDelete {
						policy = CleanupPanic
					}
				}
			}

			switch policy {
			case CleanupDelete:
				for _, e := range slices.Clone(t.entities) {
					if err := p.markEntity(e); err != nil {
						return err
					}
				}
			case CleanupPanic:
				return eris.Wrapf(ErrOnDeletePanic, "%s is the target of a relationship", w.idName(target))
			}
		}
	}

	for _, idr := range slices.Clone(w.dontFragment) {
		if !idr.id.IsPair() || !idr.id.Matches(pattern) || idr.sparse.count() == 0 {
			continue
		}
		switch idr.flags.onDeleteTarget() {
		case CleanupDelete:
			for _, e := range slices.Clone(idr.sparse.entities()) {
				if err := p.markEntity(e); err != nil {
					return err
				}
			}
		case CleanupPanic:
			return eris.Wrapf(ErrOnDeletePanic, "%s is the target of a relationship", w.idName(target))
		}
	}

	p.removals = append(p.removals, pattern)
	return nil
}

func (p *cleanupPlan) abort() {
	for _, d := range p.entities {
		if r := p.w.entityIndex.get(d.id); r != nil {
			r.flags &^= recordMarkedForDelete
		}
	}
	for _, idr := range p.marked {
		idr.flags &^= IdMarkedForDelete
	}
}

func (p *cleanupPlan) execute() {
	w := p.w

	// children were discovered after their parents, so this deletes leaves
	// first
	for i := len(p.entities) - 1; i >= 0; i-- {
		w.deleteEntityNow(p.entities[i].id)
	}

	for _, idr := range p.marked {
		idr.flags &^= IdMarkedForDelete
	}
	for _, pattern := range p.removals {
		w.removeIdFromAll(pattern)
	}

	for _, d := range p.entities {
		if d.flags&(recordIsId|recordIsTarget) != 0 {
			w.releaseDeletedId(d.id)
		}
	}
	w.log.Debug("delete", zap.Int("entities", len(p.entities)), zap.Int("removals", len(p.removals)))
}

// removeIdFromAll removes every id matching pattern from every entity.
func (w *World) removeIdFromAll(pattern Id) {
	if idr := w.idRecord(pattern); idr != nil {
		for _, tr := range slices.Clone(idr.tables) {
			t := tr.table
			if t.Count() == 0 {
				continue
			}
			dst := w.TableRemove(t, pattern)
			for row := t.Count() - 1; row >= 0; row-- {
				e := t.entities[row]
				w.commit(e, w.entityIndex.get(e), dst)
			}
		}
	}

	for _, idr := range slices.Clone(w.dontFragment) {
		if !idr.id.Matches(pattern) {
			continue
		}
		for _, e := range slices.Clone(idr.sparse.entities()) {
			if r := w.entityIndex.get(e); r != nil {
				w.removeDontFragment(e, r, idr)
			}
		}
	}
}

// releaseDeletedId destroys the tables and id records that refer to a
// deleted entity.
func (w *World) releaseDeletedId(e Id) {
	x := e.StripGeneration()

	var stale []*Table
	for _, key := range [...]Id{x, Pair(x, Wildcard), Pair(Wildcard, x)} {
		idr := w.idRecord(key)
		if idr == nil {
			continue
		}
		for t := range idr.Tables() {
			if !slices.Contains(stale, t) {
				stale = append(stale, t)
			}
		}
	}
	for _, t := range stale {
		if t.Count() > 0 {
			w.log.Error("table still in use after cleanup", zap.Stringer("table", t), zap.Stringer("id", x))
			continue
		}
		w.deleteTable(t)
	}

	var records []*IdRecord
	w.idRecords.ForEach(func(id Id, idr *IdRecord) bool {
		if id == x || (id.IsPair() && (id.First() == x || id.Second() == x)) {
			records = append(records, idr)
		}
		return true
	})
	for _, idr := range records {
		if idr.isEmpty() || len(idr.tables) == 0 {
			w.freeIdRecord(idr)
		}
	}
	w.registry.remove(x)
}
