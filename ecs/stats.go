package ecs

import "slices"

type worldCounters struct {
	edgeHits      uint64
	edgeMisses    uint64
	tablesCreated uint64
	tablesDeleted uint64
	moves         uint64
	deletes       uint64
}

// TableStats describes one table.
type TableStats struct {
	ID          uint64
	Type        string
	Ids         []Id
	EntityCount int
	Columns     int
	Pages       int
}

// CommandStats sums the command counters of every stage.
type CommandStats struct {
	Queued    uint64
	Batched   uint64
	Merged    uint64
	Dropped   uint64
	Discarded uint64
	Pending   int
}

// WorldStats is a snapshot of the storage of a world.
type WorldStats struct {
	TotalEntityCount int
	NotAliveCount    int
	TableCount       int
	EmptyTableCount  int
	IdRecordCount    int
	ComponentCount   int
	SingletonCount   int
	SingletonTypes   []string
	StageCount       int

	TablesCreated uint64
	TablesDeleted uint64
	EdgeHits      uint64
	EdgeMisses    uint64
	Moves         uint64
	Deletes       uint64

	Commands       CommandStats
	TableBreakdown []TableStats
}

// CollectStats gathers a snapshot of the world. It only reads and may be
// called while the world is readonly.
func (w *World) CollectStats() WorldStats {
	stats := WorldStats{
		TotalEntityCount: w.entityIndex.count(),
		NotAliveCount:    w.entityIndex.notAliveCount(),
		TableCount:       w.TableCount(),
		IdRecordCount:    w.idRecords.Len(),
		ComponentCount:   w.registry.Len(),
		StageCount:       len(w.stages),
		TablesCreated:    w.stats.tablesCreated,
		TablesDeleted:    w.stats.tablesDeleted,
		EdgeHits:         w.stats.edgeHits,
		EdgeMisses:       w.stats.edgeMisses,
		Moves:            w.stats.moves,
		Deletes:          w.stats.deletes,
	}

	for t := range w.Tables() {
		if t.Count() == 0 {
			stats.EmptyTableCount++
		}
		ts := TableStats{
			ID:          t.id,
			Type:        t.String(),
			Ids:         t.typ,
			EntityCount: t.Count(),
			Columns:     len(t.columns),
		}
		for _, c := range t.columns {
			ts.Pages += c.data.pageCount()
		}
		stats.TableBreakdown = append(stats.TableBreakdown, ts)
	}

	for _, s := range w.stages {
		stats.Commands.Queued += s.counters.queued
		stats.Commands.Batched += s.counters.batched
		stats.Commands.Merged += s.counters.merged
		stats.Commands.Dropped += s.counters.dropped
		stats.Commands.Discarded += s.counters.discarded
		stats.Commands.Pending += len(s.queue)
	}

	w.registry.byId.ForEach(func(id Id, ti *TypeInfo) bool {
		if id >= lastBuiltin && !ti.isTag() && w.GetRaw(id, id) != nil {
			stats.SingletonCount++
			stats.SingletonTypes = append(stats.SingletonTypes, ti.Name)
		}
		return true
	})
	slices.Sort(stats.SingletonTypes)
	return stats
}
