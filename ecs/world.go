package ecs

import (
	"sync/atomic"

	"github.com/kamstrup/intmap"
	"github.com/plus3/ecscore/ecs/alloc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// WorldState is the lifecycle state of a world.
type WorldState uint8

const (
	StateInitializing WorldState = iota
	StateRunning
	// Quit was called. The world stays fully usable until Fini.
	StateQuitting
	StateFinalizing
	StateFinalized
)

func (s WorldState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateQuitting:
		return "quitting"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	}
	return "unknown"
}

const defaultFiniMergeLimit = 64

type worldConfig struct {
	logger         *zap.Logger
	onFatal        FatalHandler
	entityCapacity int
	finiMergeLimit int
	stageCount     int
}

// Option configures a World.
type Option func(*worldConfig)

// WithLogger sets the logger. The default logger discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *worldConfig) { c.logger = l }
}

// WithFatalHandler installs a callback that runs before the world panics on
// an unrecoverable error.
func WithFatalHandler(fn FatalHandler) Option {
	return func(c *worldConfig) { c.onFatal = fn }
}

// WithEntityCapacity preallocates the entity index.
func WithEntityCapacity(n int) Option {
	return func(c *worldConfig) { c.entityCapacity = n }
}

// WithFiniMergeLimit bounds the number of merge rounds for commands queued
// by cleanup hooks during Fini.
func WithFiniMergeLimit(n int) Option {
	return func(c *worldConfig) { c.finiMergeLimit = n }
}

// WithStageCount creates n async stages up front, available through Stage.
func WithStageCount(n int) Option {
	return func(c *worldConfig) { c.stageCount = n }
}

// World owns all storage: the entity index, tables, id records, stages and
// the component registry.
type World struct {
	log     *zap.Logger
	onFatal FatalHandler

	state    WorldState
	quit     atomic.Bool
	readonly atomic.Bool

	entityIndex  *entityIndex
	registry     *ComponentRegistry
	idRecords    *intmap.Map[Id, *IdRecord]
	idRecordPool *alloc.BlockAllocator[IdRecord]
	edgePool     *alloc.BlockAllocator[graphEdge]
	tables       *tableStore
	dontFragment []*IdRecord
	names        *nameIndex
	observers    observers

	stages  []*Stage
	scratch *alloc.StackAllocator[Id]

	nextComponent  uint32
	finiMergeLimit int
	stats          worldCounters
}

// NewWorld creates a world with the built-in entities in place.
func NewWorld(opts ...Option) *World {
	cfg := worldConfig{
		logger:         zap.NewNop(),
		entityCapacity: 1024,
		finiMergeLimit: defaultFiniMergeLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &World{
		log:            cfg.logger,
		onFatal:        cfg.onFatal,
		state:          StateInitializing,
		entityIndex:    newEntityIndex(cfg.entityCapacity),
		registry:       newComponentRegistry(),
		idRecords:      intmap.New[Id, *IdRecord](256),
		idRecordPool:   alloc.NewBlockAllocator[IdRecord](256),
		edgePool:       alloc.NewBlockAllocator[graphEdge](256),
		tables:         newTableStore(),
		names:          newNameIndex(),
		scratch:        alloc.NewStackAllocator[Id](),
		nextComponent:  FirstUserComponentIndex,
		finiMergeLimit: cfg.finiMergeLimit,
	}
	w.stages = []*Stage{newStage(w, 0, false)}
	w.tables.root = w.findOrCreateTable(nil)

	w.bootstrap()
	for i := 0; i < cfg.stageCount; i++ {
		w.NewStage()
	}

	w.state = StateRunning
	w.log.Debug("world created", zap.Int("entities", w.entityIndex.count()), zap.Int("tables", w.TableCount()))
	return w
}

func (w *World) bootstrap() {
	root := w.tables.root
	for id := Wildcard; id < lastBuiltin; id++ {
		r := w.entityIndex.makeAlive(id)
		r.table = root
		r.row = int32(root.appendRow(id))
	}

	nameInfo := newTypeInfo(nameHooks())
	nameInfo.Component = Name
	w.registry.add(nameInfo)
	w.Add(Name, Component)

	for _, rel := range [...]Id{OnDelete, OnDeleteTarget} {
		w.Add(rel, Exclusive)
	}
	w.Add(ChildOf, Exclusive)
	w.Add(ChildOf, Traversable)
	w.Add(ChildOf, Final)
	w.AddPair(ChildOf, OnDeleteTarget, Delete)

	for id := Wildcard; id < lastBuiltin; id++ {
		if err := w.SetName(id, builtinNames[id]); err != nil {
			w.fatal(err, "bootstrap name")
		}
	}
}

// State returns the lifecycle state.
func (w *World) State() WorldState {
	if w.state == StateRunning && w.quit.Load() {
		return StateQuitting
	}
	return w.state
}

// Logger returns the world logger.
func (w *World) Logger() *zap.Logger { return w.log }

// Registry returns the component registry.
func (w *World) Registry() *ComponentRegistry { return w.registry }

// Quit asks the application loop to stop and moves the world to
// StateQuitting. It is safe to call from systems running in parallel.
func (w *World) Quit() { w.quit.Store(true) }

// ShouldQuit reports whether Quit was called.
func (w *World) ShouldQuit() bool { return w.quit.Load() }

func (w *World) assertMutable() {
	if w.readonly.Load() {
		w.fatal(ErrReadonly, "direct mutation while readonly, use a stage")
	}
	if w.state >= StateFinalized {
		w.fatal(ErrFinalized, "mutation after Fini")
	}
}

func (w *World) registerComponent(ti *TypeInfo) Id {
	w.assertMutable()

	for w.nextComponent < FirstUserEntityIndex && w.entityIndex.exists(Id(w.nextComponent)) {
		w.nextComponent++
	}

	var id Id
	if w.nextComponent < FirstUserEntityIndex {
		id = Id(w.nextComponent)
		w.nextComponent++
		r := w.entityIndex.makeAlive(id)
		r.table = w.tables.root
		r.row = int32(w.tables.root.appendRow(id))
	} else {
		id = w.New()
	}

	ti.Component = id
	w.registry.add(ti)
	w.Add(id, Component)
	if err := w.SetName(id, ti.Name); err != nil {
		w.log.Debug("component name not indexed", zap.String("name", ti.Name), zap.Error(err))
	}
	w.log.Debug("component registered", zap.String("name", ti.Name), zap.Stringer("id", id))
	return id
}

// Fini tears the world down in a fixed order: OnRemove for every instance
// while all entities are alive, then deletion of regular entities,
// components and built-ins without hooks, then release of all storage.
func (w *World) Fini() error {
	if w.state >= StateFinalizing {
		return nil
	}
	w.assertMutable()
	s0 := w.stages[0]
	if s0.deferDepth > 0 {
		w.fatal(ErrInvalidOperation, "Fini called while deferred")
	}

	w.state = StateFinalizing
	var errs error
	for _, s := range w.stages[1:] {
		s.Discard()
	}

	// pass 1: OnRemove while everything is still alive
	s0.deferDepth++
	for _, t := range append([]*Table(nil), w.tables.list...) {
		for row := 0; row < t.Count(); row++ {
			w.emitRemoveAll(t.entities[row], t, row)
		}
	}
	for _, idr := range append([]*IdRecord(nil), w.dontFragment...) {
		for _, e := range append([]Id(nil), idr.sparse.entities()...) {
			w.emit(OnRemove, e, idr.id, nil, idr.sparse.get(e), idr.typeInfo)
		}
	}
	errs = multierr.Append(errs, s0.endDefer())
	w.log.Debug("fini: remove events emitted")

	w.idRecords.ForEach(func(_ Id, idr *IdRecord) bool {
		if p := idr.flags; p&(IdOnDeletePanic|IdOnDeleteTargetPanic) != 0 && idr.inUse() {
			w.log.Warn("panic cleanup policy ignored during fini", zap.Stringer("id", idr.id))
		}
		return true
	})

	// pass 2: regular entities, then components, then built-ins
	for _, class := range [...]entityClass{classRegular, classComponent, classBuiltin} {
		n := 0
		for _, t := range w.tables.list {
			for row := t.Count() - 1; row >= 0; row-- {
				e := t.entities[row]
				if w.classify(e, t) != class {
					continue
				}
				w.removeSparseValues(e, t)
				if moved := t.deleteRow(row, true); moved != 0 {
					w.entityIndex.getAny(moved).row = int32(row)
				}
				w.entityIndex.remove(e)
				n++
			}
		}
		w.log.Debug("fini: entities deleted", zap.String("class", class.String()), zap.Int("count", n))
	}

	// pass 3: release storage
	for len(w.tables.list) > 0 {
		w.deleteTable(w.tables.list[len(w.tables.list)-1])
	}
	var records []*IdRecord
	w.idRecords.ForEach(func(_ Id, idr *IdRecord) bool {
		records = append(records, idr)
		return true
	})
	for _, idr := range records {
		w.freeIdRecord(idr)
	}
	w.tables.root = nil
	w.dontFragment = nil
	w.names.reset()
	w.entityIndex.reset()
	w.registry = newComponentRegistry()
	w.edgePool.Reset()
	w.idRecordPool.Reset()
	w.scratch.Reset()

	w.state = StateFinalized
	w.log.Debug("world finalized")
	return errs
}

type entityClass uint8

const (
	classRegular entityClass = iota
	classComponent
	classBuiltin
)

func (c entityClass) String() string {
	switch c {
	case classComponent:
		return "component"
	case classBuiltin:
		return "builtin"
	}
	return "regular"
}

func (w *World) classify(e Id, t *Table) entityClass {
	switch {
	case e.Index() < uint32(lastBuiltin):
		return classBuiltin
	case t.has(Component):
		return classComponent
	}
	return classRegular
}
