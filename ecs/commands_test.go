package ecs_test

import (
	"slices"
	"testing"

	"github.com/plus3/ecscore/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferBeginEnd(t *testing.T) {
	w := newTestWorld(t)

	w.DeferBegin()
	assert.True(t, w.IsDeferred())
	e := w.New()
	assert.True(t, w.IsAlive(e), "ids are handed out right away")
	w.Add(e, w.Enemy)
	ecs.Set(w.World, e, Position{X: 1})
	assert.False(t, w.Has(e, w.Enemy))
	assert.Nil(t, ecs.Get[Position](w.World, e))

	require.NoError(t, w.DeferEnd())
	assert.False(t, w.IsDeferred())
	assert.True(t, w.Has(e, w.Enemy))
	assert.Equal(t, float32(1), ecs.Get[Position](w.World, e).X)
}

func TestDeferNested(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	w.DeferBegin()
	w.DeferBegin()
	w.Add(e, w.Enemy)
	require.NoError(t, w.DeferEnd())
	assert.False(t, w.Has(e, w.Enemy), "only the outermost DeferEnd flushes")
	require.NoError(t, w.DeferEnd())
	assert.True(t, w.Has(e, w.Enemy))
}

func TestDeferEndUnderflow(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	assert.Panics(t, func() { _ = w.DeferEnd() })
	assert.ErrorIs(t, fatal, ecs.ErrDeferUnderflow)
}

func TestDeferSuspend(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	w.DeferBegin()
	w.Add(e, w.Frozen)
	w.DeferSuspend()
	assert.True(t, w.IsDeferSuspended())
	assert.False(t, w.IsDeferred())
	w.Add(e, w.Enemy)
	assert.True(t, w.Has(e, w.Enemy), "suspended mutations run immediately")
	assert.False(t, w.Has(e, w.Frozen))
	w.DeferResume()

	require.NoError(t, w.DeferEnd())
	assert.True(t, w.Has(e, w.Frozen))
}

func TestDeferEndWhileSuspended(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	e := w.New()

	w.DeferBegin()
	w.Add(e, w.Frozen)
	w.DeferSuspend()
	assert.Panics(t, func() { _ = w.DeferEnd() })
	assert.ErrorIs(t, fatal, ecs.ErrInvalidOperation)

	// the queue is still pending and flushes once resumed
	w.DeferResume()
	assert.True(t, w.IsDeferred())
	require.NoError(t, w.DeferEnd())
	assert.True(t, w.Has(e, w.Frozen))
}

func TestNestedDeferEndWhileSuspended(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	w.DeferBegin()
	w.DeferBegin()
	w.Add(e, w.Frozen)
	w.DeferSuspend()
	require.NoError(t, w.DeferEnd())
	w.DeferResume()
	assert.False(t, w.Has(e, w.Frozen))
	require.NoError(t, w.DeferEnd())
	assert.True(t, w.Has(e, w.Frozen))
}

func TestDeferredAddRemoveCancel(t *testing.T) {
	w := newTestWorld(t)
	added := 0
	w.Observe(ecs.OnAdd, w.Enemy, func(ecs.Event) { added++ })
	e := w.New()

	w.DeferBegin()
	w.Add(e, w.Enemy)
	w.Remove(e, w.Enemy)
	require.NoError(t, w.DeferEnd())

	assert.False(t, w.Has(e, w.Enemy))
	assert.Zero(t, added, "folded commands never reach the table")
}

func TestDeferredSetThenRemove(t *testing.T) {
	w := newTestWorld(t)
	var sets, removes int
	w.Observe(ecs.OnSet, w.Position, func(ecs.Event) { sets++ })
	w.Observe(ecs.OnRemove, w.Position, func(ecs.Event) { removes++ })
	e := w.New()

	w.DeferBegin()
	ecs.Set(w.World, e, Position{X: 1})
	w.Remove(e, w.Position)
	require.NoError(t, w.DeferEnd())

	assert.False(t, w.Has(e, w.Position))
	assert.Equal(t, 1, sets)
	assert.Equal(t, 1, removes)
}

func TestDeferredSetCopiesValue(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	v := Position{X: 1}
	w.DeferBegin()
	ecs.Set(w.World, e, v)
	v.X = 2
	ecs.Set(w.World, e, Velocity{DX: 3})
	require.NoError(t, w.DeferEnd())

	assert.Equal(t, float32(1), ecs.Get[Position](w.World, e).X)
	assert.Equal(t, float32(3), ecs.Get[Velocity](w.World, e).DX)
	assert.Same(t, w.FindTable(w.Position, w.Velocity), w.TableOf(e))
}

func TestDeferredEnsure(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	w.DeferBegin()
	h := ecs.Ensure[Health](w.World, e)
	require.NotNil(t, h)
	h.Current = 3
	require.NoError(t, w.DeferEnd())

	assert.Equal(t, 3, ecs.Get[Health](w.World, e).Current)
}

func TestDeferredLastSetWins(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	w.DeferBegin()
	ecs.Set(w.World, e, Score(1))
	ecs.Set(w.World, e, Score(2))
	require.NoError(t, w.DeferEnd())

	assert.Equal(t, Score(2), *ecs.Get[Score](w.World, e))
}

func TestDeferredCommandOnDeadEntityIsDropped(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	w.DeferBegin()
	require.NoError(t, w.Delete(e))
	w.Add(e, w.Enemy)
	ecs.Set(w.World, e, Position{})
	require.NoError(t, w.DeferEnd())

	assert.False(t, w.IsAlive(e))
	stats := w.CollectStats()
	assert.Equal(t, uint64(2), stats.Commands.Dropped)
	assert.Zero(t, stats.Commands.Pending)
}

func TestDeferredPairWithDeletedTarget(t *testing.T) {
	w := newTestWorld(t)
	parent := w.New()
	child := w.New()
	likes := w.New()
	other := w.New()

	w.DeferBegin()
	require.NoError(t, w.Delete(parent))
	w.AddPair(child, ecs.ChildOf, parent)
	w.AddPair(other, likes, parent)
	require.NoError(t, w.DeferEnd())

	assert.False(t, w.IsAlive(child), "(OnDeleteTarget, Delete) applies to late ChildOf pairs")
	assert.True(t, w.IsAlive(other))
	assert.False(t, w.Has(other, ecs.Pair(likes, ecs.Wildcard)))
}

func TestDeferredNewThenDelete(t *testing.T) {
	w := newTestWorld(t)

	w.DeferBegin()
	e := w.New(w.Enemy)
	require.NoError(t, w.Delete(e))
	require.NoError(t, w.DeferEnd())

	assert.False(t, w.IsAlive(e))
}

func TestDeferFn(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()
	var order []string

	w.DeferBegin()
	w.Add(e, w.Enemy)
	w.Defer(func() {
		order = append(order, "fn")
		assert.True(t, w.Has(e, w.Enemy), "runs after earlier commands")
	})
	assert.Empty(t, order)
	require.NoError(t, w.DeferEnd())
	assert.Equal(t, []string{"fn"}, order)

	w.Defer(func() { order = append(order, "now") })
	assert.Equal(t, []string{"fn", "now"}, order)
}

func TestDeferredCommandsAreBatched(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()
	before := w.CollectStats()

	w.DeferBegin()
	w.Add(e, w.Enemy)
	w.Add(e, w.Frozen)
	ecs.Set(w.World, e, Position{})
	ecs.Set(w.World, e, Velocity{})
	require.NoError(t, w.DeferEnd())

	after := w.CollectStats()
	assert.Equal(t, before.Moves+1, after.Moves, "four commands, one table move")
	assert.Equal(t, uint64(4), after.Commands.Batched-before.Commands.Batched)
}

func TestDeferredEntityDesc(t *testing.T) {
	w := newTestWorld(t)
	parent, err := w.Entity(ecs.EntityDesc{Name: "ship"})
	require.NoError(t, err)

	w.DeferBegin()
	e, err := w.Entity(ecs.EntityDesc{Name: "engine", Parent: parent, Add: []ecs.Id{w.Enemy}})
	require.NoError(t, err)
	require.NoError(t, w.DeferEnd())

	assert.Equal(t, e, w.Lookup("ship::engine"))
	assert.Equal(t, parent, w.Parent(e))
	assert.True(t, w.Has(e, w.Enemy))
}

func TestAsyncStage(t *testing.T) {
	w := newTestWorld(t)
	s := w.NewStage()
	assert.Equal(t, 1, s.Id())
	assert.Same(t, w.World, s.World())

	e := s.New(w.Enemy)
	ecs.Set(s, e, Position{X: 4})
	assert.False(t, w.IsAlive(e), "async entities become alive on merge")
	assert.Equal(t, 3, s.Pending())

	require.NoError(t, s.Merge())
	assert.Zero(t, s.Pending())
	assert.True(t, w.IsAlive(e))
	assert.True(t, w.Has(e, w.Enemy))
	assert.Equal(t, float32(4), ecs.Get[Position](w.World, e).X)
}

func TestAsyncStageQueuesExistingEntities(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()
	s := w.NewStage()

	s.Add(e, w.Enemy)
	require.NoError(t, s.Delete(e))
	assert.True(t, w.IsAlive(e))

	require.NoError(t, s.Merge())
	assert.False(t, w.IsAlive(e))
}

func TestStageDiscard(t *testing.T) {
	w := newTestWorld(t)
	dtors := 0
	ecs.RegisterComponent(w.World, ecs.Hooks[Resource]{Dtor: func(*Resource) { dtors++ }})
	s := w.NewStage()

	e := s.New()
	ecs.Set(s, e, Resource{Handle: 1})
	s.Discard()

	assert.Zero(t, s.Pending())
	assert.Equal(t, 1, dtors, "the staged copy is destructed")
	require.NoError(t, s.Merge())
	assert.False(t, w.IsAlive(e))
}

func TestReadonly(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	e := w.New()
	s := w.NewStage()

	w.ReadonlyBegin()
	assert.True(t, w.IsReadonly())
	assert.Panics(t, func() { w.Add(e, w.Enemy) })
	assert.ErrorIs(t, fatal, ecs.ErrReadonly)

	s.Add(e, w.Enemy)
	assert.False(t, w.Has(e, w.Enemy))
	require.NoError(t, w.ReadonlyEnd())

	assert.False(t, w.IsReadonly())
	assert.True(t, w.Has(e, w.Enemy))
}

func TestReadonlyEndMergesInStageOrder(t *testing.T) {
	w := newTestWorld(t, ecs.WithStageCount(2))
	require.Equal(t, 3, w.StageCount())
	e := w.New()

	w.ReadonlyBegin()
	ecs.Set(w.Stage(2), e, Score(2))
	ecs.Set(w.Stage(1), e, Score(1))
	require.NoError(t, w.ReadonlyEnd())

	assert.Equal(t, Score(2), *ecs.Get[Score](w.World, e))
}

func TestReadonlyNameConflict(t *testing.T) {
	w := newTestWorld(t, ecs.WithStageCount(2))

	w.ReadonlyBegin()
	first, err := w.Stage(1).Entity(ecs.EntityDesc{Name: "player"})
	require.NoError(t, err)
	second, err := w.Stage(2).Entity(ecs.EntityDesc{Name: "player"})
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	err = w.ReadonlyEnd()
	assert.ErrorIs(t, err, ecs.ErrNameConflict)
	assert.Equal(t, first, w.Lookup("player"))
	assert.True(t, w.IsAlive(first))
	assert.False(t, w.IsAlive(second), "the losing entity is rolled back")
}

func TestMergeWhileReadonlyIsFatal(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	s := w.NewStage()

	w.ReadonlyBegin()
	assert.Panics(t, func() { _ = s.Merge() })
	assert.ErrorIs(t, fatal, ecs.ErrReadonly)
	require.NoError(t, w.ReadonlyEnd())
}

func TestHookCommandsDuringMerge(t *testing.T) {
	w := newTestWorld(t)
	ecs.RegisterComponent(w.World, ecs.Hooks[Resource]{
		OnAdd: func(hw *ecs.World, e ecs.EntityId, _ *Resource) {
			assert.True(t, hw.IsDeferred())
			hw.Add(e, w.Frozen)
		},
	})
	s := w.NewStage()
	e := s.New()
	ecs.Set(s, e, Resource{})

	require.NoError(t, s.Merge())
	assert.True(t, w.Has(e, w.Frozen))
	assert.False(t, w.IsDeferred())
}

type entityState struct {
	Alive    bool
	Type     []ecs.Id
	Position *Position
	Velocity *Velocity
	Health   *Health
}

func snapshot(w *testWorld, ents []ecs.EntityId) []entityState {
	out := make([]entityState, len(ents))
	for i, e := range ents {
		if !w.IsAlive(e) {
			continue
		}
		out[i] = entityState{
			Alive:    true,
			Type:     slices.Clone(w.Type(e)),
			Position: ecs.Get[Position](w.World, e),
			Velocity: ecs.Get[Velocity](w.World, e),
			Health:   ecs.Get[Health](w.World, e),
		}
	}
	return out
}

func TestDeferredMatchesImmediate(t *testing.T) {
	type step func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId)

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "add set remove",
			steps: []step{
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { m.Add((*ents)[0], w.Enemy) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[0], Position{X: 1}) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { m.Remove((*ents)[0], w.Enemy) },
			},
		},
		{
			name: "last set wins",
			steps: []step{
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[1], Position{X: 1}) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[1], Velocity{DX: 2}) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[1], Position{X: 3, Y: 4}) },
			},
		},
		{
			name: "remove then add again",
			steps: []step{
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { m.Remove((*ents)[2], w.Position) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { m.Add((*ents)[2], w.Frozen) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[2], Position{Y: 9}) },
			},
		},
		{
			name: "ensure and clear",
			steps: []step{
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Ensure[Health](m, (*ents)[0]).Current = 7 },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[1], Health{Max: 3}) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { m.Clear((*ents)[1]) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[1], Velocity{DY: 1}) },
			},
		},
		{
			name: "create and delete",
			steps: []step{
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) {
					e := m.New(w.Enemy)
					ecs.Set(m, e, Health{Current: 1, Max: 1})
					*ents = append(*ents, e)
				},
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[0], Velocity{DX: 5}) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { _ = m.Delete((*ents)[0]) },
			},
		},
		{
			name: "delete cascades to children",
			steps: []step{
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { m.AddPair((*ents)[1], ecs.ChildOf, (*ents)[0]) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { ecs.Set(m, (*ents)[1], Health{Current: 2}) },
				func(m ecs.Mutator, w *testWorld, ents *[]ecs.EntityId) { _ = m.Delete((*ents)[0]) },
			},
		},
	}

	setup := func(t *testing.T) (*testWorld, []ecs.EntityId) {
		w := newTestWorld(t)
		ents := make([]ecs.EntityId, 3)
		for i := range ents {
			ents[i] = w.New(w.Position)
		}
		return w, ents
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			immediate, a := setup(t)
			for _, s := range tt.steps {
				s(immediate.World, immediate, &a)
			}

			deferred, b := setup(t)
			deferred.DeferBegin()
			for _, s := range tt.steps {
				s(deferred.World, deferred, &b)
			}
			require.NoError(t, deferred.DeferEnd())

			require.Equal(t, a, b)
			assert.Equal(t, snapshot(immediate, a), snapshot(deferred, b))
			assert.Equal(t, immediate.Count(), deferred.Count())
		})
	}
}
