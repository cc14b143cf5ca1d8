package ecs_test

import (
	"slices"
	"testing"

	"github.com/plus3/ecscore/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorld(t *testing.T) {
	w := newTestWorld(t)

	assert.Equal(t, ecs.StateRunning, w.State())
	for id := ecs.Wildcard; id <= ecs.Name; id++ {
		assert.True(t, w.IsAlive(id), "built-in %s", id)
	}
	assert.Equal(t, ecs.ChildOf, w.Lookup("ChildOf"))
	assert.True(t, w.Has(ecs.ChildOf, ecs.Exclusive))
	assert.True(t, w.HasPair(ecs.ChildOf, ecs.OnDeleteTarget, ecs.Delete))

	assert.GreaterOrEqual(t, uint32(w.Position), uint32(ecs.FirstUserComponentIndex))
	assert.Less(t, uint32(w.Position), uint32(ecs.FirstUserEntityIndex))
	assert.True(t, w.Has(w.Position, ecs.Component))
	assert.Equal(t, "ecs_test.Position", w.GetName(w.Position))
}

func TestNewEntity(t *testing.T) {
	w := newTestWorld(t)
	count := w.Count()

	e := w.New()
	assert.True(t, w.IsAlive(e))
	assert.GreaterOrEqual(t, e.Index(), uint32(ecs.FirstUserEntityIndex))
	assert.Equal(t, w.RootTable(), w.TableOf(e))
	assert.Empty(t, w.Type(e))
	assert.Equal(t, count+1, w.Count())

	tagged := w.New(w.Enemy, w.Frozen)
	assert.True(t, w.Has(tagged, w.Enemy))
	assert.True(t, w.Has(tagged, w.Frozen))
}

func TestSetGet(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	ecs.Set(w.World, e, Position{X: 1, Y: 2})
	ecs.Set(w.World, e, Velocity{DX: 3})

	pos := ecs.Get[Position](w.World, e)
	require.NotNil(t, pos)
	assert.Equal(t, Position{X: 1, Y: 2}, *pos)
	assert.Equal(t, float32(3), ecs.Get[Velocity](w.World, e).DX)
	assert.Nil(t, ecs.Get[Health](w.World, e))

	pos.X = 10
	assert.Equal(t, float32(10), ecs.Get[Position](w.World, e).X, "Get returns storage, not a copy")

	ecs.Set(w.World, e, Position{X: 5, Y: 5})
	assert.Equal(t, Position{X: 5, Y: 5}, *ecs.Get[Position](w.World, e))
}

func TestEnsure(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	h := ecs.Ensure[Health](w.World, e)
	require.NotNil(t, h)
	assert.Equal(t, Health{}, *h)
	h.Current = 7

	again := ecs.Ensure[Health](w.World, e)
	assert.Equal(t, 7, again.Current)
}

func TestSetRegistersUnknownType(t *testing.T) {
	w := newTestWorld(t)
	type Ammo struct{ Rounds int }

	e := w.New()
	ecs.Set(w.World, e, Ammo{Rounds: 3})

	id, ok := ecs.LookupComponent[Ammo](w.World)
	require.True(t, ok)
	assert.True(t, w.Has(e, id))
	assert.Equal(t, 3, ecs.Get[Ammo](w.World, e).Rounds)
}

func TestRegisterComponentTwice(t *testing.T) {
	w := newTestWorld(t)
	assert.Equal(t, w.Position, ecs.RegisterComponent[Position](w.World))
	assert.Equal(t, w.Position, ecs.ComponentId[Position](w.World))
}

func TestAddRemove(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()

	w.Add(e, w.Position)
	w.Add(e, w.Enemy)
	assert.ElementsMatch(t, []ecs.Id{w.Position, w.Enemy}, w.Type(e))

	w.Remove(e, w.Enemy)
	assert.False(t, w.Has(e, w.Enemy))
	assert.True(t, w.Has(e, w.Position))

	// removing a missing id is a no-op
	w.Remove(e, w.Frozen)
	assert.Equal(t, []ecs.Id{w.Position}, w.Type(e))
}

func TestValuesSurviveTableMoves(t *testing.T) {
	w := newTestWorld(t)
	a, b := w.New(), w.New()
	ecs.Set(w.World, a, Position{X: 1})
	ecs.Set(w.World, b, Position{X: 2})

	w.Add(a, w.Enemy)
	ecs.Set(w.World, b, Health{Current: 9})
	w.Remove(a, w.Enemy)

	assert.Equal(t, float32(1), ecs.Get[Position](w.World, a).X)
	assert.Equal(t, float32(2), ecs.Get[Position](w.World, b).X)
	assert.Equal(t, 9, ecs.Get[Health](w.World, b).Current)
}

func TestTypeIsSorted(t *testing.T) {
	w := newTestWorld(t)
	e := w.New(w.Frozen, w.Position, w.Enemy)
	typ := w.Type(e)
	for i := 1; i < len(typ); i++ {
		assert.Less(t, typ[i-1], typ[i])
	}
}

func TestClear(t *testing.T) {
	w := newTestWorld(t)
	e := w.New(w.Enemy)
	ecs.Set(w.World, e, Position{X: 1})

	w.Clear(e)
	assert.True(t, w.IsAlive(e))
	assert.Empty(t, w.Type(e))
	assert.Nil(t, ecs.Get[Position](w.World, e))
}

func TestDeleteEntity(t *testing.T) {
	w := newTestWorld(t)
	e := w.New()
	ecs.Set(w.World, e, Position{X: 1})
	other := w.New()
	ecs.Set(w.World, other, Position{X: 2})

	require.NoError(t, w.Delete(e))
	assert.False(t, w.IsAlive(e))
	assert.True(t, w.Exists(e))
	assert.Nil(t, ecs.Get[Position](w.World, e))
	assert.Equal(t, float32(2), ecs.Get[Position](w.World, other).X, "swap-removed row stays reachable")

	// deleting twice is a no-op
	require.NoError(t, w.Delete(e))

	recycled := w.New()
	assert.Equal(t, e.Index(), recycled.Index())
	assert.Equal(t, e.Generation()+1, recycled.Generation())
	assert.Equal(t, recycled, w.GetAlive(e))
}

func TestMakeAlive(t *testing.T) {
	w := newTestWorld(t)
	e := ecs.Id(100000).WithGeneration(4)

	w.MakeAlive(e)
	assert.True(t, w.IsAlive(e))
	w.Add(e, w.Enemy)
	assert.True(t, w.Has(e, w.Enemy))

	w.SetGeneration(e.WithGeneration(5))
	assert.False(t, w.IsAlive(e))
	assert.True(t, w.IsAlive(e.WithGeneration(5)))
}

func TestQuit(t *testing.T) {
	w := ecs.NewWorld()
	assert.False(t, w.ShouldQuit())

	w.Quit()
	assert.True(t, w.ShouldQuit())
	assert.Equal(t, ecs.StateQuitting, w.State())

	// still usable until Fini
	e := w.New()
	assert.True(t, w.IsAlive(e))
	require.NoError(t, w.Fini())
	assert.Equal(t, ecs.StateFinalized, w.State())
}

func TestMakeAliveReplacesGeneration(t *testing.T) {
	w := newTestWorld(t)
	w.Add(w.Temperature, ecs.DontFragment)
	old := w.New(w.Enemy)
	ecs.Set(w.World, old, Temperature(12))
	require.NoError(t, w.SetName(old, "scout"))
	table := w.TableOf(old)

	e := old.WithGeneration(old.Generation() + 1)
	w.MakeAlive(e)

	assert.False(t, w.IsAlive(old))
	assert.True(t, w.IsAlive(e))
	assert.Equal(t, 1, table.Count())
	assert.Equal(t, []ecs.EntityId{e}, table.Entities())
	assert.Same(t, table, w.TableOf(e))
	assert.Equal(t, []ecs.EntityId{e}, slices.Collect(w.NewFilter(w.Enemy).Entities()))

	assert.Equal(t, Temperature(12), *ecs.Get[Temperature](w.World, e))
	assert.Nil(t, ecs.Get[Temperature](w.World, old))
	assert.Equal(t, e, w.Lookup("scout"))

	require.NoError(t, w.Delete(e))
	assert.Equal(t, 0, table.Count())
	assert.Equal(t, 0, w.IdRecord(w.Temperature).Count())
}

func TestSetGeneration(t *testing.T) {
	w := newTestWorld(t)
	parent := w.New()
	require.NoError(t, w.SetName(parent, "base"))
	child := w.New(w.Position)
	w.AddPair(child, ecs.ChildOf, parent)
	require.NoError(t, w.SetName(child, "turret"))

	moved := parent.WithGeneration(3)
	w.SetGeneration(moved)
	assert.False(t, w.IsAlive(parent))
	assert.True(t, w.IsAlive(moved))
	assert.Contains(t, w.TableOf(moved).Entities(), moved)
	assert.NotContains(t, w.TableOf(moved).Entities(), parent)
	assert.Equal(t, moved, w.Lookup("base"))
	assert.Equal(t, moved, w.Parent(child))
	assert.Equal(t, child, w.Lookup("base::turret"))
}

func TestSetGenerationWhileDeferred(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	e := w.New()

	w.DeferBegin()
	assert.Panics(t, func() { w.SetGeneration(e.WithGeneration(3)) })
	assert.ErrorIs(t, fatal, ecs.ErrInvalidOperation)
	assert.True(t, w.IsAlive(e))
	require.NoError(t, w.DeferEnd())
}

func TestNewMany(t *testing.T) {
	w := newTestWorld(t)
	ids := w.NewMany(100, w.Position, w.Enemy)
	require.Len(t, ids, 100)

	table := w.TableOf(ids[0])
	assert.Equal(t, 100, table.Count())
	for _, e := range ids {
		assert.Same(t, table, w.TableOf(e))
		assert.NotNil(t, ecs.Get[Position](w.World, e))
	}
}

func TestTableGraph(t *testing.T) {
	w := newTestWorld(t)
	a := w.New(w.Position, w.Velocity)
	b := w.New(w.Velocity, w.Position)
	assert.Same(t, w.TableOf(a), w.TableOf(b), "same type, same table")

	table := w.FindTable(w.Position, w.Velocity)
	assert.Same(t, w.TableOf(a), table)
	assert.Equal(t, 0, w.FindTable(w.Health, w.Label, w.Score).Count())

	before := w.CollectStats()
	w.Add(w.New(), w.Position)
	w.Add(w.New(), w.Position)
	after := w.CollectStats()
	assert.Greater(t, after.EdgeHits, before.EdgeHits, "second traversal uses the cached edge")

	assert.Same(t, w.RootTable(), w.TableRemove(w.TableAdd(w.RootTable(), w.Enemy), w.Enemy))
}

func TestShrink(t *testing.T) {
	w := newTestWorld(t)
	e := w.New(w.Position, w.Health)
	w.Remove(e, w.Health)
	tables := w.TableCount()

	deleted := w.Shrink()
	assert.Greater(t, deleted, 0)
	assert.Equal(t, tables-deleted, w.TableCount())
	assert.True(t, w.Has(e, w.Position))
	assert.NotNil(t, w.RootTable())
}

func TestPairs(t *testing.T) {
	w := newTestWorld(t)
	likes := w.New()
	apples, pears := w.New(), w.New()
	e := w.New()

	w.AddPair(e, likes, apples)
	w.AddPair(e, likes, pears)

	assert.True(t, w.HasPair(e, likes, apples))
	assert.True(t, w.Has(e, ecs.Pair(likes, ecs.Wildcard)))
	assert.True(t, w.Has(e, ecs.Pair(ecs.Wildcard, pears)))
	assert.ElementsMatch(t, []ecs.Id{apples, pears}, []ecs.Id{w.Target(e, likes, 0), w.Target(e, likes, 1)})
	assert.Equal(t, ecs.Id(0), w.Target(e, likes, 2))

	w.Remove(e, ecs.Pair(likes, ecs.Wildcard))
	assert.False(t, w.Has(e, ecs.Pair(likes, ecs.Wildcard)))
}

func TestPairWithValue(t *testing.T) {
	w := newTestWorld(t)
	target := w.New()
	e := w.New()

	ecs.SetPair(w.World, e, target, Score(3))
	assert.True(t, w.HasPair(e, w.Score, target))
	require.NotNil(t, ecs.GetPair[Score](w.World, e, target))
	assert.Equal(t, Score(3), *ecs.GetPair[Score](w.World, e, target))
}

func TestExclusiveRelationship(t *testing.T) {
	w := newTestWorld(t)
	state := w.New(ecs.Exclusive)
	idle, running := w.New(), w.New()
	e := w.New()

	w.AddPair(e, state, idle)
	w.AddPair(e, state, running)

	assert.False(t, w.HasPair(e, state, idle))
	assert.True(t, w.HasPair(e, state, running))
	assert.Equal(t, running, w.Target(e, state, 0))
}

func TestParent(t *testing.T) {
	w := newTestWorld(t)
	parent := w.New()
	other := w.New()
	child := w.New(ecs.Pair(ecs.ChildOf, parent))

	assert.Equal(t, parent, w.Parent(child))

	// ChildOf is exclusive
	w.AddPair(child, ecs.ChildOf, other)
	assert.Equal(t, other, w.Parent(child))
	assert.False(t, w.HasPair(child, ecs.ChildOf, parent))
}

func TestTraitChangeOnIdInUse(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	rel := w.New()
	w.AddPair(w.New(), rel, w.New())

	assert.Panics(t, func() { w.Add(rel, ecs.Exclusive) })
	assert.ErrorIs(t, fatal, ecs.ErrIdInUse)
}

func TestInvalidIdIsFatal(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	e := w.New()

	assert.Panics(t, func() { w.Add(e, ecs.Pair(ecs.ChildOf, ecs.Wildcard)) })
	assert.ErrorIs(t, fatal, ecs.ErrInvalidId)
}

func TestDeleteBuiltinIsFatal(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	assert.Panics(t, func() { _ = w.Delete(ecs.ChildOf) })
	assert.ErrorIs(t, fatal, ecs.ErrInvalidOperation)
}

func TestSparseComponent(t *testing.T) {
	w := newTestWorld(t)
	w.Add(w.Health, ecs.Sparse)

	e := w.New()
	ecs.Set(w.World, e, Health{Current: 5})
	h := ecs.Get[Health](w.World, e)
	require.NotNil(t, h)

	// the value keeps its address while the entity changes tables
	w.Add(e, w.Enemy)
	ecs.Set(w.World, e, Position{X: 1})
	assert.Same(t, h, ecs.Get[Health](w.World, e))
	assert.Equal(t, 5, h.Current)
	assert.True(t, w.Has(e, w.Health), "sparse ids are part of the table type")

	w.Remove(e, w.Health)
	assert.Nil(t, ecs.Get[Health](w.World, e))
}

func TestDontFragment(t *testing.T) {
	w := newTestWorld(t)
	w.Add(w.Temperature, ecs.DontFragment)

	a := w.New(w.Position)
	b := w.New(w.Position)
	ecs.Set(w.World, a, Temperature(21.5))

	assert.Same(t, w.TableOf(a), w.TableOf(b), "non-fragmenting ids do not change the table")
	assert.True(t, w.Has(a, w.Temperature))
	assert.False(t, w.Has(b, w.Temperature))
	assert.Equal(t, Temperature(21.5), *ecs.Get[Temperature](w.World, a))
	assert.Equal(t, 1, w.IdRecord(w.Temperature).Count())
	assert.Equal(t, []ecs.Id{a}, w.IdRecord(w.Temperature).Entities())

	w.Remove(a, w.Temperature)
	assert.False(t, w.Has(a, w.Temperature))
}

func TestDontFragmentExclusiveRelationship(t *testing.T) {
	w := newTestWorld(t)
	slot := w.New(ecs.DontFragment, ecs.Exclusive)
	first, second := w.New(), w.New()
	e := w.New()

	w.AddPair(e, slot, first)
	w.AddPair(e, slot, second)

	assert.False(t, w.HasPair(e, slot, first))
	assert.True(t, w.HasPair(e, slot, second))
	assert.Equal(t, second, w.Target(e, slot, 0))
	assert.Empty(t, w.Type(e))
}

func TestToggle(t *testing.T) {
	w := newTestWorld(t)
	w.Add(w.Velocity, ecs.CanToggle)
	e := w.New()
	ecs.Set(w.World, e, Velocity{DX: 1})
	assert.True(t, w.IsEnabled(e, w.Velocity))

	w.Enable(e, w.Velocity, false)
	assert.False(t, w.IsEnabled(e, w.Velocity))
	assert.True(t, w.Has(e, w.Velocity))

	// the bit follows the entity to another table
	w.Add(e, w.Enemy)
	assert.False(t, w.IsEnabled(e, w.Velocity))

	w.Enable(e, w.Velocity, true)
	assert.True(t, w.IsEnabled(e, w.Velocity))
}

func TestToggleWithoutTraitIsFatal(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	e := w.New(w.Position)
	assert.Panics(t, func() { w.Enable(e, w.Position, false) })
	assert.ErrorIs(t, fatal, ecs.ErrInvalidOperation)
}
