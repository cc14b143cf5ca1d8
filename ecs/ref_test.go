package ecs_test

import (
	"testing"

	"github.com/plus3/ecscore/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRef(t *testing.T) {
	w := newTestWorld(t)
	a, b := w.New(), w.New()
	ecs.Set(w.World, a, Position{X: 1})
	ecs.Set(w.World, b, Position{X: 2})

	ref := ecs.NewRef[Position](w.World, b)
	assert.Equal(t, b, ref.Entity())
	require.NotNil(t, ref.Get())
	assert.Equal(t, float32(2), ref.Get().X)

	// b is swapped into the row of a
	require.NoError(t, w.Delete(a))
	assert.Equal(t, float32(2), ref.Get().X)

	// b moves to another table
	w.Add(b, w.Enemy)
	assert.Equal(t, float32(2), ref.Get().X)
	ref.Get().X = 3
	assert.Equal(t, float32(3), ecs.Get[Position](w.World, b).X)

	w.Remove(b, w.Position)
	assert.Nil(t, ref.Get())

	require.NoError(t, w.Delete(b))
	assert.Nil(t, ref.Get())
}

func TestRefNonFragmenting(t *testing.T) {
	w := newTestWorld(t)
	w.Add(w.Temperature, ecs.DontFragment)
	a, b := w.New(w.Position), w.New(w.Position)
	ecs.Set(w.World, a, Temperature(20))

	ref := ecs.NewRef[Temperature](w.World, a)
	require.NotNil(t, ref.Get())
	assert.Equal(t, Temperature(20), *ref.Get())

	// the table and row of a stay the same
	w.Remove(a, w.Temperature)
	assert.Nil(t, ref.Get())

	// b takes the freed value slot
	ecs.Set(w.World, b, Temperature(-5))
	assert.Nil(t, ref.Get())

	ecs.Set(w.World, a, Temperature(30))
	require.NotNil(t, ref.Get())
	assert.Equal(t, Temperature(30), *ref.Get())
	assert.Equal(t, Temperature(-5), *ecs.Get[Temperature](w.World, b))
}

func TestRefSparse(t *testing.T) {
	w := newTestWorld(t)
	w.Add(w.Health, ecs.Sparse)
	e := w.New()
	ecs.Set(w.World, e, Health{Current: 1})

	ref := ecs.NewRef[Health](w.World, e)
	require.NotNil(t, ref.Get())
	ref.Get().Current = 2
	assert.Equal(t, 2, ecs.Get[Health](w.World, e).Current)

	w.Remove(e, w.Health)
	assert.Nil(t, ref.Get())
}

func TestRefUnregisteredComponent(t *testing.T) {
	w := newTestWorld(t)
	type Unused struct{ N int }
	ref := ecs.NewRef[Unused](w.World, w.New())
	assert.Nil(t, ref.Get())
}

func TestPairRef(t *testing.T) {
	w := newTestWorld(t)
	tgt := w.New()
	e := w.New()
	ecs.SetPair(w.World, e, tgt, Score(7))

	ref := ecs.NewPairRef[Score](w.World, e, tgt)
	require.NotNil(t, ref.Get())
	assert.Equal(t, Score(7), *ref.Get())
}

func TestEntityRef(t *testing.T) {
	w := newTestWorld(t)
	e := w.New(w.Enemy)

	ref := w.NewEntityRef(e)
	require.NotNil(t, ref)
	assert.Equal(t, e, ref.Id)
	assert.Same(t, w.TableOf(e), ref.Table())

	w.Add(e, w.Frozen)
	got, ok := w.ResolveEntityRef(ref)
	assert.True(t, ok)
	assert.Equal(t, e, got)
	assert.Same(t, w.TableOf(e), ref.Table())
	assert.Equal(t, 0, ref.Row())

	require.NoError(t, w.Delete(e))
	_, ok = w.ResolveEntityRef(ref)
	assert.False(t, ok)
	assert.Nil(t, ref.Table())

	assert.Nil(t, w.NewEntityRef(e))
	_, ok = w.ResolveEntityRef(nil)
	assert.False(t, ok)
}
