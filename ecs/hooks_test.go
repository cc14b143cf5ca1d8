package ecs_test

import (
	"testing"

	"github.com/plus3/ecscore/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Resource struct {
	Handle int
}

func resourceHooks(log *[]string) ecs.Hooks[Resource] {
	return ecs.Hooks[Resource]{
		Ctor: func(v *Resource) { *log = append(*log, "ctor") },
		Dtor: func(v *Resource) { *log = append(*log, "dtor") },
		OnAdd: func(w *ecs.World, e ecs.EntityId, v *Resource) {
			*log = append(*log, "add")
		},
		OnSet: func(w *ecs.World, e ecs.EntityId, v *Resource) {
			*log = append(*log, "set")
		},
		OnRemove: func(w *ecs.World, e ecs.EntityId, v *Resource) {
			*log = append(*log, "remove")
		},
	}
}

func TestHookOrder(t *testing.T) {
	w := newTestWorld(t)
	var log []string
	ecs.RegisterComponent(w.World, resourceHooks(&log))

	e := w.New()
	ecs.Set(w.World, e, Resource{Handle: 1})
	assert.Equal(t, []string{"ctor", "add", "set"}, log)

	log = nil
	w.Add(e, w.Enemy)
	assert.Empty(t, log, "moving between tables runs no hooks")
	assert.Equal(t, 1, ecs.Get[Resource](w.World, e).Handle)

	w.Remove(e, ecs.ComponentId[Resource](w.World))
	assert.Equal(t, []string{"remove", "dtor"}, log)
}

func TestHookOnDelete(t *testing.T) {
	w := newTestWorld(t)
	var log []string
	ecs.RegisterComponent(w.World, resourceHooks(&log))

	e := w.New()
	ecs.Set(w.World, e, Resource{Handle: 1})
	log = nil

	require.NoError(t, w.Delete(e))
	assert.Equal(t, []string{"remove", "dtor"}, log)
}

func TestHookMutationsAreDeferred(t *testing.T) {
	w := newTestWorld(t)
	var sawFrozen bool
	ecs.RegisterComponent(w.World, ecs.Hooks[Resource]{
		OnAdd: func(hw *ecs.World, e ecs.EntityId, v *Resource) {
			hw.Add(e, w.Frozen)
			sawFrozen = hw.Has(e, w.Frozen)
		},
	})

	e := w.New()
	ecs.Set(w.World, e, Resource{})

	assert.False(t, sawFrozen, "the hook runs while the world is deferred")
	assert.True(t, w.Has(e, w.Frozen))
	assert.False(t, w.IsDeferred())
}

func TestHookSeesValueOnSet(t *testing.T) {
	w := newTestWorld(t)
	var seen int
	ecs.RegisterComponent(w.World, ecs.Hooks[Resource]{
		OnSet: func(_ *ecs.World, _ ecs.EntityId, v *Resource) { seen = v.Handle },
	})

	e := w.New()
	ecs.Set(w.World, e, Resource{Handle: 42})
	assert.Equal(t, 42, seen)

	ecs.Ensure[Resource](w.World, e).Handle = 43
	w.Modified(e, ecs.ComponentId[Resource](w.World))
	assert.Equal(t, 43, seen)
}

func TestCopyAndMoveHooks(t *testing.T) {
	w := newTestWorld(t)
	var copies, moves int
	ecs.RegisterComponent(w.World, ecs.Hooks[Resource]{
		Copy: func(dst, src *Resource) { copies++; *dst = *src },
		Move: func(dst, src *Resource) { moves++; *dst = *src },
	})

	e := w.New()
	ecs.Set(w.World, e, Resource{Handle: 5})
	assert.Equal(t, 1, copies)

	w.Add(e, w.Enemy)
	assert.Equal(t, 1, moves)
	assert.Equal(t, 5, ecs.Get[Resource](w.World, e).Handle)
}

func TestObservers(t *testing.T) {
	w := newTestWorld(t)
	var events []ecs.Event
	h := w.Observe(ecs.OnAdd, w.Position, func(ev ecs.Event) { events = append(events, ev) })
	var removed int
	w.Observe(ecs.OnRemove, 0, func(ev ecs.Event) { removed++ })

	e := w.New()
	ecs.Set(w.World, e, Position{X: 1})
	w.Add(e, w.Enemy)

	require.Len(t, events, 1)
	assert.Equal(t, ecs.OnAdd, events[0].Kind)
	assert.Equal(t, e, events[0].Entity)
	assert.Equal(t, w.Position, events[0].Id)
	assert.NotNil(t, events[0].Ptr)

	require.NoError(t, w.Delete(e))
	assert.Equal(t, 2, removed)

	assert.True(t, w.Unobserve(h))
	assert.False(t, w.Unobserve(h))
	ecs.Set(w.World, w.New(), Position{})
	assert.Len(t, events, 1)
}

func TestObserverWildcardPair(t *testing.T) {
	w := newTestWorld(t)
	likes := w.New()
	var targets []ecs.Id
	w.Observe(ecs.OnAdd, ecs.Pair(likes, ecs.Wildcard), func(ev ecs.Event) {
		targets = append(targets, ev.Id.Second())
	})

	a, b := w.New(), w.New()
	e := w.New()
	w.AddPair(e, likes, a)
	w.AddPair(e, likes, b)
	w.Add(e, w.Enemy)

	assert.Equal(t, []ecs.Id{a, b}, targets)
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "OnAdd", ecs.OnAdd.String())
	assert.Equal(t, "OnSet", ecs.OnSet.String())
	assert.Equal(t, "OnRemove", ecs.OnRemove.String())
}

func TestFini(t *testing.T) {
	w := newTestWorld(t)
	var log []string
	ecs.RegisterComponent(w.World, resourceHooks(&log))

	parent := w.New()
	ecs.Set(w.World, parent, Resource{Handle: 1})
	for i := 0; i < 3; i++ {
		child := w.New(ecs.Pair(ecs.ChildOf, parent))
		ecs.Set(w.World, child, Resource{Handle: 2 + i})
	}
	log = nil

	require.NoError(t, w.Fini())
	assert.Equal(t, ecs.StateFinalized, w.State())

	removes, dtors := 0, 0
	for i, entry := range log {
		switch entry {
		case "remove":
			removes++
			assert.Zero(t, dtors, "every OnRemove runs before the first destructor (at %d)", i)
		case "dtor":
			dtors++
		}
	}
	assert.Equal(t, 4, removes)
	assert.Equal(t, 4, dtors)

	assert.NoError(t, w.Fini(), "second Fini is a no-op")
}

func TestFiniHookCommands(t *testing.T) {
	w := newTestWorld(t)
	var deleted []ecs.Id
	ecs.RegisterComponent(w.World, ecs.Hooks[Resource]{
		OnRemove: func(hw *ecs.World, e ecs.EntityId, v *Resource) {
			hw.Defer(func() { deleted = append(deleted, e) })
		},
	})
	e := w.New()
	ecs.Set(w.World, e, Resource{})

	require.NoError(t, w.Fini())
	assert.Equal(t, []ecs.Id{e}, deleted)
}

func TestFiniMergeLimit(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFiniMergeLimit(4), ecs.WithFatalHandler(func(err error) { fatal = err }))

	var again func()
	again = func() { w.Defer(again) }
	ecs.RegisterComponent(w.World, ecs.Hooks[Resource]{
		OnRemove: func(hw *ecs.World, _ ecs.EntityId, _ *Resource) { hw.Defer(again) },
	})
	ecs.Set(w.World, w.New(), Resource{})

	assert.Panics(t, func() { _ = w.Fini() })
	assert.ErrorIs(t, fatal, ecs.ErrMergeOverflow)
}

func TestMutationAfterFini(t *testing.T) {
	var fatal error
	w := newTestWorld(t, ecs.WithFatalHandler(func(err error) { fatal = err }))
	require.NoError(t, w.Fini())

	assert.Panics(t, func() { w.New() })
	assert.ErrorIs(t, fatal, ecs.ErrFinalized)
}
