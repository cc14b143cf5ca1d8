package ecs_test

import (
	"testing"

	"github.com/plus3/ecscore/ecs"
)

// Test component types shared by the test files of this package.

type Position struct {
	X, Y float32
}

type Velocity struct {
	DX, DY float32
}

type Health struct {
	Current, Max int
}

type Label struct {
	Value string
}

type Score int32

type Temperature float64

// tags
type Enemy struct{}

type Frozen struct{}

type testWorld struct {
	*ecs.World

	Position    ecs.Id
	Velocity    ecs.Id
	Health      ecs.Id
	Label       ecs.Id
	Score       ecs.Id
	Temperature ecs.Id
	Enemy       ecs.Id
	Frozen      ecs.Id
}

// newTestWorld creates a world with every test component registered. The
// world is finalized when the test ends.
func newTestWorld(t testing.TB, opts ...ecs.Option) *testWorld {
	t.Helper()
	w := ecs.NewWorld(opts...)
	tw := &testWorld{
		World:       w,
		Position:    ecs.RegisterComponent[Position](w),
		Velocity:    ecs.RegisterComponent[Velocity](w),
		Health:      ecs.RegisterComponent[Health](w),
		Label:       ecs.RegisterComponent[Label](w),
		Score:       ecs.RegisterComponent[Score](w),
		Temperature: ecs.RegisterComponent[Temperature](w),
		Enemy:       ecs.RegisterComponent[Enemy](w),
		Frozen:      ecs.RegisterComponent[Frozen](w),
	}
	t.Cleanup(func() {
		if s := w.State(); (s == ecs.StateRunning || s == ecs.StateQuitting) && !w.IsReadonly() && !w.IsDeferred() {
			_ = w.Fini()
		}
	})
	return tw
}
