package ecs_test

import (
	"fmt"

	"github.com/plus3/ecscore/ecs"
)

// ExampleView maps entities onto a struct of component pointers.
func ExampleView() {
	w := ecs.NewWorld()
	defer w.Fini()
	ecs.RegisterComponent[Position](w)
	ecs.RegisterComponent[Label](w)

	type named struct {
		Id ecs.EntityId
		*Position
		Label *Label `ecs:"optional"`
	}
	view := ecs.NewView[named](w)

	view.Spawn(named{Position: &Position{X: 1}, Label: &Label{Value: "tower"}})
	view.Spawn(named{Position: &Position{X: 2}})

	for _, n := range view.Iter() {
		label := "-"
		if n.Label != nil {
			label = n.Label.Value
		}
		fmt.Printf("%.0f %s\n", n.X, label)
	}
	// Unordered output:
	// 1 tower
	// 2 -
}

// ExampleSingleton stores global state on the component entity.
func ExampleSingleton() {
	w := ecs.NewWorld()
	defer w.Fini()

	cfg := ecs.NewSingleton(w, GameConfig{Gravity: 9.8})
	cfg.Get().Paused = true

	fmt.Println(ecs.NewSingleton[GameConfig](w).Get().Paused)
	// Output:
	// true
}
