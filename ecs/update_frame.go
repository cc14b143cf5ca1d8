package ecs

// UpdateFrame is passed to every system on each scheduler tick. Commands is
// the system's own stage: writes made through it are applied after all
// systems of the tick have run, in registration order.
type UpdateFrame struct {
	DeltaTime float64
	Commands  *Stage
	World     *World
}

func newUpdateFrame(dt float64, w *World, stage *Stage) *UpdateFrame {
	return &UpdateFrame{
		DeltaTime: dt,
		Commands:  stage,
		World:     w,
	}
}
