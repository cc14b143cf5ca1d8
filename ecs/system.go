package ecs

// System represents a behavior that operates on entities with specific components.
// User-defined systems implement this interface and can include Query and
// Singleton fields, which the Scheduler binds on registration, as well as
// custom state fields that persist between frames.
//
// The world is readonly while systems run. Systems read through the world
// and write through frame.Commands.
type System interface {
	Execute(frame *UpdateFrame)
}
