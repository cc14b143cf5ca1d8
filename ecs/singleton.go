package ecs

// Singleton gives access to the one instance of component T, stored on the
// component entity of T itself. Use it for global state and configuration.
type Singleton[T any] struct {
	world *World
	ref   Ref[T]
}

// NewSingleton returns the singleton accessor for T, registering T if
// needed. When the singleton is not set yet it is created from initializer,
// or from the zero value.
func NewSingleton[T any](w *World, initializer ...T) *Singleton[T] {
	id := componentFor[T](w)
	if w.GetRaw(id, id) == nil {
		var value T
		if len(initializer) > 0 {
			value = initializer[0]
		}
		Set(w, id, value)
	}
	s := &Singleton[T]{}
	s.Init(w)
	return s
}

// Init binds the accessor to a world. The Scheduler calls it for Singleton
// fields of registered systems.
func (s *Singleton[T]) Init(w *World) {
	s.world = w
	id, _ := LookupComponent[T](w)
	s.ref = NewRef[T](w, id)
}

// Get returns the singleton, or nil if it was never set.
func (s *Singleton[T]) Get() *T {
	if s.ref.id == 0 && s.world != nil {
		s.Init(s.world)
	}
	return s.ref.Get()
}

// Exists reports whether the singleton is set.
func (s *Singleton[T]) Exists() bool {
	return s.Get() != nil
}

// Set assigns the singleton through m, which may be a stage.
func (s *Singleton[T]) Set(m Mutator, v T) {
	id := componentFor[T](m.World())
	Set(m, id, v)
}
