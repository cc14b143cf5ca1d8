package main

import (
	"math/rand"

	"github.com/plus3/ecscore/ecs"
)

type Position struct {
	X, Y float64
}

type Velocity struct {
	DX, DY float64
}

type Health struct {
	Current, Max int
}

type Lifetime struct {
	Ticks int
}

// Team is toggled on and off by the churn system to force table moves.
type Team struct{}

// SpawnStats is a singleton updated by the spawn system.
type SpawnStats struct {
	Spawned uint64
	Parents uint64
}

type components struct {
	Position ecs.Id
	Velocity ecs.Id
	Health   ecs.Id
	Lifetime ecs.Id
	Team     ecs.Id
}

func registerComponents(w *ecs.World) components {
	return components{
		Position: ecs.RegisterComponent[Position](w),
		Velocity: ecs.RegisterComponent[Velocity](w),
		Health:   ecs.RegisterComponent[Health](w),
		Lifetime: ecs.RegisterComponent[Lifetime](w),
		Team:     ecs.RegisterComponent[Team](w),
	}
}

// spawnRandom creates an entity with Position and a random subset of the
// other components.
func spawnRandom(m ecs.Mutator, c components, rng *rand.Rand, maxLifetime int) ecs.EntityId {
	e := m.New()
	ecs.Set(m, e, Position{X: rng.Float64() * 100, Y: rng.Float64() * 100})
	if rng.Intn(2) == 0 {
		ecs.Set(m, e, Velocity{DX: rng.Float64() - 0.5, DY: rng.Float64() - 0.5})
	}
	if rng.Intn(3) == 0 {
		ecs.Set(m, e, Health{Current: 100, Max: 100})
	}
	if rng.Intn(4) == 0 {
		m.Add(e, c.Team)
	}
	ecs.Set(m, e, Lifetime{Ticks: 1 + rng.Intn(maxLifetime)})
	return e
}

// populate creates n entities in batches of deferred commands.
func populate(w *ecs.World, c components, rng *rand.Rand, n, maxLifetime int) error {
	const batch = 1024
	for done := 0; done < n; done += batch {
		w.DeferBegin()
		for i := done; i < min(done+batch, n); i++ {
			spawnRandom(w, c, rng, maxLifetime)
		}
		if err := w.DeferEnd(); err != nil {
			return err
		}
	}
	return nil
}

type MovementSystem struct {
	Movers ecs.Query[struct {
		*Position
		*Velocity
	}]
}

func (s *MovementSystem) Execute(frame *ecs.UpdateFrame) {
	for mover := range s.Movers.Values() {
		mover.Position.X += mover.Velocity.DX * frame.DeltaTime
		mover.Position.Y += mover.Velocity.DY * frame.DeltaTime
	}
}

// LifetimeSystem counts lifetimes down and deletes expired entities.
type LifetimeSystem struct {
	Aging ecs.Query[struct {
		Id ecs.EntityId
		*Lifetime
	}]
}

func (s *LifetimeSystem) Execute(frame *ecs.UpdateFrame) {
	for _, item := range s.Aging.Iter() {
		item.Lifetime.Ticks--
		if item.Lifetime.Ticks <= 0 {
			_ = frame.Commands.Delete(item.Id)
		}
	}
}

// SpawnSystem replaces expired entities and grows parent/child hierarchies.
// Deleting the oldest parent deletes its children through ChildOf.
type SpawnSystem struct {
	Stats ecs.Singleton[SpawnStats]

	c       components
	rng     *rand.Rand
	cfg     WorkloadConfig
	tick    int
	parents []ecs.EntityId
}

func (s *SpawnSystem) Execute(frame *ecs.UpdateFrame) {
	s.tick++
	stats := *s.Stats.Get()

	for range s.cfg.SpawnPerTick {
		spawnRandom(frame.Commands, s.c, s.rng, s.cfg.MaxLifetime)
	}
	stats.Spawned += uint64(s.cfg.SpawnPerTick)

	if s.cfg.ParentEvery > 0 && s.tick%s.cfg.ParentEvery == 0 {
		parent := frame.Commands.New(s.c.Position)
		for range s.cfg.ChildrenPerParent {
			child := frame.Commands.New(s.c.Position)
			frame.Commands.AddPair(child, ecs.ChildOf, parent)
		}
		s.parents = append(s.parents, parent)
		stats.Parents++

		if len(s.parents) > s.cfg.MaxParents {
			_ = frame.Commands.Delete(s.parents[0])
			s.parents = s.parents[1:]
		}
	}

	s.Stats.Set(frame.Commands, stats)
}

// ChurnSystem toggles Team on a sample of entities with Health.
type ChurnSystem struct {
	Targets ecs.Query[struct {
		Id ecs.EntityId
		*Health
	}]

	c   components
	rng *rand.Rand
	cfg WorkloadConfig
}

func (s *ChurnSystem) Execute(frame *ecs.UpdateFrame) {
	n := s.Targets.Len()
	if n == 0 {
		return
	}
	budget := s.cfg.ChurnPerTick
	for _, item := range s.Targets.Iter() {
		if budget == 0 {
			return
		}
		if s.rng.Intn(n) >= s.cfg.ChurnPerTick {
			continue
		}
		budget--
		if frame.World.Has(item.Id, s.c.Team) {
			frame.Commands.Remove(item.Id, s.c.Team)
		} else {
			frame.Commands.Add(item.Id, s.c.Team)
		}
	}
}

// registerSystems adds the workload systems. Each system gets its own random
// source so parallel ticks stay deterministic per system.
func registerSystems(s *ecs.Scheduler, c components, cfg WorkloadConfig, seed int64) {
	s.Register(&MovementSystem{})
	s.Register(&LifetimeSystem{})
	s.Register(&SpawnSystem{
		c:   c,
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed + 1)),
	})
	s.Register(&ChurnSystem{
		c:   c,
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed + 2)),
	})
}
