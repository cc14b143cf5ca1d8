package ecs

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SchedulerStats provides statistics about scheduler execution.
type SchedulerStats struct {
	SystemCount     int
	TotalExecutions int64
	Systems         []SystemStats
}

// SystemStats provides execution statistics for a single system.
type SystemStats struct {
	Name           string
	ExecutionCount int64
	MinDuration    time.Duration
	MaxDuration    time.Duration
	AvgDuration    time.Duration
	LastDuration   time.Duration
	TotalDuration  time.Duration
}

type systemStatsInternal struct {
	name           string
	executionCount int64
	minDuration    time.Duration
	maxDuration    time.Duration
	totalDuration  time.Duration
	lastDuration   time.Duration
}

type executor interface {
	Execute()
}

// Scheduler runs systems once per tick. Each system writes to its own
// stage; the stages are merged after every system of the tick returned.
type Scheduler struct {
	world       *World
	systems     []System
	stages      []*Stage
	queries     [][]executor
	systemStats []*systemStatsInternal
	parallel    bool
}

// NewScheduler creates a new scheduler for the given world.
func NewScheduler(w *World) *Scheduler {
	return &Scheduler{
		world:   w,
		systems: make([]System, 0),
	}
}

// SetParallel makes Once run systems concurrently. Systems then must not
// share mutable state outside the world.
func (s *Scheduler) SetParallel(parallel bool) {
	s.parallel = parallel
}

// Register adds a system to the scheduler, binds its Query and Singleton
// fields and gives it a stage.
func (s *Scheduler) Register(system System) {
	s.queries = append(s.queries, s.initializeFields(system))
	s.systems = append(s.systems, system)
	s.stages = append(s.stages, s.world.NewStage())

	systemType := reflect.TypeOf(system)
	if systemType.Kind() == reflect.Ptr {
		systemType = systemType.Elem()
	}

	s.systemStats = append(s.systemStats, &systemStatsInternal{
		name:        systemType.Name(),
		minDuration: time.Duration(1<<63 - 1),
	})
	s.world.log.Debug("system registered", zap.String("system", systemType.Name()))
}

func (s *Scheduler) initializeFields(system System) []executor {
	systemValue := reflect.ValueOf(system)
	if systemValue.Kind() == reflect.Ptr {
		systemValue = systemValue.Elem()
	}
	if systemValue.Kind() != reflect.Struct {
		return nil
	}

	var queries []executor
	systemType := systemValue.Type()
	for i := 0; i < systemValue.NumField(); i++ {
		field := systemValue.Field(i)
		fieldType := systemType.Field(i)

		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Ptr && field.IsNil() {
			continue
		}
		if field.Kind() == reflect.Ptr {
			field = field.Elem()
		}
		if field.Kind() != reflect.Struct {
			continue
		}

		typeName := field.Type().Name()
		isQuery := strings.HasPrefix(typeName, "Query[")
		if !isQuery && !strings.HasPrefix(typeName, "Singleton[") {
			continue
		}

		initMethod := field.Addr().MethodByName("Init")
		if !initMethod.IsValid() {
			panic("Init method not found on field: " + fieldType.Name)
		}
		initMethod.Call([]reflect.Value{reflect.ValueOf(s.world)})

		if isQuery {
			if q, ok := field.Addr().Interface().(executor); ok {
				queries = append(queries, q)
			}
		}
	}
	return queries
}

// Once executes all registered systems once with the given delta time. The
// world is readonly while systems run. Recoverable merge errors and system
// panics are returned.
func (s *Scheduler) Once(dt float64) error {
	w := s.world
	w.ReadonlyBegin()

	var errs error
	if s.parallel {
		var g errgroup.Group
		for i := range s.systems {
			g.Go(func() error { return s.runSystem(i, dt) })
		}
		errs = g.Wait()
	} else {
		for i := range s.systems {
			errs = multierr.Append(errs, s.runSystem(i, dt))
		}
	}

	return multierr.Append(errs, w.ReadonlyEnd())
}

func (s *Scheduler) runSystem(i int, dt float64) (err error) {
	stats := s.systemStats[i]
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("system %s panicked: %v", stats.name, r)
		}
	}()

	for _, q := range s.queries[i] {
		q.Execute()
	}

	frame := newUpdateFrame(dt, s.world, s.stages[i])
	start := time.Now()
	s.systems[i].Execute(frame)
	duration := time.Since(start)

	stats.executionCount++
	stats.lastDuration = duration
	stats.totalDuration += duration
	if duration < stats.minDuration {
		stats.minDuration = duration
	}
	if duration > stats.maxDuration {
		stats.maxDuration = duration
	}
	return nil
}

// Run executes all systems repeatedly at the given interval until the
// context is cancelled or World.Quit is called. It stops on the first error
// returned by Once.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTime := time.Now()
	for !s.world.ShouldQuit() {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			dt := now.Sub(lastTime).Seconds()
			lastTime = now
			if err := s.Once(dt); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetStats returns statistics about system execution.
func (s *Scheduler) GetStats() *SchedulerStats {
	stats := &SchedulerStats{
		SystemCount: len(s.systems),
		Systems:     make([]SystemStats, len(s.systemStats)),
	}

	var totalExecs int64
	for i, internal := range s.systemStats {
		avgDuration := time.Duration(0)
		if internal.executionCount > 0 {
			avgDuration = internal.totalDuration / time.Duration(internal.executionCount)
		}

		stats.Systems[i] = SystemStats{
			Name:           internal.name,
			ExecutionCount: internal.executionCount,
			MinDuration:    internal.minDuration,
			MaxDuration:    internal.maxDuration,
			AvgDuration:    avgDuration,
			LastDuration:   internal.lastDuration,
			TotalDuration:  internal.totalDuration,
		}
		totalExecs += internal.executionCount
	}

	stats.TotalExecutions = totalExecs
	return stats
}
