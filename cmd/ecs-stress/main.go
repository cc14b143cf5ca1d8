package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/plus3/ecscore/ecs"
	"github.com/plus3/ecscore/ecs/inspect"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ecs-stress: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to a TOML config file.")
	duration := flag.Duration("duration", 0, "The total duration the test should run for.")
	entityCount := flag.Int("entities", 0, "The initial number of entities to create.")
	parallel := flag.Bool("parallel", false, "Run systems concurrently.")
	profileMode := flag.String("profile", "", "Profile the run: cpu, mem or block.")
	format := flag.String("format", "", "Report format: markdown or yaml.")
	output := flag.String("out", "", "Write the report to this file instead of stdout.")
	gcPauseMetrics := flag.Bool("gc-pause-metrics", false, "Enable detailed GC pause metrics in the report.")
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "duration":
			cfg.Run.Duration = *duration
		case "entities":
			cfg.Workload.Entities = *entityCount
		case "parallel":
			cfg.Run.Parallel = *parallel
		case "profile":
			cfg.Run.Profile = *profileMode
		case "format":
			cfg.Report.Format = *format
		case "out":
			cfg.Report.Output = *output
		case "gc-pause-metrics":
			cfg.Report.GCPauseMetrics = *gcPauseMetrics
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if p := startProfile(cfg.Run); p != nil {
		defer p.Stop()
	}

	w := ecs.NewWorld(
		ecs.WithLogger(logger.Named("ecs")),
		ecs.WithEntityCapacity(cfg.World.EntityCapacity),
		ecs.WithFiniMergeLimit(cfg.World.FiniMergeLimit),
	)
	c := registerComponents(w)
	ecs.NewSingleton(w, SpawnStats{})

	logger.Info("populating world", zap.Int("entities", cfg.Workload.Entities))
	rng := rand.New(rand.NewSource(cfg.Run.Seed))
	if err := populate(w, c, rng, cfg.Workload.Entities, cfg.Workload.MaxLifetime); err != nil {
		return err
	}

	scheduler := ecs.NewScheduler(w)
	scheduler.SetParallel(cfg.Run.Parallel)
	registerSystems(scheduler, c, cfg.Workload, cfg.Run.Seed)

	report := &Report{
		Duration:       cfg.Run.Duration,
		Entities:       cfg.Workload.Entities,
		Parallel:       cfg.Run.Parallel,
		SystemCount:    scheduler.GetStats().SystemCount,
		GCPauseMetrics: cfg.Report.GCPauseMetrics,
	}
	runtime.ReadMemStats(&report.MemStatsStart)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Run.Duration)
	defer cancel()

	logger.Info("running simulation", zap.Duration("duration", cfg.Run.Duration), zap.Bool("parallel", cfg.Run.Parallel))

	var ticks atomic.Int64
	history := inspect.NewFrameHistory(240)
	g, gctx := errgroup.WithContext(ctx)
	startTime := time.Now()

	g.Go(func() error {
		var ticker *time.Ticker
		if cfg.Run.Interval > 0 {
			ticker = time.NewTicker(cfg.Run.Interval)
			defer ticker.Stop()
		}
		history.Tick()
		for {
			if ticker != nil {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
			} else if gctx.Err() != nil {
				return nil
			}

			dt := history.Tick()
			updateStart := time.Now()
			if err := scheduler.Once(dt.Seconds()); err != nil {
				return err
			}
			report.UpdateTime.Samples = append(report.UpdateTime.Samples, time.Since(updateStart))

			n := ticks.Add(1)
			if every := cfg.Workload.ShrinkEvery; every > 0 && n%int64(every) == 0 {
				freed := w.Shrink()
				logger.Debug("shrink", zap.Int("tables", freed))
			}
		}
	})

	g.Go(func() error {
		progress := time.NewTicker(time.Second)
		defer progress.Stop()
		last := int64(0)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-progress.C:
				n := ticks.Load()
				logger.Info("progress", zap.Int64("ticks", n), zap.Int64("tps", n-last))
				last = n
			}
		}
	})

	runErr := g.Wait()
	report.TotalTime = time.Since(startTime)
	report.TotalUpdates = ticks.Load()
	report.UpdateTime.Finalize()
	runtime.ReadMemStats(&report.MemStatsEnd)
	if runErr != nil {
		logger.Error("simulation stopped", zap.Error(runErr))
	}

	report.Collect(w, scheduler, cfg.Report.TopTables)
	logger.Info("simulation finished",
		zap.Int64("updates", report.TotalUpdates),
		zap.Duration("avg_frame", history.Average()),
		zap.Int("entities", report.World.Entities),
	)

	if err := writeReport(report, cfg.Report); err != nil {
		return err
	}
	if err := w.Fini(); err != nil {
		logger.Warn("fini", zap.Error(err))
	}
	return runErr
}

func writeReport(report *Report, cfg ReportConfig) error {
	out := os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return report.Generate(out, cfg.Format)
}

func startProfile(cfg RunConfig) interface{ Stop() } {
	var mode func(*profile.Profile)
	switch cfg.Profile {
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfileAllocs
	case "block":
		mode = profile.BlockProfile
	default:
		return nil
	}
	return profile.Start(mode, profile.ProfilePath(cfg.ProfilePath), profile.NoShutdownHook, profile.Quiet)
}

func newLogger(cfg LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
