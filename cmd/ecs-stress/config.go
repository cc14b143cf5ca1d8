package main

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"
)

// Config is the stress run configuration. Every field has a default, so a
// config file only needs the values it changes.
type Config struct {
	Run      RunConfig      `toml:"run"`
	World    WorldConfig    `toml:"world"`
	Workload WorkloadConfig `toml:"workload"`
	Report   ReportConfig   `toml:"report"`
	Logging  LoggingConfig  `toml:"logging"`
}

type RunConfig struct {
	Duration time.Duration `toml:"duration"`
	// Interval between ticks; 0 runs ticks back to back.
	Interval time.Duration `toml:"interval"`
	Parallel bool          `toml:"parallel"`
	Seed     int64         `toml:"seed"`
	Profile  string        `toml:"profile"` // "", "cpu", "mem" or "block"
	// ProfilePath is the directory profiles are written to.
	ProfilePath string `toml:"profile_path"`
}

type WorldConfig struct {
	EntityCapacity int `toml:"entity_capacity"`
	FiniMergeLimit int `toml:"fini_merge_limit"`
}

type WorkloadConfig struct {
	Entities          int `toml:"entities"`
	SpawnPerTick      int `toml:"spawn_per_tick"`
	MaxLifetime       int `toml:"max_lifetime"` // ticks
	ChurnPerTick      int `toml:"churn_per_tick"`
	ParentEvery       int `toml:"parent_every"` // ticks between new hierarchies
	ChildrenPerParent int `toml:"children_per_parent"`
	MaxParents        int `toml:"max_parents"`
	ShrinkEvery       int `toml:"shrink_every"` // ticks, 0 disables
}

type ReportConfig struct {
	Format         string `toml:"format"` // "markdown" or "yaml"
	Output         string `toml:"output"` // file path, empty for stdout
	GCPauseMetrics bool   `toml:"gc_pause_metrics"`
	TopTables      int    `toml:"top_tables"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

// Load reads path on top of the defaults. An empty path returns the
// defaults. The result is not validated; flags may still override it.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, eris.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Report.Format {
	case "markdown", "yaml":
	default:
		return eris.Errorf("unknown report format %q", c.Report.Format)
	}
	switch c.Run.Profile {
	case "", "cpu", "mem", "block":
	default:
		return eris.Errorf("unknown profile mode %q", c.Run.Profile)
	}
	if c.Workload.Entities < 0 || c.Workload.SpawnPerTick < 0 || c.Workload.ChurnPerTick < 0 {
		return eris.New("workload counts must not be negative")
	}
	if c.Workload.MaxLifetime <= 0 {
		return eris.New("max_lifetime must be positive")
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Run: RunConfig{
			Duration:    10 * time.Second,
			Seed:        1,
			ProfilePath: ".",
		},
		World: WorldConfig{
			EntityCapacity: 16384,
			FiniMergeLimit: 64,
		},
		Workload: WorkloadConfig{
			Entities:          10000,
			SpawnPerTick:      50,
			MaxLifetime:       300,
			ChurnPerTick:      100,
			ParentEvery:       10,
			ChildrenPerParent: 8,
			MaxParents:        32,
			ShrinkEvery:       500,
		},
		Report: ReportConfig{
			Format:    "markdown",
			TopTables: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
