package main

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plus3/ecscore/ecs"
	"github.com/plus3/ecscore/ecs/inspect"
)

type Report struct {
	// Configuration
	Duration    time.Duration `yaml:"duration"`
	Entities    int           `yaml:"initial_entities"`
	Parallel    bool          `yaml:"parallel"`
	SystemCount int           `yaml:"systems"`

	// Results
	TotalUpdates   int64            `yaml:"total_updates"`
	TotalTime      time.Duration    `yaml:"total_time"`
	UpdateTime     Stats            `yaml:"update_time"`
	GCPauseMetrics bool             `yaml:"-"`
	MemStatsStart  runtime.MemStats `yaml:"-"`
	MemStatsEnd    runtime.MemStats `yaml:"-"`
	Memory         MemoryDelta      `yaml:"memory"`

	World    WorldReport         `yaml:"world"`
	Commands ecs.CommandStats    `yaml:"commands"`
	Systems  []ecs.SystemStats   `yaml:"systems_detail"`
	Spawn    SpawnStats          `yaml:"spawn"`
	Largest  []inspect.TableInfo `yaml:"largest_tables"`
}

type Stats struct {
	Min     time.Duration   `yaml:"min"`
	Max     time.Duration   `yaml:"max"`
	Avg     time.Duration   `yaml:"avg"`
	P99     time.Duration   `yaml:"p99"`
	Samples []time.Duration `yaml:"-"`
}

type WorldReport struct {
	Entities      int    `yaml:"entities"`
	Tables        int    `yaml:"tables"`
	EmptyTables   int    `yaml:"empty_tables"`
	IdRecords     int    `yaml:"id_records"`
	TablesCreated uint64 `yaml:"tables_created"`
	TablesDeleted uint64 `yaml:"tables_deleted"`
	Moves         uint64 `yaml:"moves"`
	Deletes       uint64 `yaml:"deletes"`
	EdgeHits      uint64 `yaml:"edge_hits"`
	EdgeMisses    uint64 `yaml:"edge_misses"`
}

type MemoryDelta struct {
	HeapAlloc  int64  `yaml:"heap_alloc"`
	TotalAlloc int64  `yaml:"total_alloc"`
	Sys        int64  `yaml:"sys"`
	NumGC      uint32 `yaml:"num_gc"`
	PauseTotal string `yaml:"pause_total,omitempty"`
}

func (s *Stats) Finalize() {
	if len(s.Samples) == 0 {
		return
	}

	var total time.Duration
	s.Min = s.Samples[0]
	s.Max = s.Samples[0]

	for _, sample := range s.Samples {
		if sample < s.Min {
			s.Min = sample
		}
		if sample > s.Max {
			s.Max = sample
		}
		total += sample
	}
	s.Avg = total / time.Duration(len(s.Samples))

	sorted := slices.Clone(s.Samples)
	slices.Sort(sorted)
	s.P99 = sorted[(len(sorted)-1)*99/100]
}

// Collect fills the world, command and system sections from a finished run.
func (r *Report) Collect(w *ecs.World, scheduler *ecs.Scheduler, top int) {
	stats := w.CollectStats()
	r.World = WorldReport{
		Entities:      stats.TotalEntityCount,
		Tables:        stats.TableCount,
		EmptyTables:   stats.EmptyTableCount,
		IdRecords:     stats.IdRecordCount,
		TablesCreated: stats.TablesCreated,
		TablesDeleted: stats.TablesDeleted,
		Moves:         stats.Moves,
		Deletes:       stats.Deletes,
		EdgeHits:      stats.EdgeHits,
		EdgeMisses:    stats.EdgeMisses,
	}
	r.Commands = stats.Commands
	r.Systems = scheduler.GetStats().Systems
	r.Largest = inspect.Summarize(w, nil, top).Largest
	if spawn := ecs.NewSingleton[SpawnStats](w).Get(); spawn != nil {
		r.Spawn = *spawn
	}

	r.Memory = MemoryDelta{
		HeapAlloc:  int64(r.MemStatsEnd.HeapAlloc) - int64(r.MemStatsStart.HeapAlloc),
		TotalAlloc: int64(r.MemStatsEnd.TotalAlloc) - int64(r.MemStatsStart.TotalAlloc),
		Sys:        int64(r.MemStatsEnd.Sys) - int64(r.MemStatsStart.Sys),
		NumGC:      r.MemStatsEnd.NumGC - r.MemStatsStart.NumGC,
	}
	if r.GCPauseMetrics {
		r.Memory.PauseTotal = time.Duration(r.MemStatsEnd.PauseTotalNs).String()
	}
}

// Generate writes the report as markdown or yaml.
func (r *Report) Generate(w io.Writer, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}

	const reportTemplate = `
# ECS Stress Test Report

## Test Configuration
- **Run Duration:** {{.Duration}}
- **Initial Entities:** {{.Entities}}
- **Systems:** {{.SystemCount}}{{if .Parallel}} (parallel){{end}}

## Performance Results
- **Total Updates:** {{.TotalUpdates}}
- **Total Test Time:** {{.TotalTime}}
- **Update Time (Frame):**
  - **Avg:** {{.UpdateTime.Avg}}
  - **Min:** {{.UpdateTime.Min}}
  - **Max:** {{.UpdateTime.Max}}
  - **P99:** {{.UpdateTime.P99}}

## Systems
| System | Runs | Avg | Max |
|---|---|---|---|
{{- range .Systems}}
| {{.Name}} | {{.ExecutionCount}} | {{.AvgDuration}} | {{.MaxDuration}} |
{{- end}}

## World
- Entities: {{.World.Entities}} (spawned {{.Spawn.Spawned}}, hierarchies {{.Spawn.Parents}})
- Tables: {{.World.Tables}} ({{.World.EmptyTables}} empty, {{.World.TablesCreated}} created, {{.World.TablesDeleted}} deleted)
- Id records: {{.World.IdRecords}}
- Moves: {{.World.Moves}}, deletes: {{.World.Deletes}}
- Graph edges: {{.World.EdgeHits}} hits, {{.World.EdgeMisses}} misses

## Commands
- Queued {{.Commands.Queued}}, merged {{.Commands.Merged}}, batched {{.Commands.Batched}}
- Dropped {{.Commands.Dropped}}, discarded {{.Commands.Discarded}}

## Largest Tables
{{- range .Largest}}
- {{.EntityCount}} entities: {{join .Components}}
{{- end}}

## Memory Usage (Raw Bytes)
- Heap Alloc:     {{.MemStatsStart.HeapAlloc}} (start) -> {{.MemStatsEnd.HeapAlloc}} (end) -> delta: {{.Memory.HeapAlloc}} ({{mb .Memory.HeapAlloc}} MB)
- Total Alloc:    {{.MemStatsStart.TotalAlloc}} (start) -> {{.MemStatsEnd.TotalAlloc}} (end) -> delta: {{.Memory.TotalAlloc}} ({{mb .Memory.TotalAlloc}} MB)
- Sys Memory:     {{.MemStatsStart.Sys}} (start) -> {{.MemStatsEnd.Sys}} (end) -> delta: {{.Memory.Sys}}
- Num GC:         {{.MemStatsStart.NumGC}} (start) -> {{.MemStatsEnd.NumGC}} (end) -> delta: {{.Memory.NumGC}}

{{if .GCPauseMetrics}}
## GC Pause Durations
- **Total GC Pause:** {{.Memory.PauseTotal}}
- **Num GC Cycles:** {{.Memory.NumGC}}
{{end}}
`

	fm := template.FuncMap{
		"mb": func(v any) string {
			switch val := v.(type) {
			case uint64:
				return fmt.Sprintf("%.2f", float64(val)/1024/1024)
			case int64:
				return fmt.Sprintf("%.2f", float64(val)/1024/1024)
			default:
				return "N/A"
			}
		},
		"join": func(names []string) string { return strings.Join(names, ", ") },
	}

	tmpl, err := template.New("report").Funcs(fm).Parse(reportTemplate)
	if err != nil {
		return err
	}

	return tmpl.Execute(w, r)
}
