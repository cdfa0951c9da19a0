package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"meshworld.ai/internal/config"
	"meshworld.ai/internal/persistence/ticklog"
	"meshworld.ai/internal/sim/shard"
)

type zoneSummary struct {
	Zone         uint32  `json:"zone"`
	Ticks        int     `json:"ticks"`
	FirstTick    uint64  `json:"first_tick"`
	LastTick     uint64  `json:"last_tick"`
	MaxObjects   int     `json:"max_objects"`
	Commands     int     `json:"commands"`
	Collisions   int     `json:"collisions"`
	SkippedTicks int     `json:"skipped_ticks"`
	AvgStepMS    float64 `json:"avg_step_ms"`
	MaxStepMS    float64 `json:"max_step_ms"`
}

type ticksArgs struct {
	dir  string
	zone uint
}

func ticksFlags(a *ticksArgs) *flag.FlagSet {
	if a == nil {
		a = &ticksArgs{}
	}
	fs := flag.NewFlagSet("ticks", flag.ExitOnError)
	fs.StringVar(&a.dir, "dir", config.DefaultTickLogDir, "tick log directory")
	fs.UintVar(&a.zone, "zone", 0, "zone filter (0 = all)")
	return fs
}

// ticksCmd summarizes tick log files per zone.
func ticksCmd(args []string) {
	var a ticksArgs
	_ = ticksFlags(&a).Parse(args)

	all, err := loadTicks(a.dir, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, s := range summarize(all, uint32(a.zone)) {
		printJSON(s)
	}
}

// loadTicks reads every tick log file under dir. Read errors are reported to
// warn and the entries decoded before them are kept.
func loadTicks(dir string, warn io.Writer) ([]shard.TickLogEntry, error) {
	files, err := ticklog.Files(dir)
	if err != nil {
		return nil, err
	}
	var all []shard.TickLogEntry
	for _, f := range files {
		entries, err := ticklog.ReadFile(f)
		if err != nil {
			// the live hour ends in an open frame; keep what was flushed
			fmt.Fprintf(warn, "read %s: %v (kept %d entries)\n", f, err, len(entries))
		}
		all = append(all, entries...)
	}
	return all, nil
}

func summarize(entries []shard.TickLogEntry, only uint32) []zoneSummary {
	by := map[uint32]*zoneSummary{}
	for _, e := range entries {
		if only != 0 && e.Zone != only {
			continue
		}
		s := by[e.Zone]
		if s == nil {
			s = &zoneSummary{Zone: e.Zone, FirstTick: e.Tick}
			by[e.Zone] = s
		}
		s.Ticks++
		if e.Tick < s.FirstTick {
			s.FirstTick = e.Tick
		}
		if e.Tick > s.LastTick {
			s.LastTick = e.Tick
		}
		if e.Objects > s.MaxObjects {
			s.MaxObjects = e.Objects
		}
		s.Commands += e.Commands
		s.Collisions += e.Collisions
		if e.Skipped {
			s.SkippedTicks++
		}
		s.AvgStepMS += e.StepMS
		if e.StepMS > s.MaxStepMS {
			s.MaxStepMS = e.StepMS
		}
	}
	out := make([]zoneSummary, 0, len(by))
	for _, s := range by {
		s.AvgStepMS /= float64(s.Ticks)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Zone < out[j].Zone })
	return out
}
