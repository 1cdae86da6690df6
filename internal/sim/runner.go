// Package sim drives the simulation on a discrete logical clock. One
// goroutine owns everything: each millisecond the clock advances, due
// agents act, and optional snapshot pushes go out. No engine state is
// ever touched from anywhere else while Run is in progress.
package sim

import (
	"fmt"

	"auctionsim/internal/audit"
	"auctionsim/internal/engine"
)

// Actor is the scheduler's view of an agent. Satisfied by the types in
// internal/agents.
type Actor interface {
	ID() int64
	NextAction() int64
	Act(now int64)
}

type Config struct {
	// Duration is the total run length in logical milliseconds.
	Duration int64
	// Warmup is how long the starting period lasts: until it elapses
	// any order that would trade is cancelled instead.
	Warmup int64
	// SnapshotEvery is the interval between snapshot callbacks in
	// logical ms. Zero disables them.
	SnapshotEvery int64
}

func DefaultConfig() Config {
	return Config{
		Duration:      300_000, // five simulated minutes
		Warmup:        30_000,
		SnapshotEvery: 1000,
	}
}

// Runner steps the simulation from t=0 to t=Duration.
type Runner struct {
	eng    *engine.MatchingEngine
	log    *audit.Logger
	actors []Actor
	cfg    Config

	// OnSnapshot, when set, is called every SnapshotEvery logical ms
	// from the simulation goroutine. The callback may read the engine's
	// query surface; it runs before the next agent acts.
	OnSnapshot func(now int64)
}

func NewRunner(eng *engine.MatchingEngine, log *audit.Logger, actors []Actor, cfg Config) *Runner {
	return &Runner{
		eng:    eng,
		log:    log,
		actors: actors,
		cfg:    cfg,
	}
}

// Run executes the full simulation and flushes the audit log. The
// engine begins inside the starting period and leaves it when the
// warm-up window elapses. A sink write failure aborts the run.
func (r *Runner) Run() error {
	for now := int64(0); now < r.cfg.Duration; now++ {
		if now == r.cfg.Warmup {
			r.eng.SetStartingPeriod(false)
		}

		for _, a := range r.actors {
			if a.NextAction() <= now {
				a.Act(now)
			}
		}

		if r.OnSnapshot != nil && r.cfg.SnapshotEvery > 0 && now%r.cfg.SnapshotEvery == 0 {
			r.OnSnapshot(now)
		}

		if err := r.log.Err(); err != nil {
			return fmt.Errorf("sim: audit sink failed at t=%dms: %w", now, err)
		}

		r.eng.IncrementTime()
	}
	if err := r.log.Flush(); err != nil {
		return fmt.Errorf("sim: final audit flush: %w", err)
	}
	return nil
}
