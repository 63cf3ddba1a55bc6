// Package countermeasure implements the supervisor's repair actions and
// their cost ordering (spec §4.5): restarting the simulation from the
// latest checkpoint, rebooting a set of cores, and reinitializing the
// whole platform.
package countermeasure

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alexmavr/depman/internal/sccexec"
	"github.com/alexmavr/depman/internal/supervisorapi"
)

// Countermeasure is a single repair step within a procedure.
type Countermeasure interface {
	Name() string
	Perform(ctx context.Context, h supervisorapi.Handle) (bool, error)
}

// Procedure is an ordered sequence of countermeasures performed as a unit:
// if any step fails, the whole procedure is abandoned (spec §4.5).
type Procedure []Countermeasure

// cost orders procedures by their MTTR, cheapest first (spec §4.5).
var cost = map[string]int{
	"restartSimulation":        0,
	"coreReboot":                1,
	"platformReinitialization": 2,
}

// Cost returns the relative repair cost of a countermeasure by name. Unknown
// names sort first.
func Cost(name string) int {
	return cost[name]
}

const bootStatusTimeout = 180 * time.Second

// RestartSimulation restores a validated checkpoint and relaunches the
// worker with it (spec §4.5). By default it restores the most recent
// checkpoint; when SDC is set (the failure being handled is a possible
// Silent Data Corruption), it first prunes checkpoints below MinStep and
// then rewinds to the smallest retained checkpoint, crossing back over the
// whole detection window rather than trusting any checkpoint corruption
// may have reached.
type RestartSimulation struct {
	ExecArgs []string

	// MinStep is the floor below which checkpoints are no longer trusted,
	// as reported by the SDC-detecting diagnostic's Wait (spec §4.3
	// infoliOutputDivergence.wait). Zero when SDC is false.
	MinStep int64
	// SDC marks this restart as triggered by a possible Silent Data
	// Corruption rather than a DUE (process exit, unreachable core).
	SDC bool
}

func (RestartSimulation) Name() string { return "restartSimulation" }

func (c RestartSimulation) Perform(ctx context.Context, h supervisorapi.Handle) (bool, error) {
	h.PruneCheckpointsBelow(c.MinStep)

	var step int64
	var ok bool
	if c.SDC {
		step, ok = h.SmallestCheckpoint()
	} else {
		step, ok = h.LatestCheckpoint()
	}
	if !ok {
		return false, fmt.Errorf("no checkpoint available to restart from")
	}

	h.Lock()
	defer h.Unlock()

	if err := h.RestoreCheckpoint(step, h.NumCores()); err != nil {
		return false, fmt.Errorf("restore checkpoint %d: %w", step, err)
	}
	log.Printf("[countermeasure] restarting simulation from step %d", step)
	if err := h.Restart(c.ExecArgs); err != nil {
		return false, fmt.Errorf("restart worker: %w", err)
	}
	return true, nil
}

// CoreReboot power-cycles a set of cores and waits for the full expected
// roster to come back online (spec §4.5).
type CoreReboot struct {
	RebootCores []string
	AllCores    []string
}

func (CoreReboot) Name() string { return "coreReboot" }

func (c CoreReboot) Perform(ctx context.Context, h supervisorapi.Handle) (bool, error) {
	r := h.Runner()
	log.Printf("[countermeasure] rebooting %d cores", len(c.RebootCores))
	if err := r.ResetPower(ctx, c.RebootCores); err != nil {
		return false, err
	}
	if err := r.ResetRun(ctx, c.RebootCores); err != nil {
		return false, err
	}
	if !bootLinux(ctx, r) {
		return false, nil
	}
	log.Printf("[countermeasure] waiting for %d cores to respond", len(c.AllCores))
	if !waitForCores(ctx, r, len(c.AllCores), bootStatusTimeout, h.Devel()) {
		return false, nil
	}
	log.Printf("[countermeasure] core reboot completed")
	return true, nil
}

// PlatformReinitialization reinitializes the whole SCC board (spec §4.5).
type PlatformReinitialization struct {
	ExpectedCores []string
}

func (PlatformReinitialization) Name() string { return "platformReinitialization" }

func (c PlatformReinitialization) Perform(ctx context.Context, h supervisorapi.Handle) (bool, error) {
	r := h.Runner()
	log.Printf("[countermeasure] reinitializing platform")
	if err := r.BMCReinit(ctx); err != nil {
		log.Printf("[countermeasure] sccBmc reinit failed: %v", err)
		return false, nil
	}
	if !bootLinux(ctx, r) {
		return false, nil
	}
	log.Printf("[countermeasure] waiting for %d cores to respond", len(c.ExpectedCores))
	if !waitForCores(ctx, r, len(c.ExpectedCores), bootStatusTimeout, h.Devel()) {
		return false, nil
	}
	log.Printf("[countermeasure] platform reinitialization completed")
	return true, nil
}

func bootLinux(ctx context.Context, r *sccexec.Runner) bool {
	if err := r.BootLinux(ctx); err != nil {
		log.Printf("[countermeasure] sccBoot -l failed: %v", err)
		return false
	}
	return true
}

func waitForCores(ctx context.Context, r *sccexec.Runner, expected int, timeout time.Duration, devel bool) bool {
	if devel {
		return true
	}
	deadline := time.Now().Add(timeout)
	for {
		n, err := r.BootStatus(ctx)
		if err == nil && n >= expected {
			break
		}
		if time.Now().After(deadline) {
			log.Printf("[countermeasure] timeout waiting for %d cores", expected)
			return false
		}
		time.Sleep(2 * time.Second)
	}
	time.Sleep(10 * time.Second)
	return true
}
