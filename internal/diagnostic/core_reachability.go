package diagnostic

import (
	"context"
	"log"
	"math/rand"
	"sync"

	"github.com/alexmavr/depman/internal/countermeasure"
	"github.com/alexmavr/depman/internal/grid"
	"github.com/alexmavr/depman/internal/monitor"
	"github.com/alexmavr/depman/internal/supervisorapi"
)

// infoliCoreDivisors are the task counts the infoli workload can be evenly
// split across, from largest to smallest (spec §4.3 coreReachability.degrade).
var infoliCoreDivisors = []int{24, 16, 12, 8, 6, 4, 3, 2}

// CoreReachability periodically pings every active core and fails once any
// of them stop responding (spec §4.3 coreReachability).
type CoreReachability struct {
	Base

	mu              sync.Mutex
	permUnreachable []string

	sweeper *monitor.PingSweeper
}

// NewCoreReachability spawns a ping sweeper bound to the handle's current
// core roster.
func NewCoreReachability(ctx context.Context, h supervisorapi.Handle, numWorkers int) *CoreReachability {
	d := &CoreReachability{Base: newBase("coreReachability", h)}
	ping := func(ctx context.Context, ip string) bool { return h.Runner().Ping(ctx, ip) }
	d.sweeper = monitor.NewPingSweeper(ctx, numWorkers, h.Cores(), ping, d.handleUnreachables)
	return d
}

func (d *CoreReachability) handleUnreachables(unreachable []string) bool {
	active := make(map[string]bool)
	for _, c := range d.handle.Cores() {
		active[c] = true
	}
	var activeUnreachable []string
	for _, c := range unreachable {
		if active[c] {
			activeUnreachable = append(activeUnreachable, c)
		}
	}
	if len(activeUnreachable) > 0 {
		log.Printf("[diagnostic] %d cores are not responding: %v", len(activeUnreachable), activeUnreachable)
		d.lastUnreachable(activeUnreachable)
		d.Fail()
		return false
	}
	return true
}

func (d *CoreReachability) lastUnreachable(cores []string) {
	d.mu.Lock()
	d.permUnreachable = cores
	d.mu.Unlock()
}

// Fail shrinks the active roster to the reachable subset before stopping
// the worker, then restores the full roster so the countermeasure
// procedure can see which cores need rebooting (spec §4.3
// coreReachability.fail).
func (d *CoreReachability) Fail() {
	d.mu.Lock()
	alreadyFailed := d.Failed()
	if !alreadyFailed {
		log.Printf("[diagnostic] %s failed", d.Name())
		d.setFailed(true)
	}
	unreachable := d.permUnreachable
	d.mu.Unlock()

	if d.handle.Stopped() {
		return
	}
	prevCores := d.handle.Cores()
	reachable := make([]string, 0, len(prevCores))
	unreachableSet := make(map[string]bool, len(unreachable))
	for _, c := range unreachable {
		unreachableSet[c] = true
	}
	for _, c := range prevCores {
		if !unreachableSet[c] {
			reachable = append(reachable, c)
		}
	}
	d.handle.ChangeCores(reachable)
	d.handle.Stop()
	d.handle.ChangeCores(prevCores)
}

// Wait pauses the ping sweeper while the worker is stopped (spec §4.2 core
// pinger: monitor.wait()).
func (d *CoreReachability) Wait() {
	d.sweeper.Hold()
}

func (d *CoreReachability) Reinit() {
	d.Reset()
	d.sweeper.SwitchCores(d.handle.Cores())
}

// Degrade discards the unreachable cores permanently and re-allocates the
// workload across the largest divisor-aligned subset that still fits
// (spec §4.3 coreReachability.degrade).
func (d *CoreReachability) Degrade() {
	d.mu.Lock()
	unreachable := make(map[string]bool, len(d.permUnreachable))
	for _, c := range d.permUnreachable {
		unreachable[c] = true
	}
	d.mu.Unlock()

	maxCores := d.handle.InitialCores()
	remaining := make([]string, 0, len(maxCores))
	for _, c := range maxCores {
		if !unreachable[c] {
			remaining = append(remaining, c)
		}
	}
	d.handle.SetInitialCores(remaining)

	newTasks := 1
	for _, divisor := range infoliCoreDivisors {
		if len(remaining) >= divisor {
			newTasks = divisor
			break
		}
	}

	rng := rand.New(rand.NewSource(int64(len(remaining))))
	placed, err := grid.Allocate(rng, newTasks, remaining)
	if err != nil {
		log.Printf("[diagnostic] degrade: allocation failed: %v", err)
		return
	}
	if err := d.handle.ChangeCores(placed); err != nil {
		log.Printf("[diagnostic] degrade: failed to change cores: %v", err)
		return
	}
	d.sweeper.SwitchCores(placed)
	log.Printf("[diagnostic] reduced to %d cores", newTasks)
}

// MarkPermanentlyFailed records a core as permanently unreachable (spec
// §4.6 coreFailureInjector) and fails the diagnostic immediately.
func (d *CoreReachability) MarkPermanentlyFailed(core string) {
	d.mu.Lock()
	d.permUnreachable = append(d.permUnreachable, core)
	perm := append([]string(nil), d.permUnreachable...)
	d.mu.Unlock()
	d.sweeper.MarkPermanentlyUnreachable(perm)
	d.Fail()
}

// ShutdownCore powers down the given core and fails the diagnostic
// (spec §4.6 coreShutdownInjector).
func (d *CoreReachability) ShutdownCore(ctx context.Context, core string) {
	_ = d.handle.Runner().ResetPower(ctx, []string{core})
	d.Fail()
}

// Cores exposes the active roster, for the fault injector to pick a
// random target.
func (d *CoreReachability) Cores() []string {
	return d.handle.Cores()
}

func (d *CoreReachability) CountermeasureProcedure() []countermeasure.Procedure {
	execArgs := d.handle.RestartExecArgs()
	d.mu.Lock()
	unreachable := d.permUnreachable
	d.mu.Unlock()
	initial := d.handle.InitialCores()
	active := d.handle.Cores()
	return []countermeasure.Procedure{
		{
			countermeasure.CoreReboot{RebootCores: unreachable, AllCores: initial},
			countermeasure.RestartSimulation{ExecArgs: execArgs},
		},
		{
			countermeasure.PlatformReinitialization{ExpectedCores: active},
			countermeasure.RestartSimulation{ExecArgs: execArgs},
		},
	}
}
