// Package diagnostic implements the three fault detectors the supervisor
// runs alongside the worker: abnormal process exit, simulation output
// divergence (SDC detection), and core reachability (spec §4.3).
package diagnostic

import (
	"log"
	"sync"

	"github.com/alexmavr/depman/internal/countermeasure"
	"github.com/alexmavr/depman/internal/supervisorapi"
)

// Diagnostic is a fault detector the supervisor polls and escalates on
// (spec §4.3 diagnostic interface).
type Diagnostic interface {
	Name() string
	Failed() bool
	Fail()
	Reinit()
	Degrade()
	Completed() bool
	Wait()
	CountermeasureProcedure() []countermeasure.Procedure
}

// Base implements the shared failed-flag bookkeeping every diagnostic
// needs (spec §4.3: "failed under its own mutex").
type Base struct {
	mu     sync.Mutex
	failed bool
	name   string
	handle supervisorapi.Handle
}

func newBase(name string, h supervisorapi.Handle) Base {
	return Base{name: name, handle: h}
}

func (b *Base) Name() string { return b.name }

func (b *Base) Failed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Fail marks the diagnostic failed and stops the worker if it hasn't
// already been stopped (spec §4.3 fail()).
func (b *Base) Fail() {
	b.mu.Lock()
	alreadyFailed := b.failed
	if !alreadyFailed {
		log.Printf("[diagnostic] %s failed", b.name)
		b.failed = true
	}
	b.mu.Unlock()

	if !b.handle.Stopped() {
		b.handle.Stop()
	}
}

// setFailed lets a diagnostic override the stop-on-fail behavior (coreReachability
// needs to briefly shrink the roster before stopping, spec §4.3 coreReachability.fail).
func (b *Base) setFailed(v bool) {
	b.mu.Lock()
	b.failed = v
	b.mu.Unlock()
}

// Reset clears the failed flag (spec §4.3 reinit()).
func (b *Base) Reset() {
	b.setFailed(false)
}

// Completed is the default: most diagnostics are always "complete" between
// simulation runs (spec §4.3 completed()).
func (b *Base) Completed() bool { return true }

// Degrade is a no-op by default; only coreReachability overrides it.
func (b *Base) Degrade() {}

// Wait is a no-op by default; only diagnostics with their own monitor
// threads override it.
func (b *Base) Wait() {}
