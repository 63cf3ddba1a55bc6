// Package supervisorapi defines the narrow surface diagnostics and
// countermeasures are allowed to call back into the supervisor through
// (spec §4: "manager" in the original). Depending on this interface rather
// than the concrete supervisor package keeps diagnostic/countermeasure free
// of an import cycle back to the package that constructs them.
package supervisorapi

import (
	"io"

	"github.com/alexmavr/depman/internal/sccexec"
)

// Handle is the supervisor surface visible to diagnostics and
// countermeasures.
type Handle interface {
	// Cores returns the currently active core roster.
	Cores() []string
	// InitialCores returns the degradation baseline: the hostfile's core
	// roster, minus every core a reachability-driven degradation has
	// removed through SetInitialCores (spec §4.3).
	InitialCores() []string
	// SetInitialCores overwrites the degradation baseline.
	SetInitialCores(cores []string)
	// ChangeCores installs a new active core roster: rewrites the
	// hostfile, recomputes the per-core cell count, and updates Cores().
	ChangeCores(cores []string) error

	// Stop halts the running worker process (spec §4.8 stop).
	Stop()
	// Stopped reports whether the worker has been halted.
	Stopped() bool

	// LatestCheckpoint returns the most recently validated checkpoint step.
	LatestCheckpoint() (int64, bool)
	// SmallestCheckpoint returns the oldest retained checkpoint step, for
	// rewinding across an SDC detection window (spec §4.5 restartSimulation).
	SmallestCheckpoint() (int64, bool)
	// PruneCheckpointsBelow discards retained checkpoints strictly below
	// minStep, except the largest such checkpoint (spec §4.5
	// restartSimulation: "retain the most recent usable pre-SDC checkpoint").
	PruneCheckpointsBelow(minStep int64)
	// RestoreCheckpoint copies a validated checkpoint's files back into the
	// live simulation directory for numCores active cores.
	RestoreCheckpoint(step int64, numCores int) error
	// Restart relaunches the worker with the restart executable and the
	// given trailing exec arguments (spec §4.5 restartSimulation).
	Restart(execArgs []string) error
	// RestartExecArgs returns the trailing exec arguments diagnostics
	// should bundle into a restartSimulation countermeasure.
	RestartExecArgs() []string
	// WorkerStdout returns the current worker process's combined
	// stdout+stderr stream, for diagnostics to re-attach a scanner to
	// after a restart.
	WorkerStdout() io.Reader

	// NumCores returns the size of the currently active core roster.
	NumCores() int
	// Runner exposes the external tool wrapper for countermeasures that
	// shell out directly (reboot, reinit, boot status polling).
	Runner() *sccexec.Runner
	// Devel reports whether external tools are stubbed with echo.
	Devel() bool

	// Lock/Unlock guard a full countermeasure-driven restart, matching the
	// supervisor's own run lock (spec §4.8).
	Lock()
	Unlock()
}
