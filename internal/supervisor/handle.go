package supervisor

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/alexmavr/depman/internal/sccexec"
)

// Cores returns the currently active core roster (spec §4 Handle.Cores).
func (s *Supervisor) Cores() []string {
	s.coresMu.RLock()
	defer s.coresMu.RUnlock()
	out := make([]string, len(s.cores))
	copy(out, s.cores)
	return out
}

// InitialCores returns the degradation baseline.
func (s *Supervisor) InitialCores() []string {
	s.coresMu.RLock()
	defer s.coresMu.RUnlock()
	out := make([]string, len(s.initialCores))
	copy(out, s.initialCores)
	return out
}

// SetInitialCores overwrites the degradation baseline.
func (s *Supervisor) SetInitialCores(cores []string) {
	s.coresMu.Lock()
	defer s.coresMu.Unlock()
	s.initialCores = append([]string(nil), cores...)
}

// ChangeCores installs a new active core roster: rewrites the hostfile,
// recomputes the per-core cell count, and updates Cores() (spec §4.8
// change_cores).
func (s *Supervisor) ChangeCores(cores []string) error {
	if err := writeHostfile(s.cfg.HostFile, cores); err != nil {
		return err
	}
	s.coresMu.Lock()
	s.cores = append([]string(nil), cores...)
	s.coresMu.Unlock()

	cells := s.cfg.GridX * s.cfg.GridY
	s.store.CellCount = cells / len(cores)
	log.Printf("[supervisor] cores changed to %d", len(cores))
	return nil
}

// Stop halts the running worker via killfoli followed by SIGKILL (spec
// §4.8 stop).
func (s *Supervisor) Stop() {
	s.timestamp = time.Now()
	s.workerMu.Lock()
	s.stopped = true
	wp := s.worker
	s.workerMu.Unlock()

	if s.injectorMgr != nil {
		s.injectorMgr.Halt()
	}

	ctx := context.Background()
	if err := s.runner.Killfoli(ctx, s.NumCores(), s.cfg.HostFile); err != nil {
		log.Printf("[supervisor] killfoli failed: %v", err)
	}
	if wp != nil && wp.Cmd.Process != nil {
		if err := wp.Cmd.Process.Kill(); err != nil {
			log.Printf("[supervisor] SIGKILL on simulation failed (likely already dead via killfoli): %v", err)
		} else {
			log.Printf("[supervisor] signaled SIGKILL to the simulation")
		}
	}
	log.Printf("[supervisor] simulation stopped")
}

// Stopped reports whether the worker has been halted.
func (s *Supervisor) Stopped() bool {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()
	return s.stopped
}

// LatestCheckpoint returns the most recently validated checkpoint step.
func (s *Supervisor) LatestCheckpoint() (int64, bool) {
	return s.store.Largest()
}

// SmallestCheckpoint returns the oldest retained checkpoint step.
func (s *Supervisor) SmallestCheckpoint() (int64, bool) {
	return s.store.Smallest()
}

// PruneCheckpointsBelow discards retained checkpoints strictly below
// minStep, except the largest such checkpoint.
func (s *Supervisor) PruneCheckpointsBelow(minStep int64) {
	s.store.PruneBelow(minStep)
}

// RestoreCheckpoint copies a validated checkpoint's files back into the
// live simulation directory.
func (s *Supervisor) RestoreCheckpoint(step int64, numCores int) error {
	return s.store.RestoreSnapshot(step, numCores)
}

// Restart relaunches the worker with the restart executable and the given
// trailing exec arguments (spec §4.5 restartSimulation).
func (s *Supervisor) Restart(execArgs []string) error {
	args := append([]string{s.cfg.RestartExec}, execArgs...)
	return s.launch(context.Background(), args)
}

// RestartExecArgs returns the trailing exec arguments diagnostics should
// bundle into a restartSimulation countermeasure.
func (s *Supervisor) RestartExecArgs() []string {
	return s.cfg.ExecArgs
}

// WorkerStdout returns the current worker process's combined stdout+stderr
// stream.
func (s *Supervisor) WorkerStdout() io.Reader {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()
	return s.worker.Stdout
}

// NumCores returns the size of the currently active core roster.
func (s *Supervisor) NumCores() int {
	s.coresMu.RLock()
	defer s.coresMu.RUnlock()
	return len(s.cores)
}

// Runner exposes the external tool wrapper.
func (s *Supervisor) Runner() *sccexec.Runner {
	return s.runner
}

// Devel reports whether external tools are stubbed with echo.
func (s *Supervisor) Devel() bool {
	return s.cfg.Devel
}

// Lock acquires the run lock held across a full countermeasure-driven
// restart.
func (s *Supervisor) Lock() { s.runMu.Lock() }

// Unlock releases the run lock.
func (s *Supervisor) Unlock() { s.runMu.Unlock() }
