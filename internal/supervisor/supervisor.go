// Package supervisor ties configuration, the external tool runner, the
// checkpoint store, the diagnostics and their countermeasures, and the
// fault injector into the main dependability event loop (spec §4.8,
// §5). Supervisor is the concrete implementation of supervisorapi.Handle.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alexmavr/depman/internal/checkpoint"
	"github.com/alexmavr/depman/internal/config"
	"github.com/alexmavr/depman/internal/countermeasure"
	"github.com/alexmavr/depman/internal/diagnostic"
	"github.com/alexmavr/depman/internal/eventbus"
	"github.com/alexmavr/depman/internal/injector"
	"github.com/alexmavr/depman/internal/sccexec"
)

// Lifecycle event types published on Bus (spec §5 observability).
const (
	EventFailureDetected   = "failure_detected"
	EventCheckpointCreated = "checkpoint_created"
	EventCountermeasure    = "countermeasure_performed"
	EventDegraded          = "degraded"
	EventRepaired          = "repaired"
	EventCompleted         = "completed"
)

// Supervisor is the dependability manager: it owns the worker process, the
// active core roster, the checkpoint store, the diagnostics, and the
// countermeasure escalation state (spec §3 depman, §4.8 event loop).
type Supervisor struct {
	cfg         *config.Config
	runner      *sccexec.Runner
	store       *checkpoint.Store
	janitor     *checkpoint.Janitor
	janitorStop chan struct{}
	Bus         *eventbus.Bus
	episodeID   string

	runMu sync.Mutex // held across a full worker lifetime, matching the original depman lock

	coresMu      sync.RWMutex
	cores        []string
	initialCores []string

	worker   *sccexec.WorkerProcess
	workerMu sync.Mutex
	stopped  bool

	diagnostics []diagnostic.Diagnostic
	currentProc []countermeasure.Procedure

	injectorMgr *injector.Manager

	mttfValues []time.Duration
	mttrValues []time.Duration
	failureTimestamp time.Time
	timestamp        time.Time // zero until a diagnostic first fails

	completed bool
	rng       *rand.Rand
}

// New builds a Supervisor from parsed configuration, reads the initial
// hostfile, and launches the worker process for the first time (spec §3
// depman.__init__).
func New(ctx context.Context, cfg *config.Config) (*Supervisor, error) {
	runner := sccexec.New(cfg.RccerunPath, cfg.KillfoliPath, cfg.Devel)
	runner.WithPingRateLimit(float64(cfg.PingWorkers)*10, cfg.PingWorkers*5)
	if err := runner.EnvCheck(ctx); err != nil {
		return nil, err
	}

	cores, err := readHostfile(cfg.HostFile)
	if err != nil {
		return nil, fmt.Errorf("read hostfile: %w", err)
	}
	if len(cores) < cfg.NumCores {
		return nil, fmt.Errorf("less cores in host file than requested: have %d, want %d", len(cores), cfg.NumCores)
	}
	if len(cores) > cfg.NumCores {
		log.Printf("[supervisor] hostfile contains more cores than requested, trimming to %d", cfg.NumCores)
		cores = cores[:cfg.NumCores]
	}

	cells := cfg.GridX * cfg.GridY
	s := &Supervisor{
		cfg:          cfg,
		runner:       runner,
		store:        checkpoint.NewStore(cfg.SimDumpLocation, cfg.SafeLocation, cells/len(cores), cfg.CellStateSize()),
		Bus:          eventbus.New(),
		episodeID:    uuid.NewString(),
		cores:        cores,
		initialCores: append([]string(nil), cores...),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := os.MkdirAll(cfg.SafeLocation, 0o755); err != nil {
		return nil, fmt.Errorf("create safe location: %w", err)
	}

	s.janitor = checkpoint.NewJanitor(s.store, cfg.CheckpointRetain)
	s.janitorStop = make(chan struct{})
	s.janitor.Start(time.Duration(cfg.CheckpointSweepInterval)*time.Second, s.janitorStop)

	if err := s.launch(ctx, cfg.ExecArgs); err != nil {
		return nil, err
	}
	time.Sleep(4 * time.Second) // give rccerun time to actually spawn the task

	s.diagnostics = buildDiagnostics(ctx, s, cfg)
	if err := s.wireInjectors(cfg); err != nil {
		return nil, err
	}

	s.failureTimestamp = time.Now()
	return s, nil
}

func buildDiagnostics(ctx context.Context, s *Supervisor, cfg *config.Config) []diagnostic.Diagnostic {
	var diags []diagnostic.Diagnostic
	for _, name := range cfg.Diagnostics {
		switch name {
		case "processExit":
			diags = append(diags, diagnostic.NewProcessExit(s))
		case "infoliOutputDivergence":
			diags = append(diags, diagnostic.NewOutputDivergence(s, cfg.SimDumpLocation, s.store.CellCount, cfg.UseSDCCheckpoints))
		case "coreReachability":
			diags = append(diags, diagnostic.NewCoreReachability(ctx, s, cfg.PingWorkers))
		default:
			log.Printf("[supervisor] unknown diagnostic %q ignored", name)
		}
	}
	return diags
}

// wireInjectors constructs the stochastic fault injector manager when
// fault injection mode is enabled (spec §4.6), binding each effect to the
// diagnostic surface it targets and the schedule file named after it under
// InjectorDir.
func (s *Supervisor) wireInjectors(cfg *config.Config) error {
	if !cfg.Injection {
		return nil
	}

	var injectors []*injector.Injector
	for _, d := range s.diagnostics {
		var eff injector.Effect
		switch t := d.(type) {
		case *diagnostic.ProcessExit:
			eff = injector.ProcessExitEffect{Target: t}
		case *diagnostic.OutputDivergence:
			eff = injector.SDCEffect{Target: t, Rng: s.rng}
		case *diagnostic.CoreReachability:
			// coreReachability hosts two distinct injected effects: a
			// transient shutdown and a permanent failure.
			shutdownInj, err := injector.NewInjector(injector.CoreShutdownEffect{Target: t, Rng: s.rng, Ctx: context.Background()}, scheduleFile(cfg.InjectorDir, "coreShutdown"))
			if err != nil {
				return err
			}
			injectors = append(injectors, shutdownInj)

			failureInj, err := injector.NewInjector(nil, scheduleFile(cfg.InjectorDir, "coreFailure"))
			if err != nil {
				return err
			}
			failureInj.Effect = injector.CoreFailureEffect{Target: t, Rng: s.rng, Injector: failureInj}
			injectors = append(injectors, failureInj)
			continue
		default:
			continue
		}
		inj, err := injector.NewInjector(eff, scheduleFile(cfg.InjectorDir, eff.Name()))
		if err != nil {
			return err
		}
		injectors = append(injectors, inj)
	}

	if len(injectors) == 0 {
		log.Printf("[supervisor] fault injection enabled but no injectable diagnostic is active")
		return nil
	}
	s.injectorMgr = injector.NewManager(injectors, time.Second, time.Now().UnixNano())
	log.Printf("[supervisor] fault injection module initialized with %d injector(s)", len(injectors))
	return nil
}

func scheduleFile(dir, name string) string {
	return dir + name + ".txt"
}

// launch starts the worker process under the current core roster.
func (s *Supervisor) launch(ctx context.Context, execArgs []string) error {
	cores := s.Cores()
	log.Printf("[supervisor] launching rccerun -nue %d -f %s %v", len(cores), s.cfg.HostFile, execArgs)
	wp, err := s.runner.RCCERun(ctx, len(cores), s.cfg.HostFile, execArgs)
	if err != nil {
		return err
	}
	s.workerMu.Lock()
	s.worker = wp
	s.stopped = false
	s.workerMu.Unlock()
	return nil
}

// Run is the top-level loop: it runs event cycles until the simulation
// reaches target length with no diagnostics failed (spec §3 main loop).
func (s *Supervisor) Run(ctx context.Context) {
	s.installSignalHandler()
	for !s.completed {
		s.eventLoop(ctx)
	}
	close(s.janitorStop)
	log.Printf("[supervisor] execution completed")
	s.Bus.Publish(eventbus.Event{Type: EventCompleted, Timestamp: time.Now(), Data: s.episodeID})
}

// eventLoop waits for the worker to exit, evaluates diagnostics, and
// performs whatever countermeasure procedure the failures call for,
// mirroring original_source/depman.py's event_loop exactly (spec §4.8).
func (s *Supervisor) eventLoop(ctx context.Context) {
	s.runMu.Lock()
	s.workerMu.Lock()
	wp := s.worker
	s.workerMu.Unlock()

	log.Printf("[supervisor] waiting for simulation")
	if err := wp.Wait(); err != nil {
		log.Printf("[supervisor] simulation exited: %v", err)
	} else {
		log.Printf("[supervisor] simulation exited cleanly")
	}
	s.waitDiagnostics()
	s.runMu.Unlock()

	failed := s.failedDiagnostics()
	for len(failed) == 0 && s.anyIncomplete() {
		failed = s.failedDiagnostics()
		time.Sleep(time.Second)
	}

	if len(failed) == 0 {
		log.Printf("[supervisor] no diagnostics failed, exiting")
		s.completed = true
		return
	}

	s.Bus.Publish(eventbus.Event{Type: EventFailureDetected, Timestamp: time.Now(), Data: len(failed)})

	if !s.timestamp.IsZero() {
		mttf := s.timestamp.Sub(s.failureTimestamp)
		s.recordMTTF(mttf)
		log.Printf("[supervisor] MTTF estimate: %s", s.mttfEstimate())
	}

	advanced, err := s.store.TryNewCheckpoint(s.Cores())
	if err == nil && advanced.Advanced {
		log.Printf("[supervisor] new DUE checkpoint stored for simstep %d", advanced.Step)
		s.Bus.Publish(eventbus.Event{Type: EventCheckpointCreated, Timestamp: time.Now(), Data: advanced.Step})
	}

	procedureFailed := len(s.currentProc) == 0
	if !advanced.Advanced && len(s.mttrValues) == 0 {
		log.Printf("[supervisor] Unrecoverable: no valid checkpoint was ever created, simulation cannot be restarted")
		os.Exit(2)
	}
	if !advanced.Advanced && procedureFailed && len(s.mttrValues) > 0 {
		log.Printf("[supervisor] countermeasure procedure exhausted with no new checkpoints, degrading")
		for _, d := range failed {
			d.Degrade()
		}
		s.Bus.Publish(eventbus.Event{Type: EventDegraded, Timestamp: time.Now(), Data: nil})
	}
	if advanced.Advanced || procedureFailed {
		s.currentProc = s.determineCountermeasures(failed)
		log.Printf("[supervisor] new countermeasure procedure determined")
	}

	for len(s.currentProc) > 0 {
		steps := s.currentProc[0]
		s.currentProc = s.currentProc[1:]
		stepFailed := false
		for _, step := range steps {
			ok, err := step.Perform(ctx, s)
			if err != nil {
				log.Printf("[supervisor] countermeasure %s error: %v", step.Name(), err)
			}
			if !ok {
				stepFailed = true
				break
			}
		}
		s.Bus.Publish(eventbus.Event{Type: EventCountermeasure, Timestamp: time.Now(), Data: stepFailed})
		if !stepFailed {
			break
		}
	}

	s.unsetFailedDiagnostics()
	s.workerMu.Lock()
	s.stopped = false
	s.workerMu.Unlock()
	s.reinitializeDiagnostics()

	mttr := time.Since(s.timestamp)
	s.mttrValues = append(s.mttrValues, mttr)
	log.Printf("[supervisor] MTTR estimate: %s", s.mttrEstimate())
	log.Printf("[supervisor] repair completed")
	s.Bus.Publish(eventbus.Event{Type: EventRepaired, Timestamp: time.Now(), Data: mttr})

	s.failureTimestamp = time.Now()
	if s.injectorMgr != nil {
		s.injectorMgr.Reinit()
	}
}

// determineCountermeasures returns the failed diagnostics' countermeasure
// procedure with the highest first-step cost (spec §4.8
// determine_countermeasures).
func (s *Supervisor) determineCountermeasures(failed []diagnostic.Diagnostic) []countermeasure.Procedure {
	maxCost := -1
	var maxProc []countermeasure.Procedure
	for _, d := range failed {
		proc := d.CountermeasureProcedure()
		if len(proc) == 0 || len(proc[0]) == 0 {
			continue
		}
		cost := countermeasure.Cost(proc[0][0].Name())
		if cost > maxCost {
			maxCost = cost
			maxProc = proc
		}
	}
	return maxProc
}

func (s *Supervisor) waitDiagnostics() {
	var g errgroup.Group
	for _, d := range s.diagnostics {
		d := d
		g.Go(func() error {
			d.Wait()
			return nil
		})
	}
	_ = g.Wait() // diagnostic.Wait() never returns an error
}

func (s *Supervisor) reinitializeDiagnostics() {
	for _, d := range s.diagnostics {
		d.Reinit()
	}
}

func (s *Supervisor) unsetFailedDiagnostics() {
	for _, d := range s.diagnostics {
		if f, ok := d.(interface{ Reset() }); ok {
			f.Reset()
		}
	}
}

func (s *Supervisor) failedDiagnostics() []diagnostic.Diagnostic {
	var out []diagnostic.Diagnostic
	for _, d := range s.diagnostics {
		if d.Failed() {
			out = append(out, d)
			if s.timestamp.IsZero() {
				s.timestamp = time.Now()
			}
		}
	}
	return out
}

func (s *Supervisor) anyIncomplete() bool {
	for _, d := range s.diagnostics {
		if !d.Completed() {
			return true
		}
	}
	return false
}

func (s *Supervisor) recordMTTF(d time.Duration) {
	s.mttfValues = append(s.mttfValues, d)
	if len(s.mttfValues) > s.cfg.MovingAvgN {
		s.mttfValues = s.mttfValues[len(s.mttfValues)-s.cfg.MovingAvgN:]
	}
}

func (s *Supervisor) mttfEstimate() time.Duration {
	return average(s.mttfValues)
}

func (s *Supervisor) mttrEstimate() time.Duration {
	return average(s.mttrValues)
}

func average(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total / time.Duration(len(ds))
}

// installSignalHandler requests a clean shutdown on SIGINT, matching the
// original's non-daemon kill thread (spec §4.8 sigint_handler).
func (s *Supervisor) installSignalHandler() {
	sigCh := newSignalChannel()
	go func() {
		<-sigCh
		log.Printf("[supervisor] terminated by SIGINT")
		s.Stop()
		os.Exit(0)
	}()
}
