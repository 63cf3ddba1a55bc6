// Package injector implements the stochastic fault injector (spec §4.6,
// §4.7): each injector advances through a schedule of (time_offset, mttf)
// pairs as wall-clock time elapses, derives a per-tick injection
// probability from an exponential failure law over the currently
// installed mttf, and fires at most one injection per tick across the
// whole manager.
package injector

import (
	"log"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Effect performs one injector's concrete fault.
type Effect interface {
	Name() string
	Inject()
}

// Injector pairs an Effect with the schedule file driving its probability.
type Injector struct {
	Effect   Effect
	Schedule *Schedule

	disabled atomic.Bool

	timestamp   time.Time
	probability float64
}

// NewInjector binds an effect to a schedule file, matching the original's
// per-injector `self.f = open(self.filename)` (spec §4.6).
func NewInjector(effect Effect, schedulePath string) (*Injector, error) {
	sched, err := OpenSchedule(schedulePath)
	if err != nil {
		return nil, err
	}
	return &Injector{Effect: effect, Schedule: sched, timestamp: time.Now()}, nil
}

// Disable permanently excludes this injector from future draws (spec §4.6
// coreFailureInjector: "disabled = True" after first fire).
func (i *Injector) Disable() { i.disabled.Store(true) }

// Disabled reports whether the injector has been permanently excluded.
func (i *Injector) Disabled() bool { return i.disabled.Load() }

// NewTimestamp resets the elapsed-time clock, avoiding an inflated
// probability right after a restart, and rebases the injector's own
// (time_offset, mttf) schedule to the same "now" so it resumes from its
// first row instead of replaying every offset that elapsed while the
// simulation was down (spec §4.6 injector.new_timestamp; spec §4.7: "all
// injector timestamps are rebased to now").
func (i *Injector) NewTimestamp() {
	i.timestamp = time.Now()
	i.Schedule.Rebase()
}

// update advances the injector's probability using the mttf installed by
// its schedule's current (time_offset, mttf) row and the exponential
// failure law p = 1 - exp(-Δt/mttf) (spec §4.7 steps 1-2).
func (i *Injector) update(onZeroMTTF func()) {
	now := time.Now()
	mttf, err := i.Schedule.Next()
	if err != nil {
		log.Printf("[injector] %s: schedule not yet active: %v", i.Effect.Name(), err)
		i.timestamp = now
		return
	}
	if mttf == 0 {
		onZeroMTTF()
		i.timestamp = now
		return
	}
	deltat := now.Sub(i.timestamp).Seconds()
	i.probability = 1 - math.Exp(-(deltat / float64(mttf)))
	i.timestamp = now
}

// Manager runs the injector probability loop: at each tick it updates every
// injector's probability, then draws at most one to fire (spec §4.6
// injectorManager).
type Manager struct {
	injectors []*Injector
	interval  time.Duration
	rng       *rand.Rand

	mu     sync.Mutex
	halted bool
	doneCh chan struct{}
}

// NewManager builds a manager over the given injectors and starts its
// processing goroutine immediately (spec §4.6: injectorManager spawns a
// thread at construction time).
func NewManager(injectors []*Injector, interval time.Duration, seed int64) *Manager {
	m := &Manager{
		injectors: injectors,
		interval:  interval,
		rng:       rand.New(rand.NewSource(seed)),
		doneCh:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Halt stops the processing loop after its current tick (spec §4.6
// manager.halt_injectors).
func (m *Manager) Halt() {
	m.mu.Lock()
	m.halted = true
	m.mu.Unlock()
}

// Reinit resumes injection after a brief grace period, resetting every
// injector's clock so a just-restarted simulation isn't immediately hit
// again (spec §4.6 injectorManager.reinit_injectors).
func (m *Manager) Reinit() {
	time.Sleep(3 * time.Second)
	m.mu.Lock()
	m.halted = false
	m.mu.Unlock()
	for _, i := range m.injectors {
		i.NewTimestamp()
	}
	m.doneCh = make(chan struct{})
	go m.run()
}

func (m *Manager) isHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

func (m *Manager) run() {
	defer close(m.doneCh)
	for {
		if m.isHalted() {
			return
		}

		for _, i := range m.injectors {
			i.update(func() {
				log.Printf("[injector] zero MTTF specified, halting all injectors")
				m.Halt()
			})
		}

		time.Sleep(m.interval)

		for _, i := range m.injectors {
			if i.Disabled() {
				continue
			}
			draw := m.rng.Float64()
			if draw < i.probability {
				log.Printf("[injector] injecting %s", i.Effect.Name())
				i.Effect.Inject()
				break
			}
		}
	}
}

// Stop halts the manager and blocks until its goroutine exits.
func (m *Manager) Stop() {
	m.Halt()
	<-m.doneCh
}
