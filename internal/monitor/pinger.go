package monitor

import (
	"context"
	"sync"
	"time"
)

// pingRetryDelay is the pause a pinger worker takes between picking up
// consecutive jobs off the queue (spec §4.2 core pinger).
const pingRetryDelay = 500 * time.Millisecond

// holdPollInterval is how often the controller checks whether it has been
// released from a hold (spec §4.2 core pinger: "wait blocks the queue").
const holdPollInterval = 500 * time.Millisecond

// PingFunc probes a single core's IP and reports whether it answered.
type PingFunc func(ctx context.Context, ip string) bool

// SweepHandler reacts to the result of one full reachability sweep. It
// returns false to tell the sweeper to stop scheduling further rounds
// until SwitchCores is called (spec §4.2: "!handle_unreachables()
// holds the threads").
type SweepHandler func(unreachable []string) bool

// PingSweeper runs a fixed worker pool that repeatedly pings every core in
// its current roster and reports which ones failed twice in a row (spec
// §4.2 core pinger).
type PingSweeper struct {
	ping    PingFunc
	onSweep SweepHandler

	jobs chan string
	wg   sync.WaitGroup

	mu              sync.Mutex
	cores           []string
	unreachable     []string
	permUnreachable []string
	hold            bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPingSweeper spawns numWorkers pinger goroutines plus one controller
// goroutine, then starts sweeping immediately.
func NewPingSweeper(parent context.Context, numWorkers int, cores []string, ping PingFunc, onSweep SweepHandler) *PingSweeper {
	ctx, cancel := context.WithCancel(parent)
	p := &PingSweeper{
		ping:    ping,
		onSweep: onSweep,
		jobs:    make(chan string, len(cores)+1),
		cores:   append([]string(nil), cores...),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for i := 0; i < numWorkers; i++ {
		go p.worker(ctx)
	}
	go p.controller(ctx)
	return p
}

func (p *PingSweeper) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ip, ok := <-p.jobs:
			if !ok {
				return
			}
			if !p.ping(ctx, ip) && !p.ping(ctx, ip) {
				p.mu.Lock()
				p.unreachable = append(p.unreachable, ip)
				p.mu.Unlock()
			}
			p.wg.Done()
			time.Sleep(pingRetryDelay)
		}
	}
}

func (p *PingSweeper) controller(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if p.Held() {
			time.Sleep(holdPollInterval)
			continue
		}

		p.mu.Lock()
		cores := append([]string(nil), p.cores...)
		p.unreachable = nil
		p.mu.Unlock()

		p.wg.Add(len(cores))
		for _, c := range cores {
			select {
			case p.jobs <- c:
			case <-ctx.Done():
				return
			}
		}
		p.wg.Wait()

		p.mu.Lock()
		result := append([]string(nil), p.unreachable...)
		for _, c := range p.permUnreachable {
			if !contains(result, c) {
				result = append(result, c)
			}
		}
		held := p.hold
		p.mu.Unlock()

		if !held && !p.onSweep(result) {
			p.mu.Lock()
			p.hold = true
			p.mu.Unlock()
		}
	}
}

// Held reports whether the sweeper is currently paused.
func (p *PingSweeper) Held() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hold
}

// Hold pauses scheduling of further sweeps.
func (p *PingSweeper) Hold() {
	p.mu.Lock()
	p.hold = true
	p.mu.Unlock()
}

// SwitchCores replaces the roster being swept and clears any hold (spec
// §4.2: used after a degrade reallocates the active core set).
func (p *PingSweeper) SwitchCores(cores []string) {
	p.mu.Lock()
	p.cores = append([]string(nil), cores...)
	p.unreachable = nil
	p.hold = false
	p.mu.Unlock()
}

// MarkPermanentlyUnreachable adds cores that should always be reported as
// unreachable regardless of ping results, e.g. ones already removed from
// the grid (spec §4.2 perm_unreachables).
func (p *PingSweeper) MarkPermanentlyUnreachable(cores []string) {
	p.mu.Lock()
	p.permUnreachable = append([]string(nil), cores...)
	p.mu.Unlock()
}

// Stop halts the worker pool and controller.
func (p *PingSweeper) Stop() {
	p.cancel()
	close(p.jobs)
	<-p.done
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
