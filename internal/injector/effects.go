package injector

import (
	"context"
	"math/rand"
)

// ProcessExitTarget is the surface a processExit-style injection needs
// (spec §4.6 processExitInjector).
type ProcessExitTarget interface {
	ProcessLine(line string) bool
}

// ProcessExitEffect feeds a synthetic SCC FAILURE line into a processExit
// diagnostic, as if the worker itself had printed it.
type ProcessExitEffect struct {
	Target ProcessExitTarget
}

func (ProcessExitEffect) Name() string { return "processExit" }

func (e ProcessExitEffect) Inject() {
	const failLine = "[0] FAILURE:  inject @ rckINJ w 12 "
	e.Target.ProcessLine(failLine)
}

// SDCTarget is the surface an infoli/SDC injection needs (spec §4.6
// infoliInjector).
type SDCTarget interface {
	ReaderCount() int
	InjectSDC(readerIndex int)
}

// SDCEffect arms a bit-flip corruption on a randomly chosen core's next
// output line.
type SDCEffect struct {
	Target SDCTarget
	Rng    *rand.Rand
}

func (SDCEffect) Name() string { return "infoliOutputDivergence" }

func (e SDCEffect) Inject() {
	n := e.Target.ReaderCount()
	if n == 0 {
		return
	}
	e.Target.InjectSDC(e.Rng.Intn(n))
}

// CoreShutdownTarget is the surface a core shutdown injection needs (spec
// §4.6 coreShutdownInjector).
type CoreShutdownTarget interface {
	Cores() []string
	ShutdownCore(ctx context.Context, core string)
}

// CoreShutdownEffect powers down one randomly chosen active core.
type CoreShutdownEffect struct {
	Target CoreShutdownTarget
	Rng    *rand.Rand
	Ctx    context.Context
}

func (CoreShutdownEffect) Name() string { return "coreShutdown" }

func (e CoreShutdownEffect) Inject() {
	cores := e.Target.Cores()
	if len(cores) == 0 {
		return
	}
	e.Target.ShutdownCore(e.Ctx, cores[e.Rng.Intn(len(cores))])
}

// CoreFailureTarget is the surface a permanent core failure injection
// needs (spec §4.6 coreFailureInjector).
type CoreFailureTarget interface {
	Cores() []string
	MarkPermanentlyFailed(core string)
}

// CoreFailureEffect permanently removes one randomly chosen active core
// and disables itself so it never fires twice.
type CoreFailureEffect struct {
	Target  CoreFailureTarget
	Rng     *rand.Rand
	Injector *Injector
}

func (CoreFailureEffect) Name() string { return "coreFailure" }

func (e CoreFailureEffect) Inject() {
	if e.Injector != nil {
		e.Injector.Disable()
	}
	cores := e.Target.Cores()
	if len(cores) == 0 {
		return
	}
	e.Target.MarkPermanentlyFailed(cores[e.Rng.Intn(len(cores))])
}
