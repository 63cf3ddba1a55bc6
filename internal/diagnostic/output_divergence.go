package diagnostic

import (
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alexmavr/depman/internal/countermeasure"
	"github.com/alexmavr/depman/internal/monitor"
	"github.com/alexmavr/depman/internal/supervisorapi"
)

// targetSimSteps is the simulation step every core must reach before the
// output divergence diagnostic considers the run complete.
const targetSimSteps = 120000

// OutputDivergence follows every core's simulation output file and fails
// if a line cannot be parsed as the expected (step, 2 further fields,
// cellCount voltages) record, or a voltage leaves the physically plausible
// range (spec §4.3 infoliOutputDivergence / SDC detection).
type OutputDivergence struct {
	Base

	simDir            string
	cellCount         int
	useSDCCheckpoints bool

	mu      sync.Mutex
	minStep int64
	readers []*coreReader
}

type coreReader struct {
	core     int
	follower *monitor.FileFollower
	proc     *lineProcessor
}

// NewOutputDivergence spawns one file follower per active core.
// useSDCCheckpoints mirrors config.py's use_SDC_checkpoints: when set, a
// restart countermeasure triggered by this diagnostic rewinds to the
// earliest retained checkpoint rather than the latest (spec §4.5).
func NewOutputDivergence(h supervisorapi.Handle, simDir string, cellCount int, useSDCCheckpoints bool) *OutputDivergence {
	d := &OutputDivergence{Base: newBase("infoliOutputDivergence", h), simDir: simDir, cellCount: cellCount, useSDCCheckpoints: useSDCCheckpoints}
	d.spawnReaders(0)
	return d
}

// MinStep returns the lowest step any core's file follower reached the last
// time Wait ran, the floor below which checkpoints are no longer trusted
// after a possible SDC (spec §4.3 infoliOutputDivergence.wait).
func (d *OutputDivergence) MinStep() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.minStep
}

func (d *OutputDivergence) spawnReaders(fromStep int64) {
	cores := d.handle.Cores()
	readers := make([]*coreReader, 0, len(cores))
	for i, name := range cores {
		coreNum := coreNumberFromName(name)
		outfile := filepath.Join(d.simDir, fmt.Sprintf("InferiorOlive_Output%d.txt", i))
		proc := &lineProcessor{core: coreNum, diagnostic: d, simstep: fromStep, cellCount: d.cellCount}
		readers = append(readers, &coreReader{
			core:     coreNum,
			follower: monitor.NewFileFollower(outfile, proc),
			proc:     proc,
		})
	}
	d.mu.Lock()
	d.readers = readers
	d.mu.Unlock()
}

func coreNumberFromName(name string) int {
	if len(name) < 4 {
		return 0
	}
	n, _ := strconv.Atoi(name[3:])
	return n
}

func (d *OutputDivergence) Reinit() {
	d.Reset()
	d.spawnReaders(0)
	time.Sleep(2 * time.Second)
}

// Wait stops the file followers before a restart, first recording the
// lowest step any reader reached as MinStep, the floor an SDC restart
// prunes checkpoints against (spec §4.3 infoliOutputDivergence.wait).
// Reinit starts the next run's readers from step 0.
func (d *OutputDivergence) Wait() {
	d.mu.Lock()
	readers := d.readers
	d.mu.Unlock()

	min := int64(-1)
	for _, r := range readers {
		step := r.proc.Step()
		if min == -1 || step < min {
			min = step
		}
	}
	if min == -1 {
		min = 0
	}
	d.mu.Lock()
	d.minStep = min
	d.mu.Unlock()

	for _, r := range readers {
		r.follower.Stop()
	}
	time.Sleep(2 * time.Second)
}

// Completed reports whether every core has reached targetSimSteps.
func (d *OutputDivergence) Completed() bool {
	d.mu.Lock()
	readers := d.readers
	d.mu.Unlock()

	for _, r := range readers {
		if r.proc.Step() < targetSimSteps {
			return false
		}
	}
	return true
}

func (d *OutputDivergence) CountermeasureProcedure() []countermeasure.Procedure {
	execArgs := d.handle.RestartExecArgs()
	allCores := d.handle.Cores()

	restart := countermeasure.RestartSimulation{ExecArgs: execArgs}
	if d.useSDCCheckpoints {
		restart.MinStep = d.MinStep()
		restart.SDC = true
	}

	return []countermeasure.Procedure{
		{restart},
		{
			countermeasure.CoreReboot{RebootCores: allCores, AllCores: allCores},
			restart,
		},
		{
			countermeasure.PlatformReinitialization{ExpectedCores: allCores},
			restart,
		},
	}
}

// InjectSDC arms a single bit-flip corruption on the next output line of
// the reader at readerIndex; out-of-range indexes are ignored (spec §4.6
// infoli/SDC injector).
func (d *OutputDivergence) InjectSDC(readerIndex int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if readerIndex < 0 || readerIndex >= len(d.readers) {
		return
	}
	d.readers[readerIndex].follower.InjectSDC()
}

// ReaderCount returns the number of active per-core followers, for the
// fault injector to pick one at random.
func (d *OutputDivergence) ReaderCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.readers)
}

// lineProcessor parses one core's InferiorOlive_Output<N>.txt lines (spec
// §4.3: step, 2 further fields, cellCount voltages).
type lineProcessor struct {
	core       int
	diagnostic *OutputDivergence
	cellCount  int

	mu      sync.Mutex
	simstep int64
}

func (p *lineProcessor) Step() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.simstep
}

func (p *lineProcessor) ExpectedLength() int {
	return p.cellCount + 3
}

func (p *lineProcessor) BreakCondition(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && fields[0] == "#simSteps"
}

func (p *lineProcessor) AssertLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) != p.ExpectedLength() {
		return fmt.Errorf("expected %d fields, got %d", p.ExpectedLength(), len(fields))
	}
	if _, err := strconv.Atoi(fields[0]); err != nil {
		return fmt.Errorf("step field %q is not an integer", fields[0])
	}
	for _, v := range fields[3:] {
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("voltage field %q is not a float", v)
		}
	}
	return nil
}

func (p *lineProcessor) ProcessLine(line string) {
	fields := strings.Fields(line)

	simstep, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		log.Printf("[diagnostic] possible SDC: simstep could not be parsed as int")
		p.diagnostic.Fail()
		return
	}

	p.mu.Lock()
	if simstep <= p.simstep {
		p.mu.Unlock()
		return // skip simsteps belonging to a previous chunk
	}
	p.simstep = simstep
	p.mu.Unlock()

	for _, voltage := range fields[3:] {
		v, err := strconv.ParseFloat(voltage, 64)
		if err != nil {
			log.Printf("[diagnostic] possible SDC: voltage could not be parsed as float")
			p.diagnostic.Fail()
			return
		}
		if v < -100 || v > 100 {
			log.Printf("[diagnostic] core %d: voltage %v exceeded threshold", p.core, v)
			p.diagnostic.Fail()
			return
		}
	}
}

func (p *lineProcessor) Fail() {
	p.diagnostic.Fail()
}
