package diagnostic

import (
	"log"
	"strconv"
	"strings"

	"github.com/alexmavr/depman/internal/countermeasure"
	"github.com/alexmavr/depman/internal/monitor"
	"github.com/alexmavr/depman/internal/supervisorapi"
)

// suppressedExitCode is the exit value rccerun reports when the worker is
// killed deliberately (e.g. by killfoli), not by a genuine fault.
const suppressedExitCode = "255"

// ProcessExit watches the worker's combined stdout+stderr for SCC FAILURE
// messages and fails if one names a non-255 (i.e. non-manual) error code
// (spec §4.3 processExit).
type ProcessExit struct {
	Base
	scanner *monitor.StdoutScanner
}

// NewProcessExit attaches a stdout scanner to the worker's current output
// stream.
func NewProcessExit(h supervisorapi.Handle) *ProcessExit {
	p := &ProcessExit{Base: newBase("processExit", h)}
	p.scanner = monitor.NewStdoutScanner(h.WorkerStdout(), p)
	return p
}

// ProcessLine implements monitor.LineHandler. It returns false (stop
// scanning) once the diagnostic has failed.
func (p *ProcessExit) ProcessLine(line string) bool {
	line = strings.TrimRight(line, "\r\n")

	if !strings.Contains(line, "FAILURE") {
		return true
	}
	if strings.HasSuffix(line, "Interrupted") {
		return true
	}
	if len(line) < 4 {
		return true
	}

	tail := strings.TrimSpace(line[len(line)-3:])
	if tail == suppressedExitCode {
		return true
	}
	errCode, err := strconv.Atoi(tail)
	if err != nil {
		// Not an SCC failure message we recognize.
		return true
	}

	core := ""
	if len(line) >= 29 {
		core = line[23:29]
	}
	log.Printf("[diagnostic] core %s: process failed with error value %d", core, errCode)
	p.Fail()
	return false
}

func (p *ProcessExit) Reinit() {
	p.Reset()
	p.scanner = monitor.NewStdoutScanner(p.handle.WorkerStdout(), p)
}

func (p *ProcessExit) CountermeasureProcedure() []countermeasure.Procedure {
	execArgs := p.handle.RestartExecArgs()
	return []countermeasure.Procedure{
		{countermeasure.RestartSimulation{ExecArgs: execArgs}},
		{
			countermeasure.CoreReboot{RebootCores: p.handle.InitialCores(), AllCores: p.handle.InitialCores()},
			countermeasure.RestartSimulation{ExecArgs: execArgs},
		},
		{
			countermeasure.PlatformReinitialization{ExpectedCores: p.handle.InitialCores()},
			countermeasure.RestartSimulation{ExecArgs: execArgs},
		},
	}
}
