package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexmavr/depman/internal/config"
	"github.com/alexmavr/depman/internal/countermeasure"
	"github.com/alexmavr/depman/internal/diagnostic"
)

// fakeDiagnostic is a minimal diagnostic.Diagnostic double for exercising
// determineCountermeasures without spinning up real scanners.
type fakeDiagnostic struct {
	proc []countermeasure.Procedure
}

func (f *fakeDiagnostic) Name() string                                      { return "fake" }
func (f *fakeDiagnostic) Failed() bool                                      { return true }
func (f *fakeDiagnostic) Fail()                                             {}
func (f *fakeDiagnostic) Reinit()                                           {}
func (f *fakeDiagnostic) Degrade()                                          {}
func (f *fakeDiagnostic) Completed() bool                                   { return true }
func (f *fakeDiagnostic) Wait()                                             {}
func (f *fakeDiagnostic) CountermeasureProcedure() []countermeasure.Procedure { return f.proc }

var _ diagnostic.Diagnostic = (*fakeDiagnostic)(nil)

func TestDetermineCountermeasuresPicksHighestCost(t *testing.T) {
	cheap := &fakeDiagnostic{proc: []countermeasure.Procedure{{countermeasure.RestartSimulation{}}}}
	expensive := &fakeDiagnostic{proc: []countermeasure.Procedure{
		{countermeasure.PlatformReinitialization{}, countermeasure.RestartSimulation{}},
	}}

	s := &Supervisor{}
	got := s.determineCountermeasures([]diagnostic.Diagnostic{cheap, expensive})

	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("expected the expensive diagnostic's single 2-step procedure, got %v", got)
	}
	if got[0][0].Name() != "platformReinitialization" {
		t.Fatalf("expected platformReinitialization first, got %s", got[0][0].Name())
	}
}

func TestDetermineCountermeasuresIgnoresEmptyProcedures(t *testing.T) {
	empty := &fakeDiagnostic{}
	only := &fakeDiagnostic{proc: []countermeasure.Procedure{{countermeasure.CoreReboot{}}}}

	s := &Supervisor{}
	got := s.determineCountermeasures([]diagnostic.Diagnostic{empty, only})

	if len(got) != 1 || got[0][0].Name() != "coreReboot" {
		t.Fatalf("expected the only non-empty procedure, got %v", got)
	}
}

func TestAverageEmptyIsZero(t *testing.T) {
	if got := average(nil); got != 0 {
		t.Fatalf("average(nil) = %v, want 0", got)
	}
}

func TestAverageComputesMean(t *testing.T) {
	ds := []time.Duration{time.Second, 3 * time.Second}
	if got := average(ds); got != 2*time.Second {
		t.Fatalf("average = %v, want 2s", got)
	}
}

func TestRecordMTTFBoundsToMovingAvgN(t *testing.T) {
	s := &Supervisor{cfg: &config.Config{MovingAvgN: 2}}
	s.recordMTTF(time.Second)
	s.recordMTTF(2 * time.Second)
	s.recordMTTF(3 * time.Second)

	if len(s.mttfValues) != 2 {
		t.Fatalf("expected mttfValues bounded to 2, got %d", len(s.mttfValues))
	}
	if s.mttfValues[0] != 2*time.Second || s.mttfValues[1] != 3*time.Second {
		t.Fatalf("expected the newest 2 samples retained, got %v", s.mttfValues)
	}
}

func TestHostfileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostfile")

	if err := writeHostfile(path, []string{"rck00", "rck01", "rck47"}); err != nil {
		t.Fatalf("writeHostfile: %v", err)
	}

	got, err := readHostfile(path)
	if err != nil {
		t.Fatalf("readHostfile: %v", err)
	}
	want := []string{"rck00", "rck01", "rck47"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReadHostfileSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostfile")
	if err := os.WriteFile(path, []byte("00\n\n01\n\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := readHostfile(path)
	if err != nil {
		t.Fatalf("readHostfile: %v", err)
	}
	if len(got) != 2 || got[0] != "rck00" || got[1] != "rck01" {
		t.Fatalf("got %v", got)
	}
}
