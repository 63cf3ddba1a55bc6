package diagnostic

import "testing"

func TestProcessLineIgnoresNonFailureLines(t *testing.T) {
	t.Parallel()
	p := &ProcessExit{}
	if !p.ProcessLine("[0] some unrelated line") {
		t.Fatal("non-FAILURE line should not stop the scanner")
	}
}

func TestProcessLineIgnoresInterrupted(t *testing.T) {
	t.Parallel()
	p := &ProcessExit{}
	if !p.ProcessLine("[0] FAILURE: rckINJ w 12 Interrupted") {
		t.Fatal("Interrupted FAILURE line should be ignored")
	}
}

func TestProcessLineSuppressesManualKill(t *testing.T) {
	t.Parallel()
	p := &ProcessExit{}
	if !p.ProcessLine("[0] FAILURE: rckINJ w 12 255") {
		t.Fatal("exit code 255 should be suppressed (manual kill)")
	}
}
