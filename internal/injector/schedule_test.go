package injector

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSchedule(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write schedule: %v", err)
	}
	return path
}

// fakeClock lets a test drive Schedule's elapsed-time gating without
// sleeping.
func fakeClock(start time.Time) (*time.Time, func() time.Time) {
	t := start
	return &t, func() time.Time { return t }
}

func TestScheduleHoldsMTTFUntilNextOffsetElapses(t *testing.T) {
	t.Parallel()
	path := writeSchedule(t, "0 100", "10 50")

	s, err := OpenSchedule(path)
	if err != nil {
		t.Fatalf("OpenSchedule: %v", err)
	}
	defer s.Close()

	clock, now := fakeClock(time.Unix(1000, 0))
	s.now = now
	s.start = *clock

	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next() at t=0: %v", err)
	}
	if got != 100 {
		t.Fatalf("Next() at t=0 = %d, want 100", got)
	}

	*clock = clock.Add(5 * time.Second)
	got, err = s.Next()
	if err != nil {
		t.Fatalf("Next() at t=5: %v", err)
	}
	if got != 100 {
		t.Fatalf("Next() at t=5 = %d, want 100 (next offset not yet elapsed)", got)
	}

	*clock = clock.Add(6 * time.Second) // t=11, past the second row's offset
	got, err = s.Next()
	if err != nil {
		t.Fatalf("Next() at t=11: %v", err)
	}
	if got != 50 {
		t.Fatalf("Next() at t=11 = %d, want 50", got)
	}
}

func TestScheduleErrorsBeforeFirstOffsetElapses(t *testing.T) {
	t.Parallel()
	path := writeSchedule(t, "10 100")

	s, err := OpenSchedule(path)
	if err != nil {
		t.Fatalf("OpenSchedule: %v", err)
	}
	defer s.Close()

	clock, now := fakeClock(time.Unix(2000, 0))
	s.now = now
	s.start = *clock

	if _, err := s.Next(); err == nil {
		t.Fatalf("Next() before first offset elapsed: want error, got nil")
	}

	*clock = clock.Add(10 * time.Second)
	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next() after offset elapsed: %v", err)
	}
	if got != 100 {
		t.Fatalf("Next() after offset elapsed = %d, want 100", got)
	}
}

func TestScheduleCyclesAndRebasesOnExhaustion(t *testing.T) {
	t.Parallel()
	path := writeSchedule(t, "0 100", "5 50")

	s, err := OpenSchedule(path)
	if err != nil {
		t.Fatalf("OpenSchedule: %v", err)
	}
	defer s.Close()

	clock, now := fakeClock(time.Unix(3000, 0))
	s.now = now
	s.start = *clock

	*clock = clock.Add(5 * time.Second)
	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next() first pass: %v", err)
	}
	if got != 50 {
		t.Fatalf("Next() first pass = %d, want 50", got)
	}

	*clock = clock.Add(100 * time.Second) // well past the schedule's last offset
	got, err = s.Next()
	if err != nil {
		t.Fatalf("Next() after wraparound: %v", err)
	}
	if got != 100 {
		t.Fatalf("Next() after wraparound = %d, want 100 (back to row 0)", got)
	}
}

func TestScheduleSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	path := writeSchedule(t, "", "not-a-row", "0 300")

	s, err := OpenSchedule(path)
	if err != nil {
		t.Fatalf("OpenSchedule: %v", err)
	}
	defer s.Close()

	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next(): %v", err)
	}
	if got != 300 {
		t.Fatalf("Next() = %d, want 300", got)
	}
}

func TestRebaseResetsClockAndIndex(t *testing.T) {
	t.Parallel()
	path := writeSchedule(t, "0 100", "5 50")

	s, err := OpenSchedule(path)
	if err != nil {
		t.Fatalf("OpenSchedule: %v", err)
	}
	defer s.Close()

	clock, now := fakeClock(time.Unix(4000, 0))
	s.now = now
	s.start = *clock

	*clock = clock.Add(5 * time.Second)
	if got, err := s.Next(); err != nil || got != 50 {
		t.Fatalf("Next() before rebase = (%d, %v), want (50, nil)", got, err)
	}

	s.Rebase()
	got, err := s.Next()
	if err != nil {
		t.Fatalf("Next() right after Rebase: %v", err)
	}
	if got != 100 {
		t.Fatalf("Next() right after Rebase = %d, want 100 (back to row 0)", got)
	}
}
