package monitor

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPingSweeperReportsUnreachable(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ping := func(ctx context.Context, ip string) bool {
		return ip != "rck07"
	}

	sweepDone := make(chan []string, 1)
	var once sync.Once
	onSweep := func(unreachable []string) bool {
		once.Do(func() {
			sweepDone <- unreachable
		})
		return false // hold after first sweep
	}

	sweeper := NewPingSweeper(ctx, 3, []string{"rck00", "rck01", "rck07"}, ping, onSweep)
	defer sweeper.Stop()

	select {
	case got := <-sweepDone:
		if len(got) != 1 || got[0] != "rck07" {
			t.Fatalf("unreachable=%v want [rck07]", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for sweep result")
	}

	if !sweeper.Held() {
		t.Fatal("expected sweeper to be held after onSweep returned false")
	}
}

func TestPingSweeperSwitchCoresClearsHold(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ping := func(ctx context.Context, ip string) bool { return true }
	onSweep := func(unreachable []string) bool { return false }

	sweeper := NewPingSweeper(ctx, 2, []string{"rck00"}, ping, onSweep)
	defer sweeper.Stop()

	time.Sleep(200 * time.Millisecond)
	if !sweeper.Held() {
		t.Fatal("expected sweeper held")
	}

	sweeper.SwitchCores([]string{"rck01"})
	if sweeper.Held() {
		t.Fatal("expected hold cleared after SwitchCores")
	}
}
