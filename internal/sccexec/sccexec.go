// Package sccexec wraps every external tool this supervisor shells out to:
// the worker launcher (rccerun), the per-core reset/boot utilities
// (sccReset, sccBoot, sccBmc), and the reachability probe (ping). In
// Devel mode every reset/boot tool is substituted with `echo` (spec §6
// Environment check).
package sccexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Runner executes the supervisor's external tool contract (spec §6). A
// *Runner is safe for concurrent use; it holds no mutable state beyond its
// construction-time configuration.
type Runner struct {
	Devel       bool
	RccerunPath string
	KillfoliPath string // relative to RccerunPath's directory

	// pingLimiter throttles outbound ping probes so a large core pool under
	// reachability sweep doesn't flood the management network (spec §4.2
	// core pinger). Nil means unthrottled.
	pingLimiter *rate.Limiter
}

// New builds a Runner bound to the given rccerun path and mode.
func New(rccerunPath, killfoliPath string, devel bool) *Runner {
	return &Runner{Devel: devel, RccerunPath: rccerunPath, KillfoliPath: killfoliPath}
}

// WithPingRateLimit caps outbound ping probes to rps probes per second
// (burst probes at once), returning the same Runner for chaining.
func (r *Runner) WithPingRateLimit(rps float64, burst int) *Runner {
	if rps <= 0 {
		r.pingLimiter = nil
		return r
	}
	r.pingLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	return r
}

// tool returns "echo" in Devel mode, or the real tool name.
func (r *Runner) tool(name string) string {
	if r.Devel {
		return "echo"
	}
	return name
}

// EnvCheck resolves sccReset (or echo, in Devel mode) in PATH (spec §6
// Environment check).
func (r *Runner) EnvCheck(ctx context.Context) error {
	name := r.tool("sccReset")
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s not found in PATH: %v", ErrEnvironment, name, err)
	}
	return nil
}

// WorkerProcess is a launched worker together with its combined
// stdout+stderr stream and the single Wait call that reaps it.
type WorkerProcess struct {
	Cmd    *exec.Cmd
	Stdout io.Reader

	pw *io.PipeWriter
}

// Wait blocks until the worker exits, then closes the stdout stream so any
// reader blocked on it observes EOF. It must be called exactly once.
func (w *WorkerProcess) Wait() error {
	err := w.Cmd.Wait()
	w.pw.Close()
	return err
}

// RCCERun launches the worker: `rccerun -nue <k> -f <hostfile> <exec...>`.
// The returned WorkerProcess carries the worker's combined stdout+stderr,
// mirroring the original Python's Popen(stderr=STDOUT).
func (r *Runner) RCCERun(ctx context.Context, numCores int, hostFile string, execArgs []string) (*WorkerProcess, error) {
	args := append([]string{"-nue", strconv.Itoa(numCores), "-f", hostFile}, execArgs...)
	cmd := exec.CommandContext(ctx, r.RccerunPath, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("rccerun start: %w", err)
	}
	return &WorkerProcess{Cmd: cmd, Stdout: pr, pw: pw}, nil
}

// Killfoli invokes the worker-side cleanup script, resolved relative to
// rccerun's directory (spec §6).
func (r *Runner) Killfoli(ctx context.Context, numCores int, hostFile string) error {
	killPath := filepath.Join(filepath.Dir(r.RccerunPath), r.KillfoliPath)
	args := []string{"-nue", strconv.Itoa(numCores), "-f", hostFile, killPath}
	return exec.CommandContext(ctx, r.RccerunPath, args...).Run()
}

// ResetPower invokes `sccReset -p <core...>`.
func (r *Runner) ResetPower(ctx context.Context, cores []string) error {
	return r.run(ctx, r.tool("sccReset"), append([]string{"-p"}, stripPrefix(cores)...)...)
}

// ResetRun invokes `sccReset -r <core...>`.
func (r *Runner) ResetRun(ctx context.Context, cores []string) error {
	return r.run(ctx, r.tool("sccReset"), append([]string{"-r"}, stripPrefix(cores)...)...)
}

// BootLinux invokes `sccBoot -l`.
func (r *Runner) BootLinux(ctx context.Context) error {
	return r.run(ctx, r.tool("sccBoot"), "-l")
}

// BootStatus invokes `sccBoot -s` and parses the trailing status token into
// a count of responding cores, per the encoding in spec §6:
// "All" = 48, "No" = 0, else a two-digit count.
func (r *Runner) BootStatus(ctx context.Context) (int, error) {
	out, err := r.output(ctx, r.tool("sccBoot"), "-s")
	if err != nil {
		return 0, fmt.Errorf("sccBoot -s: %w", err)
	}
	return parseBootStatus(out)
}

func parseBootStatus(status string) (int, error) {
	status = strings.TrimRight(status, "\r\n")
	if len(status) >= 3 && status[len(status)-3:] == "All" {
		return 48, nil
	}
	if len(status) >= 2 && status[len(status)-2:] == "No" {
		return 0, nil
	}
	if len(status) < 2 {
		return 0, fmt.Errorf("malformed boot status %q", status)
	}
	n, err := strconv.Atoi(status[len(status)-2:])
	if err != nil {
		return 0, fmt.Errorf("malformed boot status %q: %w", status, err)
	}
	return n, nil
}

// BMCReinit invokes `sccBmc -i Tile533_Mesh800_DDR800`.
func (r *Runner) BMCReinit(ctx context.Context) error {
	return r.run(ctx, r.tool("sccBmc"), "-i", "Tile533_Mesh800_DDR800")
}

// Ping invokes `ping -c 1 -W 3 <ip>`, returning true if reachable.
func (r *Runner) Ping(ctx context.Context, ip string) bool {
	if r.pingLimiter != nil {
		if err := r.pingLimiter.Wait(ctx); err != nil {
			return false
		}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "3", ip)
	return cmd.Run() == nil
}

func (r *Runner) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, stderr.String())
	}
	return nil
}

func (r *Runner) output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// stripPrefix removes the "rck" prefix from every core name, as the
// reset/reboot tools expect bare two-digit core numbers.
func stripPrefix(cores []string) []string {
	out := make([]string, len(cores))
	for i, c := range cores {
		if len(c) > 3 {
			out[i] = c[3:]
		} else {
			out[i] = c
		}
	}
	return out
}
