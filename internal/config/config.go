// Package config holds the supervisor's single immutable configuration
// record, built once at startup from CLI flags and a handful of environment
// overrides, and passed by reference to every other package.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the supervisor's complete startup configuration. It is built
// once by Parse and never mutated afterwards.
type Config struct {
	// Injection enables the stochastic fault injector (-i).
	Injection bool

	// NumCores is the number of cores requested for the simulation (-nue).
	NumCores int

	// HostFile is the path to the file listing the initial core set (-f).
	HostFile string

	// RestartExec is the executable used to resume the simulation after a
	// countermeasure (first positional argument after the hostfile).
	RestartExec string

	// ExecArgs is the worker executable and its arguments, as passed to
	// rccerun on the very first launch.
	ExecArgs []string

	// GridX and GridY are the worker's grid dimensions (trailing positional
	// arguments), whose product is the total cell count, split evenly across
	// the active cores (§3 Simulation step / §4.4 N1*N2 invariant).
	GridX int
	GridY int

	// Devel substitutes "echo" for every reset/boot utility and skips
	// cross-core wait timeouts, for running off the real SCC hardware.
	Devel bool

	// SimDumpLocation is where the live worker writes ckptFile<i>.bin and
	// InferiorOlive_Output<i>.txt.
	SimDumpLocation string

	// SafeLocation is where validated checkpoints are archived.
	SafeLocation string

	// RccerunPath is the path to the rccerun launcher.
	RccerunPath string

	// KillfoliPath is resolved relative to RccerunPath's directory.
	KillfoliPath string

	// Diagnostics lists the enabled diagnostic names, a subset of
	// {infoliOutputDivergence, processExit, coreReachability}.
	Diagnostics []string

	// UseSDCCheckpoints mirrors config.py's use_SDC_checkpoints; downgraded
	// to false with a warning if no SDC-capable diagnostic is enabled.
	UseSDCCheckpoints bool

	// MovingAvgN bounds the MTTF sample buffer (§3 MTTF/MTTR buffers).
	MovingAvgN int

	// LogFile is the path to the line-oriented supervisor log (§6).
	LogFile string

	// InjectorDir holds the per-kind injector schedule files (§6 filesystem
	// layout: sim_dump_location/injectors/*.txt).
	InjectorDir string

	// PingWorkers is the number of ping sweeper workers sharing the job
	// queue (§4.2).
	PingWorkers int

	// CheckpointRetain bounds how many validated checkpoints the janitor
	// keeps on disk; older ones are pruned and swept (§4.4).
	CheckpointRetain int

	// CheckpointSweepInterval is how often the janitor prunes and sweeps.
	CheckpointSweepInterval int
}

// Default file and path values, mirroring original_source/config.py.
const (
	DefaultSimDumpLocation = "/shared/alex/brain/"
	DefaultSafeLocation    = "/home/alex/bak/"
	DefaultRccerunPath     = "/shared/alex/brain/rccerun"
	DefaultKillfoliPath    = "../killfoli"
	DefaultMovingAvgN      = 50
	DefaultLogFile         = "infoli.log"
	DefaultPingWorkers     = 3
	DefaultCheckpointRetain        = 5
	DefaultCheckpointSweepInterval = 300 // seconds

	ProductionCellStateSize = 168
	DevCellStateSize        = 172
)

// Overrides holds the subset of ambient tunables that can be supplied via an
// optional YAML file instead of environment variables, for deployments that
// prefer a checked-in config over a pile of env vars.
type Overrides struct {
	SimDumpLocation         string   `yaml:"sim_dump_location"`
	SafeLocation            string   `yaml:"safe_location"`
	RccerunPath             string   `yaml:"rccerun_path"`
	LogFile                 string   `yaml:"log_file"`
	MovingAvgN              int      `yaml:"moving_avg_n"`
	PingWorkers             int      `yaml:"ping_workers"`
	CheckpointRetain        int      `yaml:"checkpoint_retain"`
	CheckpointSweepInterval int      `yaml:"checkpoint_sweep_interval"`
	Diagnostics             []string `yaml:"diagnostics"`
}

// LoadOverrides reads a YAML overrides file, mirroring the backend's own
// config.Load pattern.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse overrides file: %w", err)
	}
	return &o, nil
}

// CellStateSize returns the per-record checkpoint body size for the
// current mode (§4.4, §6).
func (c *Config) CellStateSize() int {
	if c.Devel {
		return DevCellStateSize
	}
	return ProductionCellStateSize
}

// Parse builds a Config from the CLI per §6:
//
//	supervisor [-i] -nue <k> -f <hostfile> <restart_exec> <exec...> <grid_x> <grid_y>
//
// Trailing positional arguments are: restart executable, one or more worker
// executable tokens, grid_x, grid_y. Env vars override a small set of
// ambient tunables (moving-average window, ping worker count, checkpoint
// retention and sweep interval, log file, diagnostics, directories);
// the flags above are the authoritative §6 CLI contract.
func Parse(args []string) (*Config, error) {
	fs := flag.NewFlagSet("supervisor", flag.ContinueOnError)

	injection := fs.Bool("i", false, "enable the stochastic fault injector")
	nue := fs.Int("nue", 0, "number of cores to request")
	hostfile := fs.String("f", "", "path to the hostfile")
	devel := fs.Bool("devel", false, "development mode (echo substitutes for reset/boot tools)")
	configPath := fs.String("config", "", "optional YAML file of ambient tunables (overridden by env vars)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArgument, err)
	}

	var overrides Overrides
	if *configPath != "" {
		o, err := LoadOverrides(*configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: load -config file: %v", ErrArgument, err)
		}
		overrides = *o
	}

	rest := fs.Args()
	if *nue <= 0 {
		return nil, fmt.Errorf("%w: -nue argument not specified", ErrArgument)
	}
	if *hostfile == "" {
		return nil, fmt.Errorf("%w: -f argument not specified", ErrArgument)
	}
	// restart_exec, exec..., grid_x, grid_y: at least 4 positional tokens.
	if len(rest) < 4 {
		return nil, fmt.Errorf("%w: expected <restart_exec> <exec...> <grid_x> <grid_y>", ErrArgument)
	}

	gridY, err := strconv.Atoi(rest[len(rest)-1])
	if err != nil {
		return nil, fmt.Errorf("%w: grid_y must be an integer: %v", ErrArgument, err)
	}
	gridX, err := strconv.Atoi(rest[len(rest)-2])
	if err != nil {
		return nil, fmt.Errorf("%w: grid_x must be an integer: %v", ErrArgument, err)
	}

	restartExec := rest[0]
	execArgs := rest[1 : len(rest)-2]
	if len(execArgs) == 0 {
		return nil, fmt.Errorf("%w: no worker executable specified", ErrArgument)
	}

	cfg := &Config{
		Injection:         *injection,
		NumCores:          *nue,
		HostFile:          *hostfile,
		RestartExec:       restartExec,
		ExecArgs:          execArgs,
		GridX:             gridX,
		GridY:             gridY,
		Devel:             *devel,
		SimDumpLocation:   envOr("DEPMAN_SIM_DUMP_LOCATION", orDefault(overrides.SimDumpLocation, DefaultSimDumpLocation)),
		SafeLocation:      envOr("DEPMAN_SAFE_LOCATION", orDefault(overrides.SafeLocation, DefaultSafeLocation)),
		RccerunPath:       envOr("DEPMAN_RCCERUN_PATH", orDefault(overrides.RccerunPath, DefaultRccerunPath)),
		KillfoliPath:      DefaultKillfoliPath,
		Diagnostics:       []string{"infoliOutputDivergence", "processExit", "coreReachability"},
		UseSDCCheckpoints: true,
		MovingAvgN:        envOrInt("DEPMAN_MOVING_AVG_N", orDefaultInt(overrides.MovingAvgN, DefaultMovingAvgN)),
		LogFile:           envOr("DEPMAN_LOG_FILE", orDefault(overrides.LogFile, DefaultLogFile)),
		PingWorkers:       envOrInt("DEPMAN_PING_WORKERS", orDefaultInt(overrides.PingWorkers, DefaultPingWorkers)),
		CheckpointRetain:        envOrInt("DEPMAN_CHECKPOINT_RETAIN", orDefaultInt(overrides.CheckpointRetain, DefaultCheckpointRetain)),
		CheckpointSweepInterval: envOrInt("DEPMAN_CHECKPOINT_SWEEP_INTERVAL", orDefaultInt(overrides.CheckpointSweepInterval, DefaultCheckpointSweepInterval)),
	}
	cfg.InjectorDir = strings.TrimRight(cfg.SimDumpLocation, "/") + "/injectors/"

	if len(overrides.Diagnostics) > 0 {
		cfg.Diagnostics = overrides.Diagnostics
	}
	if d := os.Getenv("DEPMAN_DIAGNOSTICS"); d != "" {
		cfg.Diagnostics = strings.Split(d, ",")
	}

	hasOutputDivergence := false
	for _, d := range cfg.Diagnostics {
		if d == "infoliOutputDivergence" {
			hasOutputDivergence = true
		}
	}
	if !hasOutputDivergence && cfg.UseSDCCheckpoints {
		log.Printf("[config] WARNING: infoliOutputDivergence is not enabled, SDC checkpoints disabled; using DUE checkpoints only")
		cfg.UseSDCCheckpoints = false
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
