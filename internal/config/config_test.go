package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsMissingRequiredFlags(t *testing.T) {
	t.Parallel()
	_, err := Parse([]string{"-nue", "4"})
	require.ErrorIs(t, err, ErrArgument)
}

func TestParseBuildsExecArgsAndGrid(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]string{"-nue", "4", "-f", "hosts.txt", "restart.sh", "worker", "--flag", "8", "8"})
	require.NoError(t, err)
	require.Equal(t, 4, cfg.NumCores)
	require.Equal(t, "restart.sh", cfg.RestartExec)
	require.Equal(t, []string{"worker", "--flag"}, cfg.ExecArgs)
	require.Equal(t, 8, cfg.GridX)
	require.Equal(t, 8, cfg.GridY)
}

func TestParseAppliesYAMLOverridesBeneathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("moving_avg_n: 7\nping_workers: 2\n"), 0o644))

	cfg, err := Parse([]string{"-nue", "2", "-f", "hosts.txt", "-config", path, "restart.sh", "worker", "8", "8"})
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MovingAvgN)
	require.Equal(t, 2, cfg.PingWorkers)

	t.Setenv("DEPMAN_MOVING_AVG_N", "99")
	cfg, err = Parse([]string{"-nue", "2", "-f", "hosts.txt", "-config", path, "restart.sh", "worker", "8", "8"})
	require.NoError(t, err)
	require.Equal(t, 99, cfg.MovingAvgN, "env var must win over a YAML override")
}

func TestParseRejectsUnreadableConfigFile(t *testing.T) {
	t.Parallel()
	_, err := Parse([]string{"-nue", "2", "-f", "hosts.txt", "-config", "/nonexistent/overrides.yaml", "restart.sh", "worker", "8", "8"})
	require.ErrorIs(t, err, ErrArgument)
}

func TestCellStateSizeDevVsProduction(t *testing.T) {
	t.Parallel()
	require.Equal(t, ProductionCellStateSize, (&Config{Devel: false}).CellStateSize())
	require.Equal(t, DevCellStateSize, (&Config{Devel: true}).CellStateSize())
}
