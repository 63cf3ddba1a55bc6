// Package checkpoint implements the DUE checkpoint validator: a binary
// format walker with a cross-core maximum-common-step agreement rule
// (spec §4.4), and the strictly increasing ordered set of validated
// checkpoint steps it produces (spec §3).
package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/exp/slices"
)

// Sentinel errors, treated as "no new checkpoint" rather than fatal (§7).
var (
	ErrShort        = errors.New("checkpoint file too short")
	ErrBadHeader    = errors.New("checkpoint file has invalid header dimensions")
	ErrMissingStep  = errors.New("checkpoint file does not contain the agreed step")
	ErrNoProgress   = errors.New("no new recoverable step since the last checkpoint")
)

// Header is the little-endian three-int32 header of a ckptFile<i>.bin
// (spec §4.4, §6): (N1, N2, step_a).
type Header struct {
	N1, N2, StepA int32
}

// coreSteps holds the (step_a, step_b) pair read from one core's file.
type coreSteps struct {
	stepA, stepB int32
}

// Store tracks the validated checkpoint set and the running globalmax
// watermark (spec §3, §4.4). A *Store is safe for concurrent use: the main
// event loop validates new checkpoints while a Janitor concurrently trims
// and sweeps old ones (spec §5).
type Store struct {
	SimDumpLocation string
	SafeLocation    string
	CellCount       int
	CellStateSize   int

	mu                sync.Mutex
	previousGlobalMax int64
	steps             []int64 // strictly increasing ordered set
}

// NewStore builds an empty checkpoint store rooted at the given
// directories.
func NewStore(simDumpLocation, safeLocation string, cellCount, cellStateSize int) *Store {
	return &Store{
		SimDumpLocation: simDumpLocation,
		SafeLocation:    safeLocation,
		CellCount:       cellCount,
		CellStateSize:   cellStateSize,
	}
}

// Steps returns the ordered checkpoint set.
func (s *Store) Steps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.steps))
	copy(out, s.steps)
	return out
}

// Largest returns the most recently validated checkpoint step.
func (s *Store) Largest() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return 0, false
	}
	return s.steps[len(s.steps)-1], true
}

// Smallest returns the oldest retained checkpoint step.
func (s *Store) Smallest() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return 0, false
	}
	return s.steps[0], true
}

// PruneBelow discards every retained checkpoint strictly below minStep,
// except the largest such checkpoint (spec §4.5 restartSimulation: "retain
// the most recent usable pre-SDC checkpoint").
func (s *Store) PruneBelow(minStep int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return
	}
	keepIdx := -1
	for i, step := range s.steps {
		if step < minStep {
			keepIdx = i
		} else {
			break
		}
	}
	if keepIdx <= 0 {
		return
	}
	s.steps = append(s.steps[:0], s.steps[keepIdx:]...)
}

// PruneToRetain drops every tracked step except the newest n, for janitor
// use (spec §4.4: the checkpoint set otherwise grows without bound over a
// long-running episode).
func (s *Store) PruneToRetain(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || len(s.steps) <= n {
		return
	}
	s.steps = append(s.steps[:0], s.steps[len(s.steps)-n:]...)
}

// SweepDisk removes every directory under SafeLocation whose name is an
// integer step no longer present in the tracked set, reclaiming the disk
// space PruneBelow/PruneToRetain freed only in memory.
func (s *Store) SweepDisk() error {
	entries, err := os.ReadDir(s.SafeLocation)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read safe location: %w", err)
	}

	tracked := make(map[string]bool, len(entries))
	for _, step := range s.Steps() {
		tracked[fmt.Sprintf("%d", step)] = true
	}

	for _, e := range entries {
		if !e.IsDir() || tracked[e.Name()] {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "%d", new(int64)); err != nil {
			continue // not a checkpoint directory, leave it alone
		}
		if err := os.RemoveAll(filepath.Join(s.SafeLocation, e.Name())); err != nil {
			return fmt.Errorf("remove stale checkpoint dir %s: %w", e.Name(), err)
		}
	}
	return nil
}

// readCoreFile parses one core's ckptFile<i>.bin per spec §4.4/§6: a
// three-int32 little-endian header (N1, N2, step_a), a body of CellCount
// records of CellStateSize bytes, and a trailing int32 step_b.
func (s *Store) readCoreFile(path string, activeCores int) (coreSteps, error) {
	f, err := os.Open(path)
	if err != nil {
		return coreSteps{}, fmt.Errorf("%w: %v", ErrShort, err)
	}
	defer f.Close()

	var header Header
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return coreSteps{}, ErrShort
		}
		return coreSteps{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if int64(header.N1)*int64(header.N2) != int64(activeCores)*int64(s.CellCount) {
		return coreSteps{}, fmt.Errorf("%w: N1*N2=%d want %d", ErrBadHeader,
			int64(header.N1)*int64(header.N2), int64(activeCores)*int64(s.CellCount))
	}

	body := make([]byte, s.CellStateSize*s.CellCount)
	if _, err := io.ReadFull(f, body); err != nil {
		return coreSteps{}, fmt.Errorf("%w: %v", ErrShort, err)
	}

	var stepB int32
	if err := binary.Read(f, binary.LittleEndian, &stepB); err != nil {
		return coreSteps{}, fmt.Errorf("%w: %v", ErrShort, err)
	}

	return coreSteps{stepA: header.StepA, stepB: stepB}, nil
}

// Result is the outcome of a single TryNewCheckpoint call.
type Result struct {
	Advanced bool
	Step     int64
}

// TryNewCheckpoint runs the validator algorithm (spec §4.4) over the
// currently active core set. It never mutates the safe store unless every
// core agrees on the same globalmax step.
func (s *Store) TryNewCheckpoint(cores []string) (Result, error) {
	n := len(cores)
	perCore := make([]coreSteps, n)
	for i := range cores {
		path := filepath.Join(s.SimDumpLocation, fmt.Sprintf("ckptFile%d.bin", i))
		steps, err := s.readCoreFile(path, n)
		if err != nil {
			return Result{}, err
		}
		perCore[i] = steps
	}

	globalMax := localMax(perCore[0])
	for _, cs := range perCore[1:] {
		if lm := localMax(cs); lm < globalMax {
			globalMax = lm
		}
	}

	s.mu.Lock()
	if globalMax <= s.previousGlobalMax {
		s.mu.Unlock()
		return Result{}, ErrNoProgress
	}
	s.mu.Unlock()

	for i, cs := range perCore {
		if int64(cs.stepA) != globalMax && int64(cs.stepB) != globalMax {
			return Result{}, fmt.Errorf("%w: core %d", ErrMissingStep, i)
		}
	}

	if err := s.commit(cores, globalMax); err != nil {
		return Result{}, err
	}

	s.mu.Lock()
	s.previousGlobalMax = globalMax
	idx, found := slices.BinarySearch(s.steps, globalMax)
	if !found {
		s.steps = slices.Insert(s.steps, idx, globalMax)
	}
	s.mu.Unlock()

	return Result{Advanced: true, Step: globalMax}, nil
}

func localMax(cs coreSteps) int64 {
	if cs.stepA > cs.stepB {
		return int64(cs.stepA)
	}
	return int64(cs.stepB)
}

// commit creates the safe directory for globalMax and copies every active
// core's binary and output files into it (spec §4.4 step 6).
func (s *Store) commit(cores []string, globalMax int64) error {
	dir := filepath.Join(s.SafeLocation, fmt.Sprintf("%d", globalMax))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	for i := range cores {
		if err := copyFile(
			filepath.Join(s.SimDumpLocation, fmt.Sprintf("ckptFile%d.bin", i)),
			filepath.Join(dir, fmt.Sprintf("ckptFile%d.bin", i)),
		); err != nil {
			return fmt.Errorf("copy checkpoint binary for core %d: %w", i, err)
		}
		if err := copyFile(
			filepath.Join(s.SimDumpLocation, fmt.Sprintf("InferiorOlive_Output%d.txt", i)),
			filepath.Join(dir, fmt.Sprintf("InferiorOlive_Output%d.txt", i)),
		); err != nil {
			return fmt.Errorf("copy output file for core %d: %w", i, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// RestoreSnapshot copies a validated checkpoint's files for the given step
// back into the live simulation directory (spec §4.5 restartSimulation).
func (s *Store) RestoreSnapshot(step int64, numCores int) error {
	dir := filepath.Join(s.SafeLocation, fmt.Sprintf("%d", step))
	for i := 0; i < numCores; i++ {
		if err := copyFile(
			filepath.Join(dir, fmt.Sprintf("ckptFile%d.bin", i)),
			filepath.Join(s.SimDumpLocation, fmt.Sprintf("ckptFile%d.bin", i)),
		); err != nil {
			return fmt.Errorf("restore checkpoint binary for core %d: %w", i, err)
		}
		if err := copyFile(
			filepath.Join(dir, fmt.Sprintf("InferiorOlive_Output%d.txt", i)),
			filepath.Join(s.SimDumpLocation, fmt.Sprintf("InferiorOlive_Output%d.txt", i)),
		); err != nil {
			return fmt.Errorf("restore output file for core %d: %w", i, err)
		}
	}
	return nil
}
