package injector

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// scheduleRow is one (time_offset, mttf) pair from a schedule file (spec
// §4.7): mttf takes effect once time_offset seconds have elapsed since the
// injector's clock was last rebased.
type scheduleRow struct {
	timeOffset int64
	mttf       int64
}

// Schedule is the (time_offset, mttf) pair sequence an injector advances
// through as wall-clock time elapses (spec §4.7, spec §4 "Injector
// state"). Unlike a flat MTTF list, advancing through it requires knowing
// how far ahead the next row sits, so the whole file is parsed once up
// front rather than streamed line by line.
type Schedule struct {
	path string
	rows []scheduleRow

	mu      sync.Mutex
	index   int
	start   time.Time
	current int64

	now func() time.Time // overridden in tests
}

// OpenSchedule parses a schedule file of "time_offset mttf" lines in full.
func OpenSchedule(path string) (*Schedule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schedule %s: %w", path, err)
	}
	defer f.Close()

	var rows []scheduleRow
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue // ignore malformed lines, keep scanning
		}
		offset, errOffset := strconv.ParseInt(fields[0], 10, 64)
		mttf, errMTTF := strconv.ParseInt(fields[1], 10, 64)
		if errOffset != nil || errMTTF != nil {
			continue
		}
		rows = append(rows, scheduleRow{timeOffset: offset, mttf: mttf})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("schedule %s contains no usable (time_offset, mttf) rows", path)
	}

	return &Schedule{path: path, rows: rows, start: time.Now(), now: time.Now}, nil
}

// Rebase resets the elapsed-time clock to now and rewinds to the first
// schedule row, so a just-restarted injector resumes from the top of its
// schedule instead of fast-forwarding through every row whose time_offset
// would otherwise already have elapsed (spec §4.7: "On restart after a
// recovery, all injector timestamps are rebased to now to prevent
// probability pile-up").
func (s *Schedule) Rebase() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = s.now()
	s.index = 0
	s.current = 0
}

// Next advances past every row whose time_offset has elapsed since the
// last Rebase (or since the schedule was opened) and returns the mttf
// installed by the most recent such row (spec §4.7 step 1). Once the last
// row has been installed, the following call wraps back to the first row
// and rebases the clock, so a schedule cycles rather than holding its
// final mttf forever. Returns an error if the first row's time_offset has
// not elapsed yet, since no mttf has been installed to compute a
// probability from.
func (s *Schedule) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

// nextLocked does the work of Next with s.mu already held. A schedule whose
// every row was installed by an earlier call is rebased first, so row 0 is
// evaluated against the fresh clock.
func (s *Schedule) nextLocked() (int64, error) {
	if s.index >= len(s.rows) {
		s.start = s.now()
		s.index = 0
		s.current = 0
	}

	elapsed := s.now().Sub(s.start).Seconds()
	for s.index < len(s.rows) && float64(s.rows[s.index].timeOffset) <= elapsed {
		s.current = s.rows[s.index].mttf
		s.index++
	}

	if s.index == 0 {
		return 0, fmt.Errorf("schedule %s: first row's time_offset has not elapsed yet", s.path)
	}
	return s.current, nil
}

// Close is a no-op retained for interface symmetry: the schedule file is
// read once in full at OpenSchedule time.
func (s *Schedule) Close() error {
	return nil
}
