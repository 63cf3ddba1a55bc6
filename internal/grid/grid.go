// Package grid implements the thermal-aware core placement heuristic used
// when launching or degrading the simulation (spec §4.1), plus the
// core-name <-> grid-coordinate bijection it depends on (spec §3).
package grid

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	// Rows is the number of grid rows (8x6 core grid).
	Rows = 8
	// Cols is the number of grid columns.
	Cols = 6
	// NumCores is the total number of addressable core positions.
	NumCores = Rows * Cols
)

// ErrInsufficientCores is returned when more cores are requested than the
// available set can supply (spec §4.1 edge policy).
var ErrInsufficientCores = errors.New("insufficient available cores for placement")

// Name formats a grid index as a two-digit core identifier, e.g. "rck07".
func Name(index int) string {
	return fmt.Sprintf("rck%02d", index)
}

// IndexFromCoords maps a (row, col) pair to its two-digit grid index using
// the fixed 2-col-per-tile layout (spec §3):
//
//	index(r,c) = 2*c + (r - (r mod 2))*6 + (r mod 2)
func IndexFromCoords(row, col int) int {
	return 2*col + (row-row%2)*6 + row%2
}

// CoordsFromIndex is the inverse of IndexFromCoords.
func CoordsFromIndex(index int) (row, col int) {
	baseIndex := index / 2
	tileRow := baseIndex / Cols
	col = baseIndex % Cols
	row = tileRow*2 + index%2
	return row, col
}

// NameFromCoords formats the core identifier for a given grid position.
func NameFromCoords(row, col int) string {
	return Name(IndexFromCoords(row, col))
}

// CoordsFromName parses a two-digit core identifier back into (row, col).
// It is the exact inverse of NameFromCoords for all legal (row, col).
func CoordsFromName(name string) (row, col int, err error) {
	if len(name) != 5 || name[:3] != "rck" {
		return 0, 0, fmt.Errorf("malformed core name %q", name)
	}
	var index int
	if _, err := fmt.Sscanf(name[3:], "%02d", &index); err != nil {
		return 0, 0, fmt.Errorf("malformed core name %q: %w", name, err)
	}
	if index < 0 || index >= NumCores {
		return 0, 0, fmt.Errorf("core name %q out of range", name)
	}
	row, col = CoordsFromIndex(index)
	return row, col, nil
}

// AllCores returns every one of the 48 grid positions in ascending index
// order, e.g. for seeding a fresh hostfile.
func AllCores() []string {
	cores := make([]string, NumCores)
	for i := range cores {
		cores[i] = Name(i)
	}
	return cores
}

// corner seed order tried before falling back to a row-major scan (spec
// §4.1 step 2), preserved verbatim from original_source/core_allocator.py.
var cornerSeeds = [4][2]int{{0, 0}, {0, 5}, {7, 0}, {7, 5}}

// Allocate places exactly k cores among the `available` set so as to
// maximize thermal dispersion (spec §4.1). rng drives the tie-break choice
// among equally-far, equally edge-close candidates and must be supplied by
// the caller so tests can reproduce a placement deterministically.
func Allocate(rng *rand.Rand, k int, available []string) ([]string, error) {
	if k <= 0 {
		return nil, nil
	}
	avail := make(map[[2]int]bool, len(available))
	for _, name := range available {
		r, c, err := CoordsFromName(name)
		if err != nil {
			return nil, err
		}
		avail[[2]int{r, c}] = true
	}
	if k > len(avail) {
		return nil, fmt.Errorf("%w: requested %d, available %d", ErrInsufficientCores, k, len(avail))
	}

	// M[r][c]: -1 forbidden, -2 placed, else distance-to-nearest-placed
	// (initialized to "infinitely far").
	var m [Rows][Cols]float64
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if avail[[2]int{r, c}] {
				m[r][c] = 1000
			} else {
				m[r][c] = -1
			}
		}
	}

	seedRow, seedCol := -1, -1
	for _, s := range cornerSeeds {
		if m[s[0]][s[1]] != -1 {
			seedRow, seedCol = s[0], s[1]
			break
		}
	}
	if seedRow == -1 {
		for r := 0; r < Rows && seedRow == -1; r++ {
			for c := 0; c < Cols; c++ {
				if m[r][c] != -1 {
					seedRow, seedCol = r, c
					break
				}
			}
		}
	}

	row, col := seedRow, seedCol
	placed := make([]string, 0, k)
	for remaining := k; remaining > 0; remaining-- {
		m[row][col] = -2
		placed = append(placed, NameFromCoords(row, col))

		for r := 0; r < Rows; r++ {
			for c := 0; c < Cols; c++ {
				if m[r][c] <= 0 {
					continue
				}
				dist := float64(manhattan(row, col, r, c))
				switch {
				case dist < m[r][c]:
					m[r][c] = dist
				case dist-1 < m[r][c] && m[r][c] <= dist:
					m[r][c] -= 0.01
				}
			}
		}

		if remaining == 1 {
			break
		}

		max := -1.0
		var maxSet [][2]int
		for r := 0; r < Rows; r++ {
			for c := 0; c < Cols; c++ {
				if m[r][c] <= 0 {
					continue
				}
				if m[r][c] > max {
					max = m[r][c]
					maxSet = maxSet[:0]
					maxSet = append(maxSet, [2]int{r, c})
				} else if m[r][c] == max {
					maxSet = append(maxSet, [2]int{r, c})
				}
			}
		}

		minEdge := Rows + Cols
		for _, p := range maxSet {
			if e := edgeDistance(p[0], p[1]); e < minEdge {
				minEdge = e
			}
		}
		var edgeSet [][2]int
		for _, p := range maxSet {
			if edgeDistance(p[0], p[1]) == minEdge {
				edgeSet = append(edgeSet, p)
			}
		}

		choice := edgeSet[rng.Intn(len(edgeSet))]
		row, col = choice[0], choice[1]
	}

	return placed, nil
}

func manhattan(r1, c1, r2, c2 int) int {
	return abs(r2-r1) + abs(c2-c1)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// edgeDistance returns how close (r,c) is to the nearest grid edge; edges
// radiate heat better, so the allocator prefers the smallest value (spec
// §4.1 step 3d).
func edgeDistance(r, c int) int {
	return min(r, c, Rows-1-r, Cols-1-c)
}
