package grid

import (
	"math/rand"
	"testing"
)

func TestNameCoordsBijection(t *testing.T) {
	t.Parallel()

	cases := []struct {
		row, col int
		name     string
	}{
		{0, 0, "rck00"},
		{1, 0, "rck01"},
		{0, 1, "rck02"},
		{6, 4, "rck44"},
		{7, 3, "rck43"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NameFromCoords(tc.row, tc.col); got != tc.name {
				t.Fatalf("NameFromCoords(%d,%d)=%s want %s", tc.row, tc.col, got, tc.name)
			}
			r, c, err := CoordsFromName(tc.name)
			if err != nil {
				t.Fatalf("CoordsFromName(%s): %v", tc.name, err)
			}
			if r != tc.row || c != tc.col {
				t.Fatalf("CoordsFromName(%s)=(%d,%d) want (%d,%d)", tc.name, r, c, tc.row, tc.col)
			}
		})
	}
}

func TestRoundTripAllPositions(t *testing.T) {
	t.Parallel()
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			name := NameFromCoords(r, c)
			gotR, gotC, err := CoordsFromName(name)
			if err != nil {
				t.Fatalf("CoordsFromName(%s): %v", name, err)
			}
			if gotR != r || gotC != c {
				t.Fatalf("round trip (%d,%d) -> %s -> (%d,%d)", r, c, name, gotR, gotC)
			}
		}
	}
}

func TestAllocateDeterministic(t *testing.T) {
	t.Parallel()
	all := AllCores()

	rng1 := rand.New(rand.NewSource(42))
	got1, err := Allocate(rng1, 4, all)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	rng2 := rand.New(rand.NewSource(42))
	got2, err := Allocate(rng2, 4, all)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if len(got1) != 4 {
		t.Fatalf("len(got1)=%d want 4", len(got1))
	}
	if len(got2) != len(got1) {
		t.Fatalf("non-reproducible allocation: %v vs %v", got1, got2)
	}
	for i := range got1 {
		if got1[i] != got2[i] {
			t.Fatalf("non-reproducible allocation at %d: %s vs %s", i, got1[i], got2[i])
		}
	}

	seen := make(map[string]bool)
	availSet := make(map[string]bool)
	for _, c := range all {
		availSet[c] = true
	}
	for _, c := range got1 {
		if seen[c] {
			t.Fatalf("duplicate placement %s", c)
		}
		seen[c] = true
		if !availSet[c] {
			t.Fatalf("placement %s not in available set", c)
		}
	}
}

func TestAllocateDispersionTwoCores(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	placed, err := Allocate(rng, 2, AllCores())
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(placed) != 2 {
		t.Fatalf("len(placed)=%d want 2", len(placed))
	}

	r0, c0, _ := CoordsFromName(placed[0])
	r1, c1, _ := CoordsFromName(placed[1])

	if edgeDistance(r0, c0) != 0 {
		t.Fatalf("first placement %s is not on an edge", placed[0])
	}
	if edgeDistance(r1, c1) != 0 {
		t.Fatalf("second placement %s is not on an edge", placed[1])
	}

	dist := manhattan(r0, c0, r1, c1)
	if dist <= 1 {
		t.Fatalf("placements %s and %s are adjacent (distance %d)", placed[0], placed[1], dist)
	}
}

func TestAllocateInsufficientCores(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	_, err := Allocate(rng, 5, []string{"rck00", "rck01"})
	if err == nil {
		t.Fatal("expected ErrInsufficientCores, got nil")
	}
}
