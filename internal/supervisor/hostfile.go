package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// readHostfile parses the initial core list from a hostfile: one bare
// two-digit core number per line, blank lines ignored, each mapped to its
// "rckNN" name (spec §3, original_source/depman.py __init__).
func readHostfile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cores []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cores = append(cores, "rck"+line)
	}
	return cores, sc.Err()
}

// writeHostfile overwrites the hostfile with the given core set, stripping
// the "rck" prefix back off each name (spec §4.8 create_hostfile).
func writeHostfile(path string, cores []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, c := range cores {
		n := c
		if len(n) > 3 {
			n = n[3:]
		}
		if _, err := fmt.Fprintln(w, n); err != nil {
			return err
		}
	}
	return w.Flush()
}
