// Command resetcheckpoint clears a supervisor's validated checkpoint
// archive, forcing the next run to start accumulating DUE checkpoints
// from scratch (spec §4.4). It takes no flags beyond the standard
// DEPMAN_SAFE_LOCATION env var, matching the supervisor's own config
// resolution.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/alexmavr/depman/internal/config"
)

func main() {
	safeLocation := os.Getenv("DEPMAN_SAFE_LOCATION")
	if safeLocation == "" {
		safeLocation = config.DefaultSafeLocation
	}

	entries, err := os.ReadDir(safeLocation)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("Safe location %s does not exist, nothing to reset.\n", safeLocation)
			return
		}
		log.Fatalf("read safe location: %v", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := safeLocation + "/" + e.Name()
		if err := os.RemoveAll(path); err != nil {
			log.Fatalf("remove checkpoint directory %s: %v", path, err)
		}
		removed++
	}

	if removed == 0 {
		fmt.Printf("No checkpoint directories found under %s. It might have already been reset or never existed.\n", safeLocation)
	} else {
		fmt.Printf("Removed %d checkpoint director%s under %s. The supervisor will start a fresh checkpoint set on next run.\n",
			removed, plural(removed), safeLocation)
	}
}

func plural(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
