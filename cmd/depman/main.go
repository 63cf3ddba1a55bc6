// Command depman is the dependability supervisor's entrypoint: it parses
// CLI flags, builds a Supervisor, and runs its event loop until the
// simulation completes (spec §6).
package main

import (
	"context"
	"log"
	"os"

	"github.com/alexmavr/depman/internal/config"
	"github.com/alexmavr/depman/internal/supervisor"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("argument error: %v", err)
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer logFile.Close()
	log.SetOutput(logFile)
	log.SetFlags(log.Ldate | log.Ltime)

	ctx := context.Background()
	sup, err := supervisor.New(ctx, cfg)
	if err != nil {
		log.Fatalf("supervisor init: %v", err)
	}

	sup.Run(ctx)
}
