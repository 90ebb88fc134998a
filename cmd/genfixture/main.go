// Command genfixture writes a bulletin-shaped archive for local runs. Serve
// the output directory and point FALLBACK_URL (or LANDING_URL) at it.
//
// Usage:
//
//	go run ./cmd/genfixture -out data/fixture/BD-Embalses.zip -weeks 12
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/reservoir-etl/internal/fixture"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the fixture archive")
	weeks := flag.Int("weeks", 8, "number of weekly observations per reservoir")
	start := flag.String("start", "2024-01-02", "first observation date (YYYY-MM-DD)")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	startDate, err := time.Parse(time.DateOnly, *start)
	if err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}

	data, err := fixture.Bulletin(fixture.Options{Start: startDate, Weeks: *weeks})
	if err != nil {
		return fmt.Errorf("build archive: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}

	log.Printf("wrote %s: %d reservoirs x %d weeks (%d bytes)", *out, len(fixture.Reservoirs), *weeks, len(data))
	return nil
}
