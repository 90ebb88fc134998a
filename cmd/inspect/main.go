// Command inspect checks a persisted snapshot: the metadata matches the
// stored rows, the latest view holds exactly one newest row per reservoir
// and every row carries valid canonical values.
//
// Usage:
//
//	go run ./cmd/inspect -db data/embalses.db
//	DATABASE_URL=postgres://... go run ./cmd/inspect
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/reservoir-etl/internal/adapter/postgres"
	"github.com/couchcryptid/reservoir-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/reservoir-etl/internal/config"
	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

// snapshotReader is the read side shared by both stores.
type snapshotReader interface {
	Metadata(ctx context.Context) (domain.UpdateMetadata, error)
	Records(ctx context.Context, filter domain.RecordFilter) ([]domain.NormalizedRecord, error)
	Latest(ctx context.Context, basin string) ([]domain.NormalizedRecord, error)
	Basins(ctx context.Context) ([]string, error)
	Summary(ctx context.Context) (domain.Summary, error)
	Close() error
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dbPath := flag.String("db", "", "SQLite snapshot file (defaults to DATA_DIR/DB_FILE; ignored when DATABASE_URL is set)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		os.Exit(1)
	}
	if *dbPath == "" {
		*dbPath = cfg.SQLitePath()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var store snapshotReader
	if cfg.DatabaseURL != "" {
		store, err = postgres.Open(ctx, cfg.DatabaseURL)
	} else {
		store, err = sqlite.Open(ctx, *dbPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: open store: %v\n", err)
		os.Exit(1)
	}
	code := run(ctx, store)
	store.Close()
	os.Exit(code)
}

func run(ctx context.Context, store snapshotReader) int {
	fmt.Println("=== Reservoir Snapshot Inspection ===")
	fmt.Println()

	meta, err := store.Metadata(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}
	records, err := store.Records(ctx, domain.RecordFilter{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read records: %v\n", err)
		return 1
	}
	latest, err := store.Latest(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read latest view: %v\n", err)
		return 1
	}
	basins, err := store.Basins(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read basins: %v\n", err)
		return 1
	}
	summary, err := store.Summary(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read summary: %v\n", err)
		return 1
	}

	fmt.Printf("last_updated_at: %s\n", meta.LastUpdatedAt.Format(time.RFC3339))
	fmt.Printf("total_records:   %d\n", meta.TotalRecords)
	fmt.Printf("latest date:     %s (%d reservoirs, %d basins reporting)\n", summary.LatestDate, summary.Reservoirs, summary.Basins)
	fmt.Printf("basins:          %d\n", len(basins))
	fmt.Println()

	phases := []*phase{
		validateMetadata(meta, records),
		validateRecords(records),
		validateLatestView(records, latest),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nInspection FAILED.")
	return 1
}

func validateMetadata(meta domain.UpdateMetadata, records []domain.NormalizedRecord) *phase {
	p := &phase{name: "Metadata matches stored rows"}
	if meta.TotalRecords != len(records) {
		p.errorf("total_records=%d but %d rows stored", meta.TotalRecords, len(records))
	}
	if meta.LastUpdatedAt.IsZero() {
		p.errorf("last_updated_at is zero")
	}
	return p
}

func validateRecords(records []domain.NormalizedRecord) *phase {
	p := &phase{name: "Rows carry valid canonical values"}
	for i, r := range records {
		if r.EntityName == "" {
			p.errorf("row %d: empty entity name", i)
		}
		if _, err := time.Parse(time.DateOnly, r.ObservationDate); err != nil {
			p.errorf("row %d (%s): invalid observation date %q", i, r.EntityName, r.ObservationDate)
		}
		for name, v := range map[string]*float64{
			"capacity_hm3":       r.CapacityHM3,
			"current_volume_hm3": r.CurrentVolumeHM3,
			"percent_full":       r.PercentFull,
		} {
			if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0) {
				p.errorf("row %d (%s): %s=%v", i, r.EntityName, name, *v)
			}
		}
	}
	return p
}

// validateLatestView expects records ordered by entity, date and source row
// order, as Records returns them.
func validateLatestView(records, latest []domain.NormalizedRecord) *phase {
	p := &phase{name: "Latest view has one newest row per reservoir"}

	want := make(map[string]domain.NormalizedRecord)
	for _, r := range records {
		cur, ok := want[r.EntityName]
		if !ok || r.ObservationDate > cur.ObservationDate {
			want[r.EntityName] = r
		}
	}

	seen := make(map[string]bool, len(latest))
	for _, l := range latest {
		if seen[l.EntityName] {
			p.errorf("%s: more than one row in latest view", l.EntityName)
			continue
		}
		seen[l.EntityName] = true

		w, ok := want[l.EntityName]
		if !ok {
			p.errorf("%s: in latest view but not in history", l.EntityName)
			continue
		}
		if l.ObservationDate != w.ObservationDate {
			p.errorf("%s: latest date %s, newest in history %s", l.EntityName, l.ObservationDate, w.ObservationDate)
		}
		if !sameFloat(l.CurrentVolumeHM3, w.CurrentVolumeHM3) {
			p.errorf("%s: latest row is not the first source row for %s", l.EntityName, w.ObservationDate)
		}
	}
	for name := range want {
		if !seen[name] {
			p.errorf("%s: missing from latest view", name)
		}
	}
	return p
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
