// Package postgres is the PostgreSQL snapshot store, used when DATABASE_URL
// is set. It has the same replace-in-one-transaction semantics as the
// SQLite store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

const (
	recordsTable = "reservoir_records"
	nextTable    = "reservoir_records_next"
	latestView   = "latest_reservoir_records"
)

var copyColumns = []string{
	"id", "entity_name", "basin_name", "observation_date", "capacity_hm3",
	"current_volume_hm3", "percent_full", "has_hydropower_use", "extra",
}

const selectColumns = `entity_name, basin_name, observation_date::text, capacity_hm3,
	current_volume_hm3, percent_full, has_hydropower_use, extra`

// Store is the PostgreSQL snapshot store.
type Store struct {
	pool *pgxpool.Pool
	hook func(step string) error
}

// Open connects to dsn and makes sure the metadata table exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Commit replaces the snapshot with records in a single transaction.
func (s *Store) Commit(ctx context.Context, records []domain.NormalizedRecord) (domain.UpdateMetadata, error) {
	kept, _ := domain.Persistable(records)
	meta := domain.NewUpdateMetadata(len(kept))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.UpdateMetadata{}, &domain.CommitError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := s.step("build", func() error { return buildNext(ctx, tx, kept) }); err != nil {
		return domain.UpdateMetadata{}, err
	}
	if err := s.step("swap", func() error { return swap(ctx, tx) }); err != nil {
		return domain.UpdateMetadata{}, err
	}
	if err := s.step("metadata", func() error { return writeMeta(ctx, tx, meta) }); err != nil {
		return domain.UpdateMetadata{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.UpdateMetadata{}, &domain.CommitError{Op: "commit", Err: err}
	}
	return meta, nil
}

func (s *Store) step(name string, fn func() error) error {
	if s.hook != nil {
		if err := s.hook(name); err != nil {
			return &domain.CommitError{Op: name, Err: err}
		}
	}
	if err := fn(); err != nil {
		return &domain.CommitError{Op: name, Err: err}
	}
	return nil
}

func buildNext(ctx context.Context, tx pgx.Tx, records []domain.NormalizedRecord) error {
	if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS `+nextTable); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `CREATE TABLE `+nextTable+` (
		id                 BIGINT PRIMARY KEY,
		entity_name        TEXT NOT NULL,
		basin_name         TEXT,
		observation_date   DATE NOT NULL,
		capacity_hm3       DOUBLE PRECISION,
		current_volume_hm3 DOUBLE PRECISION,
		percent_full       DOUBLE PRECISION,
		has_hydropower_use BOOLEAN NOT NULL DEFAULT FALSE,
		extra              JSONB
	)`); err != nil {
		return err
	}

	rows := make([][]any, 0, len(records))
	for i, r := range records {
		date, err := time.Parse(time.DateOnly, r.ObservationDate)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		var extra any
		if len(r.Extra) > 0 {
			extra = r.Extra
		}
		rows = append(rows, []any{
			int64(i + 1), r.EntityName, r.BasinName, date, r.CapacityHM3,
			r.CurrentVolumeHM3, r.PercentFull, r.HasHydropowerUse, extra,
		})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{nextTable}, copyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy records: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copied %d of %d records", n, len(rows))
	}
	return nil
}

func swap(ctx context.Context, tx pgx.Tx) error {
	stmts := []string{
		`DROP VIEW IF EXISTS ` + latestView,
		`DROP TABLE IF EXISTS ` + recordsTable,
		`ALTER TABLE ` + nextTable + ` RENAME TO ` + recordsTable,
		`ALTER INDEX ` + nextTable + `_pkey RENAME TO ` + recordsTable + `_pkey`,
		`CREATE INDEX idx_reservoir_records_entity_date ON ` + recordsTable + ` (entity_name, observation_date DESC, id)`,
		`CREATE INDEX idx_reservoir_records_basin ON ` + recordsTable + ` (basin_name)`,
		`CREATE INDEX idx_reservoir_records_date ON ` + recordsTable + ` (observation_date)`,
		`CREATE VIEW ` + latestView + ` AS
		SELECT DISTINCT ON (entity_name) *
		FROM ` + recordsTable + `
		ORDER BY entity_name, observation_date DESC, id ASC`,
	}
	for _, q := range stmts {
		if _, err := tx.Exec(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func writeMeta(ctx context.Context, tx pgx.Tx, meta domain.UpdateMetadata) error {
	batch := &pgx.Batch{}
	for k, v := range meta.KeyValues() {
		batch.Queue(`INSERT INTO meta (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, k, v)
	}
	res := tx.SendBatch(ctx, batch)
	defer res.Close()

	for range batch.Len() {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// Metadata returns the last commit's metadata, or domain.ErrNoSnapshot.
func (s *Store) Metadata(ctx context.Context) (domain.UpdateMetadata, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM meta WHERE key = ANY($1)`,
		[]string{domain.MetaLastUpdatedAt, domain.MetaTotalRecords})
	if err != nil {
		return domain.UpdateMetadata{}, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	kv := make(map[string]string, 2)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.UpdateMetadata{}, err
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return domain.UpdateMetadata{}, err
	}
	return domain.ParseUpdateMetadata(kv)
}

// Records returns the history matching filter.
func (s *Store) Records(ctx context.Context, filter domain.RecordFilter) ([]domain.NormalizedRecord, error) {
	if _, err := s.Metadata(ctx); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.EntityName != "" {
		add("entity_name = $%d", filter.EntityName)
	}
	if filter.BasinName != "" {
		add("basin_name = $%d", filter.BasinName)
	}
	if filter.From != "" {
		add("observation_date >= $%d::date", filter.From)
	}
	if filter.To != "" {
		add("observation_date <= $%d::date", filter.To)
	}

	q := `SELECT ` + selectColumns + ` FROM ` + recordsTable
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY entity_name, observation_date, id"
	return s.query(ctx, q, args...)
}

// Latest returns one row per reservoir at its newest date.
func (s *Store) Latest(ctx context.Context, basin string) ([]domain.NormalizedRecord, error) {
	if _, err := s.Metadata(ctx); err != nil {
		return nil, err
	}
	q := `SELECT ` + selectColumns + ` FROM ` + latestView
	var args []any
	if basin != "" {
		q += " WHERE basin_name = $1"
		args = append(args, basin)
	}
	q += " ORDER BY entity_name"
	return s.query(ctx, q, args...)
}

// Basins lists the distinct basin names in the snapshot.
func (s *Store) Basins(ctx context.Context) ([]string, error) {
	if _, err := s.Metadata(ctx); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT basin_name FROM `+recordsTable+` WHERE basin_name IS NOT NULL ORDER BY basin_name`)
	if err != nil {
		return nil, fmt.Errorf("query basins: %w", err)
	}
	basins, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return basins, nil
}

// Summary counts reservoirs and basins reporting on the newest date.
func (s *Store) Summary(ctx context.Context) (domain.Summary, error) {
	if _, err := s.Metadata(ctx); err != nil {
		return domain.Summary{}, err
	}
	var (
		sum    domain.Summary
		latest *string
	)
	err := s.pool.QueryRow(ctx, `
SELECT m.d::text, COUNT(DISTINCT r.entity_name), COUNT(DISTINCT r.basin_name)
FROM (SELECT MAX(observation_date) AS d FROM `+recordsTable+`) m
LEFT JOIN `+recordsTable+` r ON r.observation_date = m.d
GROUP BY m.d`).Scan(&latest, &sum.Reservoirs, &sum.Basins)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return domain.Summary{}, fmt.Errorf("query summary: %w", err)
	}
	if latest != nil {
		sum.LatestDate = *latest
	}
	return sum, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.NormalizedRecord, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedRecord
	for rows.Next() {
		var (
			r     domain.NormalizedRecord
			extra []byte
		)
		if err := rows.Scan(&r.EntityName, &r.BasinName, &r.ObservationDate, &r.CapacityHM3,
			&r.CurrentVolumeHM3, &r.PercentFull, &r.HasHydropowerUse, &extra); err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			if err := json.Unmarshal(extra, &r.Extra); err != nil {
				return nil, fmt.Errorf("decode extra columns: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
