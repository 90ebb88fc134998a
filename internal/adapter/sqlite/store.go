// Package sqlite persists reservoir snapshots in a SQLite file. Every commit
// replaces the whole history table inside one transaction, so readers see
// either the previous snapshot or the new one.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

const (
	recordsTable = "reservoir_records"
	nextTable    = "reservoir_records_next"
	latestView   = "latest_reservoir_records"
)

const metaSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

const nextTableSchema = `
CREATE TABLE ` + nextTable + ` (
	id                 INTEGER PRIMARY KEY,
	entity_name        TEXT    NOT NULL,
	basin_name         TEXT,
	observation_date   TEXT    NOT NULL,
	capacity_hm3       REAL,
	current_volume_hm3 REAL,
	percent_full       REAL,
	has_hydropower_use INTEGER NOT NULL DEFAULT 0,
	extra              TEXT
)`

// Indexes and the latest view are created after the rename so their names
// never collide with the objects of the snapshot being replaced.
var postSwapDDL = []string{
	`CREATE INDEX idx_reservoir_records_entity_date ON ` + recordsTable + ` (entity_name, observation_date DESC, id)`,
	`CREATE INDEX idx_reservoir_records_basin ON ` + recordsTable + ` (basin_name)`,
	`CREATE INDEX idx_reservoir_records_date ON ` + recordsTable + ` (observation_date)`,
	`CREATE VIEW ` + latestView + ` AS
	SELECT r.*
	FROM ` + recordsTable + ` r
	WHERE r.id = (
		SELECT l.id FROM ` + recordsTable + ` l
		WHERE l.entity_name = r.entity_name
		ORDER BY l.observation_date DESC, l.id ASC
		LIMIT 1
	)`,
}

// Store is the SQLite snapshot store.
type Store struct {
	db *sql.DB

	// hook runs before each named commit step; tests use it to inject failures.
	hook func(step string) error
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, metaSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Commit replaces the snapshot with records and stamps the metadata.
// Records without an entity name or a valid date are not persisted. On any
// failure the transaction is rolled back and a *domain.CommitError returned.
func (s *Store) Commit(ctx context.Context, records []domain.NormalizedRecord) (domain.UpdateMetadata, error) {
	kept, _ := domain.Persistable(records)
	meta := domain.NewUpdateMetadata(len(kept))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.UpdateMetadata{}, &domain.CommitError{Op: "begin", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := s.step("build", func() error { return buildNext(ctx, tx, kept) }); err != nil {
		return domain.UpdateMetadata{}, err
	}
	if err := s.step("swap", func() error { return swap(ctx, tx) }); err != nil {
		return domain.UpdateMetadata{}, err
	}
	if err := s.step("metadata", func() error { return writeMeta(ctx, tx, meta) }); err != nil {
		return domain.UpdateMetadata{}, err
	}
	if err := tx.Commit(); err != nil {
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

func buildNext(ctx context.Context, tx *sql.Tx, records []domain.NormalizedRecord) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+nextTable); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, nextTableSchema); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+nextTable+` (
		entity_name, basin_name, observation_date, capacity_hm3,
		current_volume_hm3, percent_full, has_hydropower_use, extra
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		extra, err := encodeExtra(r.Extra)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.EntityName, r.BasinName, r.ObservationDate, r.CapacityHM3,
			r.CurrentVolumeHM3, r.PercentFull, r.HasHydropowerUse, extra,
		); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	return nil
}

func swap(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		`DROP VIEW IF EXISTS ` + latestView,
		`DROP TABLE IF EXISTS ` + recordsTable,
		`ALTER TABLE ` + nextTable + ` RENAME TO ` + recordsTable,
	}
	for _, q := range append(stmts, postSwapDDL...) {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func writeMeta(ctx context.Context, tx *sql.Tx, meta domain.UpdateMetadata) error {
	for k, v := range meta.KeyValues() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Metadata returns the last commit's metadata, or domain.ErrNoSnapshot when
// no run has completed.
func (s *Store) Metadata(ctx context.Context) (domain.UpdateMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta WHERE key IN (?, ?)`,
		domain.MetaLastUpdatedAt, domain.MetaTotalRecords)
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

// Records returns the full history matching filter, ordered by entity,
// date and source row order.
func (s *Store) Records(ctx context.Context, filter domain.RecordFilter) ([]domain.NormalizedRecord, error) {
	if _, err := s.Metadata(ctx); err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []any
	)
	if filter.EntityName != "" {
		conds = append(conds, "entity_name = ?")
		args = append(args, filter.EntityName)
	}
	if filter.BasinName != "" {
		conds = append(conds, "basin_name = ?")
		args = append(args, filter.BasinName)
	}
	if filter.From != "" {
		conds = append(conds, "observation_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conds = append(conds, "observation_date <= ?")
		args = append(args, filter.To)
	}

	q := `SELECT ` + columns + ` FROM ` + recordsTable
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY entity_name, observation_date, id"
	return s.query(ctx, q, args...)
}

// Latest returns one row per reservoir at its newest date, optionally
// restricted to a basin.
func (s *Store) Latest(ctx context.Context, basin string) ([]domain.NormalizedRecord, error) {
	if _, err := s.Metadata(ctx); err != nil {
		return nil, err
	}
	q := `SELECT ` + columns + ` FROM ` + latestView
	var args []any
	if basin != "" {
		q += " WHERE basin_name = ?"
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT basin_name FROM `+recordsTable+` WHERE basin_name IS NOT NULL ORDER BY basin_name`)
	if err != nil {
		return nil, fmt.Errorf("query basins: %w", err)
	}
	defer rows.Close()

	var basins []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		basins = append(basins, b)
	}
	return basins, rows.Err()
}

// Summary counts reservoirs and basins reporting on the newest date.
func (s *Store) Summary(ctx context.Context) (domain.Summary, error) {
	if _, err := s.Metadata(ctx); err != nil {
		return domain.Summary{}, err
	}
	var (
		sum    domain.Summary
		latest sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT m.d, COUNT(DISTINCT r.entity_name), COUNT(DISTINCT r.basin_name)
		FROM (SELECT MAX(observation_date) AS d FROM `+recordsTable+`) m
		LEFT JOIN `+recordsTable+` r ON r.observation_date = m.d`).
		Scan(&latest, &sum.Reservoirs, &sum.Basins)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("query summary: %w", err)
	}
	sum.LatestDate = latest.String
	return sum, nil
}

const columns = `entity_name, basin_name, observation_date, capacity_hm3,
	current_volume_hm3, percent_full, has_hydropower_use, extra`

func (s *Store) query(ctx context.Context, q string, args ...any) ([]domain.NormalizedRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []domain.NormalizedRecord
	for rows.Next() {
		var (
			r        domain.NormalizedRecord
			basin    sql.NullString
			capacity sql.NullFloat64
			volume   sql.NullFloat64
			percent  sql.NullFloat64
			extra    sql.NullString
		)
		if err := rows.Scan(&r.EntityName, &basin, &r.ObservationDate, &capacity,
			&volume, &percent, &r.HasHydropowerUse, &extra); err != nil {
			return nil, err
		}
		r.BasinName = nullString(basin)
		r.CapacityHM3 = nullFloat(capacity)
		r.CurrentVolumeHM3 = nullFloat(volume)
		r.PercentFull = nullFloat(percent)
		if r.Extra, err = decodeExtra(extra); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeExtra(extra map[string]string) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encode extra columns: %w", err)
	}
	return string(b), nil
}

func decodeExtra(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var extra map[string]string
	if err := json.Unmarshal([]byte(s.String), &extra); err != nil {
		return nil, fmt.Errorf("decode extra columns: %w", err)
	}
	return extra, nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}
