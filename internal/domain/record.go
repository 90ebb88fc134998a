package domain

import (
	"fmt"
	"strconv"
	"time"
)

// PayloadKind identifies which tabular format an archive carried.
type PayloadKind string

const (
	KindSpreadsheet    PayloadKind = "spreadsheet"
	KindLegacyDatabase PayloadKind = "legacy_database"
)

// Payload is a single tabular file pulled out of the bulletin archive.
type Payload struct {
	Name string
	Kind PayloadKind
	Data []byte
}

// RawRow maps a verbatim source header to its cell value. An empty string is a null cell.
type RawRow map[string]string

// Table is the uniform output of both parser variants: ordered headers plus rows.
type Table struct {
	Name    string
	Headers []string
	Rows    []RawRow
}

// NormalizedRecord is one reservoir observation in the canonical schema.
type NormalizedRecord struct {
	EntityName       string   `json:"entity_name"`
	BasinName        *string  `json:"basin_name"`
	ObservationDate  string   `json:"observation_date"` // YYYY-MM-DD, empty when the source date was unparseable
	CapacityHM3      *float64 `json:"capacity_hm3"`
	CurrentVolumeHM3 *float64 `json:"current_volume_hm3"`
	PercentFull      *float64 `json:"percent_full"`
	HasHydropowerUse bool     `json:"has_hydropower_use"`

	// Extra holds source columns that match no alias, keyed by canonical header.
	Extra map[string]string `json:"extra,omitempty"`
}

// HasValidDate reports whether the record carries a parsed observation date.
func (r NormalizedRecord) HasValidDate() bool {
	return r.ObservationDate != ""
}

// Persistable splits records into those the store accepts and the number
// rejected for a missing entity name or an unparseable date.
func Persistable(records []NormalizedRecord) ([]NormalizedRecord, int) {
	kept := make([]NormalizedRecord, 0, len(records))
	for _, r := range records {
		if r.EntityName == "" || !r.HasValidDate() {
			continue
		}
		kept = append(kept, r)
	}
	return kept, len(records) - len(kept)
}

// Metadata keys persisted alongside every snapshot.
const (
	MetaLastUpdatedAt = "last_updated_at"
	MetaTotalRecords  = "total_records"
)

// UnboundFields names the required fields that no record carries. It is
// used to explain why a table produced nothing storable.
func UnboundFields(records []NormalizedRecord) []string {
	var hasEntity, hasDate bool
	for _, r := range records {
		hasEntity = hasEntity || r.EntityName != ""
		hasDate = hasDate || r.HasValidDate()
	}
	var fields []string
	if !hasEntity {
		fields = append(fields, FieldEntityName)
	}
	if !hasDate {
		fields = append(fields, FieldObservationDate)
	}
	return fields
}

// UpdateMetadata describes the most recent successful commit.
type UpdateMetadata struct {
	LastUpdatedAt time.Time `json:"last_updated_at"`
	TotalRecords  int       `json:"total_records"`
}

// NewUpdateMetadata stamps a commit of total records with the package clock.
func NewUpdateMetadata(total int) UpdateMetadata {
	return UpdateMetadata{LastUpdatedAt: Now(), TotalRecords: total}
}

// KeyValues encodes the metadata as the string pairs the store persists.
func (m UpdateMetadata) KeyValues() map[string]string {
	return map[string]string{
		MetaLastUpdatedAt: m.LastUpdatedAt.UTC().Format(time.RFC3339Nano),
		MetaTotalRecords:  strconv.Itoa(m.TotalRecords),
	}
}

// ParseUpdateMetadata decodes persisted key/value pairs. Both keys must be present.
func ParseUpdateMetadata(kv map[string]string) (UpdateMetadata, error) {
	rawTS, okTS := kv[MetaLastUpdatedAt]
	rawTotal, okTotal := kv[MetaTotalRecords]
	if !okTS || !okTotal {
		return UpdateMetadata{}, ErrNoSnapshot
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		return UpdateMetadata{}, fmt.Errorf("parse %s: %w", MetaLastUpdatedAt, err)
	}
	total, err := strconv.Atoi(rawTotal)
	if err != nil {
		return UpdateMetadata{}, fmt.Errorf("parse %s: %w", MetaTotalRecords, err)
	}
	return UpdateMetadata{LastUpdatedAt: ts, TotalRecords: total}, nil
}

// RecordFilter narrows snapshot queries. Zero values match everything;
// From and To are inclusive ISO dates.
type RecordFilter struct {
	EntityName string
	BasinName  string
	From       string
	To         string
}

// Summary describes the newest observation date in the snapshot.
type Summary struct {
	LatestDate string `json:"latest_date"`
	Reservoirs int    `json:"reservoirs"`
	Basins     int    `json:"basins"`
}
