package domain

import "time"

// SnapshotCommitted is published after a successful commit so downstream
// exporters can rebuild their outputs.
type SnapshotCommitted struct {
	RunID          string      `json:"run_id"`
	SourceURL      string      `json:"source_url"`
	PayloadName    string      `json:"payload_name"`
	PayloadKind    PayloadKind `json:"payload_kind"`
	RowsParsed     int         `json:"rows_parsed"`
	RecordsDropped int         `json:"records_dropped"`
	TotalRecords   int         `json:"total_records"`
	LastUpdatedAt  time.Time   `json:"last_updated_at"`
}
