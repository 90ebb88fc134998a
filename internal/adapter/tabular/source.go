// Package tabular reads the bulletin payload into a uniform row set. A
// spreadsheet payload is read in-process; a legacy Access database is read
// through the external mdbtools programs.
package tabular

import (
	"context"
	"errors"
	"strings"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

// TabularSource is a payload that holds one or more named tables.
type TabularSource interface {
	ListTables(ctx context.Context) ([]string, error)
	ReadTable(ctx context.Context, name string) (domain.Table, error)
	Close() error
}

// DefaultTableKeywords name the reservoir table in legacy databases.
var DefaultTableKeywords = []string{"embalse", "presa", "pantano"}

var errNoTables = errors.New("payload contains no tables")

// SelectTable returns the first table whose lower-cased name contains one
// of the keywords. When none matches it returns the first table and
// matched=false.
func SelectTable(tables, keywords []string) (name string, matched bool, err error) {
	if len(tables) == 0 {
		return "", false, errNoTables
	}
	for _, t := range tables {
		lower := strings.ToLower(t)
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return t, true, nil
			}
		}
	}
	return tables[0], false, nil
}

// buildTable turns a header row and data rows into a domain.Table. Rows
// shorter than the header are padded with nulls; blank rows and columns
// without a header are skipped.
func buildTable(name string, header []string, records [][]string) domain.Table {
	table := domain.Table{Name: name, Headers: header, Rows: make([]domain.RawRow, 0, len(records))}
	for _, rec := range records {
		if isBlank(rec) {
			continue
		}
		row := make(domain.RawRow, len(header))
		for i, h := range header {
			if strings.TrimSpace(h) == "" {
				continue
			}
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
