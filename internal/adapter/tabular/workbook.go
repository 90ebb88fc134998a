package tabular

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

var errLegacyXLS = errors.New("legacy .xls (BIFF) workbooks are not supported; re-save as .xlsx")

// Workbook is a spreadsheet payload. Its tables are the sheets.
type Workbook struct {
	file *excelize.File
}

// OpenWorkbook opens an in-memory .xlsx/.xlsm payload.
func OpenWorkbook(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	return &Workbook{file: f}, nil
}

// ListTables returns the sheet names in workbook order.
func (w *Workbook) ListTables(_ context.Context) ([]string, error) {
	sheets := w.file.GetSheetList()
	if len(sheets) == 0 {
		return nil, errNoTables
	}
	return sheets, nil
}

// ReadTable reads a sheet. The first non-blank row is the header, kept
// verbatim. Raw cell values are returned, so date cells arrive as Excel
// serial numbers rather than display strings.
func (w *Workbook) ReadTable(_ context.Context, name string) (domain.Table, error) {
	rows, err := w.file.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return domain.Table{}, fmt.Errorf("read sheet %q: %w", name, err)
	}
	for len(rows) > 0 && isBlank(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return domain.Table{}, fmt.Errorf("sheet %q is empty", name)
	}
	return buildTable(name, rows[0], rows[1:]), nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	return w.file.Close()
}
