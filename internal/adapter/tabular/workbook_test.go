package tabular

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

// buildWorkbook writes rows to the first sheet (and any extra sheets) and
// returns the .xlsx bytes.
func buildWorkbook(t *testing.T, rows [][]any, extraSheets ...string) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	for _, name := range extraSheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestWorkbook_ReadTable(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{},
		{"EMBALSE_NOMBRE", "AMBITO_NOMBRE", "FECHA", "AGUA_TOTAL", "AGUA_ACTUAL", "ELECTRICO_FLAG"},
		{"Alarcón", "Júcar", 45321, 1112, 456.5, 1},
		{},
		{"Buendía", "Tajo", 45321, 1639},
	}, "Notas")

	wb, err := OpenWorkbook(data)
	require.NoError(t, err)
	defer wb.Close()

	sheets, err := wb.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Sheet1", "Notas"}, sheets)

	table, err := wb.ReadTable(context.Background(), "Sheet1")
	require.NoError(t, err)

	assert.Equal(t, "Sheet1", table.Name)
	assert.Equal(t, []string{"EMBALSE_NOMBRE", "AMBITO_NOMBRE", "FECHA", "AGUA_TOTAL", "AGUA_ACTUAL", "ELECTRICO_FLAG"}, table.Headers)
	require.Len(t, table.Rows, 2)

	assert.Equal(t, domain.RawRow{
		"EMBALSE_NOMBRE": "Alarcón",
		"AMBITO_NOMBRE":  "Júcar",
		"FECHA":          "45321",
		"AGUA_TOTAL":     "1112",
		"AGUA_ACTUAL":    "456.5",
		"ELECTRICO_FLAG": "1",
	}, table.Rows[0])

	// short rows are padded with nulls
	assert.Equal(t, "", table.Rows[1]["AGUA_ACTUAL"])
	assert.Equal(t, "", table.Rows[1]["ELECTRICO_FLAG"])
}

func TestWorkbook_EmptySheet(t *testing.T) {
	data := buildWorkbook(t, nil)

	wb, err := OpenWorkbook(data)
	require.NoError(t, err)
	defer wb.Close()

	_, err = wb.ReadTable(context.Background(), "Sheet1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestOpenWorkbook_Garbage(t *testing.T) {
	_, err := OpenWorkbook([]byte("definitely not a workbook"))
	require.Error(t, err)
}

func TestSelectTable(t *testing.T) {
	tests := []struct {
		name        string
		tables      []string
		wantName    string
		wantMatched bool
	}{
		{"keyword match", []string{"MSysObjects", "T_Datos_Embalses", "Cuencas"}, "T_Datos_Embalses", true},
		{"case insensitive", []string{"Usuarios", "PRESAS"}, "PRESAS", true},
		{"first match wins", []string{"pantanos_old", "embalses"}, "pantanos_old", true},
		{"fallback to first", []string{"Datos", "Cuencas"}, "Datos", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, matched, err := SelectTable(tt.tables, DefaultTableKeywords)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantMatched, matched)
		})
	}
}

func TestSelectTable_NoTables(t *testing.T) {
	_, _, err := SelectTable(nil, DefaultTableKeywords)
	require.ErrorIs(t, err, errNoTables)
}
