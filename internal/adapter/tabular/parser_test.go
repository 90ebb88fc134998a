package tabular

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParser_Spreadsheet(t *testing.T) {
	data := buildWorkbook(t, [][]any{
		{"EMBALSE_NOMBRE", "FECHA"},
		{"Alarcón", 45321},
	}, "Otra")

	p := NewParser(newFakeRunner(), DefaultMDBTools(), discardLogger())
	table, err := p.Parse(context.Background(), domain.Payload{Name: "embalses.xlsx", Kind: domain.KindSpreadsheet, Data: data})
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", table.Name)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Alarcón", table.Rows[0]["EMBALSE_NOMBRE"])
}

func TestParser_LegacyXLS(t *testing.T) {
	p := NewParser(newFakeRunner(), DefaultMDBTools(), discardLogger())
	_, err := p.Parse(context.Background(), domain.Payload{Name: "EMBALSES.XLS", Kind: domain.KindSpreadsheet, Data: []byte{0xd0, 0xcf}})

	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.ErrorIs(t, err, errLegacyXLS)
	assert.Equal(t, "parse", domain.Stage(err))
}

func TestParser_CorruptSpreadsheet(t *testing.T) {
	p := NewParser(newFakeRunner(), DefaultMDBTools(), discardLogger())
	_, err := p.Parse(context.Background(), domain.Payload{Name: "embalses.xlsx", Kind: domain.KindSpreadsheet, Data: []byte("garbage")})

	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "embalses.xlsx", parseErr.Name)
}

func TestParser_LegacyDatabase(t *testing.T) {
	runner := newFakeRunner()
	p := NewParser(runner, DefaultMDBTools(), discardLogger())

	table, err := p.Parse(context.Background(), domain.Payload{Name: "BD-Embalses.mdb", Kind: domain.KindLegacyDatabase, Data: []byte("mdb")})
	require.NoError(t, err)
	assert.Equal(t, "T_Datos Embalses Diarios", table.Name)
	assert.Len(t, table.Rows, 2)

	// the database is read from a temporary copy of the payload
	require.Len(t, runner.calls, 2)
	assert.Contains(t, runner.calls[0][2], ".mdb")
}

func TestParser_LegacyDatabaseFallbackTable(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["mdb-tables"] = "Datos\nCuencas\n"
	p := NewParser(runner, DefaultMDBTools(), discardLogger())

	table, err := p.Parse(context.Background(), domain.Payload{Name: "BD.mdb", Kind: domain.KindLegacyDatabase, Data: []byte("mdb")})
	require.NoError(t, err)
	assert.Equal(t, "Datos", table.Name)
}

func TestParser_ToolingUnavailableIsNotWrapped(t *testing.T) {
	runner := newFakeRunner()
	runner.missing = map[string]bool{"mdb-tables": true}
	p := NewParser(runner, DefaultMDBTools(), discardLogger())

	_, err := p.Parse(context.Background(), domain.Payload{Name: "BD.mdb", Kind: domain.KindLegacyDatabase, Data: []byte("mdb")})

	var toolingErr *domain.ToolingUnavailableError
	require.ErrorAs(t, err, &toolingErr)
	var parseErr *domain.ParseError
	assert.NotErrorAs(t, err, &parseErr)
}

func TestParser_HeaderOnlyTable(t *testing.T) {
	data := buildWorkbook(t, [][]any{{"EMBALSE_NOMBRE", "FECHA"}})

	p := NewParser(newFakeRunner(), DefaultMDBTools(), discardLogger())
	_, err := p.Parse(context.Background(), domain.Payload{Name: "embalses.xlsx", Kind: domain.KindSpreadsheet, Data: data})

	var parseErr *domain.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, err.Error(), "no data rows")
}
