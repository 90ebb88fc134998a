package tabular

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/couchcryptid/reservoir-etl/internal/adapter/archive"
	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

// Parser dispatches a payload to the reader for its kind.
type Parser struct {
	runner   ToolRunner
	tools    MDBTools
	keywords []string
	logger   *slog.Logger
}

// NewParser creates a Parser. The runner and tools are only used for
// legacy database payloads.
func NewParser(runner ToolRunner, tools MDBTools, logger *slog.Logger) *Parser {
	return &Parser{
		runner:   runner,
		tools:    tools,
		keywords: DefaultTableKeywords,
		logger:   logger,
	}
}

// Parse reads the payload into a table. Read failures and tables without
// data rows are returned as *domain.ParseError; a missing mdbtools install
// as *domain.ToolingUnavailableError.
func (p *Parser) Parse(ctx context.Context, payload domain.Payload) (domain.Table, error) {
	var (
		table domain.Table
		err   error
	)
	switch payload.Kind {
	case domain.KindSpreadsheet:
		table, err = p.parseSpreadsheet(ctx, payload)
	case domain.KindLegacyDatabase:
		table, err = p.parseDatabase(ctx, payload)
	default:
		err = errors.New("unknown payload kind")
	}
	if err == nil && len(table.Rows) == 0 {
		err = fmt.Errorf("table %q has no data rows", table.Name)
	}
	if err != nil {
		var toolingErr *domain.ToolingUnavailableError
		if errors.As(err, &toolingErr) {
			return domain.Table{}, err
		}
		return domain.Table{}, &domain.ParseError{Kind: payload.Kind, Name: payload.Name, Err: err}
	}

	p.logger.Info("payload parsed",
		"name", payload.Name,
		"kind", payload.Kind,
		"table", table.Name,
		"rows", len(table.Rows),
		"columns", table.Headers,
	)
	return table, nil
}

func (p *Parser) parseSpreadsheet(ctx context.Context, payload domain.Payload) (domain.Table, error) {
	if strings.EqualFold(path.Ext(payload.Name), ".xls") {
		return domain.Table{}, errLegacyXLS
	}
	wb, err := OpenWorkbook(payload.Data)
	if err != nil {
		return domain.Table{}, err
	}
	defer wb.Close()

	sheets, err := wb.ListTables(ctx)
	if err != nil {
		return domain.Table{}, err
	}
	return wb.ReadTable(ctx, sheets[0])
}

func (p *Parser) parseDatabase(ctx context.Context, payload domain.Payload) (domain.Table, error) {
	var table domain.Table
	err := archive.WithTempFile(payload.Data, path.Ext(payload.Name), func(tmpPath string) error {
		db, err := OpenDatabase(tmpPath, p.tools, p.runner)
		if err != nil {
			return err
		}
		defer db.Close()

		tables, err := db.ListTables(ctx)
		if err != nil {
			return err
		}
		p.logger.Info("legacy database tables", "tables", tables)

		name, matched, err := SelectTable(tables, p.keywords)
		if err != nil {
			return err
		}
		if !matched {
			p.logger.Warn("no reservoir table found by name, using first table",
				"table", name,
				"keywords", p.keywords,
			)
		}

		table, err = db.ReadTable(ctx, name)
		return err
	})
	return table, err
}
