// Package archive opens the bulletin zip and pulls out its tabular payload.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

var (
	spreadsheetExts    = []string{".xlsx", ".xlsm", ".xls"}
	legacyDatabaseExts = []string{".mdb", ".accdb"}
)

// Extractor selects the single payload a bulletin archive carries.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(logger *slog.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract opens the archive and returns its payload. Spreadsheets are
// preferred over legacy databases; within a kind the first entry wins.
// An archive with neither returns *domain.UnsupportedFormatError.
func (e *Extractor) Extract(data []byte) (domain.Payload, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.Payload{}, &domain.UnsupportedFormatError{Err: err}
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	e.logger.Info("archive opened", "entries", names)

	for _, kind := range []struct {
		kind domain.PayloadKind
		exts []string
	}{
		{domain.KindSpreadsheet, spreadsheetExts},
		{domain.KindLegacyDatabase, legacyDatabaseExts},
	} {
		f := firstMatch(zr.File, kind.exts)
		if f == nil {
			continue
		}
		payload, err := readEntry(f)
		if err != nil {
			return domain.Payload{}, &domain.ParseError{Kind: kind.kind, Name: f.Name, Err: err}
		}
		e.logger.Info("payload selected", "name", f.Name, "kind", kind.kind, "bytes", len(payload))
		return domain.Payload{Name: f.Name, Kind: kind.kind, Data: payload}, nil
	}

	return domain.Payload{}, &domain.UnsupportedFormatError{Entries: names}
}

func firstMatch(files []*zip.File, exts []string) *zip.File {
	for _, f := range files {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		ext := strings.ToLower(path.Ext(f.Name))
		for _, want := range exts {
			if ext == want {
				return f
			}
		}
	}
	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	return data, nil
}

// WithTempFile writes data to a temporary file, passes its path to fn and
// removes the file once fn returns, whatever the outcome.
func WithTempFile(data []byte, suffix string, fn func(path string) error) (err error) {
	tmp, err := os.CreateTemp("", "reservoir-*"+suffix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer func() {
		if rmErr := os.Remove(name); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = fmt.Errorf("remove temp file: %w", rmErr)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return fn(name)
}
