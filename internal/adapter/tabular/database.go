package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/couchcryptid/reservoir-etl/internal/domain"
)

// ToolRunner runs external programs. It is the seam between the legacy
// database reader and the host's mdbtools installation.
type ToolRunner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs tools with os/exec.
type ExecRunner struct{}

func (ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes name and returns its stdout. A non-zero exit includes stderr in the error.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// MDBTools names the mdbtools binaries used to read legacy databases.
type MDBTools struct {
	TablesBin string
	ExportBin string
}

// DefaultMDBTools uses the binaries from PATH.
func DefaultMDBTools() MDBTools {
	return MDBTools{TablesBin: "mdb-tables", ExportBin: "mdb-export"}
}

// Database is a legacy Access database payload on disk.
type Database struct {
	path   string
	tools  MDBTools
	runner ToolRunner
}

// OpenDatabase checks that mdbtools is installed and returns a reader for
// the database at path. Missing tools yield *domain.ToolingUnavailableError.
func OpenDatabase(path string, tools MDBTools, runner ToolRunner) (*Database, error) {
	for _, bin := range []string{tools.TablesBin, tools.ExportBin} {
		if _, err := runner.LookPath(bin); err != nil {
			return nil, &domain.ToolingUnavailableError{Tool: bin, Guidance: installGuidance(runtime.GOOS), Err: err}
		}
	}
	return &Database{path: path, tools: tools, runner: runner}, nil
}

// ListTables returns the user tables in the order mdb-tables reports them.
func (d *Database) ListTables(ctx context.Context) ([]string, error) {
	out, err := d.runner.Run(ctx, d.tools.TablesBin, "-1", d.path)
	if err != nil {
		return nil, d.toolError(d.tools.TablesBin, err)
	}
	var tables []string
	for _, line := range strings.Split(string(out), "\n") {
		if t := strings.TrimSpace(line); t != "" {
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		return nil, errNoTables
	}
	return tables, nil
}

// ReadTable exports a table as CSV and parses it.
func (d *Database) ReadTable(ctx context.Context, name string) (domain.Table, error) {
	out, err := d.runner.Run(ctx, d.tools.ExportBin, d.path, name)
	if err != nil {
		return domain.Table{}, d.toolError(d.tools.ExportBin, err)
	}

	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return domain.Table{}, fmt.Errorf("decode %s output for %q: %w", d.tools.ExportBin, name, err)
	}
	if len(records) == 0 {
		return domain.Table{}, fmt.Errorf("table %q exported no header", name)
	}
	return buildTable(name, records[0], records[1:]), nil
}

// Close is a no-op; the database file belongs to the caller.
func (d *Database) Close() error { return nil }

func (d *Database) toolError(bin string, err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return &domain.ToolingUnavailableError{Tool: bin, Guidance: installGuidance(runtime.GOOS), Err: err}
	}
	return err
}

func installGuidance(goos string) string {
	switch goos {
	case "linux":
		return "install mdbtools with your package manager, e.g. `apt-get install mdbtools` or `dnf install mdbtools`"
	case "darwin":
		return "install mdbtools with `brew install mdbtools`"
	case "windows":
		return "run under WSL with mdbtools installed, or put mdb-tables.exe and mdb-export.exe from an mdbtools build on PATH"
	default:
		return "install mdbtools (https://github.com/mdbtools/mdbtools) and make sure mdb-tables and mdb-export are on PATH"
	}
}
