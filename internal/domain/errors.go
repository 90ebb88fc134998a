package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoSnapshot is returned by read paths when no run has ever committed.
	// The API layer maps it to "data not yet available" instead of an empty result.
	ErrNoSnapshot = errors.New("data not yet available: no snapshot has been committed")

	// ErrRunInProgress is returned when a run is started while another is in flight.
	ErrRunInProgress = errors.New("pipeline run already in progress")

	// ErrNoStorableRecords is wrapped in a ParseError when no normalized row
	// has both an entity name and a valid date. Committing would replace the
	// snapshot with an empty one.
	ErrNoStorableRecords = errors.New("no storable records")
)

// FetchError reports a failed archive download: network failure, timeout,
// non-2xx status or an oversized body.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// UnsupportedFormatError reports an archive with neither a spreadsheet nor a
// legacy database entry, or bytes that are not a zip archive at all.
type UnsupportedFormatError struct {
	Entries []string
	Err     error
}

func (e *UnsupportedFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive is not a readable zip: %v", e.Err)
	}
	return fmt.Sprintf("archive contains no spreadsheet or legacy database entry (entries: %s)",
		strings.Join(e.Entries, ", "))
}

func (e *UnsupportedFormatError) Unwrap() error { return e.Err }

// ToolingUnavailableError reports that the external tool needed to read a
// legacy database payload is not installed.
type ToolingUnavailableError struct {
	Tool     string
	Guidance string
	Err      error
}

func (e *ToolingUnavailableError) Error() string {
	return fmt.Sprintf("%s is not available: %s", e.Tool, e.Guidance)
}

func (e *ToolingUnavailableError) Unwrap() error { return e.Err }

// ParseError reports a payload that opened but whose rows could not be extracted.
type ParseError struct {
	Kind PayloadKind
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CommitError reports a failed snapshot transaction. The previous snapshot
// remains authoritative.
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit snapshot: %s: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Stage names the pipeline stage an error belongs to, for logs and metrics.
func Stage(err error) string {
	var (
		fetchErr       *FetchError
		unsupportedErr *UnsupportedFormatError
		toolingErr     *ToolingUnavailableError
		parseErr       *ParseError
		commitErr      *CommitError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &unsupportedErr):
		return "extract"
	case errors.As(err, &toolingErr), errors.As(err, &parseErr):
		return "parse"
	case errors.As(err, &commitErr):
		return "commit"
	default:
		return "unknown"
	}
}
