// Package datalog persists completed ramp recordings.
//
// A Sink writes one Recording.  The Flusher runs in the control context,
// receives recordings from the engine once their stop edge has passed,
// writes them to a Sink with retries, and hands the buffers back.
package datalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.jpl.nasa.gov/bdube/iramp/ramp"
)

var (
	// ErrSinkWrite wraps every error returned by a Sink
	ErrSinkWrite = errors.New("error persisting recording")

	// ErrUnknownFormat is returned by Open for a format it does not know
	ErrUnknownFormat = errors.New("unknown recording format")
)

// Sink is a place recordings are written to
type Sink interface {
	Write(*ramp.Recording) error
	Close() error
}

// Open returns the sink for a format name: csv, fits, sqlite, or none.
// A comma separated list such as "csv,fits" opens each and returns them as
// a Multi.  File based sinks write into dir, which is created if needed.
func Open(format, dir string) (Sink, error) {
	names := Formats(format)
	if len(names) > 1 {
		m := Multi{}
		for _, name := range names {
			s, err := open(name, dir)
			if err != nil {
				m.Close()
				return nil, err
			}
			m = append(m, s)
		}
		return m, nil
	}
	if len(names) == 0 {
		return Discard{}, nil
	}
	return open(names[0], dir)
}

// Formats splits a comma separated format list into lower case names,
// dropping blanks
func Formats(format string) []string {
	var out []string
	for _, name := range strings.Split(format, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func open(format, dir string) (Sink, error) {
	if format != "none" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	switch format {
	case "csv":
		return &CSVSink{Dir: dir}, nil
	case "fits":
		return &FITSSink{Dir: dir}, nil
	case "sqlite":
		return OpenSQLite(filepath.Join(dir, "iramp.sqlite3"))
	case "none":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Filename is the name a recording is stored under, without extension:
// prefix_cellN_YYYYMMDDTHHMMSS_id
func Filename(r *ramp.Recording) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "iramp"
	}
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_cell%d_%s_%s", prefix, r.Cell, r.Started.UTC().Format("20060102T150405"), id)
}

// Discard is a Sink that keeps nothing
type Discard struct{}

// Write does nothing
func (Discard) Write(*ramp.Recording) error { return nil }

// Close does nothing
func (Discard) Close() error { return nil }

// Multi writes to every sink in turn.  All are attempted; the first error is
// returned inside a *PartialError.
type Multi []Sink

// PartialError is returned by Multi.Write when some of its sinks failed.
// Failed holds those sinks, so a retry does not write r twice to the others.
type PartialError struct {
	Failed Multi
	Err    error
}

func (e *PartialError) Error() string { return e.Err.Error() }

func (e *PartialError) Unwrap() error { return e.Err }

// Write writes r to each sink
func (m Multi) Write(r *ramp.Recording) error {
	var failed Multi
	var first error
	for _, s := range m {
		if err := s.Write(r); err != nil {
			failed = append(failed, s)
			if first == nil {
				first = err
			}
		}
	}
	if first != nil {
		return &PartialError{Failed: failed, Err: first}
	}
	return nil
}

// Close closes each sink
func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
