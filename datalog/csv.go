package datalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.jpl.nasa.gov/bdube/iramp/ramp"
)

// CSVSink writes each recording to its own CSV file.  Metadata is written
// as leading lines beginning with #, followed by a header row and one row
// per sample: time (s), voltage (V), current (pA).
type CSVSink struct {
	Dir string
}

// Write creates Dir/Filename(r).csv
func (s *CSVSink) Write(r *ramp.Recording) error {
	path := filepath.Join(s.Dir, Filename(r)+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	meta := [][]string{
		{"#id", r.ID},
		{"#prefix", r.Prefix},
		{"#info", r.Info},
		{"#cell", strconv.Itoa(r.Cell)},
		{"#started", r.Started.UTC().Format(time.RFC3339Nano)},
		{"#period", r.Period.String()},
		{"#duration", r.Duration().String()},
		{"t_s", "v_V", "i_pA"},
	}
	err = w.WriteAll(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	row := make([]string, 3)
	for _, smp := range r.Samples {
		row[0] = strconv.FormatFloat(smp.Time, 'g', -1, 64)
		row[1] = strconv.FormatFloat(smp.Voltage, 'g', -1, 64)
		row[2] = strconv.FormatFloat(smp.Current, 'g', -1, 64)
		if err := w.Write(row); err != nil {
			return fmt.Errorf("%w: %v", ErrSinkWrite, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	return nil
}

// Close does nothing, files are closed after every Write
func (s *CSVSink) Close() error { return nil }
