package datalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
)

// FITSSink writes each recording to its own FITS file: an empty primary
// HDU carrying the metadata, followed by a binary table named RAMP with
// TIME, VOLTAGE, and CURRENT columns
type FITSSink struct {
	Dir string
}

// Write creates Dir/Filename(r).fits
func (s *FITSSink) Write(r *ramp.Recording) error {
	path := filepath.Join(s.Dir, Filename(r)+".fits")
	fid, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	defer fid.Close()
	if err := writeFits(fid, r); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	return fid.Close()
}

// Close does nothing, files are closed after every Write
func (s *FITSSink) Close() error { return nil }

func headerCards(r *ramp.Recording) []fitsio.Card {
	return []fitsio.Card{
		{Name: "SESSION", Value: r.ID, Comment: "recording id"},
		{Name: "PREFIX", Value: r.Prefix},
		{Name: "INFO", Value: r.Info},
		{Name: "CELL", Value: r.Cell, Comment: "cell number"},
		{Name: "DATE-OBS", Value: r.Started.UTC().Format(time.RFC3339)},
		{Name: "PERIOD", Value: r.Period.Seconds(), Comment: "tick period, s"},
		{Name: "DURATION", Value: r.Duration().Seconds(), Comment: "time spanned by the samples, s"},
		{Name: "NSAMPLES", Value: r.Len()},
	}
}

func writeFits(w *os.File, r *ramp.Recording) error {
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	phdu := fitsio.NewImage(8, nil)
	defer phdu.Close()
	err = phdu.Header().Append(headerCards(r)...)
	if err != nil {
		return err
	}
	err = fits.Write(phdu)
	if err != nil {
		return err
	}

	cols := []fitsio.Column{
		{Name: "TIME", Format: "D", Unit: "s"},
		{Name: "VOLTAGE", Format: "D", Unit: "V"},
		{Name: "CURRENT", Format: "D", Unit: "pA"},
	}
	tbl, err := fitsio.NewTable("RAMP", cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	for i := range r.Samples {
		smp := &r.Samples[i]
		err = tbl.Write(&smp.Time, &smp.Voltage, &smp.Current)
		if err != nil {
			return err
		}
	}
	return fits.Write(tbl)
}
