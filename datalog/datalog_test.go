package datalog

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
)

func sampleRecording() *ramp.Recording {
	r := ramp.NewRecording(8)
	r.ID = "0f8fad5b-d9cb-469f-a165-70867728950e"
	r.Prefix = "slice2"
	r.Info = "CA1 pyramidal"
	r.Cell = 4
	r.Started = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	r.Period = time.Millisecond
	for i := 0; i < 5; i++ {
		r.Append(ramp.Sample{Time: float64(i) * 1e-3, Voltage: -0.07 + float64(i)*1e-3, Current: float64(i) * 10})
	}
	return r
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "slice2_cell4_20240301T123000_0f8fad5b", Filename(sampleRecording()))
	r := ramp.NewRecording(0)
	r.Started = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "iramp_cell0_20240301T000000_", Filename(r))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	for format, expected := range map[string]interface{}{
		"csv":  &CSVSink{},
		"FITS": &FITSSink{},
		"none": Discard{},
	} {
		s, err := Open(format, dir)
		require.NoError(t, err, format)
		assert.IsType(t, expected, s, format)
	}
	_, err := Open("parquet", dir)
	assert.True(t, errors.Is(err, ErrUnknownFormat))
	_, err = Open("csv,parquet", dir)
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestOpenListWritesEveryFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := Open("csv, FITS", dir)
	require.NoError(t, err)
	require.IsType(t, Multi{}, s)
	assert.Len(t, s.(Multi), 2)

	rec := sampleRecording()
	require.NoError(t, s.Write(rec))
	require.NoError(t, s.Close())
	for _, ext := range []string{".csv", ".fits"} {
		_, err := os.Stat(filepath.Join(dir, Filename(rec)+ext))
		assert.NoError(t, err, ext)
	}
}

func TestCSVSink(t *testing.T) {
	dir := t.TempDir()
	s := &CSVSink{Dir: dir}
	rec := sampleRecording()
	require.NoError(t, s.Write(rec))

	f, err := os.Open(filepath.Join(dir, Filename(rec)+".csv"))
	require.NoError(t, err)
	defer f.Close()
	rd := csv.NewReader(f)
	rd.Comment = '#'
	rows, err := rd.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, []string{"t_s", "v_V", "i_pA"}, rows[0])
	assert.Equal(t, "0.004", rows[5][0])
	assert.Equal(t, "40", rows[5][2])

	body, err := os.ReadFile(filepath.Join(dir, Filename(rec)+".csv"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "#duration,4ms\n")
}

func TestFITSSink(t *testing.T) {
	dir := t.TempDir()
	s := &FITSSink{Dir: dir}
	rec := sampleRecording()
	require.NoError(t, s.Write(rec))

	fid, err := os.Open(filepath.Join(dir, Filename(rec)+".fits"))
	require.NoError(t, err)
	defer fid.Close()
	f, err := fitsio.Open(fid)
	require.NoError(t, err)
	defer f.Close()

	require.Len(t, f.HDUs(), 2)
	card := f.HDU(0).Header().Get("PREFIX")
	require.NotNil(t, card)
	assert.Equal(t, "slice2", card.Value)
	card = f.HDU(0).Header().Get("DURATION")
	require.NotNil(t, card)
	assert.InDelta(t, 0.004, card.Value, 1e-12)

	tbl, ok := f.HDU(1).(*fitsio.Table)
	require.True(t, ok, "second HDU is not a table")
	assert.Equal(t, int64(5), tbl.NumRows())

	rows, err := tbl.Read(0, tbl.NumRows())
	require.NoError(t, err)
	defer rows.Close()
	var tm, v, i float64
	n := 0
	for rows.Next() {
		require.NoError(t, rows.Scan(&tm, &v, &i))
		assert.Equal(t, rec.Samples[n].Current, i)
		n++
	}
	assert.Equal(t, 5, n)
}

func TestSQLiteSink(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite3"))
	require.NoError(t, err)
	defer s.Close()

	rec := sampleRecording()
	require.NoError(t, s.Write(rec))

	var prefix string
	var cell, samples int
	err = s.QueryRow("SELECT prefix, cell, samples FROM recordings WHERE id = ?", rec.ID).Scan(&prefix, &cell, &samples)
	require.NoError(t, err)
	assert.Equal(t, "slice2", prefix)
	assert.Equal(t, 4, cell)
	assert.Equal(t, 5, samples)

	var count int
	var maxI float64
	err = s.QueryRow("SELECT COUNT(*), MAX(i) FROM samples WHERE recording = ?", rec.ID).Scan(&count, &maxI)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Equal(t, 40., maxI)

	err = s.Write(rec)
	assert.True(t, errors.Is(err, ErrSinkWrite), "duplicate id should fail")
	err = s.QueryRow("SELECT COUNT(*) FROM samples").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 5, count, "failed write was not rolled back")
}

type failing struct {
	err    error
	writes int
}

func (f *failing) Write(*ramp.Recording) error {
	f.writes++
	return f.err
}

func (f *failing) Close() error { return nil }

func TestMultiAttemptsAll(t *testing.T) {
	a := &failing{err: errors.New("disk full")}
	b := &failing{}
	err := Multi{a, b}.Write(sampleRecording())
	assert.EqualError(t, err, "disk full")
	var partial *PartialError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, Multi{a}, partial.Failed)
	assert.Equal(t, 1, a.writes)
	assert.Equal(t, 1, b.writes)
}
