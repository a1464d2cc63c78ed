package datalog

import (
	"database/sql"
	"fmt"

	// registers the pure Go "sqlite" driver
	_ "github.com/glebarez/go-sqlite"
	"github.jpl.nasa.gov/bdube/iramp/ramp"
)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id      TEXT PRIMARY KEY,
	prefix  TEXT,
	info    TEXT,
	cell    INTEGER,
	started TEXT,
	period  REAL,
	samples INTEGER
);
CREATE TABLE IF NOT EXISTS samples (
	recording TEXT NOT NULL REFERENCES recordings(id),
	idx       INTEGER NOT NULL,
	t         REAL,
	v         REAL,
	i         REAL,
	PRIMARY KEY (recording, idx)
);`

// SQLiteSink stores every recording in one SQLite database, one row in
// recordings per session and one row in samples per tick
type SQLiteSink struct {
	*sql.DB
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(schema)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema in %s: %w", path, err)
	}
	return &SQLiteSink{DB: db}, nil
}

// Write inserts r in a single transaction
func (s *SQLiteSink) Write(r *ramp.Recording) error {
	err := s.write(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSinkWrite, err)
	}
	return nil
}

func (s *SQLiteSink) write(r *ramp.Recording) error {
	tx, err := s.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO recordings (id, prefix, info, cell, started, period, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Prefix, r.Info, r.Cell, r.Started.UTC().Format("2006-01-02T15:04:05.000000Z"),
		r.Period.Seconds(), r.Len())
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO samples (recording, idx, t, v, i) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, smp := range r.Samples {
		_, err = stmt.Exec(r.ID, i, smp.Time, smp.Voltage, smp.Current)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
