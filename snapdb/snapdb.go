// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package snapdb stores the records of the captured states of the
// reconfigurable slots of an FPGA.
package snapdb // import "github.com/go-lpc/prc/snapdb"

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/prc/bitstream"
	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// ErrNoRecord is returned when no capture record matches a query.
var ErrNoRecord = errors.New("snapdb: no record")

func init() {
	if v := os.Getenv("PRC_DB_USER"); v != "" {
		usr = v
	}
	if v := os.Getenv("PRC_DB_PASS"); v != "" {
		pwd = v
	}
}

// Record describes a captured state of a slot.
type Record struct {
	Slot   int       // slot identifier
	Time   time.Time // capture time
	Frames int       // number of frames of the captured bitstream
	Words  int       // size of the captured bitstream, in words
	SHA    string    // hex-encoded SHA-256 of the captured bitstream
	Path   string    // file the captured bitstream was saved to
}

// NewRecord returns the record of the capture buf of the slot id.
func NewRecord(slot int, buf *bitstream.Buffer, path string) (Record, error) {
	frames, err := bitstream.Parse(buf)
	if err != nil {
		return Record{}, fmt.Errorf("snapdb: could not parse capture of slot %d: %w", slot, err)
	}
	return Record{
		Slot:   slot,
		Time:   time.Now().UTC(),
		Frames: len(frames),
		Words:  buf.Len(),
		SHA:    fmt.Sprintf("%x", sha256.Sum256(buf.Bytes())),
		Path:   path,
	}, nil
}

// DB stores capture records.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the capture records database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("snapdb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("snapdb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Save stores the record rec.
func (db *DB) Save(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"INSERT INTO snapshots (slot, datetime, frames, words, sha, path) VALUES (?, ?, ?, ?, ?, ?)",
		rec.Slot, rec.Time, rec.Frames, rec.Words, rec.SHA, rec.Path,
	)
	if err != nil {
		return fmt.Errorf("snapdb: could not save record for slot %d: %w", rec.Slot, err)
	}
	return nil
}

// Last returns the most recent record of the slot.
func (db *DB) Last(ctx context.Context, slot int) (Record, error) {
	recs, err := db.query(
		ctx,
		"SELECT slot, datetime, frames, words, sha, path FROM snapshots WHERE slot=? ORDER BY datetime DESC LIMIT 1",
		slot,
	)
	if err != nil {
		return Record{}, fmt.Errorf("snapdb: could not retrieve last record of slot %d: %w", slot, err)
	}
	if len(recs) == 0 {
		return Record{}, fmt.Errorf("snapdb: could not retrieve last record of slot %d: %w", slot, ErrNoRecord)
	}
	return recs[0], nil
}

// Records returns all the records, oldest first.
func (db *DB) Records(ctx context.Context) ([]Record, error) {
	recs, err := db.query(
		ctx,
		"SELECT slot, datetime, frames, words, sha, path FROM snapshots ORDER BY datetime ASC",
	)
	if err != nil {
		return nil, fmt.Errorf("snapdb: could not retrieve records: %w", err)
	}
	return recs, nil
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not run query: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for i := 0; rows.Next(); i++ {
		var rec Record
		err = rows.Scan(&rec.Slot, &rec.Time, &rec.Frames, &rec.Words, &rec.SHA, &rec.Path)
		if err != nil {
			return nil, fmt.Errorf("could not scan row %d: %w", i, err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not scan db: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context error: %w", err)
	}

	return recs, nil
}
