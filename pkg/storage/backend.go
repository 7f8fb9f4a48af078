package storage

import (
	"database/sql"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Row is one durable (key, dup) entry of a checkpoint file.
type Row struct {
	Key   []byte
	Dup   uint64
	Value []byte
}

// RowID identifies a Row.
type RowID struct {
	Key []byte
	Dup uint64
}

// Checkpoint is an atomic batch applied to the backing file. If Reset is set,
// every existing row is removed before Puts are applied.
type Checkpoint struct {
	Reset   bool
	Puts    []Row
	Deletes []RowID
	Meta    map[string]string
}

type Backend interface {
	LoadAll() ([]Row, error)
	Meta() (map[string]string, error)
	Apply(cp Checkpoint) error
	Close() error
}

// SQLiteOptions tune a SQLiteBackend.
type SQLiteOptions struct {
	// CacheKiB is passed to PRAGMA cache_size. Zero leaves SQLite's default.
	CacheKiB int64
	// Codec encodes values at rest.
	Codec Codec
}

type SQLiteBackend struct {
	db    *sql.DB
	path  string
	codec Codec
}

func NewSQLiteBackend(path string, opts SQLiteOptions) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening sqlite %s", path)
	}
	// One connection keeps PRAGMAs and transactions on the same handle.
	db.SetMaxOpenConns(1)

	query := `
	CREATE TABLE IF NOT EXISTS records (
		k BLOB NOT NULL,
		d INTEGER NOT NULL,
		v BLOB,
		PRIMARY KEY (k, d)
	);
	CREATE TABLE IF NOT EXISTS meta (
		name  TEXT PRIMARY KEY,
		value TEXT
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, errors.WithMessagef(err, "init tables of %s", path)
	}

	if _, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`); err != nil {
		log.WithFields(log.Fields{"path": path, "err": err}).Warn("failed to set PRAGMA")
	}
	if opts.CacheKiB > 0 {
		if _, err = db.Exec(fmt.Sprintf("PRAGMA cache_size = -%d;", opts.CacheKiB)); err != nil {
			log.WithFields(log.Fields{"path": path, "err": err}).Warn("failed to set cache_size")
		}
	}

	return &SQLiteBackend{db: db, path: path, codec: opts.Codec}, nil
}

func (s *SQLiteBackend) LoadAll() ([]Row, error) {
	rows, err := s.db.Query("SELECT k, d, v FROM records ORDER BY k ASC, d ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var k, v []byte
		var d int64
		if err := rows.Scan(&k, &d, &v); err != nil {
			return nil, err
		}
		if v, err = s.codec.Decode(v); err != nil {
			return nil, errors.WithMessagef(err, "decoding value of key %x", k)
		}
		out = append(out, Row{Key: k, Dup: uint64(d), Value: v})
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) Meta() (map[string]string, error) {
	rows, err := s.db.Query("SELECT name, value FROM meta")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out = make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) Apply(cp Checkpoint) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	if err := s.apply(tx, cp); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteBackend) apply(tx *sql.Tx, cp Checkpoint) error {
	if cp.Reset {
		if _, err := tx.Exec("DELETE FROM records"); err != nil {
			return err
		}
	}

	if len(cp.Deletes) != 0 {
		stmt, err := tx.Prepare("DELETE FROM records WHERE k = ? AND d = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range cp.Deletes {
			if _, err := stmt.Exec(id.Key, int64(id.Dup)); err != nil {
				return err
			}
		}
	}

	if len(cp.Puts) != 0 {
		stmt, err := tx.Prepare("INSERT OR REPLACE INTO records (k, d, v) VALUES (?, ?, ?)")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, row := range cp.Puts {
			v, err := s.codec.Encode(row.Value)
			if err != nil {
				return errors.WithMessagef(err, "encoding value of key %x", row.Key)
			}
			if _, err := stmt.Exec(row.Key, int64(row.Dup), v); err != nil {
				return err
			}
		}
	}

	for name, value := range cp.Meta {
		if _, err := tx.Exec("INSERT OR REPLACE INTO meta (name, value) VALUES (?, ?)", name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
