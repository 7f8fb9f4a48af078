package index

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"recstore/pkg/access"
)

// Deriver computes the secondary key of a primary record. It returns false
// if the record is not indexed.
type Deriver func(key, value []byte) ([]byte, bool)

// FieldDeriver derives the n-th (0-based) sep-delimited field of a value.
// Records with fewer fields, or an empty n-th field, are not indexed.
func FieldDeriver(sep byte, n int) Deriver {
	return func(_, value []byte) ([]byte, bool) {
		var fields = bytes.Split(value, []byte{sep})
		if n < 0 || n >= len(fields) || len(fields[n]) == 0 {
			return nil, false
		}
		return fields[n], true
	}
}

// Primary is a store which a SecondaryIndex derives from: a single
// access.DB, or a partitioned store.
type Primary interface {
	Name() string
	Count() int
	Observe(access.Observer)
	Unobserve(access.Observer)
	Scan(fn func(key, value []byte) error) error
}

// StoreName is the backing name of index on primary.
func StoreName(primary, index string) string {
	if index == "" {
		return primary + "-index"
	}
	return primary + "-" + index + "-index"
}

// SecondaryIndex maps derived keys onto the primary keys of the records
// they were derived from. Entries live in an ordered store with sorted
// duplicates, so lookups return primary keys in byte order.
type SecondaryIndex struct {
	name    string
	primary Primary
	derive  Deriver
	store   *access.DB
}

// Open the SecondaryIndex name of primary. cfg locates and tunes the index
// store; its Name defaults to StoreName(primary.Name(), name), and its Kind
// and Duplicates are always an ordered tree with sorted duplicates.
//
// An empty index of a non-empty primary is rebuilt before Open returns.
// From then on every change of primary is mirrored into the index.
func Open(name string, primary Primary, derive Deriver, cfg access.Config) (*SecondaryIndex, error) {
	if derive == nil {
		return nil, errors.WithMessagef(access.ErrOpen, "index %s: nil deriver", name)
	}
	if cfg.Name == "" {
		cfg.Name = StoreName(primary.Name(), name)
	}
	cfg.Kind = access.BTree
	cfg.Duplicates = access.DuplicatesSorted
	cfg.RecordLength, cfg.BackingText = 0, ""

	store, err := access.Open(cfg)
	if err != nil {
		return nil, err
	}
	var idx = &SecondaryIndex{
		name:    name,
		primary: primary,
		derive:  derive,
		store:   store,
	}

	if store.Count() == 0 && primary.Count() != 0 {
		n, err := idx.Rebuild()
		if err != nil {
			store.Close()
			return nil, errors.WithMessagef(access.ErrOpen, "index %s: rebuild: %v", name, err)
		}
		log.WithFields(log.Fields{"index": name, "primary": primary.Name(), "entries": n}).
			Info("rebuilt empty secondary index")
	}
	primary.Observe(idx)
	return idx, nil
}

// Name of the index.
func (idx *SecondaryIndex) Name() string { return idx.name }

// Observe applies a primary change. A derived key stops referencing the
// primary key only once no remaining value of that key derives it.
func (idx *SecondaryIndex) Observe(ev access.Event) error {
	if ev.Old != nil {
		if dk, ok := idx.derive(ev.Key, ev.Old); ok && !idx.derivedBy(dk, ev.Key, ev.Remaining) {
			if err := idx.remove(dk, ev.Key); err != nil {
				return errors.WithMessagef(err, "index %s: removing %x", idx.name, dk)
			}
		}
	}
	if ev.New != nil {
		if dk, ok := idx.derive(ev.Key, ev.New); ok {
			if err := idx.insert(dk, ev.Key); err != nil {
				return errors.WithMessagef(err, "index %s: inserting %x", idx.name, dk)
			}
		}
	}
	return nil
}

func (idx *SecondaryIndex) derivedBy(dk, key []byte, values [][]byte) bool {
	for _, v := range values {
		if d, ok := idx.derive(key, v); ok && bytes.Equal(d, dk) {
			return true
		}
	}
	return false
}

func (idx *SecondaryIndex) insert(dk, key []byte) error {
	if _, err := idx.store.Put(dk, key); err != nil && !errors.Is(err, access.ErrDuplicateKey) {
		return err
	}
	return nil
}

func (idx *SecondaryIndex) remove(dk, key []byte) error {
	c, err := idx.store.Cursor()
	if err != nil {
		return err
	}
	defer c.Close()

	for ok := c.Seek(dk); ok && bytes.Equal(c.Key(), dk); ok = c.MoveNext() {
		if bytes.Equal(c.Value(), key) {
			return c.Delete()
		}
	}
	return c.Err()
}

// Find returns the primary keys of records deriving dk, in byte order.
func (idx *SecondaryIndex) Find(dk []byte) ([][]byte, error) {
	keys, err := idx.store.GetAll(dk)
	if errors.Is(err, access.ErrNotFound) {
		return nil, nil
	}
	return keys, err
}

// Rebuild discards every entry and re-derives the index from a scan of the
// primary. It returns the number of entries written.
func (idx *SecondaryIndex) Rebuild() (int, error) {
	if _, err := idx.store.Truncate(); err != nil {
		return 0, err
	}
	var n int
	var err = idx.primary.Scan(func(key, value []byte) error {
		if dk, ok := idx.derive(key, value); ok {
			n++
			return idx.insert(dk, key)
		}
		return nil
	})
	if err != nil {
		return n, err
	}
	return n, idx.store.Sync()
}

// Verify compares the index with entries re-derived from the primary. It
// returns the number of missing and stale entries.
func (idx *SecondaryIndex) Verify() (missing, stale int, err error) {
	var want = make(map[string]struct{})
	err = idx.primary.Scan(func(key, value []byte) error {
		if dk, ok := idx.derive(key, value); ok {
			want[pair(dk, key)] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	err = idx.store.Scan(func(dk, key []byte) error {
		var p = pair(dk, key)
		if _, ok := want[p]; ok {
			delete(want, p)
		} else {
			stale++
		}
		return nil
	})
	return len(want), stale, err
}

func pair(dk, key []byte) string {
	var b = binary.AppendUvarint(nil, uint64(len(dk)))
	b = append(b, dk...)
	return string(append(b, key...))
}

// Count of index entries.
func (idx *SecondaryIndex) Count() int { return idx.store.Count() }

// Stats of the index store.
func (idx *SecondaryIndex) Stats() map[string]interface{} { return idx.store.Stats() }

// Sync checkpoints the index store.
func (idx *SecondaryIndex) Sync() error { return idx.store.Sync() }

// Close stops mirroring the primary and closes the index store.
func (idx *SecondaryIndex) Close() error {
	idx.primary.Unobserve(idx)
	return idx.store.Close()
}

// Scan every (derived key, primary key) entry in derived key order.
func (idx *SecondaryIndex) Scan(fn func(dk, key []byte) error) error {
	return idx.store.Scan(fn)
}
