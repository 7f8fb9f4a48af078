// Package repository composes a primary Database, optionally partitioned,
// with its secondary indexes behind one record-level API.
//
// Consistency caveat: a primary write and the index maintenance it triggers
// are not one transaction. If maintenance fails, the write is kept and the
// returned error wraps access.ErrIndexMaintenance. RebuildIndexes repairs
// the indexes from a scan of the primary.
package repository

import (
	"bytes"
	"iter"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"recstore/pkg/access"
	"recstore/pkg/common"
	"recstore/pkg/index"
	"recstore/pkg/partition"
)

// IndexConfig names a secondary index and derives its keys.
type IndexConfig struct {
	Name   string
	Derive index.Deriver
}

// Config of a Repository.
type Config struct {
	// Access configures the primary Database, and supplies Dir, CacheBudget,
	// Compression, Fs and ErrorSink of index stores.
	Access access.Config
	// Router, if set, partitions the primary.
	Router  *partition.Router
	Indexes []IndexConfig
}

// Cursor is a traversal of the primary. Cursors of a Repository are closed
// by Dispose if still open.
type Cursor interface {
	MoveFirst() bool
	MoveNext() bool
	Seek(key []byte) bool
	Key() []byte
	Value() []byte
	Position() access.Position
	Add(key, value []byte) ([]byte, error)
	Modify(value []byte) error
	Delete() error
	Err() error
	All() iter.Seq2[[]byte, []byte]
	Close() error
}

type primary interface {
	index.Primary
	Put(key, value []byte) ([]byte, error)
	Get(key []byte) ([]byte, error)
	GetAll(key []byte) ([][]byte, error)
	Update(key, value []byte) error
	Delete(key []byte) error
	Truncate() (int, error)
	Sync() error
	Close() error
}

// Repository is a primary Database with secondary indexes.
type Repository struct {
	name      string
	primary   primary
	newCursor func() (Cursor, error)
	parts     int
	indexes   []*index.SecondaryIndex
	byName    map[string]*index.SecondaryIndex
	derivers  map[string]index.Deriver

	mu       sync.Mutex
	cursors  map[*trackedCursor]struct{}
	disposed bool
}

// Open the primary Database of cfg and each of its indexes.
func Open(cfg Config) (*Repository, error) {
	var r = &Repository{
		name:     cfg.Access.Name,
		parts:    1,
		byName:   make(map[string]*index.SecondaryIndex),
		derivers: make(map[string]index.Deriver),
		cursors:  make(map[*trackedCursor]struct{}),
	}

	if cfg.Router != nil {
		store, err := partition.Open(cfg.Access, cfg.Router)
		if err != nil {
			return nil, err
		}
		r.primary, r.parts = store, cfg.Router.Partitions()
		r.newCursor = func() (Cursor, error) { return store.Cursor() }
	} else {
		db, err := access.Open(cfg.Access)
		if err != nil {
			return nil, err
		}
		r.primary = db
		r.newCursor = func() (Cursor, error) { return db.Cursor() }
	}

	for _, ic := range cfg.Indexes {
		if _, ok := r.byName[ic.Name]; ok {
			r.Dispose()
			return nil, errors.WithMessagef(access.ErrOpen, "duplicate index %q", ic.Name)
		}
		var sc = access.Config{
			Dir:         cfg.Access.Dir,
			Creation:    access.IfNeeded,
			CacheBudget: cfg.Access.CacheBudget,
			Compression: cfg.Access.Compression,
			ErrorSink:   cfg.Access.ErrorSink,
			Fs:          cfg.Access.Fs,
		}
		if cfg.Access.Creation == access.MustNotExist {
			sc.Creation = access.MustNotExist
		}
		idx, err := index.Open(ic.Name, r.primary, ic.Derive, sc)
		if err != nil {
			r.Dispose()
			return nil, err
		}
		r.indexes = append(r.indexes, idx)
		r.byName[ic.Name] = idx
		r.derivers[ic.Name] = ic.Derive
	}

	log.WithFields(log.Fields{
		"repository": r.name,
		"partitions": r.parts,
		"indexes":    len(r.indexes),
		"records":    r.primary.Count(),
	}).Info("opened repository")
	return r, nil
}

// Name of the primary Database.
func (r *Repository) Name() string { return r.name }

// Add stores rec and returns its effective key, which the primary assigns
// for Recno, Queue and Heap Databases. See the package consistency caveat.
func (r *Repository) Add(rec common.Record) ([]byte, error) {
	return r.primary.Put(rec.Key, rec.Value)
}

// Get the first value of key.
func (r *Repository) Get(key []byte) ([]byte, error) { return r.primary.Get(key) }

// GetAll values of key.
func (r *Repository) GetAll(key []byte) ([][]byte, error) { return r.primary.GetAll(key) }

// Update replaces the values of key. See the package consistency caveat.
func (r *Repository) Update(key, value []byte) error { return r.primary.Update(key, value) }

// Delete every value of key. See the package consistency caveat.
func (r *Repository) Delete(key []byte) error { return r.primary.Delete(key) }

// Count of primary records.
func (r *Repository) Count() int { return r.primary.Count() }

// Find yields primary records matching pred, from a snapshot taken when
// iteration begins. It yields nothing once the Repository is disposed.
func (r *Repository) Find(pred func(common.Record) bool) iter.Seq[common.Record] {
	return func(yield func(common.Record) bool) {
		var stop = errors.New("stop")
		var err = r.primary.Scan(func(key, value []byte) error {
			var rec = common.Record{Key: key, Value: value}
			if pred(rec) && !yield(rec) {
				return stop
			}
			return nil
		})
		if err != nil && err != stop {
			log.WithFields(log.Fields{"repository": r.name, "err": err}).Warn("find stopped")
		}
	}
}

func (r *Repository) index(name string) (*index.SecondaryIndex, error) {
	if idx, ok := r.byName[name]; ok {
		return idx, nil
	}
	return nil, errors.WithMessagef(access.ErrNotFound, "no index %q", name)
}

// Index returns the named SecondaryIndex.
func (r *Repository) Index(name string) (*index.SecondaryIndex, error) { return r.index(name) }

// FindKeysBySecondary returns primary keys whose records derive dk under the
// named index, in byte order.
func (r *Repository) FindKeysBySecondary(name string, dk []byte) ([][]byte, error) {
	idx, err := r.index(name)
	if err != nil {
		return nil, err
	}
	return idx.Find(dk)
}

// FindBySecondary returns the values of primary records deriving dk under
// the named index. Duplicates of a key deriving some other key are skipped.
func (r *Repository) FindBySecondary(name string, dk []byte) ([][]byte, error) {
	keys, err := r.FindKeysBySecondary(name, dk)
	if err != nil {
		return nil, err
	}
	var derive = r.derivers[name]

	var out [][]byte
	for _, key := range keys {
		values, err := r.primary.GetAll(key)
		if errors.Is(err, access.ErrNotFound) {
			continue // Removed since the index was read.
		} else if err != nil {
			return out, err
		}
		for _, v := range values {
			if d, ok := derive(key, v); ok && bytes.Equal(d, dk) {
				out = append(out, v)
			}
		}
	}
	return out, nil
}

// CountSecondary counts entries of the named index whose derived key
// satisfies pred.
func (r *Repository) CountSecondary(name string, pred func(dk []byte) bool) (int, error) {
	idx, err := r.index(name)
	if err != nil {
		return 0, err
	}
	var n int
	err = idx.Scan(func(dk, _ []byte) error {
		if pred(dk) {
			n++
		}
		return nil
	})
	return n, err
}

// RebuildIndexes re-derives every index from the primary.
func (r *Repository) RebuildIndexes() error {
	for _, idx := range r.indexes {
		n, err := idx.Rebuild()
		if err != nil {
			return errors.WithMessagef(err, "rebuilding index %s", idx.Name())
		}
		log.WithFields(log.Fields{"repository": r.name, "index": idx.Name(), "entries": n}).Info("rebuilt index")
	}
	return nil
}

// Truncate removes every primary record, and with them every index entry.
func (r *Repository) Truncate() (int, error) { return r.primary.Truncate() }

// Cursor opens a Cursor over the primary.
func (r *Repository) Cursor() (Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil, errors.WithMessagef(access.ErrClosed, "repository %s", r.name)
	}
	c, err := r.newCursor()
	if err != nil {
		return nil, err
	}
	var tc = &trackedCursor{Cursor: c, repo: r}
	r.cursors[tc] = struct{}{}
	return tc, nil
}

type trackedCursor struct {
	Cursor
	repo *Repository
}

func (tc *trackedCursor) Close() error {
	tc.repo.mu.Lock()
	delete(tc.repo.cursors, tc)
	tc.repo.mu.Unlock()
	return tc.Cursor.Close()
}

// Save syncs the primary, then every index.
func (r *Repository) Save() error {
	if err := r.primary.Sync(); err != nil {
		return err
	}
	for _, idx := range r.indexes {
		if err := idx.Sync(); err != nil {
			return errors.WithMessagef(err, "index %s", idx.Name())
		}
	}
	return nil
}

// Dispose closes open Cursors, then indexes, then the primary. Later calls
// are no-ops.
func (r *Repository) Dispose() error {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return nil
	}
	r.disposed = true
	var cursors = r.cursors
	r.cursors = nil
	r.mu.Unlock()

	var first error
	var keep = func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for c := range cursors {
		keep(c.Cursor.Close())
	}
	for _, idx := range r.indexes {
		keep(idx.Close())
	}
	keep(r.primary.Close())

	log.WithFields(log.Fields{"repository": r.name, "cursors": len(cursors)}).Info("disposed repository")
	return first
}

// Stats reports primary and index counters.
func (r *Repository) Stats() map[string]interface{} {
	var indexes = make(map[string]interface{})
	for _, idx := range r.indexes {
		indexes[idx.Name()] = idx.Count()
	}
	return map[string]interface{}{
		"name":       r.name,
		"records":    r.primary.Count(),
		"partitions": r.parts,
		"indexes":    indexes,
	}
}

// Consume pops the head record of a Queue primary.
func (r *Repository) Consume() (common.Record, error) {
	db, ok := r.primary.(*access.DB)
	if !ok {
		return common.Record{}, errors.WithMessage(access.ErrUnsupported, "consume from a partitioned repository")
	}
	key, value, err := db.Consume()
	return common.Record{Key: key, Value: value}, err
}

// Repartition moves the records of a partitioned primary under router.
// Indexes are unaffected, as primary keys do not change.
func (r *Repository) Repartition(router *partition.Router) error {
	store, ok := r.primary.(*partition.Store)
	if !ok {
		return errors.WithMessage(access.ErrUnsupported, "repartition of an unpartitioned repository")
	}
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return errors.WithMessagef(access.ErrClosed, "repository %s", r.name)
	}
	var cursors = r.cursors
	r.cursors = make(map[*trackedCursor]struct{})
	r.mu.Unlock()

	for c := range cursors {
		_ = c.Cursor.Close()
	}
	if err := store.Repartition(router); err != nil {
		return err
	}
	r.parts = router.Partitions()
	return nil
}

// DatabaseStats returns the Stats of every primary Database, in partition
// order, followed by those of each index store.
func (r *Repository) DatabaseStats() []map[string]interface{} {
	var out []map[string]interface{}
	switch p := r.primary.(type) {
	case *access.DB:
		out = append(out, p.Stats())
	case *partition.Store:
		out = append(out, p.Stats()...)
	}
	for _, idx := range r.indexes {
		out = append(out, idx.Stats())
	}
	return out
}
