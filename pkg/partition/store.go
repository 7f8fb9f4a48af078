package partition

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"recstore/pkg/access"
)

// PartitionName is the backing name of partition i of name.
func PartitionName(name string, i int) string {
	return fmt.Sprintf("%s-p%03d", name, i)
}

// Store is one logical Database composed of independent partition
// Databases, selected per key by a Router.
type Store struct {
	cfg access.Config

	mu        sync.RWMutex
	router    *Router
	parts     []*access.DB
	observers []access.Observer
	closed    bool
}

// Open the partitions of cfg.Name under router. Only Hash and BTree
// Databases may be partitioned.
func Open(cfg access.Config, router *Router) (*Store, error) {
	if cfg.Kind != access.Hash && cfg.Kind != access.BTree {
		return nil, errors.WithMessagef(access.ErrOpen, "%s: %s databases cannot be partitioned", cfg.Name, cfg.Kind)
	}
	if cfg.ErrorSink == nil {
		cfg.ErrorSink = access.LogSink{}
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	parts, err := openParts(cfg, router)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"db": cfg.Name, "partitions": len(parts)}).Info("opened partitioned database")
	return &Store{cfg: cfg, router: router, parts: parts}, nil
}

func openParts(cfg access.Config, router *Router) ([]*access.DB, error) {
	var parts = make([]*access.DB, 0, router.Partitions())
	for i := 0; i != router.Partitions(); i++ {
		var pc = cfg
		pc.Name = PartitionName(cfg.Name, i)

		db, err := access.Open(pc)
		if err != nil {
			for _, p := range parts {
				p.Close()
			}
			return nil, err
		}
		parts = append(parts, db)
	}
	return parts, nil
}

// Name of the logical Database.
func (s *Store) Name() string { return s.cfg.Name }

// Kind of every partition.
func (s *Store) Kind() access.Kind { return s.cfg.Kind }

// Router in effect.
func (s *Store) Router() *Router {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.router
}

// Partition returns the Database of partition i.
func (s *Store) Partition(i int) *access.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parts[i]
}

func (s *Store) route(key []byte) (*access.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.WithMessagef(access.ErrClosed, "%s", s.cfg.Name)
	}
	var i, err = s.router.Route(key)
	if err != nil {
		s.cfg.ErrorSink.Report(s.cfg.Name, err.Error())
		return nil, err
	}
	return s.parts[i], nil
}

// Put routes key and stores value in its partition.
func (s *Store) Put(key, value []byte) ([]byte, error) {
	db, err := s.route(key)
	if err != nil {
		return nil, err
	}
	return db.Put(key, value)
}

// Get routes key and returns its first value.
func (s *Store) Get(key []byte) ([]byte, error) {
	db, err := s.route(key)
	if err != nil {
		return nil, err
	}
	return db.Get(key)
}

// GetAll routes key and returns all of its values.
func (s *Store) GetAll(key []byte) ([][]byte, error) {
	db, err := s.route(key)
	if err != nil {
		return nil, err
	}
	return db.GetAll(key)
}

// Update routes key and replaces its values.
func (s *Store) Update(key, value []byte) error {
	db, err := s.route(key)
	if err != nil {
		return err
	}
	return db.Update(key, value)
}

// Delete routes key and removes its values.
func (s *Store) Delete(key []byte) error {
	db, err := s.route(key)
	if err != nil {
		return err
	}
	return db.Delete(key)
}

// Count sums the partition counts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, p := range s.parts {
		n += p.Count()
	}
	return n
}

// Truncate every partition.
func (s *Store) Truncate() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, p := range s.parts {
		m, err := p.Truncate()
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Scan every partition in index order.
func (s *Store) Scan(fn func(key, value []byte) error) error {
	s.mu.RLock()
	var parts = append([]*access.DB(nil), s.parts...)
	s.mu.RUnlock()

	for _, p := range parts {
		if err := p.Scan(fn); err != nil {
			return err
		}
	}
	return nil
}

// Observe registers o with every partition, including those of later
// repartitions.
func (s *Store) Observe(o access.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observers = append(s.observers, o)
	for _, p := range s.parts {
		p.Observe(o)
	}
}

// Unobserve removes a previously registered Observer.
func (s *Store) Unobserve(o access.Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, have := range s.observers {
		if have == o {
			s.observers = append(s.observers[:i], s.observers[i+1:]...)
			break
		}
	}
	for _, p := range s.parts {
		p.Unobserve(o)
	}
}

// Sync every partition, returning the first failure.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.WithMessagef(access.ErrClosed, "%s", s.cfg.Name)
	}

	var first error
	for _, p := range s.parts {
		if err := p.Sync(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close every partition. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return closeParts(s.parts)
}

func closeParts(parts []*access.DB) error {
	var first error
	for _, p := range parts {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats of every partition, in index order.
func (s *Store) Stats() []map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []map[string]interface{}
	for _, p := range s.parts {
		out = append(out, p.Stats())
	}
	return out
}

// Repartition moves every record under a new Router. Records are copied
// into staged partitions which, once synced, replace the current ones.
// Open Cursors are invalidated.
func (s *Store) Repartition(router *Router) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.WithMessagef(access.ErrClosed, "%s", s.cfg.Name)
	}

	var staging = s.cfg
	staging.Name = s.cfg.Name + "-staging"
	staging.Creation = access.MustNotExist

	next, err := openParts(staging, router)
	if err != nil {
		return err
	}
	var nextStore = &Store{cfg: staging, router: router, parts: next}

	var copied int
	for _, p := range s.parts {
		err = p.Scan(func(key, value []byte) error {
			copied++
			_, err := nextStore.Put(key, value)
			return err
		})
		if err != nil {
			break
		}
	}
	if cerr := closeParts(next); err == nil {
		err = cerr
	}
	if err != nil {
		removeParts(staging, len(next))
		return errors.WithMessage(err, "copying into staged partitions")
	}

	if err = closeParts(s.parts); err != nil {
		return err
	}
	removeParts(s.cfg, len(s.parts))

	for i := range next {
		var from, to = staging, s.cfg
		from.Name, to.Name = PartitionName(staging.Name, i), PartitionName(s.cfg.Name, i)
		if err = os.Rename(from.Path(), to.Path()); err != nil {
			return errors.WithMessage(err, "renaming staged partition")
		}
		_ = from.Fs.Remove(from.WALPath())
	}

	var cfg = s.cfg
	cfg.Creation = access.MustExist
	if s.parts, err = openParts(cfg, router); err != nil {
		s.parts, s.closed = nil, true
		return err
	}
	s.router = router
	for _, o := range s.observers {
		for _, p := range s.parts {
			p.Observe(o)
		}
	}

	log.WithFields(log.Fields{
		"db":         s.cfg.Name,
		"records":    copied,
		"partitions": len(s.parts),
	}).Info("repartitioned database")
	return nil
}

// removeParts deletes the files of n partitions of cfg.Name.
func removeParts(cfg access.Config, n int) {
	for i := 0; i != n; i++ {
		var pc = cfg
		pc.Name = PartitionName(cfg.Name, i)
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(pc.Path() + suffix)
		}
		_ = pc.Fs.Remove(pc.WALPath())
	}
}
