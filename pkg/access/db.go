package access

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"recstore/pkg/core/structure"
	"recstore/pkg/metrics"
	"recstore/pkg/monitor"
	"recstore/pkg/storage"
)

const (
	treeDegree     = 32
	minBloomSize   = 1 << 14
	bloomFalseProb = 0.01
)

// DB is one opened Database: an in-memory ordered entry set, made durable by
// a write-ahead log and a checkpoint file.
//
// Operations are safe for concurrent use, but a Cursor performing mutations
// must not be shared between goroutines without external synchronization.
type DB struct {
	cfg    Config
	method method
	dups   Duplicates
	less   func(a, b *entry) bool
	stats  *monitor.WorkloadStats

	mu        sync.RWMutex
	tree      *btree.BTreeG[*entry]
	ids       map[string]*entry
	bloom     *structure.BloomFilter
	bloomCap  int
	backend   storage.Backend
	wal       *storage.WAL
	dirty     map[string]dirtyEntry
	reset     bool
	lastSeq   uint64
	lastDup   uint64
	closed    bool
	cursors   map[*Cursor]struct{}
	observers []Observer
}

// dirtyEntry is a change not yet checkpointed. A nil entry is a delete.
type dirtyEntry struct {
	key []byte
	dup uint64
	e   *entry
}

// Open the Database described by cfg. Every failure wraps ErrOpen, and is
// also reported to the configured ErrorSink.
func Open(cfg Config) (*DB, error) {
	if cfg.ErrorSink == nil {
		cfg.ErrorSink = LogSink{}
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}

	db, err := open(cfg)
	if err != nil {
		err = errors.WithMessagef(ErrOpen, "%s: %v", cfg.Path(), err)
		cfg.ErrorSink.Report(cfg.Name, err.Error())
		return nil, err
	}
	return db, nil
}

func open(cfg Config) (*DB, error) {
	if cfg.Dir == "" || cfg.Name == "" {
		return nil, errors.New("backing directory and name are required")
	}
	if cfg.CacheBudget < 0 {
		return nil, errors.New("cache budget must not be negative")
	}
	m, err := newMethod(&cfg)
	if err != nil {
		return nil, err
	}
	var dups = cfg.Duplicates
	if dups == DuplicatesDefault {
		dups = m.defaultDuplicates()
	}

	if err := checkCreation(&cfg); err != nil {
		return nil, err
	}

	var opts = storage.SQLiteOptions{Codec: cfg.Compression}
	if cfg.CacheBudget > 0 {
		opts.CacheKiB = (cfg.CacheBudget + 1023) / 1024
	}
	backend, err := storage.NewSQLiteBackend(cfg.Path(), opts)
	if err != nil {
		return nil, err
	}

	var db = &DB{
		cfg:     cfg,
		method:  m,
		dups:    dups,
		less:    lessFunc(m, dups),
		stats:   monitor.NewWorkloadStats(),
		ids:     make(map[string]*entry),
		dirty:   make(map[string]dirtyEntry),
		backend: backend,
		cursors: make(map[*Cursor]struct{}),
	}
	db.tree = btree.NewG[*entry](treeDegree, db.less)

	if err := db.recover(); err != nil {
		db.release()
		return nil, err
	}
	return db, nil
}

func checkCreation(cfg *Config) error {
	exists, err := afero.Exists(afero.NewOsFs(), cfg.Path())
	if err != nil {
		return err
	}
	switch cfg.Creation {
	case MustExist:
		if !exists {
			return errors.New("backing file does not exist")
		}
	case MustNotExist:
		if exists {
			return errors.New("backing file already exists")
		}
	case IfNeeded:
	default:
		return errors.Errorf("unknown creation policy %d", int(cfg.Creation))
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return err
	}
	return cfg.Fs.MkdirAll(cfg.Dir, 0755)
}

// recover loads the checkpoint, replays the write-ahead log on top of it,
// and checkpoints the result so the log starts out empty.
func (db *DB) recover() error {
	meta, err := db.backend.Meta()
	if err != nil {
		return errors.WithMessage(err, "reading meta")
	}
	if err := db.checkMeta(meta); err != nil {
		return err
	}
	if s, ok := meta["last_seq"]; ok {
		if db.lastSeq, err = strconv.ParseUint(s, 10, 64); err != nil {
			return errors.WithMessage(err, "parsing last_seq")
		}
	}
	if s, ok := meta["last_dup"]; ok {
		if db.lastDup, err = strconv.ParseUint(s, 10, 64); err != nil {
			return errors.WithMessage(err, "parsing last_dup")
		}
	}

	rows, err := db.backend.LoadAll()
	if err != nil {
		return errors.WithMessage(err, "loading checkpoint")
	}
	for _, row := range rows {
		db.applyPutLocked(db.newEntry(row.Key, row.Dup, row.Value))
	}
	db.dirty = make(map[string]dirtyEntry)

	if db.wal, err = storage.OpenWAL(db.cfg.Fs, db.cfg.WALPath()); err != nil {
		return errors.WithMessage(err, "opening write-ahead log")
	}
	replayed, err := db.replay()
	if err != nil {
		return err
	}
	db.rebuildBloomLocked()

	if err := db.syncLocked(); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"db":       db.cfg.Name,
		"kind":     db.method.kind(),
		"records":  db.tree.Len(),
		"replayed": replayed,
		"lastSeq":  db.lastSeq,
	}).Info("opened database")
	return nil
}

func (db *DB) checkMeta(meta map[string]string) error {
	var want = db.metaLocked()
	for _, name := range []string{"kind", "record_length", "codec", "duplicates"} {
		if have, ok := meta[name]; ok && have != want[name] {
			return errors.Errorf("existing %s is %q, configured %q", name, have, want[name])
		}
	}
	return nil
}

func (db *DB) metaLocked() map[string]string {
	return map[string]string{
		"kind":          db.method.kind().String(),
		"record_length": strconv.Itoa(db.cfg.RecordLength),
		"codec":         db.cfg.Compression.String(),
		"duplicates":    db.dups.String(),
		"last_seq":      strconv.FormatUint(db.lastSeq, 10),
		"last_dup":      strconv.FormatUint(db.lastDup, 10),
	}
}

func (db *DB) replay() (int, error) {
	it, err := db.wal.NewIterator()
	if err != nil {
		return 0, errors.WithMessage(err, "reading write-ahead log")
	}
	defer it.Close()

	var count int
	for {
		frame, err := it.Next()
		if err != nil {
			if !errors.Is(err, storage.ErrCorrupt) {
				return count, nil // io.EOF
			}
			var msg = fmt.Sprintf("discarding write-ahead log tail after %d frames: %v", count, err)
			db.cfg.ErrorSink.Report(db.cfg.Name, msg)
			log.WithFields(log.Fields{"db": db.cfg.Name, "frames": count, "err": err}).Warn("torn write-ahead log")
			return count, nil
		}

		switch frame.Op {
		case storage.OpPut:
			db.applyPutLocked(db.newEntry(frame.Key, frame.Dup, frame.Value))
		case storage.OpDelete:
			var probe = entry{key: frame.Key, dup: frame.Dup}
			if e, ok := db.ids[probe.id()]; ok {
				db.removeLocked(e)
			}
		case storage.OpTruncate:
			db.clearLocked()
		default:
			return count, errors.Errorf("unknown write-ahead log op %d", frame.Op)
		}
		count++
	}
}

// applyPutLocked inserts or replaces an entry by identity, advancing the
// sequence and dup counters past it.
func (db *DB) applyPutLocked(e *entry) {
	if old, ok := db.ids[e.id()]; ok {
		db.removeLocked(old)
	}
	db.insertLocked(e)

	if e.dup > db.lastDup {
		db.lastDup = e.dup
	}
	if n, err := db.method.ordinal(e.key); err == nil && n > db.lastSeq {
		db.lastSeq = n
	}
}

func (db *DB) insertLocked(e *entry) {
	db.tree.ReplaceOrInsert(e)
	db.ids[e.id()] = e
	if db.bloom != nil {
		db.bloom.Add(e.key)
	}
	db.dirty[e.id()] = dirtyEntry{key: e.key, dup: e.dup, e: e}
}

func (db *DB) removeLocked(e *entry) {
	db.tree.Delete(e)
	delete(db.ids, e.id())
	db.dirty[e.id()] = dirtyEntry{key: e.key, dup: e.dup}
}

func (db *DB) clearLocked() {
	db.tree.Clear(false)
	db.ids = make(map[string]*entry)
	db.dirty = make(map[string]dirtyEntry)
	db.reset = true
	if db.bloom != nil {
		db.bloom.Reset()
	}
}

func (db *DB) rebuildBloomLocked() {
	if !db.method.hashed() {
		return
	}
	db.bloomCap = 2 * db.tree.Len()
	if db.bloomCap < minBloomSize {
		db.bloomCap = minBloomSize
	}
	db.bloom = structure.NewBloomFilter(uint(db.bloomCap), bloomFalseProb)
	db.tree.Ascend(func(e *entry) bool {
		db.bloom.Add(e.key)
		return true
	})
}

func (db *DB) logLocked(op storage.Op, e *entry) error {
	var frame = storage.WALEntry{Op: op, Dup: e.dup, Key: e.key}
	if op == storage.OpPut {
		frame.Value = e.value
	}
	if err := db.wal.Append(frame); err != nil {
		return errors.WithMessagef(ErrSync, "write-ahead log: %v", err)
	}
	return nil
}

// entriesLocked returns every entry of key in duplicate order.
func (db *DB) entriesLocked(key []byte) []*entry {
	var out []*entry
	db.tree.AscendGreaterOrEqual(db.pivot(key), func(e *entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

func (db *DB) valuesLocked(key []byte) [][]byte {
	var out [][]byte
	for _, e := range db.entriesLocked(key) {
		out = append(out, clone(e.value))
	}
	return out
}

// afterLocked returns the first entry ordered strictly after e, which need
// not itself still be stored.
func (db *DB) afterLocked(e *entry) *entry {
	var next *entry
	db.tree.AscendGreaterOrEqual(e, func(x *entry) bool {
		if db.less(e, x) {
			next = x
			return false
		}
		return true
	})
	return next
}

func (db *DB) putLocked(key, value []byte) (*entry, error) {
	var assigned = db.method.assign(db.lastSeq + 1)
	if assigned != nil {
		key = assigned
	} else if err := db.method.checkKey(key); err != nil {
		return nil, err
	}
	value, err := db.method.normalize(value)
	if err != nil {
		return nil, err
	}

	var existing = db.entriesLocked(key)
	switch db.dups {
	case DuplicatesNone:
		if len(existing) != 0 {
			return nil, errors.WithMessagef(ErrDuplicateKey, "key %x", key)
		}
	case DuplicatesSorted:
		for _, e := range existing {
			if bytes.Equal(e.value, value) {
				return nil, errors.WithMessagef(ErrDuplicateKey, "key %x with identical value", key)
			}
		}
	}

	var e = db.newEntry(key, db.lastDup+1, value)
	if err := db.logLocked(storage.OpPut, e); err != nil {
		return nil, err
	}
	db.lastDup = e.dup
	if assigned != nil {
		db.lastSeq++
	}
	db.insertLocked(e)
	return e, nil
}

// replaceLocked swaps the value of a stored entry, keeping its identity.
func (db *DB) replaceLocked(old *entry, value []byte) (*entry, error) {
	value, err := db.method.normalize(value)
	if err != nil {
		return nil, err
	}
	if db.dups == DuplicatesSorted {
		for _, e := range db.entriesLocked(old.key) {
			if e != old && bytes.Equal(e.value, value) {
				return nil, errors.WithMessagef(ErrDuplicateKey, "key %x with identical value", old.key)
			}
		}
	}

	var e = db.newEntry(old.key, old.dup, value)
	if err := db.logLocked(storage.OpPut, e); err != nil {
		return nil, err
	}
	db.removeLocked(old)
	db.insertLocked(e)
	return e, nil
}

func (db *DB) deleteLocked(e *entry) error {
	if err := db.logLocked(storage.OpDelete, e); err != nil {
		return err
	}
	db.removeLocked(e)
	return nil
}

// Kind of the Database.
func (db *DB) Kind() Kind { return db.method.kind() }

// Name of the Database.
func (db *DB) Name() string { return db.cfg.Name }

// Config the Database was opened with.
func (db *DB) Config() Config { return db.cfg }

// Duplicates policy in effect.
func (db *DB) Duplicates() Duplicates { return db.dups }

// Put stores value under key and returns the effective key. Recno, Queue
// and Heap ignore key and assign the next record number or identifier.
// Put never overwrites: see Update.
func (db *DB) Put(key, value []byte) ([]byte, error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, db.closedErr()
	}
	e, err := db.putLocked(key, value)
	var events []Event
	if err == nil {
		events = []Event{{Op: EventPut, Key: clone(e.key), New: clone(e.value), Remaining: db.valuesLocked(e.key)}}
	}
	db.mu.Unlock()

	if err = db.done("put", err); err != nil {
		return nil, err
	}
	db.stats.RecordWrite()
	return clone(e.key), db.notify(events)
}

// Append stores value under the next assigned key.
func (db *DB) Append(value []byte) ([]byte, error) {
	if db.method.assign(1) == nil {
		return nil, errors.WithMessagef(ErrUnsupported, "append to %s database", db.method.kind())
	}
	return db.Put(nil, value)
}

// Get returns the first value stored under key.
func (db *DB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, db.closedErr()
	}
	db.stats.RecordRead()

	if db.bloom != nil && !db.bloom.Contains(key) {
		return nil, db.missed("get", key)
	}
	var found *entry
	db.tree.AscendGreaterOrEqual(db.pivot(key), func(e *entry) bool {
		if bytes.Equal(e.key, key) {
			found = e
		}
		return false
	})
	if found == nil {
		return nil, db.missed("get", key)
	}
	db.stats.RecordHit()
	metrics.OpsTotal.WithLabelValues(db.method.kind().String(), "get", metrics.Ok).Inc()
	return clone(found.value), nil
}

// GetAll returns every value stored under key, in duplicate order.
func (db *DB) GetAll(key []byte) ([][]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, db.closedErr()
	}
	db.stats.RecordRead()

	var values = db.valuesLocked(key)
	if len(values) == 0 {
		return nil, db.missed("get", key)
	}
	db.stats.RecordHit()
	return values, nil
}

// Update replaces every value stored under key with value.
func (db *DB) Update(key, value []byte) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return db.closedErr()
	}
	var existing = db.entriesLocked(key)
	var events []Event
	var err error

	if len(existing) == 0 {
		err = errors.WithMessagef(ErrNotFound, "%s: key %x", db.cfg.Name, key)
	} else {
		_, err = db.method.normalize(value)
	}
	// Siblings go first, so they never conflict with the new value.
	var deleted []Event
	for i := len(existing) - 1; i > 0 && err == nil; i-- {
		if err = db.deleteLocked(existing[i]); err == nil {
			deleted = append(deleted, Event{Op: EventDelete, Key: clone(key), Old: clone(existing[i].value)})
		}
	}
	if err == nil && len(existing) != 0 {
		var e *entry
		if e, err = db.replaceLocked(existing[0], value); err == nil {
			events = append(events, Event{Op: EventPut, Key: clone(key), Old: clone(existing[0].value), New: clone(e.value)})
		}
	}
	for i := len(deleted) - 1; i >= 0; i-- {
		events = append(events, deleted[i])
	}
	var remaining = db.valuesLocked(key)
	for i := range events {
		events[i].Remaining = remaining
	}
	db.mu.Unlock()

	if err = db.done("update", err); err != nil {
		return err
	}
	db.stats.RecordWrite()
	return db.notify(events)
}

// Delete removes every value stored under key.
func (db *DB) Delete(key []byte) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return db.closedErr()
	}
	var existing = db.entriesLocked(key)
	var events []Event
	var err error

	if len(existing) == 0 {
		err = errors.WithMessagef(ErrNotFound, "%s: key %x", db.cfg.Name, key)
	}
	for _, e := range existing {
		if err = db.deleteLocked(e); err != nil {
			break
		}
		events = append(events, Event{Op: EventDelete, Key: clone(key), Old: clone(e.value)})
	}
	db.mu.Unlock()

	if err = db.done("delete", err); err != nil {
		return err
	}
	db.stats.RecordDelete()
	return db.notify(events)
}

// Consume removes and returns the head of a Queue.
func (db *DB) Consume() ([]byte, []byte, error) {
	if db.method.kind() != Queue {
		return nil, nil, errors.WithMessagef(ErrUnsupported, "consume from %s database", db.method.kind())
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, nil, db.closedErr()
	}
	var events []Event
	var err error

	head, ok := db.tree.Min()
	if !ok {
		err = errors.WithMessagef(ErrNotFound, "%s: queue is empty", db.cfg.Name)
	} else if err = db.deleteLocked(head); err == nil {
		events = []Event{{Op: EventDelete, Key: clone(head.key), Old: clone(head.value)}}
	}
	db.mu.Unlock()

	if err = db.done("consume", err); err != nil {
		return nil, nil, err
	}
	db.stats.RecordDelete()
	return clone(head.key), clone(head.value), db.notify(events)
}

// Truncate removes every record and returns how many were removed. Sequence
// counters are kept, so assigned keys are never reused.
func (db *DB) Truncate() (int, error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return 0, db.closedErr()
	}
	var events []Event
	db.tree.Ascend(func(e *entry) bool {
		events = append(events, Event{Op: EventDelete, Key: clone(e.key), Old: clone(e.value)})
		return true
	})

	var err = db.logLocked(storage.OpTruncate, &entry{})
	if err == nil {
		db.clearLocked()
	}
	db.mu.Unlock()

	if err = db.done("truncate", err); err != nil {
		return 0, err
	}
	return len(events), db.notify(events)
}

// Count of live records.
func (db *DB) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.tree.Len()
}

// Sync checkpoints buffered changes to the backing file and empties the
// write-ahead log. The Database remains open.
func (db *DB) Sync() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return db.closedErr()
	}
	return db.syncLocked()
}

func (db *DB) syncLocked() error {
	var start = time.Now()
	var cp = storage.Checkpoint{Reset: db.reset, Meta: db.metaLocked()}
	for _, d := range db.dirty {
		if d.e != nil {
			cp.Puts = append(cp.Puts, storage.Row{Key: d.key, Dup: d.dup, Value: d.e.value})
		} else if !db.reset {
			cp.Deletes = append(cp.Deletes, storage.RowID{Key: d.key, Dup: d.dup})
		}
	}

	var err = db.backend.Apply(cp)
	if err == nil {
		db.dirty = make(map[string]dirtyEntry)
		db.reset = false
		err = db.wal.Truncate()
	}
	if err == nil && db.cfg.BackingText != "" {
		err = db.writeBackingTextLocked()
	}
	if err == nil && db.bloom != nil && db.tree.Len() > db.bloomCap {
		db.rebuildBloomLocked()
	}

	var kind = db.method.kind().String()
	metrics.SyncSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.OpsTotal.WithLabelValues(kind, "sync", metrics.Result(err)).Inc()

	if err != nil {
		err = errors.WithMessagef(ErrSync, "%s: %v", db.cfg.Name, err)
		db.cfg.ErrorSink.Report(db.cfg.Name, err.Error())
		return err
	}
	db.stats.RecordSync()

	log.WithFields(log.Fields{
		"db":      db.cfg.Name,
		"puts":    len(cp.Puts),
		"deletes": len(cp.Deletes),
		"reset":   cp.Reset,
	}).Debug("checkpointed database")
	return nil
}

func (db *DB) writeBackingTextLocked() error {
	var buf bytes.Buffer
	db.tree.Ascend(func(e *entry) bool {
		buf.Write(e.value)
		buf.WriteByte('\n')
		return true
	})
	return afero.WriteFile(db.cfg.Fs, db.cfg.BackingText, buf.Bytes(), 0644)
}

// Close checkpoints and releases the Database. Cursors still open on it
// fail with ErrClosed from then on. Closing twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}

	var err = db.syncLocked()
	db.closed = true
	for c := range db.cursors {
		c.closed = true
		c.pos, c.cur = AfterLast, nil
	}
	db.cursors = nil
	db.observers = nil

	if rerr := db.release(); err == nil {
		err = rerr
	}
	log.WithFields(log.Fields{"db": db.cfg.Name, "records": db.tree.Len()}).Info("closed database")
	return err
}

func (db *DB) release() error {
	var errs []string
	if db.wal != nil {
		if err := db.wal.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := db.backend.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) != 0 {
		return errors.Errorf("releasing %s: %s", db.cfg.Name, strings.Join(errs, "; "))
	}
	return nil
}

// Observe registers an Observer of every subsequent change.
func (db *DB) Observe(o Observer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.observers = append(db.observers, o)
}

// Unobserve removes a previously registered Observer, which must be of a
// comparable type.
func (db *DB) Unobserve(o Observer) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i, have := range db.observers {
		if have == o {
			db.observers = append(db.observers[:i], db.observers[i+1:]...)
			return
		}
	}
}

func (db *DB) notify(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	db.mu.RLock()
	var observers = append([]Observer(nil), db.observers...)
	db.mu.RUnlock()

	var failed []string
	for _, o := range observers {
		for _, ev := range events {
			if err := o.Observe(ev); err != nil {
				failed = append(failed, err.Error())
				metrics.IndexFailuresTotal.WithLabelValues(observerName(o)).Inc()
			}
		}
	}
	if len(failed) == 0 {
		return nil
	}
	var err = errors.WithMessagef(ErrIndexMaintenance, "%s: %s", db.cfg.Name, strings.Join(failed, "; "))
	db.cfg.ErrorSink.Report(db.cfg.Name, err.Error())
	return err
}

func observerName(o Observer) string {
	if n, ok := o.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", o)
}

// Stats reports counters of the Database.
func (db *DB) Stats() map[string]interface{} {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var snap = db.stats.Snapshot()
	var out = map[string]interface{}{
		"name":          db.cfg.Name,
		"kind":          db.method.kind().String(),
		"duplicates":    db.dups.String(),
		"records":       db.tree.Len(),
		"pending":       len(db.dirty),
		"last_seq":      db.lastSeq,
		"reads":         snap.ReadCount,
		"writes":        snap.WriteCount,
		"deletes":       snap.DeleteCount,
		"hits":          snap.HitCount,
		"misses":        snap.MissCount,
		"syncs":         snap.SyncCount,
		"rw_ratio":      db.stats.GetReadWriteRatio(),
		"open_cursors":  len(db.cursors),
		"codec":         db.cfg.Compression.String(),
		"record_length": db.cfg.RecordLength,
	}
	if db.bloom != nil {
		for k, v := range db.bloom.Stats() {
			out[k] = v
		}
	}
	if !db.closed {
		if size, err := db.wal.Size(); err == nil {
			out["wal_size_bytes"] = size
		}
	}
	return out
}

// done records metrics for a mutation and reports its failure.
func (db *DB) done(op string, err error) error {
	metrics.OpsTotal.WithLabelValues(db.method.kind().String(), op, metrics.Result(err)).Inc()
	if err == nil {
		return nil
	}
	err = errors.WithMessagef(err, "%s %s", db.cfg.Name, op)
	if !errors.Is(err, ErrNotFound) {
		db.cfg.ErrorSink.Report(db.cfg.Name, err.Error())
	}
	return err
}

func (db *DB) missed(op string, key []byte) error {
	db.stats.RecordMiss()
	metrics.OpsTotal.WithLabelValues(db.method.kind().String(), op, metrics.Fail).Inc()
	return errors.WithMessagef(ErrNotFound, "%s: key %x", db.cfg.Name, key)
}

func (db *DB) closedErr() error {
	return errors.WithMessagef(ErrClosed, "%s", db.cfg.Name)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// Scan calls fn with every record of a point-in-time snapshot, in traversal
// order, stopping at the first error. fn may modify the DB.
func (db *DB) Scan(fn func(key, value []byte) error) error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return db.closedErr()
	}
	var snapshot = db.tree.Clone()
	db.mu.Unlock()

	var err error
	snapshot.Ascend(func(e *entry) bool {
		err = fn(clone(e.key), clone(e.value))
		return err == nil
	})
	return err
}
