package access

import (
	"iter"

	"github.com/pkg/errors"
)

// Position of a Cursor.
type Position int

const (
	BeforeFirst Position = iota
	OnRecord
	AfterLast
)

func (p Position) String() string {
	switch p {
	case BeforeFirst:
		return "before-first"
	case OnRecord:
		return "on-record"
	case AfterLast:
		return "after-last"
	}
	return "unknown"
}

// Cursor is a stateful traversal of a DB in its Kind's order: hash order for
// Hash, key order for BTree, and record number or identifier order for
// Recno, Queue and Heap. Within a key, sorted duplicates are visited in value
// order and unsorted duplicates in insertion order.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	db     *DB
	pos    Position
	cur    *entry
	closed bool
}

// Cursor opens a new Cursor positioned before the first record.
func (db *DB) Cursor() (*Cursor, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, db.closedErr()
	}
	var c = &Cursor{db: db}
	db.cursors[c] = struct{}{}
	return c, nil
}

// check requires the caller to hold the DB lock.
func (c *Cursor) check() error {
	if c.closed || c.db.closed {
		return errors.WithMessagef(ErrClosed, "cursor of %s", c.db.cfg.Name)
	}
	return nil
}

func (c *Cursor) land(e *entry) bool {
	if e == nil {
		c.pos, c.cur = AfterLast, nil
		return false
	}
	c.pos, c.cur = OnRecord, e
	return true
}

// MoveFirst positions on the first record, returning false if there is none
// or the Cursor is closed.
func (c *Cursor) MoveFirst() bool {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.check() != nil {
		return false
	}
	e, _ := c.db.tree.Min()
	return c.land(e)
}

// MoveNext advances to the following record. From BeforeFirst it behaves as
// MoveFirst. It returns false once the Cursor is AfterLast.
func (c *Cursor) MoveNext() bool {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.check() != nil {
		return false
	}
	switch c.pos {
	case BeforeFirst:
		e, _ := c.db.tree.Min()
		return c.land(e)
	case AfterLast:
		return false
	}
	return c.land(c.db.afterLocked(c.cur))
}

// Seek positions on the first record of key or, if there is none, the record
// which follows it in traversal order. It returns true only if the Cursor
// landed on a record of key.
func (c *Cursor) Seek(key []byte) bool {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.check() != nil {
		return false
	}
	var found *entry
	c.db.tree.AscendGreaterOrEqual(c.db.pivot(key), func(e *entry) bool {
		found = e
		return false
	})
	return c.land(found) && string(found.key) == string(key)
}

// Position of the Cursor. A closed Cursor is AfterLast.
func (c *Cursor) Position() Position {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	return c.pos
}

// Key of the current record, or nil if the Cursor is not OnRecord or has
// been closed.
func (c *Cursor) Key() []byte {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.pos != OnRecord || c.check() != nil {
		return nil
	}
	return clone(c.cur.key)
}

// Value of the current record, or nil if the Cursor is not OnRecord or has
// been closed.
func (c *Cursor) Value() []byte {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	if c.pos != OnRecord || c.check() != nil {
		return nil
	}
	if e, ok := c.db.ids[c.cur.id()]; ok {
		c.cur = e // Refresh after an Update through the DB.
	}
	return clone(c.cur.value)
}

// Err returns ErrClosed if the Cursor or its DB has been closed.
func (c *Cursor) Err() error {
	c.db.mu.RLock()
	defer c.db.mu.RUnlock()
	return c.check()
}

// Add puts a record as DB.Put does, and positions the Cursor on it.
func (c *Cursor) Add(key, value []byte) ([]byte, error) {
	var db = c.db
	db.mu.Lock()
	if err := c.check(); err != nil {
		db.mu.Unlock()
		return nil, err
	}
	e, err := db.putLocked(key, value)
	var events []Event
	if err == nil {
		c.land(e)
		events = []Event{{Op: EventPut, Key: clone(e.key), New: clone(e.value), Remaining: db.valuesLocked(e.key)}}
	}
	db.mu.Unlock()

	if err = db.done("put", err); err != nil {
		return nil, err
	}
	db.stats.RecordWrite()
	return clone(e.key), db.notify(events)
}

// Modify replaces the value of the current record. The Cursor remains on the
// record, which moves within its key if duplicates are sorted.
func (c *Cursor) Modify(value []byte) error {
	var db = c.db
	db.mu.Lock()
	cur, err := c.currentLocked()
	var events []Event
	if err == nil {
		var e *entry
		if e, err = db.replaceLocked(cur, value); err == nil {
			c.land(e)
			events = []Event{{Op: EventPut, Key: clone(e.key), Old: clone(cur.value), New: clone(e.value), Remaining: db.valuesLocked(e.key)}}
		}
	}
	db.mu.Unlock()

	if err = db.done("update", err); err != nil {
		return err
	}
	db.stats.RecordWrite()
	return db.notify(events)
}

// Delete removes the current record. The Cursor moves to the record which
// followed it, or to AfterLast.
func (c *Cursor) Delete() error {
	var db = c.db
	db.mu.Lock()
	cur, err := c.currentLocked()
	var events []Event
	if err == nil {
		if err = db.deleteLocked(cur); err == nil {
			c.land(db.afterLocked(cur))
			events = []Event{{Op: EventDelete, Key: clone(cur.key), Old: clone(cur.value), Remaining: db.valuesLocked(cur.key)}}
		}
	}
	db.mu.Unlock()

	if err = db.done("delete", err); err != nil {
		return err
	}
	db.stats.RecordDelete()
	return db.notify(events)
}

func (c *Cursor) currentLocked() (*entry, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.pos != OnRecord {
		return nil, errors.WithMessagef(ErrNotPositioned, "cursor is %s", c.pos)
	}
	cur, ok := c.db.ids[c.cur.id()]
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "%s: current record was removed", c.db.cfg.Name)
	}
	return cur, nil
}

// All iterates every record from the first, restarting the Cursor on each
// call. Use MoveNext directly when deleting during traversal.
func (c *Cursor) All() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		for ok := c.MoveFirst(); ok; ok = c.MoveNext() {
			if !yield(c.Key(), c.Value()) {
				return
			}
		}
	}
}

// Close releases the Cursor. Closing twice is a no-op.
func (c *Cursor) Close() error {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.pos, c.cur = AfterLast, nil
	delete(c.db.cursors, c)
	return nil
}
