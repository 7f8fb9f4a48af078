package partition

import (
	"iter"

	"github.com/pkg/errors"
	"recstore/pkg/access"
)

// Cursor fans out over the partitions of a Store, visiting them in index
// order and each in its own traversal order. It routes with the Router the
// Store had when the Cursor was opened; a Repartition closes it.
type Cursor struct {
	router  *Router
	cursors []*access.Cursor
	i       int
	pos     access.Position
}

// Cursor opens a Cursor positioned before the first record.
func (s *Store) Cursor() (*Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.WithMessagef(access.ErrClosed, "%s", s.cfg.Name)
	}

	var c = &Cursor{router: s.router, pos: access.BeforeFirst}
	for _, p := range s.parts {
		pc, err := p.Cursor()
		if err != nil {
			c.Close()
			return nil, err
		}
		c.cursors = append(c.cursors, pc)
	}
	return c, nil
}

// settle positions on the first record of the first non-empty partition
// at or after i.
func (c *Cursor) settle(i int) bool {
	for ; i < len(c.cursors); i++ {
		if c.cursors[i].MoveFirst() {
			c.i, c.pos = i, access.OnRecord
			return true
		}
	}
	c.i, c.pos = len(c.cursors), access.AfterLast
	return false
}

// MoveFirst positions on the first record of the first non-empty partition.
func (c *Cursor) MoveFirst() bool { return c.settle(0) }

// MoveNext advances to the following record, crossing into later
// partitions as each is exhausted.
func (c *Cursor) MoveNext() bool {
	switch c.pos {
	case access.BeforeFirst:
		return c.MoveFirst()
	case access.AfterLast:
		return false
	}
	if c.cursors[c.i].MoveNext() {
		return true
	}
	return c.settle(c.i + 1)
}

// Seek positions on the first record of key within its partition, or on
// the record following it. It returns true only on a record of key.
func (c *Cursor) Seek(key []byte) bool {
	var i, err = c.router.Route(key)
	if err != nil {
		c.pos = access.AfterLast
		return false
	}
	var exact = c.cursors[i].Seek(key)
	if c.cursors[i].Position() == access.OnRecord {
		c.i, c.pos = i, access.OnRecord
		return exact
	}
	c.settle(i + 1)
	return false
}

// Position of the Cursor.
func (c *Cursor) Position() access.Position {
	if c.pos == access.OnRecord {
		return c.cursors[c.i].Position()
	}
	return c.pos
}

// Key of the current record.
func (c *Cursor) Key() []byte {
	if c.pos != access.OnRecord {
		return nil
	}
	return c.cursors[c.i].Key()
}

// Value of the current record.
func (c *Cursor) Value() []byte {
	if c.pos != access.OnRecord {
		return nil
	}
	return c.cursors[c.i].Value()
}

// Add routes a new record to its partition and positions on it.
func (c *Cursor) Add(key, value []byte) ([]byte, error) {
	var i, err = c.router.Route(key)
	if err != nil {
		return nil, err
	}
	key, err = c.cursors[i].Add(key, value)
	if c.cursors[i].Position() == access.OnRecord {
		c.i, c.pos = i, access.OnRecord
	}
	return key, err
}

// Modify replaces the value of the current record.
func (c *Cursor) Modify(value []byte) error {
	if c.pos != access.OnRecord {
		return errors.WithMessagef(access.ErrNotPositioned, "cursor is %s", c.pos)
	}
	return c.cursors[c.i].Modify(value)
}

// Delete removes the current record and moves to the record following it,
// possibly in a later partition.
func (c *Cursor) Delete() error {
	if c.pos != access.OnRecord {
		return errors.WithMessagef(access.ErrNotPositioned, "cursor is %s", c.pos)
	}
	var err = c.cursors[c.i].Delete()
	if c.cursors[c.i].Position() != access.OnRecord {
		c.settle(c.i + 1)
	}
	return err
}

// Err returns the first error of a partition cursor.
func (c *Cursor) Err() error {
	for _, pc := range c.cursors {
		if err := pc.Err(); err != nil {
			return err
		}
	}
	return nil
}

// All iterates every record from the first, restarting on each call.
func (c *Cursor) All() iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		for ok := c.MoveFirst(); ok; ok = c.MoveNext() {
			if !yield(c.Key(), c.Value()) {
				return
			}
		}
	}
}

// Close every partition cursor.
func (c *Cursor) Close() error {
	var first error
	for _, pc := range c.cursors {
		if err := pc.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.pos = access.AfterLast
	return first
}
