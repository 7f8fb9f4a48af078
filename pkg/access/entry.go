package access

import (
	"bytes"
	"encoding/binary"

	"recstore/pkg/core/structure"
)

// entry is one stored record. Entries are identified by (key, dup); dup is a
// per-Database counter which also provides insertion order among unsorted
// duplicates.
type entry struct {
	hash  uint32
	key   []byte
	dup   uint64
	value []byte
}

func (e *entry) id() string {
	var b = make([]byte, len(e.key)+8)
	copy(b, e.key)
	binary.BigEndian.PutUint64(b[len(e.key):], e.dup)
	return string(b)
}

// lessFunc orders entries of one Database: by hash (Hash only), key,
// value (sorted duplicates only), then dup.
func lessFunc(m method, dups Duplicates) func(a, b *entry) bool {
	var hashed = m.hashed()
	var sorted = dups == DuplicatesSorted

	return func(a, b *entry) bool {
		if hashed && a.hash != b.hash {
			return a.hash < b.hash
		}
		if c := bytes.Compare(a.key, b.key); c != 0 {
			return c < 0
		}
		if sorted {
			if c := bytes.Compare(a.value, b.value); c != 0 {
				return c < 0
			}
		}
		return a.dup < b.dup
	}
}

// pivot sorts before every entry of key.
func (db *DB) pivot(key []byte) *entry {
	var p = &entry{key: key}
	if db.method.hashed() {
		p.hash = structure.Hash32(key)
	}
	return p
}

func (db *DB) newEntry(key []byte, dup uint64, value []byte) *entry {
	var e = &entry{
		key:   append([]byte(nil), key...),
		dup:   dup,
		value: append([]byte(nil), value...),
	}
	if db.method.hashed() {
		e.hash = structure.Hash32(key)
	}
	return e
}
