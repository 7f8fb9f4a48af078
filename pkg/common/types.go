package common

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Record is the unit every access method stores: opaque key and value bytes.
type Record struct {
	Key   []byte
	Value []byte
}

// String is handy for debug printing.
func (r *Record) String() string {
	return fmt.Sprintf("Record{Key: %x, ValLen: %d}", r.Key, len(r.Value))
}

const (
	// RecnoKeySize is the width of record numbers used by recno and queue stores.
	RecnoKeySize = 8
	// RIDSize is the width of a heap record identifier: page (4B) + slot (2B).
	RIDSize = 6
	// SlotsPerPage bounds the slot component of a heap RID.
	SlotsPerPage = 64
)

// RecnoKey encodes record number n big-endian, so byte order is numeric order.
func RecnoKey(n uint64) []byte {
	var b = make([]byte, RecnoKeySize)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// ParseRecno decodes a key produced by RecnoKey.
func ParseRecno(key []byte) (uint64, error) {
	if len(key) != RecnoKeySize {
		return 0, errors.Errorf("record number must be %d bytes, got %d", RecnoKeySize, len(key))
	}
	var n = binary.BigEndian.Uint64(key)
	if n == 0 {
		return 0, errors.New("record numbers start at 1")
	}
	return n, nil
}

// HeapRID maps the n-th (1-based) heap allocation onto a page/slot identifier.
func HeapRID(n uint64) []byte {
	var b = make([]byte, RIDSize)
	binary.BigEndian.PutUint32(b[0:4], uint32((n-1)/SlotsPerPage)+1)
	binary.BigEndian.PutUint16(b[4:6], uint16((n-1)%SlotsPerPage))
	return b
}

// ParseHeapRID returns the allocation ordinal of a heap RID.
func ParseHeapRID(rid []byte) (uint64, error) {
	if len(rid) != RIDSize {
		return 0, errors.Errorf("heap RID must be %d bytes, got %d", RIDSize, len(rid))
	}
	var page = binary.BigEndian.Uint32(rid[0:4])
	var slot = binary.BigEndian.Uint16(rid[4:6])
	if page == 0 || slot >= SlotsPerPage {
		return 0, errors.Errorf("malformed heap RID %x", rid)
	}
	return uint64(page-1)*SlotsPerPage + uint64(slot) + 1, nil
}
