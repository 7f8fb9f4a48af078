package access

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind is the physical organization of a Database.
type Kind int

const (
	// Hash stores caller keys in hash-bucket order.
	Hash Kind = iota + 1
	// BTree stores caller keys in lexicographic order.
	BTree
	// Recno assigns 1-based record numbers to appended values.
	Recno
	// Queue assigns record numbers to fixed-length appended values.
	Queue
	// Heap assigns opaque record identifiers in insertion order.
	Heap
)

var kindNames = map[Kind]string{
	Hash:  "hash",
	BTree: "btree",
	Recno: "recno",
	Queue: "queue",
	Heap:  "heap",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind accepts the names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(s, name) {
			return k, nil
		}
	}
	return 0, errors.Errorf("unknown access method %q", s)
}

// CreatePolicy governs whether Open may create the backing file.
type CreatePolicy int

const (
	IfNeeded CreatePolicy = iota
	MustExist
	MustNotExist
)

func ParseCreatePolicy(s string) (CreatePolicy, error) {
	switch strings.ToLower(s) {
	case "", "if_needed":
		return IfNeeded, nil
	case "must_exist":
		return MustExist, nil
	case "must_not_exist":
		return MustNotExist, nil
	}
	return 0, errors.Errorf("unknown creation policy %q", s)
}

// Duplicates governs whether several records may share a key.
type Duplicates int

const (
	// DuplicatesDefault selects the Kind's default policy.
	DuplicatesDefault Duplicates = iota
	DuplicatesNone
	DuplicatesUnsorted
	DuplicatesSorted
)

func (d Duplicates) String() string {
	switch d {
	case DuplicatesNone:
		return "none"
	case DuplicatesUnsorted:
		return "unsorted"
	case DuplicatesSorted:
		return "sorted"
	}
	return "default"
}

func ParseDuplicates(s string) (Duplicates, error) {
	switch strings.ToLower(s) {
	case "", "default":
		return DuplicatesDefault, nil
	case "none":
		return DuplicatesNone, nil
	case "unsorted":
		return DuplicatesUnsorted, nil
	case "sorted":
		return DuplicatesSorted, nil
	}
	return 0, errors.Errorf("unknown duplicates policy %q", s)
}
