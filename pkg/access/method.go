package access

import (
	"bytes"

	"github.com/pkg/errors"
	"recstore/pkg/common"
)

// method captures everything that differs between Kinds. The set of
// implementations is closed: newMethod is the only constructor.
type method interface {
	kind() Kind
	// validate rejects Config combinations the Kind cannot honor.
	validate(cfg *Config) error
	defaultDuplicates() Duplicates
	// hashed orders entries by key hash before key bytes.
	hashed() bool
	// assign returns the key of the n-th allocation, or nil if the Kind
	// stores caller-supplied keys.
	assign(n uint64) []byte
	// ordinal recovers the allocation ordinal of a stored key.
	ordinal(key []byte) (uint64, error)
	checkKey(key []byte) error
	normalize(value []byte) ([]byte, error)
}

func newMethod(cfg *Config) (method, error) {
	var m method
	switch cfg.Kind {
	case Hash:
		m = hashMethod{}
	case BTree:
		m = btreeMethod{}
	case Recno:
		m = recnoMethod{}
	case Queue:
		var pad = cfg.RecordPad
		if pad == 0 {
			pad = DefaultRecordPad
		}
		m = queueMethod{length: cfg.RecordLength, pad: pad}
	case Heap:
		m = heapMethod{}
	default:
		return nil, errors.Errorf("unknown access method %d", int(cfg.Kind))
	}
	if err := m.validate(cfg); err != nil {
		return nil, errors.WithMessagef(err, "%s", cfg.Kind)
	}
	return m, nil
}

// keyedMethod holds behavior shared by Kinds which store caller keys.
type keyedMethod struct{}

func (keyedMethod) assign(uint64) []byte { return nil }

func (keyedMethod) ordinal([]byte) (uint64, error) { return 0, nil }

func (keyedMethod) checkKey(key []byte) error {
	if len(key) == 0 {
		return errors.New("key must not be empty")
	}
	return nil
}

func (keyedMethod) normalize(value []byte) ([]byte, error) { return value, nil }

func (keyedMethod) validate(cfg *Config) error {
	if cfg.RecordLength != 0 {
		return errors.New("record length applies only to queue")
	}
	if cfg.BackingText != "" {
		return errors.New("backing text applies only to recno")
	}
	return nil
}

type hashMethod struct{ keyedMethod }

func (hashMethod) kind() Kind                    { return Hash }
func (hashMethod) hashed() bool                  { return true }
func (hashMethod) defaultDuplicates() Duplicates { return DuplicatesUnsorted }

type btreeMethod struct{ keyedMethod }

func (btreeMethod) kind() Kind                    { return BTree }
func (btreeMethod) hashed() bool                  { return false }
func (btreeMethod) defaultDuplicates() Duplicates { return DuplicatesSorted }

// numberedMethod holds behavior shared by Kinds which assign keys.
type numberedMethod struct{}

func (numberedMethod) hashed() bool                  { return false }
func (numberedMethod) defaultDuplicates() Duplicates { return DuplicatesNone }

func validateNumbered(cfg *Config) error {
	if cfg.Duplicates != DuplicatesDefault && cfg.Duplicates != DuplicatesNone {
		return errors.Errorf("duplicates %s not supported", cfg.Duplicates)
	}
	return nil
}

type recnoMethod struct{ numberedMethod }

func (recnoMethod) kind() Kind { return Recno }

func (recnoMethod) validate(cfg *Config) error {
	if cfg.RecordLength != 0 {
		return errors.New("record length applies only to queue")
	}
	return validateNumbered(cfg)
}

func (recnoMethod) assign(n uint64) []byte { return common.RecnoKey(n) }

func (recnoMethod) ordinal(key []byte) (uint64, error) { return common.ParseRecno(key) }

func (recnoMethod) checkKey(key []byte) error {
	_, err := common.ParseRecno(key)
	return err
}

func (recnoMethod) normalize(value []byte) ([]byte, error) { return value, nil }

type queueMethod struct {
	numberedMethod
	length int
	pad    byte
}

func (queueMethod) kind() Kind { return Queue }

func (m queueMethod) validate(cfg *Config) error {
	if m.length <= 0 {
		return errors.New("queue requires a positive record length")
	}
	if cfg.BackingText != "" {
		return errors.New("backing text applies only to recno")
	}
	return validateNumbered(cfg)
}

func (queueMethod) assign(n uint64) []byte { return common.RecnoKey(n) }

func (queueMethod) ordinal(key []byte) (uint64, error) { return common.ParseRecno(key) }

func (queueMethod) checkKey(key []byte) error {
	_, err := common.ParseRecno(key)
	return err
}

func (m queueMethod) normalize(value []byte) ([]byte, error) {
	if len(value) > m.length {
		return nil, errors.WithMessagef(ErrRecordLength, "value is %d bytes, record length is %d", len(value), m.length)
	}
	var out = make([]byte, m.length)
	copy(out, value)
	if len(value) < m.length {
		copy(out[len(value):], bytes.Repeat([]byte{m.pad}, m.length-len(value)))
	}
	return out, nil
}

type heapMethod struct{ numberedMethod }

func (heapMethod) kind() Kind { return Heap }

func (heapMethod) validate(cfg *Config) error {
	if cfg.RecordLength != 0 {
		return errors.New("record length applies only to queue")
	}
	if cfg.BackingText != "" {
		return errors.New("backing text applies only to recno")
	}
	return validateNumbered(cfg)
}

func (heapMethod) assign(n uint64) []byte { return common.HeapRID(n) }

func (heapMethod) ordinal(key []byte) (uint64, error) { return common.ParseHeapRID(key) }

func (heapMethod) checkKey(key []byte) error {
	_, err := common.ParseHeapRID(key)
	return err
}

func (heapMethod) normalize(value []byte) ([]byte, error) { return value, nil }
