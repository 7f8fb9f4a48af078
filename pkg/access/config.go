package access

import (
	"path/filepath"

	"github.com/spf13/afero"
	"recstore/pkg/storage"
)

// DefaultRecordPad fills short Queue records when Config.RecordPad is zero.
const DefaultRecordPad = ' '

// Config describes one Database.
type Config struct {
	Kind Kind
	// Dir and Name locate the backing file at Dir/Name.db.
	Dir  string
	Name string

	Creation CreatePolicy
	// CacheBudget is the checkpoint file's page cache budget, in bytes.
	CacheBudget int64
	Duplicates  Duplicates
	// RecordLength is required by Queue and forbidden otherwise.
	RecordLength int
	// RecordPad fills Queue records shorter than RecordLength.
	// Zero selects DefaultRecordPad.
	RecordPad byte
	// BackingText, if set on a Recno Database, is rewritten on every Sync
	// with one line per live record in record-number order.
	BackingText string
	Compression storage.Codec
	// ErrorSink receives diagnostics. Nil selects LogSink.
	ErrorSink ErrorSink
	// Fs holds the write-ahead log and backing text. Nil selects the OS
	// filesystem. The checkpoint file always lives on the OS filesystem.
	Fs afero.Fs
}

// Path of the checkpoint file.
func (c *Config) Path() string {
	return filepath.Join(c.Dir, c.Name+".db")
}

// WALPath of the write-ahead log.
func (c *Config) WALPath() string {
	return c.Path() + ".wal"
}
