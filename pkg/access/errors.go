package access

import "github.com/pkg/errors"

// Errors returned by Database and Cursor operations. Returned errors wrap
// these with context; classify with errors.Is.
var (
	ErrOpen             = errors.New("open failure")
	ErrDuplicateKey     = errors.New("duplicate key")
	ErrRecordLength     = errors.New("record length violation")
	ErrNotFound         = errors.New("record not found")
	ErrIndexMaintenance = errors.New("index maintenance failure")
	ErrSync             = errors.New("sync failure")
	ErrClosed           = errors.New("database is closed")
	ErrNotPositioned    = errors.New("cursor is not positioned on a record")
	ErrUnsupported      = errors.New("operation not supported by access method")
)
