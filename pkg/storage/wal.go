package storage

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// [CRC32 4B] [Op 1B] [Dup 8B] [KeyLen 4B] [ValLen 4B] [Key NB] [Value NB]

const (
	HeaderSize = 4 + 1 + 8 + 4 + 4 // 21 Bytes
	// MaxFieldSize bounds a frame's key or value.
	MaxFieldSize = 1 << 30
)

// Op is the mutation kind carried by a WAL frame.
type Op byte

const (
	OpPut      Op = 0x01
	OpDelete   Op = 0x02
	OpTruncate Op = 0x03
)

// ErrCorrupt is returned by WALIterator.Next on a torn or mismatched frame.
var ErrCorrupt = errors.New("wal: corrupted frame")

// WALEntry is one logged mutation of a (key, dup) entry.
type WALEntry struct {
	Op    Op
	Dup   uint64
	Key   []byte
	Value []byte
}

type WAL struct {
	fs   afero.Fs
	path string
	file afero.File
	mu   sync.Mutex
	buf  *bufio.Writer

	maxField int
}

func OpenWAL(fs afero.Fs, path string) (*WAL, error) {
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &WAL{
		fs:   fs,
		path: path,
		file: f,
		buf:  bufio.NewWriter(f),

		maxField: MaxFieldSize,
	}, nil
}

// Path of the log file.
func (w *WAL) Path() string { return w.path }

// Append frames and flushes e. Keys or values larger than MaxFieldSize are
// rejected, as they could not be read back.
func (w *WAL) Append(e WALEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(e.Key) > w.maxField || len(e.Value) > w.maxField {
		return errors.Errorf("wal: frame of %d/%d bytes exceeds the %d byte field limit",
			len(e.Key), len(e.Value), w.maxField)
	}

	header := make([]byte, HeaderSize)
	header[4] = byte(e.Op)
	binary.LittleEndian.PutUint64(header[5:13], e.Dup)
	binary.LittleEndian.PutUint32(header[13:17], uint32(len(e.Key)))
	binary.LittleEndian.PutUint32(header[17:21], uint32(len(e.Value)))

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(e.Key)
	checksum.Write(e.Value)
	binary.LittleEndian.PutUint32(header[0:4], checksum.Sum32())

	if _, err := w.buf.Write(header); err != nil {
		return err
	}
	if _, err := w.buf.Write(e.Key); err != nil {
		return err
	}
	if _, err := w.buf.Write(e.Value); err != nil {
		return err
	}

	return w.buf.Flush()
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	f, err := w.fs.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	return w.file.Sync()
}

func (w *WAL) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type WALIterator struct {
	reader *bufio.Reader
	file   afero.File
}

func (w *WAL) NewIterator() (*WALIterator, error) {
	w.mu.Lock()
	err := w.buf.Flush()
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}

	f, err := w.fs.Open(w.path)
	if err != nil {
		return nil, err
	}
	return &WALIterator{
		file:   f,
		reader: bufio.NewReader(f),
	}, nil
}

// Next returns the next frame, io.EOF at a clean end of log, or ErrCorrupt
// when the remaining bytes do not form a valid frame.
func (it *WALIterator) Next() (WALEntry, error) {
	header := make([]byte, HeaderSize)
	if n, err := io.ReadFull(it.reader, header); err == io.EOF {
		return WALEntry{}, io.EOF
	} else if err != nil {
		return WALEntry{}, errors.WithMessagef(ErrCorrupt, "torn header (%d bytes)", n)
	}

	storedCRC := binary.LittleEndian.Uint32(header[0:4])
	e := WALEntry{
		Op:  Op(header[4]),
		Dup: binary.LittleEndian.Uint64(header[5:13]),
	}
	keySize := binary.LittleEndian.Uint32(header[13:17])
	valSize := binary.LittleEndian.Uint32(header[17:21])

	if keySize > MaxFieldSize || valSize > MaxFieldSize {
		return WALEntry{}, errors.WithMessagef(ErrCorrupt, "frame sizes %d/%d out of range", keySize, valSize)
	}

	e.Key = make([]byte, keySize)
	if _, err := io.ReadFull(it.reader, e.Key); err != nil {
		return WALEntry{}, errors.WithMessage(ErrCorrupt, "torn key")
	}
	e.Value = make([]byte, valSize)
	if _, err := io.ReadFull(it.reader, e.Value); err != nil {
		return WALEntry{}, errors.WithMessage(ErrCorrupt, "torn value")
	}

	checksum := crc32.NewIEEE()
	checksum.Write(header[4:])
	checksum.Write(e.Key)
	checksum.Write(e.Value)
	if checksum.Sum32() != storedCRC {
		return WALEntry{}, errors.WithMessage(ErrCorrupt, "crc mismatch")
	}

	return e, nil
}

func (it *WALIterator) Close() {
	it.file.Close()
}
