package storage

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// Codec encodes values written to the checkpoint file.
type Codec int

const (
	CodecNone Codec = iota
	CodecSnappy
	CodecLZ4
	CodecZstd
)

var codecNames = map[Codec]string{
	CodecNone:   "none",
	CodecSnappy: "snappy",
	CodecLZ4:    "lz4",
	CodecZstd:   "zstd",
}

func (c Codec) String() string {
	if s, ok := codecNames[c]; ok {
		return s
	}
	return "unknown"
}

// ParseCodec maps a configuration name onto a Codec. Empty means none.
func ParseCodec(s string) (Codec, error) {
	if s == "" {
		return CodecNone, nil
	}
	for c, name := range codecNames {
		if strings.EqualFold(s, name) {
			return c, nil
		}
	}
	return CodecNone, errors.Errorf("unknown compression codec %q", s)
}

var zstdState struct {
	once sync.Once
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	err  error
}

func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdState.once.Do(func() {
		if zstdState.enc, zstdState.err = zstd.NewWriter(nil); zstdState.err != nil {
			return
		}
		zstdState.dec, zstdState.err = zstd.NewReader(nil)
	})
	return zstdState.enc, zstdState.dec, zstdState.err
}

// Encode compresses b. Empty values are stored as-is under every codec.
func (c Codec) Encode(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, nil
	}
	switch c {
	case CodecNone:
		return b, nil
	case CodecSnappy:
		return snappy.Encode(nil, b), nil
	case CodecLZ4:
		var buf bytes.Buffer
		var w = lz4.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecZstd:
		enc, _, err := zstdCoders()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(b, nil), nil
	default:
		return nil, errors.Errorf("unsupported codec %d", int(c))
	}
}

// Decode reverses Encode.
func (c Codec) Decode(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return b, nil
	}
	switch c {
	case CodecNone:
		return b, nil
	case CodecSnappy:
		return snappy.Decode(nil, b)
	case CodecLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(b)))
	case CodecZstd:
		_, dec, err := zstdCoders()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(b, nil)
	default:
		return nil, errors.Errorf("unsupported codec %d", int(c))
	}
}
