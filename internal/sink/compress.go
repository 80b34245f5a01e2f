package sink

import (
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pingcap/errors"
)

// Codec names a compression algorithm applied to a data file.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGZIP Codec = "gzip"
	CodecZSTD Codec = "zstd"
)

// Extension returns the filename suffix this codec appends, e.g. ".gz".
func (c Codec) Extension() string {
	switch c {
	case CodecGZIP:
		return ".gz"
	case CodecZSTD:
		return ".zst"
	default:
		return ""
	}
}

// compressWriteCloser wraps an underlying io.Writer with the codec's
// compressor; Close flushes and closes the compressor only, leaving the
// underlying writer for the caller to close.
type compressWriteCloser struct {
	io.WriteCloser
}

// newCompressor wraps w with codec's streaming compressor. Using
// klauspost's gzip/zstd implementations (faster than stdlib gzip, and
// zstd has no stdlib equivalent), matching the teacher pack's compression
// stack.
func newCompressor(codec Codec, w io.Writer) (io.WriteCloser, error) {
	switch codec {
	case CodecNone, "":
		return nopCloser{w}, nil
	case CodecGZIP:
		return gzip.NewWriterLevel(w, gzip.BestSpeed)
	case CodecZSTD:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return zw, nil
	default:
		return nil, errors.Errorf("unknown compression codec %q", codec)
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
