package sink

import (
	"context"
	"encoding/binary"

	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/br/pkg/storage"
)

// idxRowInterval is the row cadence at which an offset is appended to the
// .idx sidecar, per original_source's dumper.cc (500-row idx counter).
const idxRowInterval = 500

// indexWriter appends network-byte-order (big-endian) uint64 cumulative
// uncompressed byte offsets to a file's ".idx" sidecar every 500 rows,
// plus a final sentinel of the total uncompressed byte count. This lets a
// parallel reload seek into a compressed stream without decompressing it
// from the start.
type indexWriter struct {
	w             storage.ExternalFileWriter
	rowsSinceLast int
	closed        bool
}

func newIndexWriter(w storage.ExternalFileWriter) *indexWriter {
	return &indexWriter{w: w}
}

// observeRow is called after each row is written, with the cumulative
// uncompressed byte count written so far.
func (iw *indexWriter) observeRow(ctx context.Context, cumulativeBytes uint64) error {
	if iw.w == nil {
		return nil
	}
	iw.rowsSinceLast++
	if iw.rowsSinceLast < idxRowInterval {
		return nil
	}
	iw.rowsSinceLast = 0
	return iw.appendOffset(ctx, cumulativeBytes)
}

// finish appends the final total-bytes sentinel.
func (iw *indexWriter) finish(ctx context.Context, totalBytes uint64) error {
	if iw.w == nil || iw.closed {
		return nil
	}
	iw.closed = true
	return iw.appendOffset(ctx, totalBytes)
}

func (iw *indexWriter) close(ctx context.Context) error {
	if iw.w == nil {
		return nil
	}
	return iw.w.Close(ctx)
}

func (iw *indexWriter) appendOffset(ctx context.Context, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	_, err := iw.w.Write(ctx, buf[:])
	return errors.Trace(err)
}
