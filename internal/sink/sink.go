// Package sink abstracts the three output substrates a dump file can land
// on (local disk, remote object storage, in-memory buffering for DDL) and
// layers compression and a parallel-reload index on top.
//
// Grounded on dataWriter's src/util/counting_writer.go (writerWithStats
// wrapping a storage.ExternalFileWriter and reporting byte counts to a
// progress logger) and original_source/modules/util/dump/dump_writer.h
// (the ".dumping" temp-name-then-rename convention and the .idx sidecar
// cadence), built on the same storage.ExternalStorage abstraction the
// teacher's config.GetStore constructs.
package sink

import (
	"context"
	"sync/atomic"

	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/br/pkg/storage"
)

// dumpingSuffix is appended to a data file's name while it is being
// written; File.Close renames it away on success. A file left with this
// suffix after a dump run signals an incomplete, unusable file.
const dumpingSuffix = ".dumping"

// Sink creates File objects rooted at one ExternalStorage backend.
type Sink struct {
	store storage.ExternalStorage
	codec Codec

	bytesWritten atomic.Int64
	filesWritten atomic.Int32
}

// New creates a Sink over the given storage backend and compression codec.
func New(store storage.ExternalStorage, codec Codec) *Sink {
	return &Sink{store: store, codec: codec}
}

// BytesWritten and FilesWritten report cumulative totals across every File
// this Sink has opened, for the progress reporter.
func (s *Sink) BytesWritten() int64 { return s.bytesWritten.Load() }
func (s *Sink) FilesWritten() int32 { return s.filesWritten.Load() }

// WriteDDL writes a whole-file text artifact (schema/table/trigger DDL,
// view placeholders) directly, with no temp-name/rename dance or .idx
// sidecar: DDL files are small and written exactly once, unlike the
// streamed, resumable-by-convention data files Create opens.
func (s *Sink) WriteDDL(ctx context.Context, name, text string) error {
	return errors.Trace(s.store.WriteFile(ctx, name, []byte(text)))
}

// Store exposes the underlying ExternalStorage backend for callers (the
// manifest writer) that need to write JSON artifacts at the same root.
func (s *Sink) Store() storage.ExternalStorage { return s.store }

// File is one dump output file: a name, an optional compressor, and an
// optional .idx sidecar.
type File struct {
	sink        *Sink
	finalName   string
	tempName    string
	withIndex   bool

	rawWriter  storage.ExternalFileWriter
	adapter    *extWriterAdapter
	compressed ioWriteCloser
	idx        *indexWriter
	idxWriter  storage.ExternalFileWriter

	uncompressedBytes uint64
	compressedBytes   int64
	prevAdapterBytes  int64
	rows              int64
	closed            bool
}

// ioWriteCloser is the minimal shape a compression codec's writer exposes.
type ioWriteCloser = interface {
	Write(p []byte) (int, error)
	Close() error
}

// Create opens a new File at name (the sink appends the codec's extension
// and, while open, the ".dumping" suffix). withIndex requests a ".idx"
// sidecar.
func (s *Sink) Create(ctx context.Context, name string, withIndex bool) (*File, error) {
	finalName := name + s.codec.Extension()
	tempName := finalName + dumpingSuffix

	raw, err := s.store.Create(ctx, tempName, &storage.WriterOption{Concurrency: 8})
	if err != nil {
		return nil, errors.Trace(err)
	}

	adapter := &extWriterAdapter{ctx: ctx, w: raw}
	compressed, err := newCompressor(s.codec, adapter)
	if err != nil {
		return nil, errors.Trace(err)
	}

	f := &File{
		sink:       s,
		finalName:  finalName,
		tempName:   tempName,
		withIndex:  withIndex,
		rawWriter:  raw,
		adapter:    adapter,
		compressed: compressed,
	}

	if withIndex {
		idxW, err := s.store.Create(ctx, finalName+".idx", &storage.WriterOption{Concurrency: 1})
		if err != nil {
			return nil, errors.Trace(err)
		}
		f.idxWriter = idxW
		f.idx = newIndexWriter(idxW)
	}

	return f, nil
}

// extWriterAdapter adapts storage.ExternalFileWriter (Write(ctx, []byte))
// to the plain io.Writer shape compression codecs expect, counting the
// post-compression bytes that actually reach the backend — grounded on
// dataWriter's util.writerWithStats, which wraps the same
// storage.ExternalFileWriter to report bytes as they leave the process.
type extWriterAdapter struct {
	ctx     context.Context
	w       storage.ExternalFileWriter
	written int64
}

func (a *extWriterAdapter) Write(p []byte) (int, error) {
	n, err := a.w.Write(a.ctx, p)
	a.written += int64(n)
	return n, err
}

// WriteRow writes one already-encoded row (typically the bytes a
// dialect.Writer produced for a single row) and updates counters and the
// .idx sidecar.
func (f *File) WriteRow(ctx context.Context, row []byte) error {
	n, err := f.compressed.Write(row)
	if err != nil {
		return errors.Trace(err)
	}
	f.uncompressedBytes += uint64(n)
	f.rows++
	f.reportCompressedDelta()

	if f.idx != nil {
		if err := f.idx.observeRow(ctx, f.uncompressedBytes); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes, finalizes the .idx sentinel, closes the underlying
// writers, and renames the temp file to its final name.
func (f *File) Close(ctx context.Context) error {
	if f.closed {
		return nil
	}
	f.closed = true

	if err := f.compressed.Close(); err != nil {
		return errors.Trace(err)
	}
	f.reportCompressedDelta()
	if err := f.rawWriter.Close(ctx); err != nil {
		return errors.Trace(err)
	}

	if f.idx != nil {
		if err := f.idx.finish(ctx, f.uncompressedBytes); err != nil {
			return err
		}
		if err := f.idxWriter.Close(ctx); err != nil {
			return errors.Trace(err)
		}
	}

	if err := f.sink.store.Rename(ctx, f.tempName, f.finalName); err != nil {
		return errors.Trace(err)
	}
	f.sink.filesWritten.Add(1)
	return nil
}

// reportCompressedDelta folds the bytes the compressor has flushed to the
// backend since the last call into the file's and sink's post-compression
// totals. The compressor may buffer several WriteRow calls before
// flushing, so this is eventually consistent, exact by the time Close
// returns.
func (f *File) reportCompressedDelta() {
	delta := f.adapter.written - f.prevAdapterBytes
	if delta == 0 {
		return
	}
	f.prevAdapterBytes = f.adapter.written
	f.compressedBytes += delta
	f.sink.bytesWritten.Add(delta)
}

// Rows and UncompressedBytes report this file's final size for the
// manifest writer.
func (f *File) Rows() int64              { return f.rows }
func (f *File) UncompressedBytes() int64 { return int64(f.uncompressedBytes) }
func (f *File) CompressedBytes() int64   { return f.compressedBytes }
func (f *File) FinalName() string        { return f.finalName }
