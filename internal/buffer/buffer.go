// Package buffer implements the growable byte buffer the dialect writer
// encodes rows into before they are flushed to a file sink.
//
// Grounded on original_source/modules/util/dump/dump_writer.h's nested
// Buffer class: callers reserve a fixed-length budget for a unit of work
// (a row) with SetFixedLength/WillWrite, then emit bytes with AppendFixed
// (debited against the reservation) or Append (unbounded, growing the
// buffer on demand). Capacity grows by doubling, mirroring Buffer::resize.
package buffer

const defaultCapacity = 1024

// Buffer is a growable byte buffer with a "fixed-length reservation"
// discipline: before encoding a row, the caller computes the row's exact
// encoded length and reserves it once with SetFixedLength, then emits
// bytes with AppendFixed, which never triggers a resize because the
// reservation already guaranteed the capacity exists.
type Buffer struct {
	data                  []byte
	fixedLengthRemaining  int
}

// New creates an empty Buffer with the default initial capacity.
func New() *Buffer {
	return &Buffer{data: make([]byte, 0, defaultCapacity)}
}

// Len returns the number of bytes currently stored.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the buffer's contents. The slice is invalidated by the
// next Clear.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Clear empties the buffer without releasing its backing array.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.fixedLengthRemaining = 0
}

// SetFixedLength reserves capacity for exactly n more bytes, to be written
// via AppendFixed/AppendFixedString. Call this once per row, with the
// row's pre-computed encoded length.
func (b *Buffer) SetFixedLength(n int) {
	b.willWrite(n)
	b.fixedLengthRemaining = n
}

// WillWrite grows the buffer so that n more bytes can be appended without
// a further resize, without affecting the fixed-length reservation. Used
// for writes whose length isn't known until encoding time (e.g. escaped
// fields), where the caller over-reserves.
func (b *Buffer) WillWrite(n int) {
	b.willWrite(n)
}

func (b *Buffer) willWrite(n int) {
	need := len(b.data) + n
	if need <= cap(b.data) {
		return
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = defaultCapacity
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// AppendFixedByte appends a single byte debited against the fixed-length
// reservation set up by SetFixedLength. Panics if the reservation is
// exhausted — a sign the caller mis-sized the reservation.
func (b *Buffer) AppendFixedByte(c byte) {
	if b.fixedLengthRemaining < 1 {
		panic("buffer: AppendFixedByte exceeds fixed-length reservation")
	}
	b.data = append(b.data, c)
	b.fixedLengthRemaining--
}

// AppendByte grows the buffer as needed and appends a single byte, outside
// of any fixed-length reservation.
func (b *Buffer) AppendByte(c byte) {
	b.willWrite(1)
	b.data = append(b.data, c)
}

// AppendFixed appends bytes debited against the fixed-length reservation.
func (b *Buffer) AppendFixed(p []byte) {
	if b.fixedLengthRemaining < len(p) {
		panic("buffer: AppendFixed exceeds fixed-length reservation")
	}
	b.data = append(b.data, p...)
	b.fixedLengthRemaining -= len(p)
}

// AppendFixedString is the string-argument form of AppendFixed.
func (b *Buffer) AppendFixedString(s string) {
	if b.fixedLengthRemaining < len(s) {
		panic("buffer: AppendFixedString exceeds fixed-length reservation")
	}
	b.data = append(b.data, s...)
	b.fixedLengthRemaining -= len(s)
}

// Append grows the buffer as needed and appends p, outside of any
// fixed-length reservation. Used for unbounded escaping where the
// resulting length is only known once encoding completes.
func (b *Buffer) Append(p []byte) {
	b.willWrite(len(p))
	b.data = append(b.data, p...)
}

// AppendString is the string-argument form of Append.
func (b *Buffer) AppendString(s string) {
	b.willWrite(len(s))
	b.data = append(b.data, s...)
}
