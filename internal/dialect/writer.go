package dialect

import (
	"github.com/pingcap/errors"

	"dumpcore/internal/buffer"
	"dumpcore/internal/model"
)

// escapeMnemonics maps the six ASCII control bytes that get a short
// mnemonic escape (per original_source's Dump_writer::store_field) to
// their letter; all other escaped bytes are emitted as the literal byte.
var escapeMnemonics = map[byte]byte{
	0x00: '0',
	'\b': 'b',
	'\n': 'n',
	'\r': 'r',
	'\t': 't',
	0x1A: 'Z',
}

// Writer encodes rows for one dialect. Its five defining parameters are
// copied into plain fields once at construction (NewWriter), so the
// per-field hot loop in WriteRow never looks up the dialect Table or
// dispatches on the dialect name — it reads its own fields (escaped
// payload bytes are still checked against the escapeMnemonics map),
// approximating the effect of the
// original's compile-time template specialization without duplicating the
// loop body per dialect combination.
type Writer struct {
	buf *buffer.Buffer

	linesTerminatedBy  string
	fieldsTerminatedBy string
	enclosedBy         byte
	hasEnclosure       bool
	escapedBy          byte
	hasEscape          bool
	optionallyEnclosed bool
}

// NewWriter builds a Writer for the given dialect.
func NewWriter(name Name) (*Writer, error) {
	p, ok := Table[name]
	if !ok {
		return nil, errors.Errorf("unknown dialect %q", name)
	}
	return &Writer{
		buf:                buffer.New(),
		linesTerminatedBy:  p.LinesTerminatedBy,
		fieldsTerminatedBy: p.FieldsTerminatedBy,
		enclosedBy:         p.FieldsEnclosedBy,
		hasEnclosure:       p.HasEnclosure,
		escapedBy:          p.FieldsEscapedBy,
		hasEscape:          p.HasEscape,
		optionallyEnclosed: p.OptionallyEnclosed,
	}, nil
}

// Buffer exposes the writer's accumulation buffer so the caller can flush
// it to a sink and Reset it between flushes.
func (w *Writer) Buffer() *buffer.Buffer { return w.buf }

// Reset clears the writer's buffer after its contents have been flushed.
func (w *Writer) Reset() { w.buf.Clear() }

// WritePreamble is a no-op for every current dialect (none of default,
// csv, csv_unix, tsv, or json emit a header); it exists so a future
// dialect needing one (e.g. a header row) has a hook.
func (w *Writer) WritePreamble(_ []model.ColumnInfo) {}

// WritePostamble is a no-op: none of the five dialects need a file
// trailer (unlike, say, a closing JSON array bracket — which this format
// deliberately avoids to keep per-row streaming append-only).
func (w *Writer) WritePostamble() {}

// WriteRow encodes one row into the writer's buffer and returns the
// number of bytes appended. values[i] is nil when isNull[i] is true;
// values[i] is the already-TO_BASE64/HEX-wrapped payload for CSVUnsafe
// columns, which WriteRow treats as ordinary string payload.
func (w *Writer) WriteRow(cols []model.ColumnInfo, values [][]byte, isNull []bool) int {
	start := w.buf.Len()

	for i, col := range cols {
		if i > 0 {
			w.buf.AppendString(w.fieldsTerminatedBy)
		}

		if isNull[i] {
			w.appendNull()
			continue
		}

		field := values[i]
		if col.IsNumeric && looksLikeNonNumeric(field) {
			w.appendNull()
			continue
		}

		enclose := w.hasEnclosure && (!col.IsNumeric || !w.optionallyEnclosed)
		if enclose {
			w.buf.AppendByte(w.enclosedBy)
		}
		if w.hasEscape {
			w.appendEscaped(field)
		} else {
			w.buf.Append(field)
		}
		if enclose {
			w.buf.AppendByte(w.enclosedBy)
		}
	}

	w.buf.AppendString(w.linesTerminatedBy)
	return w.buf.Len() - start
}

// looksLikeNonNumeric implements the spec's NaN/Inf coercion: a numeric
// column whose first non-'-' byte is alphabetic came back as "inf",
// "-inf", or "nan" from the database and cannot be parsed back by
// LOAD DATA, so it is emitted as NULL instead. This is deliberately
// lossy and must not be "fixed" to preserve the literal value.
func looksLikeNonNumeric(field []byte) bool {
	b := field
	if len(b) > 0 && b[0] == '-' {
		b = b[1:]
	}
	return len(b) > 0 && isAlpha(b[0])
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func (w *Writer) appendNull() {
	if w.hasEscape {
		w.buf.AppendByte(w.escapedBy)
		w.buf.AppendByte('N')
		return
	}
	w.buf.AppendString("NULL")
}

// appendEscaped scans payload for bytes requiring an escape: the escape
// byte itself, the mnemonic-escaped control bytes, and then either the
// enclosure byte (when the dialect has one) or, for dialects without an
// enclosure, the first byte of the field and line terminators. Inside an
// enclosure a field terminator is left unescaped (csv: `"c,d"`).
func (w *Writer) appendEscaped(payload []byte) {
	w.buf.WillWrite(len(payload) * 2)

	fieldFirst := byte(0)
	if len(w.fieldsTerminatedBy) > 0 {
		fieldFirst = w.fieldsTerminatedBy[0]
	}
	lineFirst := byte(0)
	if len(w.linesTerminatedBy) > 0 {
		lineFirst = w.linesTerminatedBy[0]
	}

	for _, c := range payload {
		if mnemonic, ok := escapeMnemonics[c]; ok {
			w.buf.AppendByte(w.escapedBy)
			w.buf.AppendByte(mnemonic)
			continue
		}
		if c == w.escapedBy || (w.hasEnclosure && c == w.enclosedBy) ||
			(!w.hasEnclosure && (c == fieldFirst || c == lineFirst)) {
			w.buf.AppendByte(w.escapedBy)
			w.buf.AppendByte(c)
			continue
		}
		w.buf.AppendByte(c)
	}
}
