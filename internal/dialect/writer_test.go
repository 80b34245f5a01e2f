package dialect

import (
	"testing"

	"dumpcore/internal/model"
)

func TestCSVDialectRowEncoding(t *testing.T) {
	// Mirrors the spec's testable CSV scenario: rows (1,"a"), (2,NULL),
	// (3,"c,d") must encode as `1,"a"\r\n2,\N\r\n3,"c,d"\r\n`.
	w, err := NewWriter(CSV)
	if err != nil {
		t.Fatal(err)
	}
	cols := []model.ColumnInfo{
		{Name: "id", IsNumeric: true},
		{Name: "v", IsNumeric: false},
	}

	w.WriteRow(cols, [][]byte{[]byte("1"), []byte("a")}, []bool{false, false})
	w.WriteRow(cols, [][]byte{[]byte("2"), nil}, []bool{false, true})
	w.WriteRow(cols, [][]byte{[]byte("3"), []byte("c,d")}, []bool{false, false})

	want := "1,\"a\"\r\n2,\\N\r\n3,\"c,d\"\r\n"
	if got := string(w.Buffer().Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDefaultDialectEscaping(t *testing.T) {
	w, err := NewWriter(Default)
	if err != nil {
		t.Fatal(err)
	}
	cols := []model.ColumnInfo{{Name: "v", IsNumeric: false}}
	w.WriteRow(cols, [][]byte{[]byte("a\tb\nc")}, []bool{false})

	want := "a\\tb\\nc\n"
	if got := string(w.Buffer().Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNumericNonNumericCoercedToNull(t *testing.T) {
	w, err := NewWriter(TSV)
	if err != nil {
		t.Fatal(err)
	}
	cols := []model.ColumnInfo{{Name: "v", IsNumeric: true}}
	w.WriteRow(cols, [][]byte{[]byte("-inf")}, []bool{false})

	want := "\\N\r\n"
	if got := string(w.Buffer().Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestJSONDialectNoEscapeNoEnclosure(t *testing.T) {
	w, err := NewWriter(JSON)
	if err != nil {
		t.Fatal(err)
	}
	cols := []model.ColumnInfo{{Name: "v", IsNumeric: false}}
	w.WriteRow(cols, [][]byte{[]byte(`{"a":1}`)}, []bool{false})

	want := "{\"a\":1}\n"
	if got := string(w.Buffer().Bytes()); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
