package buffer

import "testing"

func TestAppendGrows(t *testing.T) {
	b := New()
	for i := 0; i < 4000; i++ {
		b.AppendByte('x')
	}
	if b.Len() != 4000 {
		t.Fatalf("Len() = %d, want 4000", b.Len())
	}
}

func TestFixedReservation(t *testing.T) {
	b := New()
	b.SetFixedLength(3)
	b.AppendFixedByte('a')
	b.AppendFixed([]byte("bc"))
	if got := string(b.Bytes()); got != "abc" {
		t.Fatalf("Bytes() = %q, want %q", got, "abc")
	}
}

func TestFixedReservationOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on reservation overflow")
		}
	}()
	b := New()
	b.SetFixedLength(1)
	b.AppendFixed([]byte("ab"))
}

func TestClearReusesCapacity(t *testing.T) {
	b := New()
	b.AppendString("hello")
	capBefore := cap(b.Bytes())
	b.Clear()
	if b.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", b.Len())
	}
	b.AppendString("hi")
	if cap(b.Bytes()) != capBefore {
		t.Fatalf("capacity changed after Clear+Append: got %d, want %d", cap(b.Bytes()), capBefore)
	}
}
