package queue

import (
	"testing"
	"time"

	"dumpcore/internal/model"
)

func TestPopReturnsHighestPriorityFirst(t *testing.T) {
	q := New()
	q.Push(model.PriorityLow, Task{Table: &model.TableTask{}})
	q.Push(model.PriorityHigh, Task{Schema: &model.SchemaTask{Schema: "high"}})
	q.Push(model.PriorityMedium, Task{Table: &model.TableTask{Priority: model.PriorityMedium}})

	first := q.Pop()
	if first.Priority != model.PriorityHigh || first.Schema == nil || first.Schema.Schema != "high" {
		t.Fatalf("expected HIGH task first, got %+v", first)
	}

	second := q.Pop()
	if second.Priority != model.PriorityMedium {
		t.Fatalf("expected MEDIUM task second, got priority %v", second.Priority)
	}

	third := q.Pop()
	if third.Priority != model.PriorityLow {
		t.Fatalf("expected LOW task third, got priority %v", third.Priority)
	}
}

func TestPopIsFIFOWithinAPriorityLevel(t *testing.T) {
	q := New()
	for i := 0; i < 3; i++ {
		q.Push(model.PriorityLow, Task{Chunk: &model.ChunkTask{ChunkID: i}})
	}
	for i := 0; i < 3; i++ {
		got := q.Pop()
		if got.Chunk.ChunkID != i {
			t.Fatalf("expected chunk %d, got %d", i, got.Chunk.ChunkID)
		}
	}
}

func TestShutdownTerminatesExactlyNWaiters(t *testing.T) {
	q := New()
	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			task := q.Pop()
			if IsSentinel(task) {
				done <- struct{}{}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond) // let goroutines block in Pop
	q.Shutdown(3)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for a sentinel")
		}
	}
}

func TestPushAfterShutdownIsNoOp(t *testing.T) {
	q := New()
	q.Shutdown(1)
	q.Push(model.PriorityHigh, Task{Schema: &model.SchemaTask{Schema: "late"}})

	task := q.Pop()
	if !IsSentinel(task) {
		t.Fatalf("expected the shutdown sentinel, got %+v", task)
	}
	if q.Len() != 0 {
		t.Fatalf("expected push-after-shutdown to be dropped, queue has %d items", q.Len())
	}
}
