package dumper

import (
	"sync/atomic"
	"testing"

	"dumpcore/internal/model"
	"dumpcore/internal/queue"
)

func TestFilterUsersNoFilters(t *testing.T) {
	accounts := []string{"'a'@'%'", "'b'@'%'"}
	got := filterUsers(accounts, nil, nil)
	if len(got) != 2 {
		t.Fatalf("expected both accounts unfiltered, got %v", got)
	}
}

func TestFilterUsersExcludeWins(t *testing.T) {
	accounts := []string{"'a'@'%'", "'b'@'%'", "'c'@'%'"}
	got := filterUsers(accounts, []string{"'a'@'%'", "'b'@'%'"}, []string{"'b'@'%'"})
	if len(got) != 1 || got[0] != "'a'@'%'" {
		t.Fatalf("expected only 'a'@'%%', got %v", got)
	}
}

func TestFilterUsersIncludeRestrictsToSet(t *testing.T) {
	accounts := []string{"'a'@'%'", "'b'@'%'", "'c'@'%'"}
	got := filterUsers(accounts, []string{"'c'@'%'"}, nil)
	if len(got) != 1 || got[0] != "'c'@'%'" {
		t.Fatalf("expected only 'c'@'%%', got %v", got)
	}
}

func TestBasenameMapAssignsOnePerSchema(t *testing.T) {
	d := New(nil, nil)
	schemaTasks := []*model.SchemaTask{{Schema: "s1"}, {Schema: "s2"}}
	got := d.basenameMap(schemaTasks)
	if len(got) != 2 || got["s1"] == "" || got["s2"] == "" {
		t.Fatalf("expected non-empty basenames for both schemas, got %v", got)
	}
	if got["s1"] == got["s2"] {
		t.Fatalf("expected distinct basenames, got the same for both: %v", got)
	}
}

func TestFirstWorkerErrorReportsInterruptWithNoWorkerError(t *testing.T) {
	d := New(nil, nil)
	d.interrupt.Store(true)
	if _, ok := d.firstWorkerError().(InterruptedByUser); !ok {
		t.Fatalf("expected InterruptedByUser with no workers, got %v", d.firstWorkerError())
	}
}

func TestFirstWorkerErrorNilWhenClean(t *testing.T) {
	d := New(nil, nil)
	if err := d.firstWorkerError(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOnTaskDoneClosesDrainedAtZero(t *testing.T) {
	d := New(nil, nil)
	d.enqueue(model.PriorityLow, queue.Task{})
	d.enqueue(model.PriorityLow, queue.Task{})

	d.onTaskDone()
	select {
	case <-d.drained:
		t.Fatal("drained closed too early")
	default:
	}

	d.onTaskDone()
	select {
	case <-d.drained:
	default:
		t.Fatal("expected drained to be closed once pending reaches zero")
	}
}

func TestOnChunkDoneAppendsUnderLock(t *testing.T) {
	d := New(nil, nil)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		go func() {
			d.onChunkDone(model.DumpWriteResult{ChunkID: 1})
			n.Add(1)
		}()
	}
	for n.Load() != 10 {
	}
	if len(d.results) != 10 {
		t.Fatalf("expected 10 recorded results, got %d", len(d.results))
	}
}
