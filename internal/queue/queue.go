// Package queue implements the dumper's priority task queue: three
// priority levels (HIGH for DDL, MEDIUM for chunking, LOW for row
// streaming), FIFO within a level, blocking pop, and an ordered shutdown
// protocol (spec §4.6).
//
// Grounded on container/heap's documented producer/consumer pattern (the
// standard-library idiom for this shape) combined with sync.Cond for
// blocking pop — no pack example repo carries a hand-rolled priority
// queue to imitate instead, so this is a deliberate stdlib-only
// component; see DESIGN.md for that justification.
package queue

import (
	"container/heap"
	"sync"

	"dumpcore/internal/model"
)

// Task is one unit of work a worker pulls from the queue. A Task that
// Shutdown enqueued (see IsSentinel) is the shutdown sentinel: a worker
// that pops one must exit.
type Task struct {
	Priority model.Priority
	Schema   *model.SchemaTask
	Table    *model.TableTask
	Chunk    *model.ChunkTask
}

// item wraps a Task with the sequence number that gives FIFO ordering
// within a priority level.
type item struct {
	task Task
	seq  uint64
}

type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority // HIGH first
	}
	return h[i].seq < h[j].seq // FIFO within a level
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Queue is a bounded-nothing, multi-producer multi-consumer priority
// queue. Push is rejected once Shutdown has been called.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	heap     itemHeap
	nextSeq  uint64
	shutdown bool
}

// New builds an empty Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues task at priority p. It is a no-op once Shutdown has been
// called, matching spec §4.6's "no new tasks are accepted after
// shutdown."
func (q *Queue) Push(p model.Priority, task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	task.Priority = p
	heap.Push(&q.heap, &item{task: task, seq: q.nextSeq})
	q.nextSeq++
	q.cond.Signal()
}

// Pop blocks until a task is available and returns it. Use IsSentinel to
// check whether the returned task is a shutdown signal.
func (q *Queue) Pop() Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() == 0 {
		q.cond.Wait()
	}
	it := heap.Pop(&q.heap).(*item)
	return it.task
}

// sentinelPriority is deliberately out of band (higher than HIGH) so
// shutdown sentinels are popped ahead of every task still waiting,
// whatever its priority — workers drain promptly, matching spec §4.6's
// "shutdown(n) ... terminate exactly n waiting workers."
const sentinelPriority model.Priority = 1<<31 - 1

// IsSentinel reports whether t is a shutdown sentinel popped from the
// queue; a worker that receives one must stop pulling further tasks.
func IsSentinel(t Task) bool { return t.Priority == sentinelPriority }

// Shutdown stops accepting new Push calls and enqueues n sentinel tasks,
// terminating exactly n waiting/future Pop callers (spec §4.6).
func (q *Queue) Shutdown(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shutdown = true
	for i := 0; i < n; i++ {
		heap.Push(&q.heap, &item{task: Task{Priority: sentinelPriority}, seq: q.nextSeq})
		q.nextSeq++
	}
	q.cond.Broadcast()
}

// Len reports the number of tasks currently waiting, for diagnostics.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}
