package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/courier/internal/command"
)

// item is one command held by a queue.
type item struct {
	cmd     *command.Command
	readyAt time.Time
	index   int
}

// itemHeap orders items by (priority class, creation id).
type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].cmd.Before(h[j].cmd) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// orderedQueue is a priority queue of commands indexed by identity.
// Mutations happen under the owning Set's lock; the queue's own lock lets
// readers (Size, snapshots) run without blocking on the set.
type orderedQueue struct {
	typ Type

	mu    sync.RWMutex
	heap  itemHeap
	index map[command.Key]*item
}

func newOrderedQueue(t Type) *orderedQueue {
	return &orderedQueue{
		typ:   t,
		index: make(map[command.Key]*item),
	}
}

func (q *orderedQueue) push(cmd *command.Command, readyAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := cmd.Key()
	if existing, ok := q.index[key]; ok {
		heap.Remove(&q.heap, existing.index)
	}
	it := &item{cmd: cmd, readyAt: readyAt}
	heap.Push(&q.heap, it)
	q.index[key] = it
}

// replace swaps the stored command for key, keeping its ready time.
func (q *orderedQueue) replace(key command.Key, cmd *command.Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[key]
	if !ok {
		return false
	}
	it.cmd = cmd
	heap.Fix(&q.heap, it.index)
	return true
}

func (q *orderedQueue) get(key command.Key) (*item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	it, ok := q.index[key]
	return it, ok
}

func (q *orderedQueue) remove(key command.Key) (*command.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.index[key]
	if !ok {
		return nil, false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.index, key)
	return it.cmd, true
}

func (q *orderedQueue) pop() (*command.Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.heap).(*item)
	delete(q.index, it.cmd.Key())
	return it.cmd, true
}

func (q *orderedQueue) len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.heap)
}

// items returns a copy of the queue contents in execution order.
func (q *orderedQueue) items() []item {
	q.mu.RLock()
	out := make([]item, len(q.heap))
	for i, it := range q.heap {
		out[i] = *it
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].cmd.Before(out[j].cmd) })
	return out
}

func (q *orderedQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = nil
	q.index = make(map[command.Key]*item)
}
