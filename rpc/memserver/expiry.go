package memserver

import (
	"container/heap"
	"time"
)

// expiryItem is one key scheduled for expiry
type expiryItem[K comparable] struct {
	key      K
	deadline int64 // unix nanoseconds
	index    int   // maintained by container/heap
}

// expiryQueue is a min-heap of deadlines with an index by key, so a key
// can be rescheduled or dropped in O(log n). It is not safe for concurrent
// use, the server guards it with its store lock.
type expiryQueue[K comparable] struct {
	items []*expiryItem[K]
	byKey map[K]*expiryItem[K]
}

func newExpiryQueue[K comparable]() *expiryQueue[K] {
	return &expiryQueue[K]{byKey: make(map[K]*expiryItem[K])}
}

// heap.Interface

func (q *expiryQueue[K]) Len() int { return len(q.items) }

func (q *expiryQueue[K]) Less(i, j int) bool {
	return q.items[i].deadline < q.items[j].deadline
}

func (q *expiryQueue[K]) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *expiryQueue[K]) Push(x any) {
	it := x.(*expiryItem[K])
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.byKey[it.key] = it
}

func (q *expiryQueue[K]) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	q.items = old[:n-1]
	delete(q.byKey, it.key)
	return it
}

// schedule sets or moves the deadline of key
func (q *expiryQueue[K]) schedule(key K, deadline time.Time) {
	if it, ok := q.byKey[key]; ok {
		it.deadline = deadline.UnixNano()
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, &expiryItem[K]{key: key, deadline: deadline.UnixNano()})
}

// cancel drops key from the queue, it reports whether key was scheduled
func (q *expiryQueue[K]) cancel(key K) bool {
	it, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(q, it.index)
	return true
}

// popExpired removes and returns every key whose deadline is not after now
func (q *expiryQueue[K]) popExpired(now time.Time) []K {
	var keys []K
	limit := now.UnixNano()
	for len(q.items) > 0 && q.items[0].deadline <= limit {
		keys = append(keys, heap.Pop(q).(*expiryItem[K]).key)
	}
	return keys
}

// next returns the earliest deadline
func (q *expiryQueue[K]) next() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, q.items[0].deadline), true
}

// reset drops every scheduled key
func (q *expiryQueue[K]) reset() {
	q.items = nil
	q.byKey = make(map[K]*expiryItem[K])
}
