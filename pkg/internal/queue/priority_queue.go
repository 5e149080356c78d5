package queue

import (
	"container/heap"
	"sync"
	"time"
)

// Item is one scheduled entry.
type Item[T any] struct {
	Value    T
	Priority int       // Breaks ties between equal due times (higher first)
	Due      time.Time // When the item becomes ready
	index    int
}

// PriorityQueue orders values by due time, then priority.
// The reassembler uses it to schedule idle-context expiry checks.
type PriorityQueue[T any] struct {
	items itemHeap[T]
	mu    sync.Mutex
}

// NewPriorityQueue creates a new priority queue
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	pq := &PriorityQueue[T]{
		items: make(itemHeap[T], 0),
	}
	heap.Init(&pq.items)
	return pq
}

// Push adds an item to the queue
func (pq *PriorityQueue[T]) Push(value T, priority int, due time.Time) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	heap.Push(&pq.items, &Item[T]{
		Value:    value,
		Priority: priority,
		Due:      due,
	})
}

// Peek returns the earliest item without removing it.
func (pq *PriorityQueue[T]) Peek() (Item[T], bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 {
		return Item[T]{}, false
	}
	return *pq.items[0], true
}

// NextReady pops the earliest item if its due time is not after now.
func (pq *PriorityQueue[T]) NextReady(now time.Time) (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	var zero T
	if pq.items.Len() == 0 {
		return zero, false
	}
	if now.Before(pq.items[0].Due) {
		return zero, false
	}
	item := heap.Pop(&pq.items).(*Item[T])
	return item.Value, true
}

// Len returns the number of items in the queue
func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.items.Len()
}

// Clear removes all items
func (pq *PriorityQueue[T]) Clear() {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.items = make(itemHeap[T], 0)
	heap.Init(&pq.items)
}

// itemHeap implements heap.Interface
type itemHeap[T any] []*Item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].Due.Before(h[j].Due) {
		return true
	}
	if h[j].Due.Before(h[i].Due) {
		return false
	}
	return h[i].Priority > h[j].Priority
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	item := x.(*Item[T])
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
