package queue

import (
	"testing"
	"time"
)

func TestNextReadyOrdersByDue(t *testing.T) {
	base := time.Unix(100, 0)
	pq := NewPriorityQueue[string]()
	pq.Push("late", 0, base.Add(3*time.Second))
	pq.Push("early", 0, base.Add(time.Second))
	pq.Push("middle", 0, base.Add(2*time.Second))

	if _, ok := pq.NextReady(base); ok {
		t.Fatal("NextReady returned an item before any was due")
	}

	now := base.Add(5 * time.Second)
	for _, want := range []string{"early", "middle", "late"} {
		got, ok := pq.NextReady(now)
		if !ok {
			t.Fatalf("NextReady() ok = false, want %q", want)
		}
		if got != want {
			t.Errorf("NextReady() = %q, want %q", got, want)
		}
	}
	if pq.Len() != 0 {
		t.Errorf("Len() = %d, want 0", pq.Len())
	}
}

func TestPriorityBreaksTies(t *testing.T) {
	due := time.Unix(0, 0)
	pq := NewPriorityQueue[int]()
	pq.Push(1, 1, due)
	pq.Push(2, 5, due)

	got, _ := pq.NextReady(due)
	if got != 2 {
		t.Errorf("NextReady() = %d, want 2", got)
	}
}

func TestPeekAndClear(t *testing.T) {
	pq := NewPriorityQueue[int]()
	if _, ok := pq.Peek(); ok {
		t.Fatal("Peek() on empty queue ok = true")
	}
	pq.Push(7, 0, time.Unix(1, 0))
	item, ok := pq.Peek()
	if !ok || item.Value != 7 {
		t.Errorf("Peek() = %v, %v, want 7, true", item.Value, ok)
	}
	pq.Clear()
	if pq.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", pq.Len())
	}
}
