package queue

import (
	"sync"
	"testing"
)

func TestQueue_PushPop(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)
	if q.Len() != 3 {
		t.Fatalf("expected len 3, got %d", q.Len())
	}
	if got := q.Pop(); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := q.Pop(); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestQueue_PopEmpty(t *testing.T) {
	q := New[string]()
	if got := q.Pop(); got != "" {
		t.Fatalf("expected zero value, got %q", got)
	}
	if !q.Empty() {
		t.Fatal("expected empty queue")
	}
}

func TestQueue_GetAndEmpty(t *testing.T) {
	q := New[int]()
	q.Push(1, 2, 3)
	items := q.GetAndEmpty()
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after GetAndEmpty")
	}
}

func TestQueue_ConcurrentPush(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q.Push(j)
			}
		}()
	}
	wg.Wait()
	if q.Len() != 1000 {
		t.Fatalf("expected 1000 items, got %d", q.Len())
	}
}
