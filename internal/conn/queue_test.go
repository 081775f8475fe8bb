package conn

import (
	"fmt"
	"testing"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 5; i++ {
		q.Push([]byte(fmt.Sprintf("msg-%d", i)))
	}

	out := q.Drain()
	if len(out) != 5 {
		t.Fatalf("expected 5 payloads, got %d", len(out))
	}
	for i, payload := range out {
		if string(payload) != fmt.Sprintf("msg-%d", i) {
			t.Fatalf("payload %d out of order: %s", i, payload)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after drain, got %d", q.Len())
	}
}

func TestQueueDropsOldestOnOverflow(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		evicted := q.Push([]byte(fmt.Sprintf("msg-%d", i)))
		if i < 3 && evicted {
			t.Fatalf("unexpected eviction at push %d", i)
		}
		if i >= 3 && !evicted {
			t.Fatalf("expected eviction at push %d", i)
		}
	}

	out := q.Drain()
	if len(out) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(out))
	}
	for i, want := range []string{"msg-2", "msg-3", "msg-4"} {
		if string(out[i]) != want {
			t.Fatalf("payload %d: expected %s, got %s", i, want, out[i])
		}
	}
	if q.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", q.Dropped())
	}
}

func TestQueueZeroCapacityDropsEverything(t *testing.T) {
	q := NewQueue(0)
	if !q.Push([]byte("msg")) {
		t.Fatal("expected push to report a drop")
	}
	if q.Len() != 0 || q.Dropped() != 1 {
		t.Fatalf("expected nothing buffered, got len=%d dropped=%d", q.Len(), q.Dropped())
	}
}
