package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestQueueDrainsInFIFOOrder(t *testing.T) {
	runner := NewRunner(fastPolicy(1), zerolog.Nop())
	q := NewQueue(runner, zerolog.Nop())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	q.Enqueue("first", record("first"), nil)
	q.Enqueue("second", record("second"), nil)
	q.Enqueue("third", record("third"), nil)

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	q.Drain(context.Background())

	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0", q.Len())
	}

	want := []string{"first", "second", "third"}
	if len(order) != len(want) {
		t.Fatalf("ran %d ops, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestQueueDropsOperationsThatKeepFailing(t *testing.T) {
	runner := NewRunner(fastPolicy(2), zerolog.Nop())
	q := NewQueue(runner, zerolog.Nop())

	failCalls := 0
	var hookErr error
	q.Enqueue("doomed", func(ctx context.Context) error {
		failCalls++
		return errors.New("still broken")
	}, func(ctx context.Context, err error) {
		hookErr = err
	})

	okRan := false
	q.Enqueue("fine", func(ctx context.Context) error {
		okRan = true
		return nil
	}, nil)

	q.Drain(context.Background())

	if failCalls != 2 {
		t.Errorf("failing op called %d times, want 2 (retry budget)", failCalls)
	}
	if hookErr == nil {
		t.Error("failure hook did not run for the dropped op")
	}
	if !okRan {
		t.Error("subsequent op did not run after a failed one was dropped")
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d, want 0 (failed ops are not requeued)", q.Len())
	}
}

func TestQueueRequeuesOnCancelledDrain(t *testing.T) {
	runner := NewRunner(fastPolicy(1), zerolog.Nop())
	q := NewQueue(runner, zerolog.Nop())

	q.Enqueue("pending", func(ctx context.Context) error { return nil }, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Drain(ctx)

	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1 (op kept for the next drain)", q.Len())
	}
}

func TestManagerQueuesWhileOffline(t *testing.T) {
	m := NewManager(fastPolicy(1), "http://127.0.0.1:0/probe", time.Hour, zerolog.Nop())
	m.Monitor.setOnline(false)

	ran := make(chan struct{})
	err := m.Execute(context.Background(), "deferred", func(ctx context.Context) error {
		close(ran)
		return nil
	}, nil)

	if !errors.Is(err, ErrQueuedOffline) {
		t.Fatalf("Execute = %v, want ErrQueuedOffline", err)
	}
	select {
	case <-ran:
		t.Fatal("op ran while offline")
	default:
	}

	st := m.Status()
	if st.Online {
		t.Error("Status.Online = true, want false")
	}
	if st.QueueDepth != 1 {
		t.Errorf("Status.QueueDepth = %d, want 1", st.QueueDepth)
	}

	// Reconnect fires the drain callback.
	m.Monitor.setOnline(true)

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("queued op did not run after reconnect")
	}
}

func TestManagerRunsDirectlyWhileOnline(t *testing.T) {
	m := NewManager(fastPolicy(1), "http://127.0.0.1:0/probe", time.Hour, zerolog.Nop())

	ran := false
	err := m.Execute(context.Background(), "direct", func(ctx context.Context) error {
		ran = true
		return nil
	}, nil)

	if err != nil {
		t.Fatalf("Execute = %v, want nil", err)
	}
	if !ran {
		t.Error("op did not run while online")
	}
	if m.Queue.Len() != 0 {
		t.Errorf("QueueDepth = %d, want 0", m.Queue.Len())
	}
}

func TestManagerRunsFailureHookOnTerminalError(t *testing.T) {
	m := NewManager(fastPolicy(2), "http://127.0.0.1:0/probe", time.Hour, zerolog.Nop())

	var hookErr error
	err := m.Execute(context.Background(), "broken", func(ctx context.Context) error {
		return errors.New("still broken")
	}, func(ctx context.Context, err error) {
		hookErr = err
	})

	if err == nil {
		t.Fatal("Execute = nil, want error")
	}
	if hookErr == nil {
		t.Error("failure hook did not run after retries were exhausted")
	}
}
