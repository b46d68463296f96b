package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "poweronbot/pkg/logx"
)

func TestQueueFIFOOrder(t *testing.T) {
	t.Parallel()
	q := New(16, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		err := q.Enqueue(Unit{Name: "ordered", Run: func(context.Context) error {
			mu.Lock()
			got = append(got, i)
			if len(got) == 5 {
				close(done)
			}
			mu.Unlock()
			return nil
		}})
		if err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("units did not complete")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("execution order %v, want ascending", got)
		}
	}
}

func TestQueueFailureDoesNotBlockNextUnit(t *testing.T) {
	t.Parallel()
	q := New(16, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	done := make(chan struct{})
	if err := q.Enqueue(Unit{Name: "failing", Run: func(context.Context) error {
		return errors.New("boom")
	}}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(Unit{Name: "panicking", Run: func(context.Context) error {
		panic("boom")
	}}); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(Unit{Name: "after", Run: func(context.Context) error {
		close(done)
		return nil
	}}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("unit after a failure never ran")
	}
}

func TestQueueSingleWorkerNoOverlap(t *testing.T) {
	t.Parallel()
	q := New(16, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	var (
		mu      sync.Mutex
		running int
		overlap bool
	)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		if err := q.Enqueue(Unit{Name: "unit", Run: func(context.Context) error {
			defer wg.Done()
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return nil
		}}); err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()
	if overlap {
		t.Fatal("two units executed concurrently")
	}
}

func TestQueueRejectsAfterStop(t *testing.T) {
	t.Parallel()
	q := New(4, logx.Nop())
	q.Start(context.Background())
	q.Stop(context.Background())

	err := q.Enqueue(Unit{Name: "late", Run: func(context.Context) error { return nil }})
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Enqueue after Stop = %v, want ErrStopped", err)
	}
}

func TestQueueFullRejects(t *testing.T) {
	t.Parallel()
	// Not started: nothing drains the queue.
	q := New(1, logx.Nop())
	q.Start(context.Background())
	defer q.Stop(context.Background())

	block := make(chan struct{})
	release := make(chan struct{})
	_ = q.Enqueue(Unit{Name: "blocker", Run: func(context.Context) error {
		close(block)
		<-release
		return nil
	}})
	<-block

	// Fill the buffer, then one more must be rejected.
	_ = q.Enqueue(Unit{Name: "queued", Run: func(context.Context) error { return nil }})
	err := q.Enqueue(Unit{Name: "overflow", Run: func(context.Context) error { return nil }})
	close(release)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
