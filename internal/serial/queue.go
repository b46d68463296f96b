// Package serial provides the single global serialization queue that every
// state-mutating operation goes through: inbound commands, the periodic poll
// sweep and post-setup forced checks. Exactly one unit runs at a time, in
// FIFO submission order, and a failing unit never blocks the next one.
package serial

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	logx "poweronbot/pkg/logx"
)

var (
	ErrStopped   = errors.New("serial queue stopped")
	ErrQueueFull = errors.New("serial queue full")
)

// Unit is one serialized piece of work.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

type Queue struct {
	log logx.Logger

	mu       sync.Mutex
	queue    chan Unit
	stopCh   chan struct{}
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

func New(size int, log logx.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{log: log, queue: make(chan Unit, size)}
}

// Start launches the single worker. Exactly one worker exists; that is the
// whole point of the queue.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		return
	}
	q.stopCh = make(chan struct{})
	q.runCtx, q.runCancel = context.WithCancel(ctx)

	runCtx := q.runCtx
	stopCh := q.stopCh

	q.workerWG.Add(1)
	go func() {
		defer q.workerWG.Done()
		q.worker(runCtx, stopCh)
	}()
	q.log.Info("serialization queue started", logx.Int("capacity", cap(q.queue)))
}

// Stop stops accepting new units and waits for the in-flight unit, bounded by
// ctx. Queued-but-unstarted units are dropped.
func (q *Queue) Stop(ctx context.Context) {
	q.mu.Lock()
	if q.stopCh == nil {
		q.mu.Unlock()
		return
	}
	if q.stopDone != nil {
		done := q.stopDone
		q.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	q.stopDone = done
	stopCh := q.stopCh
	q.mu.Unlock()

	close(stopCh)

	go func() {
		q.workerWG.Wait()
		q.mu.Lock()
		if q.runCancel != nil {
			q.runCancel()
			q.runCancel = nil
		}
		q.stopCh = nil
		q.stopDone = nil
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		q.log.Info("serialization queue stopped")
	case <-ctx.Done():
		// In-flight unit keeps draining in the background.
		q.log.Warn("serialization queue stop timed out; abandoning in-flight unit")
		q.mu.Lock()
		if q.runCancel != nil {
			q.runCancel()
			q.runCancel = nil
		}
		q.mu.Unlock()
	}
}

// Enqueue submits a unit. Non-blocking: a full queue rejects the unit rather
// than stalling the caller (the trigger sources must never back up on a hung
// upstream fetch).
func (q *Queue) Enqueue(u Unit) error {
	if u.Run == nil {
		return errors.New("unit Run is nil")
	}
	q.mu.Lock()
	stopCh := q.stopCh
	q.mu.Unlock()
	if stopCh == nil {
		return ErrStopped
	}
	select {
	case <-stopCh:
		return ErrStopped
	default:
	}

	select {
	case q.queue <- u:
		return nil
	default:
		q.log.Warn("serialization queue full; dropping unit", logx.String("unit", u.Name))
		return ErrQueueFull
	}
}

func (q *Queue) worker(ctx context.Context, stopCh <-chan struct{}) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case u := <-q.queue:
			q.execOne(ctx, u)
		}
	}
}

func (q *Queue) execOne(ctx context.Context, u Unit) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("panic in serialized unit",
				logx.String("unit", u.Name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	err := u.Run(ctx)
	dur := time.Since(start)
	if err != nil {
		q.log.Warn("serialized unit failed", logx.String("unit", u.Name), logx.Err(err), logx.Duration("dur", dur))
		return
	}
	q.log.Debug("serialized unit done", logx.String("unit", u.Name), logx.Duration("dur", dur))
}

// Len reports the number of queued-but-unstarted units.
func (q *Queue) Len() int { return len(q.queue) }
