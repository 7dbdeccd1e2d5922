// ABOUTME: Per-room job queues that serialise message handling within a room
// ABOUTME: Rooms run in parallel; a panic in one job is recovered and logged

package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	roomQueueSize   = 64
	roomIdleTimeout = 5 * time.Minute
)

// roomWorkers runs jobs for each room on its own goroutine, in arrival
// order. Idle workers exit and are recreated on demand.
type roomWorkers struct {
	mu      sync.Mutex
	queues  map[string]chan func(context.Context)
	wg      sync.WaitGroup
	idle    time.Duration
	logger  *slog.Logger
	dropped func(room string)
}

func newRoomWorkers(logger *slog.Logger) *roomWorkers {
	return &roomWorkers{
		queues: make(map[string]chan func(context.Context)),
		idle:   roomIdleTimeout,
		logger: logger,
	}
}

// Submit queues job for room. It returns false when the room's queue is
// full and the job was dropped.
func (w *roomWorkers) Submit(ctx context.Context, room string, job func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queues[room]
	if !ok {
		q = make(chan func(context.Context), roomQueueSize)
		w.queues[room] = q
		w.wg.Add(1)
		go w.run(ctx, room, q)
	}

	select {
	case q <- job:
		return true
	default:
		w.logger.Warn("room queue full, dropping message", "room", room)
		if w.dropped != nil {
			w.dropped(room)
		}
		return false
	}
}

// Wait blocks until every worker has exited. Workers exit when ctx is done.
func (w *roomWorkers) Wait() {
	w.wg.Wait()
}

func (w *roomWorkers) run(ctx context.Context, room string, q chan func(context.Context)) {
	defer w.wg.Done()

	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.forget(room, q)
			return
		case job := <-q:
			w.safeRun(ctx, room, job)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.idle)
		case <-timer.C:
			w.mu.Lock()
			if len(q) > 0 {
				// A job slipped in while the timer fired.
				w.mu.Unlock()
				timer.Reset(w.idle)
				continue
			}
			w.forgetLocked(room, q)
			w.mu.Unlock()
			return
		}
	}
}

func (w *roomWorkers) forget(room string, q chan func(context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.forgetLocked(room, q)
}

func (w *roomWorkers) forgetLocked(room string, q chan func(context.Context)) {
	if w.queues[room] == q {
		delete(w.queues, room)
	}
}

func (w *roomWorkers) safeRun(ctx context.Context, room string, job func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("panic while handling message",
				"room", room,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	job(ctx)
}
