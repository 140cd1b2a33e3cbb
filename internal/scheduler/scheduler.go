// Package scheduler fires one-shot reminders at or after their due time.
//
// A single timing loop waits on the soonest pending reminder. Inserting a
// reminder that is due earlier than the current wait re-arms the loop, and
// reminders whose due time has already passed fire on the next wake rather
// than waiting out a stale timer.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is a reminder's lifecycle state.
type Status string

// Reminder states. Fired and Cancelled are terminal.
const (
	StatusPending   Status = "pending"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
)

// DefaultIdleTick bounds the loop's wait when nothing is scheduled.
const DefaultIdleTick = time.Minute

// Payload describes what a reminder is about.
type Payload struct {
	BillID      int64
	OwnerID     int64
	Description string
	Amount      decimal.Decimal
}

// Reminder is a deferred one-shot action bound to a timestamp.
type Reminder struct {
	ID      string
	FireAt  time.Time
	Payload Payload
}

// Action runs when a reminder fires. It executes outside the scheduler's
// lock; a returned error is logged, never retried. Retry policy belongs to
// the action itself.
type Action func(ctx context.Context, r Reminder) error

type entry struct {
	Reminder
	status Status
	seq    uint64
	index  int
}

// Scheduler holds pending reminders and guarantees each fires exactly once.
type Scheduler struct {
	action   Action
	logger   *slog.Logger
	idleTick time.Duration

	mu      sync.Mutex
	queue   reminderQueue
	entries map[string]*entry
	seq     uint64
	wake    chan struct{}
}

// New constructs a Scheduler. The loop does not run until Run is called.
func New(action Action, logger *slog.Logger, idleTick time.Duration) *Scheduler {
	if idleTick <= 0 {
		idleTick = DefaultIdleTick
	}
	return &Scheduler{
		action:   action,
		logger:   logger,
		idleTick: idleTick,
		entries:  make(map[string]*entry),
		wake:     make(chan struct{}, 1),
	}
}

// Schedule registers a reminder and returns its id. A fireAt at or before
// now fires on the next wake, which Schedule triggers itself.
func (s *Scheduler) Schedule(fireAt time.Time, p Payload) string {
	id := uuid.NewString()

	s.mu.Lock()
	s.seq++
	e := &entry{
		Reminder: Reminder{ID: id, FireAt: fireAt, Payload: p},
		status:   StatusPending,
		seq:      s.seq,
	}
	s.entries[id] = e
	heap.Push(&s.queue, e)
	rearm := s.queue[0] == e
	s.mu.Unlock()

	if rearm {
		s.notify()
	}
	return id
}

// Cancel transitions a pending reminder to Cancelled. It returns false if
// the reminder already fired, was already cancelled, or is unknown; firing
// and cancellation race by design and whichever happens first wins.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.status != StatusPending {
		return false
	}
	e.status = StatusCancelled
	heap.Remove(&s.queue, e.index)
	return true
}

// Status reports a reminder's state.
func (s *Scheduler) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return "", false
	}
	return e.status, true
}

// Pending returns the number of reminders still waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Run drives the timing loop until ctx is cancelled. It pops and fires every
// reminder that is due on each wake, so a batch of past-due reminders drains
// in one pass. Reminders transition to Fired under the lock, before their
// action runs, so a concurrent Cancel on a firing reminder is a no-op.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		s.mu.Lock()
		now := time.Now()
		var due []*entry
		for s.queue.Len() > 0 && !s.queue[0].FireAt.After(now) {
			e := heap.Pop(&s.queue).(*entry)
			e.status = StatusFired
			due = append(due, e)
		}
		wait := s.idleTick
		if s.queue.Len() > 0 {
			if d := s.queue[0].FireAt.Sub(now); d < wait {
				wait = d
			}
		}
		s.mu.Unlock()

		for _, e := range due {
			s.fire(ctx, e.Reminder)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// fire invokes the action outside the lock. Failures are isolated per
// reminder: they are reported to the log sink and never block the batch.
func (s *Scheduler) fire(ctx context.Context, r Reminder) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("reminder action panicked",
				slog.String("reminder_id", r.ID),
				slog.Any("panic", rec))
		}
	}()
	if err := s.action(ctx, r); err != nil {
		s.logger.Error("reminder action failed",
			slog.String("reminder_id", r.ID),
			slog.Int64("bill_id", r.Payload.BillID),
			slog.Any("error", err))
		return
	}
	s.logger.Info("reminder fired",
		slog.String("reminder_id", r.ID),
		slog.Int64("bill_id", r.Payload.BillID),
		slog.Time("fire_at", r.FireAt))
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// reminderQueue is a min-heap of pending reminders ordered by FireAt, with
// insertion order breaking ties.
type reminderQueue []*entry

func (q reminderQueue) Len() int { return len(q) }

func (q reminderQueue) Less(i, j int) bool {
	if q[i].FireAt.Equal(q[j].FireAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].FireAt.Before(q[j].FireAt)
}

func (q reminderQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *reminderQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *reminderQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}
