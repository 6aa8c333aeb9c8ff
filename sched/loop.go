// Package sched runs timers and posted events on a single goroutine.
//
// Every callback runs to completion before the next one starts, so state
// touched only from loop callbacks needs no locking. Time is either virtual
// (Step, used by the simulator and tests) or wall clock (Run).
package sched

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Run once Stop has been called.
var ErrStopped = errors.New("loop stopped")

// Timer is a periodic callback owned by a Loop.
type Timer struct {
	name      string
	period    time.Duration
	next      time.Time
	fn        func(now time.Time)
	cancelled bool
	seq       uint64
}

// Name returns the label given at registration.
func (t *Timer) Name() string { return t.name }

// Cancel stops future firings. Calling it more than once is a no-op.
func (t *Timer) Cancel() { t.cancelled = true }

// Cancelled reports whether Cancel has been called.
func (t *Timer) Cancelled() bool { return t.cancelled }

type Loop struct {
	now    time.Time
	timers []*Timer
	seq    uint64

	events chan func()
	stop   chan struct{}
	once   sync.Once

	clock func() time.Time
}

// NewLoop creates a loop whose virtual clock starts at start.
func NewLoop(start time.Time) *Loop {
	return &Loop{
		now:    start,
		events: make(chan func(), 256),
		stop:   make(chan struct{}),
		clock:  time.Now,
	}
}

// Now returns the loop clock. Inside a timer callback this is the firing time;
// under Run a posted event sees the wall clock at the moment it runs.
func (l *Loop) Now() time.Time { return l.now }

// Every registers fn to run each period, first at Now()+period. Must be
// called from the loop goroutine or before the loop starts.
func (l *Loop) Every(name string, period time.Duration, fn func(now time.Time)) *Timer {
	if period <= 0 {
		panic("sched: non-positive timer period for " + name)
	}
	l.seq++
	t := &Timer{
		name:   name,
		period: period,
		next:   l.now.Add(period),
		fn:     fn,
		seq:    l.seq,
	}
	l.timers = append(l.timers, t)
	return t
}

// After runs fn once, delay from Now(). The returned timer can be cancelled
// before it fires.
func (l *Loop) After(name string, delay time.Duration, fn func(now time.Time)) *Timer {
	if delay <= 0 {
		delay = time.Nanosecond
	}
	var t *Timer
	t = l.Every(name, delay, func(now time.Time) {
		t.Cancel()
		fn(now)
	})
	return t
}

// Post queues fn to run on the loop goroutine. It is safe to call from any
// goroutine and reports false once the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Stop cancels every timer and makes Run return. Idempotent.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.stop)
		for _, t := range l.timers {
			t.Cancel()
		}
	})
}

// Pending returns the number of live timers.
func (l *Loop) Pending() int {
	n := 0
	for _, t := range l.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Step advances virtual time to until, draining posted events and firing
// every due timer in deadline order. Timers that fell behind fire once per
// missed period.
func (l *Loop) Step(until time.Time) {
	l.advance(until, false)
}

// Run drives the loop from the wall clock until ctx is done or Stop is
// called. Late timers fire once and are realigned, like time.Ticker.
func (l *Loop) Run(ctx context.Context) error {
	l.now = l.clock()
	for _, t := range l.timers {
		if t.next.Before(l.now) {
			t.next = l.now.Add(t.period)
		}
	}

	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	for {
		wait := time.Hour
		if t := l.earliest(); t != nil {
			wait = t.next.Sub(l.clock())
			if wait < 0 {
				wait = 0
			}
		}
		if !wake.Stop() {
			select {
			case <-wake.C:
			default:
			}
		}
		wake.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return ErrStopped
		case fn := <-l.events:
			if c := l.clock(); c.After(l.now) {
				l.now = c
			}
			fn()
		case <-wake.C:
			l.advance(l.clock(), true)
		}
	}
}

func (l *Loop) advance(until time.Time, realign bool) {
	l.drain()
	for {
		t := l.earliest()
		if t == nil || t.next.After(until) {
			break
		}
		// A posted event may already have moved the clock past this deadline.
		if t.next.After(l.now) {
			l.now = t.next
		}
		t.next = t.next.Add(t.period)
		if realign && !t.next.After(until) {
			t.next = until.Add(t.period)
		}
		t.fn(l.now)
		l.drain()
	}
	if until.After(l.now) {
		l.now = until
	}
	l.compact()
}

func (l *Loop) drain() {
	for {
		select {
		case fn := <-l.events:
			fn()
		default:
			return
		}
	}
}

// earliest picks the live timer with the smallest deadline; ties go to the
// one registered first.
func (l *Loop) earliest() *Timer {
	var best *Timer
	for _, t := range l.timers {
		if t.cancelled {
			continue
		}
		if best == nil || t.next.Before(best.next) || (t.next.Equal(best.next) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (l *Loop) compact() {
	live := l.timers[:0]
	for _, t := range l.timers {
		if !t.cancelled {
			live = append(live, t)
		}
	}
	for i := len(live); i < len(l.timers); i++ {
		l.timers[i] = nil
	}
	l.timers = live
}
