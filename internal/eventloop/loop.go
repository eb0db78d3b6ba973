// Package eventloop provides the single-threaded cooperative scheduler the page controllers run
// on: a task queue, animation frames, timers and asynchronous work whose continuation is posted
// back onto the loop goroutine.
package eventloop

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"
)

// FrameInterval is the spacing between animation frames.
const FrameInterval = 16 * time.Millisecond

// ErrStopped is returned by Run when the loop was stopped explicitly.
var ErrStopped = errors.New("eventloop: stopped")

// Loop runs callbacks one at a time. Post, RequestFrame, AfterFunc and Go are safe to call from
// any goroutine; every callback runs on the goroutine driving the loop.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	frames  []func()
	timers  timerQueue
	seq     uint64
	pending int
	wake    chan struct{}

	manual bool
	now    time.Time
	stop   chan struct{}
	closed bool
}

// New returns a loop driven by wall-clock time via Run.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1), stop: make(chan struct{})}
}

// NewManual returns a loop with a virtual clock starting at start. It is driven by RunUntilIdle
// and Advance, which makes controller behaviour deterministic in tests and simulations.
func NewManual(start time.Time) *Loop {
	l := New()
	l.manual = true
	l.now = start
	return l
}

// Now returns the loop clock.
func (l *Loop) Now() time.Time {
	if !l.manual {
		return time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Post enqueues fn as a task.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
}

// RequestFrame schedules fn for the next animation frame. Frames requested while a frame batch
// is running land in the following frame.
func (l *Loop) RequestFrame(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.frames = append(l.frames, fn)
	l.mu.Unlock()
	l.signal()
}

// Timer is a pending AfterFunc callback.
type Timer struct {
	loop    *Loop
	due     time.Time
	seq     uint64
	fn      func()
	index   int
	stopped bool
}

// Stop cancels the timer. It reports whether the timer was still pending.
func (t *Timer) Stop() bool {
	if t == nil || t.loop == nil {
		return false
	}
	l := t.loop
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.stopped || t.index < 0 {
		return false
	}
	t.stopped = true
	heap.Remove(&l.timers, t.index)
	return true
}

// AfterFunc runs fn on the loop once d has elapsed on the loop clock.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	if d < 0 {
		d = 0
	}
	l.mu.Lock()
	now := l.now
	if !l.manual {
		now = time.Now()
	}
	l.seq++
	t := &Timer{loop: l, due: now.Add(d), seq: l.seq, fn: fn}
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	l.signal()
	return t
}

// Go runs work on a new goroutine. The continuation it returns, when non-nil, is posted back to
// the loop. Manual loops wait for outstanding work before reporting idle.
func (l *Loop) Go(ctx context.Context, work func(ctx context.Context) func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()
	go func() {
		cont := work(ctx)
		l.mu.Lock()
		l.pending--
		if cont != nil {
			l.tasks = append(l.tasks, cont)
		}
		l.mu.Unlock()
		l.signal()
	}()
}

// Run drives a wall-clock loop until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	if l.manual {
		return errors.New("eventloop: Run called on a manual loop")
	}
	frameTicker := time.NewTicker(FrameInterval)
	defer frameTicker.Stop()
	for {
		for l.runTask() {
		}
		l.fireDueTimers(time.Now())

		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if wait, ok := l.nextTimerWait(time.Now()); ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}
		var err error
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-l.stop:
			err = ErrStopped
		case <-l.wake:
		case <-timerC:
		case <-frameTicker.C:
			l.runFrame()
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return err
		}
	}
}

// Stop ends Run.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.stop)
}

// RunUntilIdle drives a manual loop until no tasks, frames, timers or outstanding work remain.
// The virtual clock advances to each frame boundary and timer deadline as they are reached.
func (l *Loop) RunUntilIdle() {
	l.drive(time.Time{}, false)
}

// Advance drives a manual loop for d of virtual time, leaving later timers pending.
func (l *Loop) Advance(d time.Duration) {
	l.mu.Lock()
	limit := l.now.Add(d)
	l.mu.Unlock()
	l.drive(limit, true)
	l.mu.Lock()
	if l.now.Before(limit) {
		l.now = limit
	}
	l.mu.Unlock()
}

func (l *Loop) drive(limit time.Time, bounded bool) {
	if !l.manual {
		panic("eventloop: RunUntilIdle/Advance require a manual loop")
	}
	for {
		if l.runTask() {
			continue
		}

		l.mu.Lock()
		pending := l.pending
		hasFrames := len(l.frames) > 0
		frameAt := l.now.Add(FrameInterval)
		var timerAt time.Time
		hasTimer := l.timers.Len() > 0
		if hasTimer {
			timerAt = l.timers[0].due
		}
		l.mu.Unlock()

		switch {
		case hasTimer && !timerAt.After(l.Now()):
			l.fireDueTimers(l.Now())
		case pending > 0:
			<-l.wake
		case hasFrames && (!hasTimer || !timerAt.Before(frameAt)):
			if bounded && frameAt.After(limit) {
				return
			}
			l.setNow(frameAt)
			l.runFrame()
		case hasTimer:
			if bounded && timerAt.After(limit) {
				return
			}
			l.setNow(timerAt)
			l.fireDueTimers(timerAt)
		default:
			return
		}
	}
}

func (l *Loop) setNow(t time.Time) {
	l.mu.Lock()
	if t.After(l.now) {
		l.now = t
	}
	l.mu.Unlock()
}

func (l *Loop) runTask() bool {
	l.mu.Lock()
	if len(l.tasks) == 0 {
		l.mu.Unlock()
		return false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	l.mu.Unlock()
	fn()
	return true
}

func (l *Loop) runFrame() {
	l.mu.Lock()
	batch := l.frames
	l.frames = nil
	l.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

func (l *Loop) fireDueTimers(now time.Time) {
	for {
		l.mu.Lock()
		if l.timers.Len() == 0 || l.timers[0].due.After(now) {
			l.mu.Unlock()
			return
		}
		t := heap.Pop(&l.timers).(*Timer)
		t.stopped = true
		l.mu.Unlock()
		if t.fn != nil {
			t.fn()
		}
		for l.runTask() {
		}
	}
}

func (l *Loop) nextTimerWait(now time.Time) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timers.Len() == 0 {
		return 0, false
	}
	wait := l.timers[0].due.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}
