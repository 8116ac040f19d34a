// Package clock provides the timers and frame loop used by the vote controller and the
// timeline director, so tests can drive time by hand.
package clock

import (
	"sort"
	"sync"
	"time"

	benclock "github.com/benbjohnson/clock"
)

// Timer is a pending callback.
type Timer interface {
	// Stop cancels the callback and reports whether it was still pending.
	Stop() bool
}

// Scheduler runs callbacks after a delay or once per frame.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	// EveryFrame calls f on every frame until cancel is called.
	EveryFrame(f func()) (cancel func())
	Now() time.Time
}

// DefaultFrameInterval paces frame loops when no interval is configured.
const DefaultFrameInterval = 50 * time.Millisecond

// Real is backed by the runtime timers. Frames are emitted by a ticker.
type Real struct {
	FrameInterval time.Duration
	clock         benclock.Clock
}

func NewReal(frameInterval time.Duration) Real {
	if frameInterval <= 0 {
		frameInterval = DefaultFrameInterval
	}
	return Real{FrameInterval: frameInterval, clock: benclock.New()}
}

func (r Real) base() benclock.Clock {
	if r.clock == nil {
		return benclock.New()
	}
	return r.clock
}

func (r Real) AfterFunc(d time.Duration, f func()) Timer {
	return r.base().AfterFunc(d, f)
}

func (r Real) EveryFrame(f func()) func() {
	interval := r.FrameInterval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return everyTick(r.base().Ticker(interval), f)
}

func (r Real) Now() time.Time { return r.base().Now() }

// everyTick calls f for each tick until the returned cancel is called.
func everyTick(ticker *benclock.Ticker, f func()) func() {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				f()
			case <-done:
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}

// Fake is a manually advanced scheduler for tests, built on a mock clock. Advance returns
// only after every timer it fired has finished its callback. Frames run when Frame is
// called.
type Fake struct {
	mock *benclock.Mock

	mu      sync.Mutex
	seq     int
	pending map[*fakeTimer]struct{}
	frames  map[int]func()
}

func NewFake(start time.Time) *Fake {
	mock := benclock.NewMock()
	mock.Set(start)
	return &Fake{
		mock:    mock,
		pending: make(map[*fakeTimer]struct{}),
		frames:  make(map[int]func()),
	}
}

type fakeTimer struct {
	fake  *Fake
	at    time.Time
	timer *benclock.Timer
	done  chan struct{}
	once  sync.Once
}

func (t *fakeTimer) finish() { t.once.Do(func() { close(t.done) }) }

func (t *fakeTimer) Stop() bool {
	f := t.fake
	f.mu.Lock()
	_, ok := f.pending[t]
	delete(f.pending, t)
	f.mu.Unlock()
	if !ok {
		return false
	}
	t.timer.Stop()
	t.finish()
	return true
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	t := &fakeTimer{fake: f, at: f.mock.Now().Add(d), done: make(chan struct{})}
	f.mu.Lock()
	f.pending[t] = struct{}{}
	f.mu.Unlock()
	t.timer = f.mock.AfterFunc(d, func() {
		defer t.finish()
		f.mu.Lock()
		_, ok := f.pending[t]
		delete(f.pending, t)
		f.mu.Unlock()
		if ok {
			fn()
		}
	})
	return t
}

func (f *Fake) EveryFrame(fn func()) func() {
	f.mu.Lock()
	f.seq++
	id := f.seq
	f.frames[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.frames, id)
		f.mu.Unlock()
	}
}

func (f *Fake) Now() time.Time { return f.mock.Now() }

// Advance moves time forward one deadline at a time, so timers armed by a callback fire
// within the same call when they fall due before the target.
func (f *Fake) Advance(d time.Duration) {
	target := f.mock.Now().Add(d)
	for {
		next, due := f.dueBy(target)
		if len(due) == 0 {
			f.mock.Add(target.Sub(f.mock.Now()))
			return
		}
		step := next.Sub(f.mock.Now())
		if step < 0 {
			step = 0
		}
		f.mock.Add(step)
		for _, t := range due {
			<-t.done
		}
	}
}

// dueBy returns the earliest pending deadline not after target and the timers due at it.
func (f *Fake) dueBy(target time.Time) (time.Time, []*fakeTimer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var next time.Time
	var due []*fakeTimer
	for t := range f.pending {
		switch {
		case t.at.After(target):
		case len(due) == 0 || t.at.Before(next):
			next, due = t.at, []*fakeTimer{t}
		case t.at.Equal(next):
			due = append(due, t)
		}
	}
	return next, due
}

// Frame runs every registered frame callback once.
func (f *Fake) Frame() {
	f.mu.Lock()
	ids := make([]int, 0, len(f.frames))
	for id := range f.frames {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, f.frames[id])
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Frames reports how many frame loops are running.
func (f *Fake) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// Pending reports how many timers have neither fired nor been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
