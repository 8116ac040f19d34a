package timeline

import (
	"math"
	"sync"
	"time"

	"interactive-report-service/internal/clock"
)

const (
	DefaultScrollQuiet       = 3 * time.Second
	DefaultScrollSensitivity = 50.0
)

// InputKind is a manual navigation gesture.
type InputKind string

const (
	InputWheel      InputKind = "wheel"
	InputTouch      InputKind = "touch"
	InputMouseDown  InputKind = "mousedown"
	InputHashChange InputKind = "hashchange"
)

// ScrollLock tracks whether the reader is navigating by hand. The flag is raised by
// qualifying gestures and drops after a quiet period without any.
type ScrollLock struct {
	sched       clock.Scheduler
	quiet       time.Duration
	sensitivity float64

	mu        sync.Mutex
	scrolling bool
	offset    float64
	ignore    time.Time
	timer     clock.Timer
	onChange  func(bool)
	closed    bool
}

func NewScrollLock(sched clock.Scheduler, quiet time.Duration, sensitivity float64) *ScrollLock {
	if quiet <= 0 {
		quiet = DefaultScrollQuiet
	}
	if sensitivity <= 0 {
		sensitivity = DefaultScrollSensitivity
	}
	return &ScrollLock{sched: sched, quiet: quiet, sensitivity: sensitivity}
}

// OnChange registers fn for flag transitions. fn runs without the lock held.
func (l *ScrollLock) OnChange(fn func(scrolling bool)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// OnScroll reports the page's vertical scroll offset. A jump larger than the sensitivity
// counts as manual scrolling unless it falls inside an auto-scroll grace period.
func (l *ScrollLock) OnScroll(offset float64) {
	l.mu.Lock()
	delta := math.Abs(offset - l.offset)
	l.offset = offset
	if delta <= l.sensitivity || l.sched.Now().Before(l.ignore) {
		l.mu.Unlock()
		return
	}
	l.triggerLocked()
}

// OnInput reports a gesture. Wheel and touch count above the sensitivity; mousedown and
// hash changes always count.
func (l *ScrollLock) OnInput(kind InputKind, magnitude float64) {
	l.mu.Lock()
	switch kind {
	case InputWheel, InputTouch:
		if math.Abs(magnitude) <= l.sensitivity {
			l.mu.Unlock()
			return
		}
	case InputMouseDown, InputHashChange:
	default:
		l.mu.Unlock()
		return
	}
	l.triggerLocked()
}

// IgnoreFor treats scroll offsets reported within d as programmatic.
func (l *ScrollLock) IgnoreFor(d time.Duration) {
	l.mu.Lock()
	l.ignore = l.sched.Now().Add(d)
	l.mu.Unlock()
}

// triggerLocked raises the flag and restarts the quiet timer. It unlocks l.mu.
func (l *ScrollLock) triggerLocked() {
	if l.closed {
		l.mu.Unlock()
		return
	}
	changed := !l.scrolling
	l.scrolling = true
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = l.sched.AfterFunc(l.quiet, l.expire)
	fn := l.onChange
	l.mu.Unlock()
	if changed && fn != nil {
		fn(true)
	}
}

func (l *ScrollLock) expire() {
	l.set(false)
}

// Resume clears the flag early.
func (l *ScrollLock) Resume() {
	l.set(false)
}

func (l *ScrollLock) set(scrolling bool) {
	l.mu.Lock()
	if l.timer != nil && !scrolling {
		l.timer.Stop()
		l.timer = nil
	}
	changed := l.scrolling != scrolling
	l.scrolling = scrolling
	fn := l.onChange
	closed := l.closed
	l.mu.Unlock()
	if changed && fn != nil && !closed {
		fn(scrolling)
	}
}

// Scrolling reports whether the reader is navigating by hand.
func (l *ScrollLock) Scrolling() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.scrolling
}

// Close stops the quiet timer.
func (l *ScrollLock) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.onChange = nil
}
