package timeline

import (
	"testing"
	"time"

	"interactive-report-service/internal/clock"
)

func newTestLock() (*ScrollLock, *clock.Fake) {
	sched := clock.NewFake(time.Unix(0, 0))
	return NewScrollLock(sched, 3*time.Second, 50), sched
}

func TestScrollLockAutoResumes(t *testing.T) {
	lock, sched := newTestLock()
	lock.OnScroll(400)
	if !lock.Scrolling() {
		t.Fatalf("expected scrolling right after a manual scroll")
	}
	sched.Advance(2 * time.Second)
	if !lock.Scrolling() {
		t.Fatalf("expected scrolling within the quiet period")
	}
	sched.Advance(time.Second)
	if lock.Scrolling() {
		t.Fatalf("expected scrolling cleared after the quiet period")
	}
}

func TestScrollLockRestartsQuietPeriod(t *testing.T) {
	lock, sched := newTestLock()
	lock.OnScroll(400)
	sched.Advance(2 * time.Second)
	lock.OnInput(InputWheel, 120)
	sched.Advance(2 * time.Second)
	if !lock.Scrolling() {
		t.Fatalf("expected the wheel event to extend the quiet period")
	}
	sched.Advance(time.Second)
	if lock.Scrolling() {
		t.Fatalf("expected scrolling cleared")
	}
}

func TestScrollLockSensitivity(t *testing.T) {
	lock, _ := newTestLock()
	lock.OnScroll(30)
	lock.OnScroll(70)
	lock.OnInput(InputTouch, 10)
	if lock.Scrolling() {
		t.Fatalf("small movements must not count as manual scrolling")
	}
	lock.OnInput(InputMouseDown, 0)
	if !lock.Scrolling() {
		t.Fatalf("mousedown always counts")
	}
}

func TestScrollLockIgnoresProgrammaticScroll(t *testing.T) {
	lock, sched := newTestLock()
	lock.IgnoreFor(time.Second)
	lock.OnScroll(900)
	if lock.Scrolling() {
		t.Fatalf("offsets during auto-scroll must be ignored")
	}
	sched.Advance(time.Second)
	lock.OnScroll(1200)
	if !lock.Scrolling() {
		t.Fatalf("expected manual scroll after the grace period")
	}
}

func TestScrollLockResumeAndNotify(t *testing.T) {
	lock, sched := newTestLock()
	var changes []bool
	lock.OnChange(func(s bool) { changes = append(changes, s) })
	lock.OnInput(InputHashChange, 0)
	lock.OnInput(InputHashChange, 0)
	lock.Resume()
	if lock.Scrolling() {
		t.Fatalf("expected resume to clear the flag")
	}
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Fatalf("unexpected transitions %v", changes)
	}
	lock.Close()
	if sched.Pending() != 0 {
		t.Fatalf("expected no pending timers after close, got %d", sched.Pending())
	}
}
