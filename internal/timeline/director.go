package timeline

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"interactive-report-service/internal/clock"
)

const (
	DefaultHighlight = 2 * time.Second
	// DefaultScrollGrace covers a smooth auto-scroll so its offsets are not taken as manual.
	DefaultScrollGrace = time.Second
)

// Surface is the rendered page a director drives.
type Surface interface {
	// Bounds returns the viewport box of a rendered element. ok is false when the element
	// is not mounted.
	Bounds(id string) (r Rect, ok bool)
	Viewport() Size
	ShowSection(section string)
	ScrollIntoView(id string)
	Highlight(ids []string)
	Unhighlight(ids []string)
	MountOverlay()
	SetOverlay(path string, opacity float64)
	UnmountOverlay()
}

type Config struct {
	Highlight         time.Duration
	ScrollQuiet       time.Duration
	ScrollSensitivity float64
	Scheduler         clock.Scheduler
	Logger            logrus.FieldLogger
}

// Snapshot is the observable state of a director.
type Snapshot struct {
	Index     int         `json:"index"`
	Section   string      `json:"section"`
	Targets   []string    `json:"targets"`
	Scrolling bool        `json:"isUserScrolling"`
	Player    PlayerState `json:"player"`
	Chapters  []Cue       `json:"chapters,omitempty"`
}

// Director follows an audio source along a timeline. It re-derives the current cue from
// the playback time on every update, so seeking in either direction is handled the same
// way as forward progress.
type Director struct {
	timeline  Timeline
	audio     AudioSource
	surface   Surface
	lock      *ScrollLock
	sched     clock.Scheduler
	log       logrus.FieldLogger
	highlight time.Duration

	mu          sync.Mutex
	index       int
	section     string
	targets     []string
	highlighted []string
	hlTimer     clock.Timer
	stopFrames  func()
	overlay     *Overlay
	player      PlayerState
	unsubscribe func()
	closed      bool
}

func NewDirector(tl Timeline, audio AudioSource, surface Surface, cfg Config) *Director {
	if cfg.Highlight <= 0 {
		cfg.Highlight = DefaultHighlight
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.NewReal(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	d := &Director{
		timeline:  tl,
		audio:     audio,
		surface:   surface,
		lock:      NewScrollLock(cfg.Scheduler, cfg.ScrollQuiet, cfg.ScrollSensitivity),
		sched:     cfg.Scheduler,
		log:       cfg.Logger,
		highlight: cfg.Highlight,
		index:     -1,
		overlay:   newOverlay(surface),
		player:    PlayerState{Loading: true, Rate: 1},
	}
	d.unsubscribe = audio.Subscribe(d.handle)
	return d
}

// ScrollLock returns the director's manual navigation tracker.
func (d *Director) ScrollLock() *ScrollLock { return d.lock }

func (d *Director) handle(ev AudioEvent) {
	d.mu.Lock()
	d.player = d.player.Apply(ev)
	d.mu.Unlock()
	switch ev.Type {
	case EventTimeUpdate, EventSeeked:
		d.Update(ev.Time)
	}
}

// Update moves the director to the cue selected by current.
func (d *Director) Update(current float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	idx := d.timeline.IndexAt(current)
	if idx < 0 || idx == d.index {
		return
	}
	d.index = idx
	cue := d.timeline.Cues[idx]
	d.log.WithFields(logrus.Fields{"cue": idx, "at": cue.At, "section": cue.Section}).Debug("cue changed")

	if cue.Section != "" && cue.Section != d.section {
		d.section = cue.Section
		d.surface.ShowSection(cue.Section)
	}
	if sameTargets(cue.Targets, d.targets) {
		d.refreshLocked()
		return
	}
	d.focusLocked(cue.Targets)
}

// focusLocked replaces the active target set.
func (d *Director) focusLocked(targets []string) {
	d.unhighlightLocked()
	d.targets = append([]string(nil), targets...)

	valid, rects := d.resolveLocked()
	if len(valid) == 0 {
		d.targets = nil
		d.overlay.Clear()
		d.syncFramesLocked()
		return
	}
	if !d.lock.Scrolling() {
		d.lock.IgnoreFor(DefaultScrollGrace)
		d.surface.ScrollIntoView(valid[0])
	}
	d.surface.Highlight(valid)
	d.highlighted = valid
	d.hlTimer = d.sched.AfterFunc(d.highlight, d.expireHighlight)
	d.overlay.Show(d.surface.Viewport(), rects)
	d.syncFramesLocked()
}

// resolveLocked returns the active targets that are rendered, with their boxes.
func (d *Director) resolveLocked() ([]string, []Rect) {
	var ids []string
	var rects []Rect
	for _, id := range d.targets {
		r, ok := d.surface.Bounds(id)
		if !ok {
			continue
		}
		ids = append(ids, id)
		rects = append(rects, r)
	}
	return ids, rects
}

func (d *Director) refreshLocked() {
	_, rects := d.resolveLocked()
	if len(rects) == 0 {
		d.overlay.Clear()
		return
	}
	d.overlay.Show(d.surface.Viewport(), rects)
}

// syncFramesLocked runs the per-frame geometry refresh while any target is active.
func (d *Director) syncFramesLocked() {
	switch {
	case len(d.targets) > 0 && d.stopFrames == nil:
		d.stopFrames = d.sched.EveryFrame(d.frame)
	case len(d.targets) == 0 && d.stopFrames != nil:
		d.stopFrames()
		d.stopFrames = nil
	}
}

func (d *Director) frame() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.targets) == 0 {
		return
	}
	d.refreshLocked()
}

func (d *Director) expireHighlight() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hlTimer = nil
	if d.closed {
		return
	}
	d.unhighlightLocked()
}

func (d *Director) unhighlightLocked() {
	if d.hlTimer != nil {
		d.hlTimer.Stop()
		d.hlTimer = nil
	}
	if len(d.highlighted) > 0 {
		d.surface.Unhighlight(d.highlighted)
		d.highlighted = nil
	}
}

// Refresh re-applies the current cue's focus, for example after the page re-rendered.
func (d *Director) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	cue, ok := d.timeline.At(d.index)
	if !ok {
		return
	}
	d.focusLocked(cue.Targets)
}

// ClearFocus removes all highlights and hides the overlay. The next cue change focuses
// again.
func (d *Director) ClearFocus() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearLocked()
}

func (d *Director) clearLocked() {
	d.unhighlightLocked()
	d.targets = nil
	d.overlay.Clear()
	d.syncFramesLocked()
}

// ResumeAutoScroll clears the manual navigation flag and scrolls back to the narration.
func (d *Director) ResumeAutoScroll() {
	d.lock.Resume()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	valid, _ := d.resolveLocked()
	if len(valid) > 0 {
		d.lock.IgnoreFor(DefaultScrollGrace)
		d.surface.ScrollIntoView(valid[0])
	}
}

func (d *Director) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Index:     d.index,
		Section:   d.section,
		Targets:   append([]string(nil), d.targets...),
		Scrolling: d.lock.Scrolling(),
		Player:    d.player,
		Chapters:  d.timeline.Chapters(),
	}
}

func (d *Director) Timeline() Timeline { return d.timeline }

// Close tears down the overlay, timers, frame loop and audio subscription.
func (d *Director) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.clearLocked()
	d.overlay.Close()
	unsubscribe := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	d.lock.Close()
	if unsubscribe != nil {
		unsubscribe()
	}
}
