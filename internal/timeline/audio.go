package timeline

import (
	"sync"
	"time"

	"interactive-report-service/internal/clock"
)

type EventType string

const (
	EventTimeUpdate     EventType = "timeupdate"
	EventLoadedMetadata EventType = "loadedmetadata"
	EventPlay           EventType = "play"
	EventPause          EventType = "pause"
	EventRateChange     EventType = "ratechange"
	EventSeeked         EventType = "seeked"
	EventEnded          EventType = "ended"
)

// AudioEvent is a change notification from an audio clock.
type AudioEvent struct {
	Type     EventType `json:"type"`
	Time     float64   `json:"time"`
	Duration float64   `json:"duration,omitempty"`
	Rate     float64   `json:"rate,omitempty"`
}

// AudioSource is the narration clock.
type AudioSource interface {
	CurrentTime() float64
	Duration() float64
	Play()
	Pause()
	Seek(seconds float64)
	SetRate(rate float64)
	// Subscribe registers fn for every event until the returned func is called.
	Subscribe(fn func(AudioEvent)) (unsubscribe func())
}

// PlayerState is the playback state shown by a player.
type PlayerState struct {
	Playing     bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Loading     bool    `json:"isLoading"`
	Rate        float64 `json:"playbackRate"`
}

// Apply folds an event into the state.
func (s PlayerState) Apply(ev AudioEvent) PlayerState {
	switch ev.Type {
	case EventLoadedMetadata:
		s.Duration = ev.Duration
		s.Loading = false
	case EventTimeUpdate, EventSeeked:
		s.CurrentTime = ev.Time
	case EventPlay:
		s.Playing = true
	case EventPause, EventEnded:
		s.Playing = false
	case EventRateChange:
		s.Rate = ev.Rate
	}
	// Play, pause and ended may omit the time; a zero time there carries nothing new.
	switch ev.Type {
	case EventPlay, EventPause, EventEnded:
		if ev.Time > 0 {
			s.CurrentTime = ev.Time
		}
	}
	return s
}

// subscribers fans events out to registered callbacks.
type subscribers struct {
	mu  sync.Mutex
	seq int
	fns map[int]func(AudioEvent)
}

func (s *subscribers) add(fn func(AudioEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]func(AudioEvent))
	}
	s.seq++
	id := s.seq
	s.fns[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.fns, id)
		s.mu.Unlock()
	}
}

func (s *subscribers) emit(events ...AudioEvent) {
	s.mu.Lock()
	fns := make([]func(AudioEvent), 0, len(s.fns))
	for _, fn := range s.fns {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// SimulatedAudio is a headless audio clock that advances with a scheduler's frames.
type SimulatedAudio struct {
	sched clock.Scheduler
	subs  subscribers

	mu       sync.Mutex
	current  float64
	duration float64
	rate     float64
	playing  bool
	last     time.Time
	stop     func()
}

func NewSimulatedAudio(sched clock.Scheduler, duration float64) *SimulatedAudio {
	return &SimulatedAudio{sched: sched, duration: duration, rate: 1}
}

// Load announces the metadata, as a browser does once the file header is read.
func (a *SimulatedAudio) Load() {
	a.mu.Lock()
	d := a.duration
	a.mu.Unlock()
	a.subs.emit(AudioEvent{Type: EventLoadedMetadata, Duration: d})
}

func (a *SimulatedAudio) CurrentTime() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *SimulatedAudio) Duration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.duration
}

func (a *SimulatedAudio) Play() {
	a.mu.Lock()
	if a.playing || a.current >= a.duration {
		a.mu.Unlock()
		return
	}
	a.playing = true
	a.last = a.sched.Now()
	a.stop = a.sched.EveryFrame(a.tick)
	t := a.current
	a.mu.Unlock()
	a.subs.emit(AudioEvent{Type: EventPlay, Time: t})
}

func (a *SimulatedAudio) Pause() {
	a.mu.Lock()
	if !a.playing {
		a.mu.Unlock()
		return
	}
	a.advanceLocked()
	a.haltLocked()
	t := a.current
	a.mu.Unlock()
	a.subs.emit(AudioEvent{Type: EventPause, Time: t})
}

// Seek jumps to seconds, clamped to the file.
func (a *SimulatedAudio) Seek(seconds float64) {
	a.mu.Lock()
	a.current = clamp(seconds, 0, a.duration)
	a.last = a.sched.Now()
	t := a.current
	a.mu.Unlock()
	a.subs.emit(AudioEvent{Type: EventSeeked, Time: t}, AudioEvent{Type: EventTimeUpdate, Time: t})
}

func (a *SimulatedAudio) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	a.mu.Lock()
	a.advanceLocked()
	a.rate = rate
	t := a.current
	a.mu.Unlock()
	a.subs.emit(AudioEvent{Type: EventRateChange, Time: t, Rate: rate})
}

// Step advances playback by seconds of audio regardless of the scheduler.
func (a *SimulatedAudio) Step(seconds float64) {
	a.mu.Lock()
	a.current = clamp(a.current+seconds, 0, a.duration)
	events := []AudioEvent{{Type: EventTimeUpdate, Time: a.current}}
	if a.current >= a.duration {
		a.haltLocked()
		events = append(events, AudioEvent{Type: EventEnded, Time: a.current})
	}
	a.mu.Unlock()
	a.subs.emit(events...)
}

func (a *SimulatedAudio) Subscribe(fn func(AudioEvent)) func() {
	return a.subs.add(fn)
}

func (a *SimulatedAudio) tick() {
	a.mu.Lock()
	if !a.playing {
		a.mu.Unlock()
		return
	}
	a.advanceLocked()
	events := []AudioEvent{{Type: EventTimeUpdate, Time: a.current}}
	if a.current >= a.duration {
		a.haltLocked()
		events = append(events, AudioEvent{Type: EventEnded, Time: a.current})
	}
	a.mu.Unlock()
	a.subs.emit(events...)
}

func (a *SimulatedAudio) advanceLocked() {
	now := a.sched.Now()
	if a.playing {
		a.current = clamp(a.current+now.Sub(a.last).Seconds()*a.rate, 0, a.duration)
	}
	a.last = now
}

func (a *SimulatedAudio) haltLocked() {
	a.playing = false
	if a.stop != nil {
		a.stop()
		a.stop = nil
	}
}

// AudioCommand asks a remote player to change playback.
type AudioCommand struct {
	Action string  `json:"action"`
	Value  float64 `json:"value,omitempty"`
}

// RemoteAudio mirrors a player running elsewhere, typically a browser. Reported events
// update the mirrored state; controls are forwarded through send.
type RemoteAudio struct {
	send func(AudioCommand)
	subs subscribers

	mu    sync.Mutex
	state PlayerState
}

func NewRemoteAudio(send func(AudioCommand)) *RemoteAudio {
	if send == nil {
		send = func(AudioCommand) {}
	}
	return &RemoteAudio{send: send, state: PlayerState{Loading: true, Rate: 1}}
}

// Report applies an event observed by the remote player.
func (a *RemoteAudio) Report(ev AudioEvent) {
	a.mu.Lock()
	a.state = a.state.Apply(ev)
	a.mu.Unlock()
	a.subs.emit(ev)
}

func (a *RemoteAudio) CurrentTime() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.CurrentTime
}

func (a *RemoteAudio) Duration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Duration
}

func (a *RemoteAudio) Play()                { a.send(AudioCommand{Action: "play"}) }
func (a *RemoteAudio) Pause()               { a.send(AudioCommand{Action: "pause"}) }
func (a *RemoteAudio) Seek(seconds float64) { a.send(AudioCommand{Action: "seek", Value: seconds}) }

func (a *RemoteAudio) SetRate(rate float64) {
	if rate > 0 {
		a.send(AudioCommand{Action: "rate", Value: rate})
	}
}

func (a *RemoteAudio) Subscribe(fn func(AudioEvent)) func() {
	return a.subs.add(fn)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if hi > lo && v > hi {
		return hi
	}
	return v
}
