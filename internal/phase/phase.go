// Package phase derives the voting window of an interaction from the narration clock.
package phase

// Phase is the voting state of an interaction at a point in time.
type Phase string

const (
	Input  Phase = "input"
	Locked Phase = "locked"
	Reveal Phase = "reveal"
)

// DefaultLockWindow is the suspense beat between input and reveal, in seconds.
const DefaultLockWindow = 5.0

// DefaultInputDuration is the length of the input phase, in seconds.
const DefaultInputDuration = 30.0

// Window positions an interaction on the audio timeline. All values are seconds.
type Window struct {
	Start float64
	Input float64
	Lock  float64
}

// NewWindow returns a window with the default durations.
func NewWindow(start float64) Window {
	return Window{Start: start, Input: DefaultInputDuration, Lock: DefaultLockWindow}
}

// Derive returns the phase for the current playback time.
func Derive(current float64, w Window) Phase {
	relative := current - w.Start
	switch {
	case relative < w.Input:
		return Input
	case relative < w.Input+w.Lock:
		return Locked
	default:
		return Reveal
	}
}

// ShowResults reports whether the results view is visible. A user who has voted sees
// results immediately, whatever the phase.
func ShowResults(p Phase, hasVoted bool) bool {
	return hasVoted || p == Reveal
}
