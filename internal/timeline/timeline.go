// Package timeline drives a narrated page from its audio clock: the current section, the
// focused content, and the dimming overlay around it.
package timeline

import (
	"sort"

	"interactive-report-service/internal/domain"
)

// Cue maps a playback time to a section and a set of focus targets.
type Cue struct {
	At      float64  `json:"at"`
	Section string   `json:"section"`
	Targets []string `json:"targets"`
	Chapter bool     `json:"chapter,omitempty"`
	Label   string   `json:"label,omitempty"`
}

// Timeline is an ordered list of cues.
type Timeline struct {
	Cues []Cue
}

// New sorts cues by trigger time. Cues sharing a time keep their order.
func New(cues []Cue) Timeline {
	sorted := append([]Cue(nil), cues...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].At < sorted[j].At })
	return Timeline{Cues: sorted}
}

// FromPage builds the timeline of a page.
func FromPage(p domain.Page) Timeline {
	cues := make([]Cue, 0, len(p.Timeline))
	for _, c := range p.Timeline {
		cues = append(cues, Cue{
			At:      c.Seconds,
			Section: c.Tab,
			Targets: c.Targets(),
			Chapter: c.IsChapter,
			Label:   c.Label,
		})
	}
	return New(cues)
}

// IndexAt returns the index of the last cue whose time has passed. Times before the first
// cue select the first cue. It returns -1 only for an empty timeline.
func (t Timeline) IndexAt(current float64) int {
	if len(t.Cues) == 0 {
		return -1
	}
	// first cue strictly after current
	i := sort.Search(len(t.Cues), func(i int) bool { return t.Cues[i].At > current })
	if i == 0 {
		return 0
	}
	return i - 1
}

// At returns the cue at index i.
func (t Timeline) At(i int) (Cue, bool) {
	if i < 0 || i >= len(t.Cues) {
		return Cue{}, false
	}
	return t.Cues[i], true
}

// Chapters returns the chapter marker cues in order.
func (t Timeline) Chapters() []Cue {
	var out []Cue
	for _, c := range t.Cues {
		if c.Chapter {
			out = append(out, c)
		}
	}
	return out
}

func (t Timeline) Len() int { return len(t.Cues) }

func sameTargets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]struct{}, len(a))
	for _, id := range a {
		seen[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	return true
}
