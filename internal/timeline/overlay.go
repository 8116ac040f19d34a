package timeline

import (
	"strconv"
	"strings"
)

// Rect is an element's box in viewport coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Size is the viewport size.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// OverlayPath is an SVG path covering the viewport with one hole per cut-out. It is meant
// to be filled with the even-odd rule.
func OverlayPath(viewport Size, holes []Rect) string {
	var b strings.Builder
	b.WriteString("M0,0 H")
	b.WriteString(num(viewport.Width))
	b.WriteString(" V")
	b.WriteString(num(viewport.Height))
	b.WriteString(" H0 Z")
	for _, r := range holes {
		b.WriteString(" M")
		b.WriteString(num(r.Left))
		b.WriteByte(',')
		b.WriteString(num(r.Top))
		b.WriteString(" V")
		b.WriteString(num(r.Bottom()))
		b.WriteString(" H")
		b.WriteString(num(r.Right()))
		b.WriteString(" V")
		b.WriteString(num(r.Top))
		b.WriteString(" Z")
	}
	return b.String()
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Overlay is the dimming layer of one director. It is mounted on first use and removed
// on Close.
type Overlay struct {
	surface Surface
	mounted bool
	visible bool
	path    string
}

func newOverlay(s Surface) *Overlay {
	return &Overlay{surface: s}
}

// Show fades the overlay in with holes at the given rects. Unchanged geometry is not
// re-sent.
func (o *Overlay) Show(viewport Size, holes []Rect) {
	if !o.mounted {
		o.surface.MountOverlay()
		o.mounted = true
	}
	path := OverlayPath(viewport, holes)
	if o.visible && path == o.path {
		return
	}
	o.visible = true
	o.path = path
	o.surface.SetOverlay(path, 1)
}

// Clear hides the overlay and empties its path.
func (o *Overlay) Clear() {
	if !o.mounted || (!o.visible && o.path == "") {
		return
	}
	o.visible = false
	o.path = ""
	o.surface.SetOverlay("", 0)
}

func (o *Overlay) Close() {
	if !o.mounted {
		return
	}
	o.surface.UnmountOverlay()
	o.mounted = false
	o.visible = false
	o.path = ""
}

func (o *Overlay) Visible() bool { return o.visible }
