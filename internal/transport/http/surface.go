package http

import (
	"sync"

	"interactive-report-service/internal/timeline"
)

type sectionPayload struct {
	Section string `json:"section"`
}

type scrollPayload struct {
	ID string `json:"id"`
}

type highlightPayload struct {
	IDs []string `json:"ids"`
}

type overlayPayload struct {
	Mounted bool    `json:"mounted"`
	Path    string  `json:"path"`
	Opacity float64 `json:"opacity"`
}

// remoteSurface is the browser page as seen through a websocket. Geometry comes from the
// client's layout messages; every command is sent back as an outbound message.
type remoteSurface struct {
	emit func(typ string, payload any)

	mu       sync.RWMutex
	viewport timeline.Size
	elements map[string]timeline.Rect
}

func newRemoteSurface(emit func(string, any)) *remoteSurface {
	return &remoteSurface{emit: emit, elements: make(map[string]timeline.Rect)}
}

// setLayout replaces the known geometry. A zero viewport keeps the previous one.
func (s *remoteSurface) setLayout(viewport timeline.Size, elements map[string]timeline.Rect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if viewport != (timeline.Size{}) {
		s.viewport = viewport
	}
	s.elements = make(map[string]timeline.Rect, len(elements))
	for id, r := range elements {
		s.elements[id] = r
	}
}

func (s *remoteSurface) Bounds(id string) (timeline.Rect, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.elements[id]
	return r, ok
}

func (s *remoteSurface) Viewport() timeline.Size {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

func (s *remoteSurface) ShowSection(section string) {
	s.emit("section", sectionPayload{Section: section})
}

func (s *remoteSurface) ScrollIntoView(id string) {
	s.emit("scroll", scrollPayload{ID: id})
}

func (s *remoteSurface) Highlight(ids []string) {
	s.emit("highlight", highlightPayload{IDs: append([]string(nil), ids...)})
}

func (s *remoteSurface) Unhighlight(ids []string) {
	s.emit("unhighlight", highlightPayload{IDs: append([]string(nil), ids...)})
}

func (s *remoteSurface) MountOverlay() {
	s.emit("overlay", overlayPayload{Mounted: true})
}

func (s *remoteSurface) SetOverlay(path string, opacity float64) {
	s.emit("overlay", overlayPayload{Mounted: true, Path: path, Opacity: opacity})
}

func (s *remoteSurface) UnmountOverlay() {
	s.emit("overlay", overlayPayload{Mounted: false})
}
