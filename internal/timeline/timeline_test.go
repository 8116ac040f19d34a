package timeline

import (
	"testing"

	"interactive-report-service/internal/domain"
)

func TestIndexAtSelectsLastPassedCue(t *testing.T) {
	tl := New([]Cue{
		{At: 120, Section: "C"},
		{At: 0, Section: "A"},
		{At: 60, Section: "B"},
	})
	cases := []struct {
		at   float64
		want string
	}{
		{90, "B"},
		{150, "C"},
		{-5, "A"},
		{0, "A"},
		{60, "B"},
		{119.9, "B"},
	}
	for _, tc := range cases {
		cue, ok := tl.At(tl.IndexAt(tc.at))
		if !ok || cue.Section != tc.want {
			t.Fatalf("at %v: expected %s, got %+v", tc.at, tc.want, cue)
		}
	}
}

func TestIndexAtEmptyTimeline(t *testing.T) {
	if got := (Timeline{}).IndexAt(10); got != -1 {
		t.Fatalf("expected -1, got %d", got)
	}
}

func TestIndexAtTiesPickLatest(t *testing.T) {
	tl := New([]Cue{{At: 10, Label: "first"}, {At: 10, Label: "second"}})
	if cue, _ := tl.At(tl.IndexAt(10)); cue.Label != "second" {
		t.Fatalf("expected the later cue, got %q", cue.Label)
	}
}

func TestFromPageMergesTargetsAndChapters(t *testing.T) {
	page := domain.Page{Slug: "p", Timeline: []domain.Cue{
		{Seconds: 30, Tab: "data", FocusID: "chart", FocusIDs: []string{"chart", "legend"}},
		{Seconds: 0, Tab: "theory", FocusID: "intro", IsChapter: true, Label: "Intro"},
	}}
	tl := FromPage(page)
	if tl.Len() != 2 || tl.Cues[0].Section != "theory" {
		t.Fatalf("expected sorted cues, got %+v", tl.Cues)
	}
	if got := tl.Cues[1].Targets; len(got) != 2 || got[0] != "chart" || got[1] != "legend" {
		t.Fatalf("unexpected targets %v", got)
	}
	chapters := tl.Chapters()
	if len(chapters) != 1 || chapters[0].Label != "Intro" {
		t.Fatalf("unexpected chapters %+v", chapters)
	}
}

func TestOverlayPath(t *testing.T) {
	got := OverlayPath(Size{Width: 800, Height: 600}, []Rect{
		{Left: 10, Top: 20, Width: 100, Height: 50.5},
		{Left: 0, Top: 300, Width: 800, Height: 100},
	})
	want := "M0,0 H800 V600 H0 Z M10,20 V70.5 H110 V20 Z M0,300 V400 H800 V300 Z"
	if got != want {
		t.Fatalf("unexpected path\n got %q\nwant %q", got, want)
	}
	if got := OverlayPath(Size{Width: 1, Height: 2}, nil); got != "M0,0 H1 V2 H0 Z" {
		t.Fatalf("unexpected bare path %q", got)
	}
}
