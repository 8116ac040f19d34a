package content

import (
	"context"
	"errors"
	"testing"

	"interactive-report-service/internal/domain"
)

const bundleYAML = `
questions:
  - id: q1
    type: ranking
    question: Order these
    options:
      - id: a
        label: A
      - id: b
        label: B
pages:
  - slug: report
    title: Report
    timeline:
      - seconds: 0
        tab: theory
        focusId: intro
        label: Intro
        isChapter: true
      - seconds: 30
        tab: data
        focusIds: [chart, legend]
        label: Data
`

func TestParseBundle(t *testing.T) {
	b, err := Parse([]byte(bundleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	loader := NewStaticLoader(b)
	q, err := loader.LoadQuestion(context.Background(), "q1")
	if err != nil {
		t.Fatalf("load question: %v", err)
	}
	if q.Type != domain.TypeRanking || len(q.Options) != 2 || q.Prompt != "Order these" {
		t.Fatalf("unexpected question %+v", q)
	}
	p, err := loader.LoadPage(context.Background(), "report")
	if err != nil {
		t.Fatalf("load page: %v", err)
	}
	if len(p.Timeline) != 2 || len(p.Timeline[1].FocusIDs) != 2 || !p.Timeline[0].IsChapter {
		t.Fatalf("unexpected page %+v", p)
	}
	if p.AudioPath() != "audio/report.mp3" {
		t.Fatalf("unexpected audio path %q", p.AudioPath())
	}
}

func TestParseRejectsInvalidQuestions(t *testing.T) {
	cases := map[string]string{
		"unknown type":     "questions:\n  - id: q\n    type: essay\n",
		"missing id":       "questions:\n  - type: poll\n    options: [{id: a}]\n",
		"no options":       "questions:\n  - id: q\n    type: poll\n",
		"duplicate option": "questions:\n  - id: q\n    type: quiz\n    options: [{id: a}, {id: a}]\n",
		"min above max":    "questions:\n  - id: q\n    type: slider\n    min: 10\n    max: 5\n",
		"no slug":          "pages:\n  - title: x\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestStaticLoaderNotFound(t *testing.T) {
	loader := NewStaticLoader(Sample())
	if _, err := loader.LoadQuestion(context.Background(), "nope"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if _, err := loader.LoadPage(context.Background(), "nope"); !errors.Is(err, domain.ErrPageNotFound) {
		t.Fatalf("expected ErrPageNotFound, got %v", err)
	}
}

func TestSampleIsValid(t *testing.T) {
	for _, q := range Sample().Questions {
		if err := ValidateQuestion(q); err != nil {
			t.Fatalf("sample question invalid: %v", err)
		}
	}
}
