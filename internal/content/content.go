// Package content loads question definitions and narrated pages.
package content

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"interactive-report-service/internal/domain"
)

// Loader fetches content from a backing store.
type Loader interface {
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
	LoadPage(ctx context.Context, slug string) (domain.Page, error)
}

// Bundle is a content file: the questions and pages of one or more reports.
type Bundle struct {
	Questions []domain.Question `yaml:"questions" validate:"dive"`
	Pages     []domain.Page     `yaml:"pages" validate:"dive"`
}

var validate = validator.New()

// ValidateQuestion checks a definition against the rules of its type.
func ValidateQuestion(q domain.Question) error {
	if err := validate.Struct(q); err != nil {
		return fmt.Errorf("question %q: %w", q.ID, err)
	}
	switch q.Type {
	case domain.TypePoll, domain.TypeQuiz, domain.TypeRanking, domain.TypePoints:
		if len(q.Options) == 0 {
			return fmt.Errorf("question %q: %s needs options", q.ID, q.Type)
		}
		seen := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if _, dup := seen[opt.ID]; dup {
				return fmt.Errorf("question %q: duplicate option %q", q.ID, opt.ID)
			}
			seen[opt.ID] = struct{}{}
		}
	}
	if q.Min != nil && q.Max != nil && *q.Min > *q.Max {
		return fmt.Errorf("question %q: min above max", q.ID)
	}
	return nil
}

// Parse decodes and validates a YAML bundle.
func Parse(data []byte) (Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("decode content: %w", err)
	}
	for _, q := range b.Questions {
		if err := ValidateQuestion(q); err != nil {
			return Bundle{}, err
		}
	}
	if err := validate.Struct(b); err != nil {
		return Bundle{}, fmt.Errorf("validate content: %w", err)
	}
	return b, nil
}

// ReadFile parses the bundle at path.
func ReadFile(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, err
	}
	return Parse(data)
}

// StaticLoader serves a bundle held in memory.
type StaticLoader struct {
	questions map[string]domain.Question
	pages     map[string]domain.Page
}

func NewStaticLoader(b Bundle) *StaticLoader {
	l := &StaticLoader{
		questions: make(map[string]domain.Question, len(b.Questions)),
		pages:     make(map[string]domain.Page, len(b.Pages)),
	}
	for _, q := range b.Questions {
		l.questions[q.ID] = q
	}
	for _, p := range b.Pages {
		l.pages[p.Slug] = p
	}
	return l
}

func (l *StaticLoader) LoadQuestion(_ context.Context, questionID string) (domain.Question, error) {
	if q, ok := l.questions[questionID]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (l *StaticLoader) LoadPage(_ context.Context, slug string) (domain.Page, error) {
	if p, ok := l.pages[slug]; ok {
		return p, nil
	}
	return domain.Page{}, domain.ErrPageNotFound
}

// Sample is the built-in demo content used when no content source is configured.
func Sample() Bundle {
	lo, hi, correct := 0, 100, 42
	return Bundle{
		Questions: []domain.Question{
			{
				ID:     "trust-poll",
				Type:   domain.TypePoll,
				Prompt: "How much do you trust public media?",
				Options: []domain.Option{
					{ID: "high", Label: "A lot"},
					{ID: "some", Label: "Somewhat"},
					{ID: "low", Label: "Not at all"},
				},
			},
			{
				ID:     "funding-quiz",
				Type:   domain.TypeQuiz,
				Prompt: "Which source funds most public broadcasters in Europe?",
				Options: []domain.Option{
					{ID: "ads", Label: "Advertising"},
					{ID: "fees", Label: "License fees", IsCorrect: true},
					{ID: "donations", Label: "Donations"},
				},
			},
			{
				ID:           "share-guess",
				Type:         domain.TypeGuess,
				Prompt:       "What share of adults watch public TV weekly?",
				Min:          &lo,
				Max:          &hi,
				Unit:         "%",
				CorrectValue: &correct,
			},
			{
				ID:     "priorities",
				Type:   domain.TypePoints,
				Prompt: "Distribute 100 points across these priorities.",
				Options: []domain.Option{
					{ID: "news", Label: "News"},
					{ID: "culture", Label: "Culture"},
					{ID: "education", Label: "Education"},
				},
			},
		},
		Pages: []domain.Page{
			{
				Slug:  "public-media",
				Title: "The state of public media",
				Timeline: []domain.Cue{
					{Seconds: 0, Tab: "theory", FocusID: "intro", Label: "Introduction", IsChapter: true},
					{Seconds: 45, Tab: "theory", FocusID: "trust-poll", Label: "Trust"},
					{Seconds: 95, Tab: "data", FocusIDs: []string{"funding-chart", "funding-legend"}, Label: "Funding", IsChapter: true},
					{Seconds: 160, Tab: "consequences", FocusID: "outlook", Label: "Outlook", IsChapter: true},
				},
			},
		},
	}
}
