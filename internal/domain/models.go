package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// QuestionType selects how an answer is encoded, validated and tallied.
type QuestionType string

const (
	TypePoll    QuestionType = "poll"
	TypeQuiz    QuestionType = "quiz"
	TypeRanking QuestionType = "ranking"
	TypePoints  QuestionType = "points"
	TypeSlider  QuestionType = "slider"
	TypeGuess   QuestionType = "guess"
	TypeInfo    QuestionType = "info"
)

// Option represents a selectable answer of a question.
type Option struct {
	ID        string `json:"id" yaml:"id" validate:"required"`
	Label     string `json:"label" yaml:"label"`
	IsCorrect bool   `json:"isCorrect,omitempty" yaml:"isCorrect,omitempty"` // quiz only
}

// Question is an immutable interaction definition loaded from content.
type Question struct {
	ID       string       `json:"id" yaml:"id" validate:"required"`
	Type     QuestionType `json:"type" yaml:"type" validate:"required,oneof=poll quiz ranking points slider guess info"`
	Prompt   string       `json:"question" yaml:"question"`
	Options  []Option     `json:"options" yaml:"options" validate:"dive"`
	Min      *int         `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *int         `json:"max,omitempty" yaml:"max,omitempty"`
	Unit     string       `json:"unit,omitempty" yaml:"unit,omitempty"`
	MinLabel string       `json:"minLabel,omitempty" yaml:"minLabel,omitempty"`
	MaxLabel string       `json:"maxLabel,omitempty" yaml:"maxLabel,omitempty"`
	// CorrectValue is the reference answer of a guess question.
	CorrectValue *int `json:"correctValue,omitempty" yaml:"correctValue,omitempty"`
}

// Option returns the option with the given id.
func (q Question) Option(id string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// CorrectOption returns the first option flagged correct.
func (q Question) CorrectOption() (Option, bool) {
	for _, opt := range q.Options {
		if opt.IsCorrect {
			return opt, true
		}
	}
	return Option{}, false
}

// Value is a user's answer: either a string (option id, ranking, allocation) or an integer
// (slider, guess). String() is the tally key.
type Value struct {
	Text    string
	Num     int64
	Numeric bool
}

func StringValue(s string) Value { return Value{Text: s} }

func NumberValue(n int64) Value { return Value{Num: n, Numeric: true} }

func (v Value) String() string {
	if v.Numeric {
		return formatInt(v.Num)
	}
	return v.Text
}

func (v Value) IsZero() bool {
	return !v.Numeric && v.Text == ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Numeric {
		return json.Marshal(v.Num)
	}
	return json.Marshal(v.Text)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*v = Value{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		*v = NumberValue(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	n, ok := truncateFloat(f)
	if !ok {
		return fmt.Errorf("number %s out of range: %w", trimmed, ErrInvalidValue)
	}
	*v = NumberValue(n)
	return nil
}

// truncateFloat drops the fraction of f. ok is false for NaN and for values outside int64.
func truncateFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || f >= 1<<63 || f < -(1<<63) {
		return 0, false
	}
	return int64(f), true
}

// ValueOf converts a decoded document field into a Value.
func ValueOf(raw any) Value {
	switch x := raw.(type) {
	case string:
		return StringValue(x)
	case float64:
		n, ok := truncateFloat(x)
		if !ok {
			return Value{}
		}
		return NumberValue(n)
	case int:
		return NumberValue(int64(x))
	case int64:
		return NumberValue(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return NumberValue(n)
		}
		return StringValue(x.String())
	default:
		return Value{}
	}
}

// Raw returns the document representation of the value.
func (v Value) Raw() any {
	if v.Numeric {
		return v.Num
	}
	return v.Text
}

// VoteRecord is one user's answer to one question.
type VoteRecord struct {
	UserID     string    `json:"-"`
	QuestionID string    `json:"questionId"`
	Value      Value     `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
	IsDraft    bool      `json:"isDraft"`
}

// Aggregate holds the finalized tallies of a question.
type Aggregate struct {
	QuestionID string         `json:"questionId"`
	TotalVotes int            `json:"totalVotes"`
	Options    map[string]int `json:"optionCounts"`
}

// Cue maps a playback time to a section and the content to focus.
type Cue struct {
	Seconds   float64  `json:"seconds" yaml:"seconds"`
	Tab       string   `json:"tab" yaml:"tab"`
	FocusID   string   `json:"focusId,omitempty" yaml:"focusId,omitempty"`
	FocusIDs  []string `json:"focusIds,omitempty" yaml:"focusIds,omitempty"`
	Label     string   `json:"label" yaml:"label"`
	IsChapter bool     `json:"isChapter,omitempty" yaml:"isChapter,omitempty"`
}

// Targets merges the single and multi focus fields.
func (c Cue) Targets() []string {
	targets := make([]string, 0, len(c.FocusIDs)+1)
	if c.FocusID != "" {
		targets = append(targets, c.FocusID)
	}
	for _, id := range c.FocusIDs {
		if id != "" && id != c.FocusID {
			targets = append(targets, id)
		}
	}
	return targets
}

// Page is a narrated report page.
type Page struct {
	Slug     string `json:"slug" yaml:"slug" validate:"required"`
	Title    string `json:"title" yaml:"title"`
	AudioSrc string `json:"audioSrc,omitempty" yaml:"audioSrc,omitempty"`
	Timeline []Cue  `json:"timeline" yaml:"timeline"`
}

// AudioPath returns the configured audio source or the slug convention.
func (p Page) AudioPath() string {
	if p.AudioSrc != "" {
		return p.AudioSrc
	}
	return "audio/" + p.Slug + ".mp3"
}

// Summary is the per-user participation overview.
type Summary struct {
	Answered     int             `json:"answered"`
	QuizTotal    int             `json:"quizTotal"`
	QuizCorrect  int             `json:"quizCorrect"`
	Interactions []SummaryAnswer `json:"interactions"`
}

// SummaryAnswer is a user's finalized answer to one question.
type SummaryAnswer struct {
	QuestionID string       `json:"questionId"`
	Type       QuestionType `json:"type"`
	Prompt     string       `json:"question"`
	Vote       Value        `json:"vote"`
	Correct    *bool        `json:"correct,omitempty"`
}

// VoteEvent announces a finalized vote to downstream consumers.
type VoteEvent struct {
	QuestionID   string       `json:"questionId"`
	QuestionType QuestionType `json:"questionType"`
	UserID       string       `json:"userId"`
	Value        Value        `json:"value"`
	Timestamp    time.Time    `json:"timestamp"`
}
