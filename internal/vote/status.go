package vote

import (
	"interactive-report-service/internal/aggregate"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/phase"
)

type Status int32

const (
	StatusIdle Status = iota
	StatusDrafting
	StatusFinalizing
	StatusFinalized
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDrafting:
		return "drafting"
	case StatusFinalizing:
		return "finalizing"
	case StatusFinalized:
		return "finalized"
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// View is what a client renders for one question.
type View struct {
	QuestionID  string          `json:"questionId"`
	Phase       phase.Phase     `json:"phase"`
	Status      Status          `json:"status"`
	HasVoted    bool            `json:"hasVoted"`
	ShowResults bool            `json:"showResults"`
	Vote        *domain.Value   `json:"vote,omitempty"`
	Draft       *domain.Value   `json:"draft,omitempty"`
	Results     *aggregate.View `json:"results,omitempty"`
}

// Notifier tells the voter that a submission failed and can be retried.
type Notifier interface {
	RetryPrompt(questionID string, err error)
}

type NotifierFunc func(questionID string, err error)

func (f NotifierFunc) RetryPrompt(questionID string, err error) { f(questionID, err) }

// Observer receives controller events, typically for metrics.
type Observer interface {
	DraftSaved(q domain.Question)
	DraftDiscarded(q domain.Question)
	DuplicateVote(q domain.Question)
	FinalizeFailed(q domain.Question)
}

type nopObserver struct{}

func (nopObserver) DraftSaved(domain.Question)     {}
func (nopObserver) DraftDiscarded(domain.Question) {}
func (nopObserver) DuplicateVote(domain.Question)  {}
func (nopObserver) FinalizeFailed(domain.Question) {}
