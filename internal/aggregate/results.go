package aggregate

import (
	"math"
	"sort"
	"strconv"

	"interactive-report-service/internal/domain"
)

// OptionResult is one option's share of a question's finalized votes.
type OptionResult struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Count   int    `json:"count"`
	Percent int    `json:"percent"`
	// AverageRank is the mean 1-based position of the option in ranking answers.
	AverageRank float64 `json:"averageRank,omitempty"`
	// AveragePoints is the mean allocation of the option in points answers.
	AveragePoints float64 `json:"averagePoints,omitempty"`
	IsCorrect     bool    `json:"isCorrect,omitempty"`
}

// View is the rendered outcome of a question.
type View struct {
	QuestionID string              `json:"questionId"`
	Type       domain.QuestionType `json:"type"`
	TotalVotes int                 `json:"totalVotes"`
	Options    []OptionResult      `json:"options,omitempty"`
	// Average is the mean numeric answer of slider and guess questions.
	Average      *float64       `json:"average,omitempty"`
	CorrectValue *int           `json:"correctValue,omitempty"`
	Counts       map[string]int `json:"optionCounts"`
}

// Percent rounds count/total to a whole percentage.
func Percent(count, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(count) * 100 / float64(total)))
}

// BuildView derives the results of q from its aggregate.
func BuildView(q domain.Question, agg domain.Aggregate) View {
	view := View{
		QuestionID: q.ID,
		Type:       q.Type,
		TotalVotes: agg.TotalVotes,
		Counts:     agg.Options,
	}
	switch q.Type {
	case domain.TypePoll, domain.TypeQuiz:
		view.Options = choiceResults(q, agg)
	case domain.TypeSlider, domain.TypeGuess:
		view.Average = numericAverage(agg)
		view.CorrectValue = q.CorrectValue
	case domain.TypeRanking:
		view.Options = rankingResults(q, agg)
	case domain.TypePoints:
		view.Options = pointsResults(q, agg)
	}
	return view
}

func choiceResults(q domain.Question, agg domain.Aggregate) []OptionResult {
	out := make([]OptionResult, 0, len(q.Options))
	for _, opt := range q.Options {
		count := agg.Options[opt.ID]
		out = append(out, OptionResult{
			ID:        opt.ID,
			Label:     opt.Label,
			Count:     count,
			Percent:   Percent(count, agg.TotalVotes),
			IsCorrect: q.Type == domain.TypeQuiz && opt.IsCorrect,
		})
	}
	return out
}

func numericAverage(agg domain.Aggregate) *float64 {
	sum, n := 0.0, 0
	for key, count := range agg.Options {
		v, err := strconv.ParseFloat(key, 64)
		if err != nil {
			continue
		}
		sum += v * float64(count)
		n += count
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

func rankingResults(q domain.Question, agg domain.Aggregate) []OptionResult {
	positions := make(map[string]int, len(q.Options))
	firsts := make(map[string]int, len(q.Options))
	n := 0
	for key, count := range agg.Options {
		order := domain.ParseRanking(key)
		for i, id := range order {
			positions[id] += (i + 1) * count
		}
		if len(order) > 0 {
			firsts[order[0]] += count
		}
		n += count
	}
	out := make([]OptionResult, 0, len(q.Options))
	for _, opt := range q.Options {
		r := OptionResult{ID: opt.ID, Label: opt.Label, Count: firsts[opt.ID], Percent: Percent(firsts[opt.ID], n)}
		if n > 0 {
			r.AverageRank = float64(positions[opt.ID]) / float64(n)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if n == 0 {
			return false
		}
		return out[i].AverageRank < out[j].AverageRank
	})
	return out
}

func pointsResults(q domain.Question, agg domain.Aggregate) []OptionResult {
	totals := make(map[string]int, len(q.Options))
	n := 0
	for key, count := range agg.Options {
		allocation, err := domain.ParseAllocation(key)
		if err != nil {
			continue
		}
		for _, a := range allocation {
			totals[a.OptionID] += a.Points * count
		}
		n += count
	}
	grand := 0
	for _, v := range totals {
		grand += v
	}
	out := make([]OptionResult, 0, len(q.Options))
	for _, opt := range q.Options {
		r := OptionResult{ID: opt.ID, Label: opt.Label, Percent: Percent(totals[opt.ID], grand)}
		if n > 0 {
			r.AveragePoints = float64(totals[opt.ID]) / float64(n)
		}
		out = append(out, r)
	}
	return out
}

// Summarize builds a participation summary from finalized votes keyed by question id.
func Summarize(questions []domain.Question, votes map[string]domain.Value) domain.Summary {
	summary := domain.Summary{Interactions: []domain.SummaryAnswer{}}
	for _, q := range questions {
		vote, ok := votes[q.ID]
		if !ok {
			continue
		}
		answer := domain.SummaryAnswer{QuestionID: q.ID, Type: q.Type, Prompt: q.Prompt, Vote: vote}
		if q.Type == domain.TypeQuiz {
			summary.QuizTotal++
			correct := false
			if opt, ok := q.CorrectOption(); ok && opt.ID == vote.String() {
				correct = true
				summary.QuizCorrect++
			}
			answer.Correct = &correct
		}
		summary.Answered++
		summary.Interactions = append(summary.Interactions, answer)
	}
	return summary
}
