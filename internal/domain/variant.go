package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// PointsTotal is the exact sum a points allocation must reach.
const PointsTotal = 100

const (
	sliderMin = 0
	sliderMax = 100
)

// Variant owns the encoding rules of one question type.
type Variant interface {
	Type() QuestionType
	// Normalize canonicalizes raw input. The result's String() is the tally key.
	Normalize(v Value) (Value, error)
	// Validate reports whether a normalized value may be finalized for q.
	Validate(q Question, v Value) error
}

var variants = map[QuestionType]Variant{
	TypePoll:    choiceVariant{typ: TypePoll},
	TypeQuiz:    choiceVariant{typ: TypeQuiz},
	TypeSlider:  sliderVariant{},
	TypeGuess:   guessVariant{},
	TypeRanking: rankingVariant{},
	TypePoints:  pointsVariant{},
	TypeInfo:    infoVariant{},
}

// VariantFor returns the variant of a question type.
func VariantFor(t QuestionType) (Variant, error) {
	v, ok := variants[t]
	if !ok {
		return nil, fmt.Errorf("unknown question type %q: %w", t, ErrInvalidValue)
	}
	return v, nil
}

// Normalize canonicalizes v using the question's variant.
func Normalize(q Question, v Value) (Value, error) {
	variant, err := VariantFor(q.Type)
	if err != nil {
		return Value{}, err
	}
	return variant.Normalize(v)
}

// Prepare normalizes and validates v for finalization.
func Prepare(q Question, v Value) (Value, error) {
	variant, err := VariantFor(q.Type)
	if err != nil {
		return Value{}, err
	}
	normalized, err := variant.Normalize(v)
	if err != nil {
		return Value{}, err
	}
	if err := variant.Validate(q, normalized); err != nil {
		return Value{}, err
	}
	return normalized, nil
}

type choiceVariant struct {
	typ QuestionType
}

func (c choiceVariant) Type() QuestionType { return c.typ }

func (choiceVariant) Normalize(v Value) (Value, error) { return v, nil }

func (choiceVariant) Validate(q Question, v Value) error {
	if _, ok := q.Option(v.String()); !ok {
		return fmt.Errorf("option %q not in question %s: %w", v.String(), q.ID, ErrInvalidValue)
	}
	return nil
}

type sliderVariant struct{}

func (sliderVariant) Type() QuestionType { return TypeSlider }

func (sliderVariant) Normalize(v Value) (Value, error) { return v, nil }

func (sliderVariant) Validate(q Question, v Value) error {
	n, err := integerOf(v)
	if err != nil {
		return err
	}
	lo, hi := bounds(q, sliderMin, sliderMax)
	if n < lo || n > hi {
		return fmt.Errorf("slider value %d outside [%d,%d]: %w", n, lo, hi, ErrInvalidValue)
	}
	return nil
}

type guessVariant struct{}

func (guessVariant) Type() QuestionType { return TypeGuess }

// Normalize parses the guess as an integer, dropping any fraction, and floors it at zero.
func (guessVariant) Normalize(v Value) (Value, error) {
	var n int64
	if v.Numeric {
		n = v.Num
	} else {
		text := strings.TrimSpace(v.Text)
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			n = i
		} else {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return Value{}, fmt.Errorf("guess %q is not a number: %w", v.Text, ErrInvalidValue)
			}
			var ok bool
			if n, ok = truncateFloat(f); !ok {
				return Value{}, fmt.Errorf("guess %q is out of range: %w", v.Text, ErrInvalidValue)
			}
		}
	}
	if n < 0 {
		n = 0
	}
	return NumberValue(n), nil
}

func (guessVariant) Validate(q Question, v Value) error {
	if !v.Numeric {
		return fmt.Errorf("guess must be numeric: %w", ErrInvalidValue)
	}
	if q.Min != nil && v.Num < int64(*q.Min) {
		return fmt.Errorf("guess %d below %d: %w", v.Num, *q.Min, ErrInvalidValue)
	}
	if q.Max != nil && v.Num > int64(*q.Max) {
		return fmt.Errorf("guess %d above %d: %w", v.Num, *q.Max, ErrInvalidValue)
	}
	return nil
}

type rankingVariant struct{}

func (rankingVariant) Type() QuestionType { return TypeRanking }

func (rankingVariant) Normalize(v Value) (Value, error) { return v, nil }

func (rankingVariant) Validate(q Question, v Value) error {
	order := ParseRanking(v.String())
	if len(order) != len(q.Options) {
		return fmt.Errorf("ranking has %d of %d options: %w", len(order), len(q.Options), ErrInvalidValue)
	}
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, ok := q.Option(id); !ok {
			return fmt.Errorf("ranking names unknown option %q: %w", id, ErrInvalidValue)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("ranking repeats option %q: %w", id, ErrInvalidValue)
		}
		seen[id] = struct{}{}
	}
	return nil
}

type pointsVariant struct{}

func (pointsVariant) Type() QuestionType { return TypePoints }

func (pointsVariant) Normalize(v Value) (Value, error) { return v, nil }

func (pointsVariant) Validate(q Question, v Value) error {
	allocation, err := ParseAllocation(v.String())
	if err != nil {
		return err
	}
	sum := 0
	for _, a := range allocation {
		if _, ok := q.Option(a.OptionID); !ok {
			return fmt.Errorf("allocation names unknown option %q: %w", a.OptionID, ErrInvalidValue)
		}
		sum += a.Points
	}
	if sum != PointsTotal {
		return fmt.Errorf("allocation sums to %d, want %d: %w", sum, PointsTotal, ErrInvalidValue)
	}
	return nil
}

type infoVariant struct{}

func (infoVariant) Type() QuestionType { return TypeInfo }

func (infoVariant) Normalize(v Value) (Value, error) { return v, nil }

func (infoVariant) Validate(Question, Value) error { return ErrNotVotable }

// Allocation is one `optionId:points` pair of a points answer.
type Allocation struct {
	OptionID string
	Points   int
}

// ParseAllocation decodes `a:20,b:80`. Duplicate ids and negative points are rejected.
func ParseAllocation(raw string) ([]Allocation, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty allocation: %w", ErrInvalidValue)
	}
	parts := strings.Split(raw, ",")
	out := make([]Allocation, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		id, pts, ok := strings.Cut(part, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("malformed allocation entry %q: %w", part, ErrInvalidValue)
		}
		n, err := strconv.Atoi(pts)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid points in %q: %w", part, ErrInvalidValue)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("allocation repeats option %q: %w", id, ErrInvalidValue)
		}
		seen[id] = struct{}{}
		out = append(out, Allocation{OptionID: id, Points: n})
	}
	return out, nil
}

// FormatAllocation encodes allocations in order.
func FormatAllocation(allocation []Allocation) string {
	parts := make([]string, len(allocation))
	for i, a := range allocation {
		parts[i] = a.OptionID + ":" + strconv.Itoa(a.Points)
	}
	return strings.Join(parts, ",")
}

// ParseRanking splits a comma-joined ranking.
func ParseRanking(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func integerOf(v Value) (int64, error) {
	if v.Numeric {
		return v.Num, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v.Text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer: %w", v.Text, ErrInvalidValue)
	}
	return n, nil
}

func bounds(q Question, lo, hi int64) (int64, int64) {
	if q.Min != nil {
		lo = int64(*q.Min)
	}
	if q.Max != nil {
		hi = int64(*q.Max)
	}
	return lo, hi
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
