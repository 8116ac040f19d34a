// Package aggregate maintains per-question vote tallies with exactly-once-per-user semantics.
//
// A finalized vote is written together with the question's aggregate in one document store
// transaction: the user's vote record is checked, overwritten as final, and the aggregate's
// total and tally for the vote's key are incremented. Concurrent finalizes for the same
// question are serialized by the store, so no increment is lost and a user is counted once.
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"interactive-report-service/internal/docstore"
	"interactive-report-service/internal/domain"
)

// Document fields.
const (
	fieldTimestamp  = "timestamp"
	fieldValue      = "value"
	fieldQuestionID = "questionId"
	fieldIsDraft    = "isDraft"
	fieldTotal      = "total_votes"
	fieldOptions    = "options"
)

// FinalizeHook observes committed votes.
type FinalizeHook func(ctx context.Context, q domain.Question, record domain.VoteRecord)

// Engine runs vote writes against a document store.
type Engine struct {
	store docstore.Store
	now   func() time.Time

	mu    sync.RWMutex
	hooks []FinalizeHook
}

func NewEngine(store docstore.Store) *Engine {
	return &Engine{store: store, now: time.Now}
}

// NewEngineWithClock is for deterministic timestamps in tests.
func NewEngineWithClock(store docstore.Store, now func() time.Time) *Engine {
	return &Engine{store: store, now: now}
}

// OnFinalize registers a hook called after every committed finalize.
func (e *Engine) OnFinalize(hook FinalizeHook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = append(e.hooks, hook)
}

// Finalize permanently casts userID's vote on q. It returns domain.ErrAlreadyVoted when a
// finalized record already exists; drafts are overwritten.
func (e *Engine) Finalize(ctx context.Context, userID string, q domain.Question, v domain.Value) (domain.VoteRecord, error) {
	value, err := domain.Normalize(q, v)
	if err != nil {
		return domain.VoteRecord{}, err
	}
	record := domain.VoteRecord{
		UserID:     userID,
		QuestionID: q.ID,
		Value:      value,
		Timestamp:  e.now().UTC(),
		IsDraft:    false,
	}
	recordID := docstore.VoteRecordID(userID, q.ID)
	tallyKey := value.String()

	err = e.store.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		existing, err := tx.Get(docstore.UserVotes, recordID)
		if err != nil {
			return err
		}
		if existing.Exists && !isDraft(existing.Data) {
			return domain.ErrAlreadyVoted
		}

		current, err := tx.Get(docstore.Interactions, q.ID)
		if err != nil {
			return err
		}
		total := docstore.Int(current.Data[fieldTotal])
		count := docstore.Int(docstore.Sub(current.Data, fieldOptions)[tallyKey])

		if err := tx.Set(docstore.UserVotes, recordID, recordDocument(record), docstore.SetOptions{}); err != nil {
			return err
		}
		return tx.Set(docstore.Interactions, q.ID, docstore.Document{
			fieldTotal:   total + 1,
			fieldOptions: docstore.Document{tallyKey: count + 1},
		}, docstore.SetOptions{Merge: true})
	})
	if err != nil {
		return domain.VoteRecord{}, fmt.Errorf("finalize %s for %s: %w", q.ID, userID, err)
	}

	e.mu.RLock()
	hooks := append([]FinalizeHook(nil), e.hooks...)
	e.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, q, record)
	}
	return record, nil
}

// SaveDraft merges a provisional answer into the user's vote record. A draft never touches
// a finalized record: the write is refused with domain.ErrAlreadyVoted instead.
func (e *Engine) SaveDraft(ctx context.Context, userID string, q domain.Question, v domain.Value) error {
	value, err := domain.Normalize(q, v)
	if err != nil {
		return err
	}
	record := domain.VoteRecord{
		UserID:     userID,
		QuestionID: q.ID,
		Value:      value,
		Timestamp:  e.now().UTC(),
		IsDraft:    true,
	}
	recordID := docstore.VoteRecordID(userID, q.ID)

	err = e.store.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		existing, err := tx.Get(docstore.UserVotes, recordID)
		if err != nil {
			return err
		}
		if existing.Exists && !isDraft(existing.Data) {
			return domain.ErrAlreadyVoted
		}
		return tx.Set(docstore.UserVotes, recordID, recordDocument(record), docstore.SetOptions{Merge: true})
	})
	if err != nil {
		return fmt.Errorf("save draft %s for %s: %w", q.ID, userID, err)
	}
	return nil
}

// Record returns the stored vote record of userID on questionID.
func (e *Engine) Record(ctx context.Context, userID, questionID string) (domain.VoteRecord, bool, error) {
	snap, err := e.store.Get(ctx, docstore.UserVotes, docstore.VoteRecordID(userID, questionID))
	if err != nil {
		return domain.VoteRecord{}, false, err
	}
	if !snap.Exists {
		return domain.VoteRecord{}, false, nil
	}
	return DecodeRecord(userID, snap.Data), true, nil
}

// Aggregate returns the current tallies of a question. A missing document is an empty aggregate.
func (e *Engine) Aggregate(ctx context.Context, questionID string) (domain.Aggregate, error) {
	snap, err := e.store.Get(ctx, docstore.Interactions, questionID)
	if err != nil {
		return domain.Aggregate{}, err
	}
	return DecodeAggregate(questionID, snap), nil
}

// Watch calls fn with the current aggregate and after every change.
func (e *Engine) Watch(ctx context.Context, questionID string, fn func(domain.Aggregate)) (func(), error) {
	return e.store.Subscribe(ctx, docstore.Interactions, questionID, func(s docstore.Snapshot) {
		fn(DecodeAggregate(questionID, s))
	})
}

// Summary reports the finalized answers of userID across questions.
func (e *Engine) Summary(ctx context.Context, userID string, questions []domain.Question) (domain.Summary, error) {
	votes := make(map[string]domain.Value, len(questions))
	for _, q := range questions {
		record, ok, err := e.Record(ctx, userID, q.ID)
		if err != nil {
			return domain.Summary{}, err
		}
		if ok && !record.IsDraft {
			votes[q.ID] = record.Value
		}
	}
	return Summarize(questions, votes), nil
}

// DecodeAggregate reads an aggregate snapshot; missing fields count as zero.
func DecodeAggregate(questionID string, s docstore.Snapshot) domain.Aggregate {
	agg := domain.Aggregate{QuestionID: questionID, Options: map[string]int{}}
	if !s.Exists {
		return agg
	}
	agg.TotalVotes = docstore.Int(s.Data[fieldTotal])
	for k, v := range docstore.Sub(s.Data, fieldOptions) {
		agg.Options[k] = docstore.Int(v)
	}
	return agg
}

// DecodeRecord reads a vote record document.
func DecodeRecord(userID string, d docstore.Document) domain.VoteRecord {
	record := domain.VoteRecord{
		UserID:  userID,
		Value:   domain.ValueOf(d[fieldValue]),
		IsDraft: isDraft(d),
	}
	if qid, ok := d[fieldQuestionID].(string); ok {
		record.QuestionID = qid
	}
	if ts, ok := d[fieldTimestamp].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			record.Timestamp = parsed
		}
	}
	return record
}

func recordDocument(r domain.VoteRecord) docstore.Document {
	return docstore.Document{
		fieldTimestamp:  r.Timestamp.Format(time.RFC3339Nano),
		fieldValue:      r.Value.Raw(),
		fieldQuestionID: r.QuestionID,
		fieldIsDraft:    r.IsDraft,
	}
}

// isDraft treats records without the flag as finalized.
func isDraft(d docstore.Document) bool {
	v, ok := d[fieldIsDraft].(bool)
	return ok && v
}
