// Package vote mediates between live user input on one question and the document store.
//
// Each Controller tracks a single status value: idle, drafting, finalizing or finalized.
// Drafts are debounced and best effort. Finalizing is terminal and preempts drafts: the
// switch to finalizing happens synchronously before any I/O, and the draft path re-checks
// the status at every point where it resumes after I/O.
package vote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"interactive-report-service/internal/aggregate"
	"interactive-report-service/internal/clock"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/identity"
	"interactive-report-service/internal/localcache"
	"interactive-report-service/internal/phase"
)

// DefaultDebounce is the quiet time after the last interaction before a draft is saved.
const DefaultDebounce = time.Second

// WatchFunc subscribes fn to the aggregate of a question and returns a stop function.
type WatchFunc func(ctx context.Context, questionID string, fn func(domain.Aggregate)) (func(), error)

// Config tunes a Controller. Zero fields get defaults.
type Config struct {
	Debounce  time.Duration
	Window    phase.Window
	Scheduler clock.Scheduler
	Notifier  Notifier
	Observer  Observer
	Logger    logrus.FieldLogger
	// Watch overrides the results subscription; nil watches the engine directly.
	Watch WatchFunc
}

// Controller is the per-question vote state machine of one voter. It is safe for
// concurrent use.
type Controller struct {
	question domain.Question
	engine   *aggregate.Engine
	identity identity.Provider
	cache    localcache.Cache
	sched    clock.Scheduler
	notifier Notifier
	observer Observer
	log      logrus.FieldLogger
	debounce time.Duration
	window   phase.Window
	watch    WatchFunc

	status atomic.Int32

	mu        sync.Mutex
	hasVoted  bool
	current   *domain.Value
	pending   *domain.Value
	timer     clock.Timer
	now       float64
	results   *domain.Aggregate
	unwatch   func()
	listeners []func(View)
	closed    bool
}

func NewController(q domain.Question, engine *aggregate.Engine, ids identity.Provider, cache localcache.Cache, cfg Config) *Controller {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Window == (phase.Window{}) {
		cfg.Window = phase.NewWindow(0)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = clock.NewReal(0)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(string, error) {})
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Watch == nil {
		cfg.Watch = engine.Watch
	}
	c := &Controller{
		question: q,
		engine:   engine,
		identity: ids,
		cache:    cache,
		sched:    cfg.Scheduler,
		notifier: cfg.Notifier,
		observer: cfg.Observer,
		log:      cfg.Logger.WithField("question_id", q.ID),
		debounce: cfg.Debounce,
		window:   cfg.Window,
		watch:    cfg.Watch,
	}
	c.restore()
	return c
}

// restore loads the last known vote or draft from the local cache. A finalized value
// always wins over a draft.
func (c *Controller) restore() {
	if raw, ok := c.cache.Get(localcache.VoteKey(c.question.ID)); ok {
		v := decodeCached(c.question, raw)
		c.current = &v
		c.hasVoted = true
		c.status.Store(int32(StatusFinalized))
		return
	}
	if raw, ok := c.cache.Get(localcache.DraftKey(c.question.ID)); ok {
		v := decodeCached(c.question, raw)
		c.current = &v
	}
}

// Start subscribes to the question's aggregate and reconciles with a vote record stored
// by another session of the same voter.
func (c *Controller) Start(ctx context.Context) error {
	unwatch, err := c.watch(ctx, c.question.ID, func(a domain.Aggregate) {
		c.mu.Lock()
		c.results = &a
		c.mu.Unlock()
		c.emit()
	})
	if err != nil {
		return fmt.Errorf("watch results of %s: %w", c.question.ID, err)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unwatch()
		return nil
	}
	c.unwatch = unwatch
	c.mu.Unlock()

	if Status(c.status.Load()) == StatusFinalized {
		return nil
	}
	id, err := c.identity.Ensure(ctx)
	if err != nil {
		c.log.WithError(err).Error("identity resolution failed")
		return nil
	}
	record, ok, err := c.engine.Record(ctx, id.ID, c.question.ID)
	if err != nil {
		c.log.WithError(err).Warn("vote record resync failed")
		return nil
	}
	if !ok {
		return nil
	}
	if !record.IsDraft {
		c.adopt(record.Value, true)
		return nil
	}
	c.mu.Lock()
	if c.current == nil {
		v := record.Value
		c.current = &v
	}
	c.mu.Unlock()
	c.emit()
	return nil
}

// HandleInteraction records an in-progress value and schedules a debounced draft save.
// Repeated calls within the debounce delay restart the timer. The raw value is cached
// locally right away.
func (c *Controller) HandleInteraction(v domain.Value) {
	if blocked(c.status.Load()) {
		return
	}
	c.mu.Lock()
	if c.closed || c.hasVoted || phase.Derive(c.now, c.window) != phase.Input {
		c.mu.Unlock()
		return
	}
	c.pending = &v
	c.cache.Set(localcache.DraftKey(c.question.ID), v.String())
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.sched.AfterFunc(c.debounce, c.flushDraft)
	c.mu.Unlock()
	c.emit()
}

func (c *Controller) flushDraft() {
	c.mu.Lock()
	v := c.pending
	c.pending = nil
	c.timer = nil
	closed := c.closed
	c.mu.Unlock()
	if v == nil || closed {
		return
	}
	_ = c.SaveDraft(context.Background(), *v)
}

// SaveDraft writes v as the voter's provisional answer. The write is discarded when a
// finalize started before or during it. Failures are logged and returned; drafts are
// best effort and never block voting.
func (c *Controller) SaveDraft(ctx context.Context, v domain.Value) error {
	if blocked(c.status.Load()) {
		c.discardDraft("finalize in progress")
		return nil
	}
	value, err := domain.Normalize(c.question, v)
	if err != nil {
		c.log.WithError(err).Warn("draft value rejected")
		return err
	}

	if c.status.CompareAndSwap(int32(StatusIdle), int32(StatusDrafting)) {
		defer c.status.CompareAndSwap(int32(StatusDrafting), int32(StatusIdle))
	}

	id, err := c.identity.Ensure(ctx)
	if err != nil {
		c.log.WithError(err).Error("identity resolution failed")
		return fmt.Errorf("save draft: %w", err)
	}
	if blocked(c.status.Load()) {
		c.discardDraft("finalize started during identity resolution")
		return nil
	}

	err = c.engine.SaveDraft(ctx, id.ID, c.question, value)
	if blocked(c.status.Load()) {
		c.discardDraft("finalize started during draft write")
		return nil
	}
	if errors.Is(err, domain.ErrAlreadyVoted) {
		c.log.WithField("user_id", id.ID).Info("vote already finalized elsewhere")
		c.reconcile(ctx, id)
		return nil
	}
	if err != nil {
		c.log.WithError(err).WithField("user_id", id.ID).Warn("draft save failed")
		return err
	}

	c.mu.Lock()
	c.current = &value
	c.mu.Unlock()
	c.observer.DraftSaved(c.question)
	c.emit()
	return nil
}

// SubmitVote permanently casts v. When a finalized vote already exists on the server, the
// local state adopts it and the stored record is returned without error. Any other failure
// reverts to idle so the voter can retry, and the notifier is told.
func (c *Controller) SubmitVote(ctx context.Context, v domain.Value) (domain.VoteRecord, error) {
	c.mu.Lock()
	hasVoted, closed := c.hasVoted, c.closed
	current := phase.Derive(c.now, c.window)
	c.mu.Unlock()
	switch {
	case closed:
		return domain.VoteRecord{}, domain.ErrInputClosed
	case hasVoted:
		return domain.VoteRecord{}, domain.ErrAlreadyVoted
	case current != phase.Input:
		return domain.VoteRecord{}, domain.ErrInputClosed
	}

	value, err := domain.Prepare(c.question, v)
	if err != nil {
		return domain.VoteRecord{}, err
	}

	for {
		s := c.status.Load()
		switch Status(s) {
		case StatusFinalizing:
			return domain.VoteRecord{}, domain.ErrSubmitInProgress
		case StatusFinalized:
			return domain.VoteRecord{}, domain.ErrAlreadyVoted
		}
		if c.status.CompareAndSwap(s, int32(StatusFinalizing)) {
			break
		}
	}
	c.cancelPendingDraft()
	c.emit()

	id, err := c.identity.Ensure(ctx)
	if err != nil {
		c.log.WithError(err).Error("identity resolution failed")
		return domain.VoteRecord{}, c.fail(fmt.Errorf("submit vote: %w", err))
	}

	record, err := c.engine.Finalize(ctx, id.ID, c.question, value)
	switch {
	case err == nil:
		c.cache.Set(localcache.VoteKey(c.question.ID), value.String())
		c.cache.Remove(localcache.DraftKey(c.question.ID))
		c.mu.Lock()
		c.hasVoted = true
		c.current = &value
		c.mu.Unlock()
		c.status.Store(int32(StatusFinalized))
		c.emit()
		return record, nil
	case errors.Is(err, domain.ErrAlreadyVoted):
		c.observer.DuplicateVote(c.question)
		c.log.WithField("user_id", id.ID).Info("duplicate vote, adopting stored vote")
		return c.reconcile(ctx, id), nil
	default:
		c.log.WithError(err).WithField("user_id", id.ID).Error("vote submission failed")
		return domain.VoteRecord{}, c.fail(err)
	}
}

func (c *Controller) fail(err error) error {
	c.status.Store(int32(StatusIdle))
	c.observer.FinalizeFailed(c.question)
	c.notifier.RetryPrompt(c.question.ID, err)
	c.emit()
	return err
}

// reconcile adopts the finalized record stored on the server as the source of truth.
func (c *Controller) reconcile(ctx context.Context, id identity.Identity) domain.VoteRecord {
	record, ok, err := c.engine.Record(ctx, id.ID, c.question.ID)
	if err != nil || !ok {
		if err != nil {
			c.log.WithError(err).Warn("stored vote could not be read")
		}
		c.adopt(domain.Value{}, false)
		return domain.VoteRecord{UserID: id.ID, QuestionID: c.question.ID}
	}
	c.adopt(record.Value, true)
	return record
}

func (c *Controller) adopt(v domain.Value, known bool) {
	c.cancelPendingDraft()
	if known {
		c.cache.Set(localcache.VoteKey(c.question.ID), v.String())
	}
	c.cache.Remove(localcache.DraftKey(c.question.ID))
	c.mu.Lock()
	c.hasVoted = true
	if known {
		c.current = &v
	}
	c.mu.Unlock()
	c.status.Store(int32(StatusFinalized))
	c.emit()
}

func (c *Controller) cancelPendingDraft() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
}

func (c *Controller) discardDraft(reason string) {
	c.observer.DraftDiscarded(c.question)
	c.log.WithField("reason", reason).Debug("draft discarded")
}

// Tick moves the controller's clock to the current audio time.
func (c *Controller) Tick(current float64) {
	c.mu.Lock()
	before := phase.Derive(c.now, c.window)
	c.now = current
	after := phase.Derive(c.now, c.window)
	c.mu.Unlock()
	if before != after {
		c.emit()
	}
}

// Status returns the current lifecycle status.
func (c *Controller) Status() Status {
	return Status(c.status.Load())
}

// Question returns the controlled question.
func (c *Controller) Question() domain.Question {
	return c.question
}

// OnChange registers fn to be called with the new view after every state change.
func (c *Controller) OnChange(fn func(View)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// View returns a snapshot of the controller's state.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	p := phase.Derive(c.now, c.window)
	view := View{
		QuestionID:  c.question.ID,
		Phase:       p,
		Status:      Status(c.status.Load()),
		HasVoted:    c.hasVoted,
		ShowResults: phase.ShowResults(p, c.hasVoted),
	}
	if c.current != nil {
		v := *c.current
		view.Vote = &v
	}
	if c.pending != nil && !c.hasVoted {
		v := *c.pending
		view.Draft = &v
	}
	if c.results != nil {
		results := aggregate.BuildView(c.question, *c.results)
		view.Results = &results
	}
	return view
}

func (c *Controller) emit() {
	c.mu.Lock()
	if c.closed || len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	view := c.viewLocked()
	listeners := append([]func(View){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(view)
	}
}

// Close stops the debounce timer and the results subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unwatch := c.unwatch
	c.unwatch = nil
	c.listeners = nil
	c.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

func blocked(s int32) bool {
	return Status(s) == StatusFinalizing || Status(s) == StatusFinalized
}

// decodeCached restores a cached value, numeric for slider and guess questions.
func decodeCached(q domain.Question, raw string) domain.Value {
	if q.Type == domain.TypeSlider || q.Type == domain.TypeGuess {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return domain.NumberValue(n)
		}
	}
	return domain.StringValue(raw)
}
