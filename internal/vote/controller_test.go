package vote_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"interactive-report-service/internal/aggregate"
	"interactive-report-service/internal/clock"
	"interactive-report-service/internal/docstore"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/identity"
	"interactive-report-service/internal/infra/memory"
	"interactive-report-service/internal/localcache"
	"interactive-report-service/internal/phase"
	"interactive-report-service/internal/vote"
)

var errUnavailable = errors.New("store unavailable")

// gatedStore counts transactions and can hold the first one until released.
type gatedStore struct {
	docstore.Store
	calls   atomic.Int32
	failing atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore(gated bool) *gatedStore {
	s := &gatedStore{Store: memory.NewDocStore()}
	if gated {
		s.entered = make(chan struct{})
		s.release = make(chan struct{})
	}
	return s
}

func (s *gatedStore) RunTransaction(ctx context.Context, fn func(context.Context, docstore.Tx) error) error {
	n := s.calls.Add(1)
	if s.failing.Load() {
		return errUnavailable
	}
	if n == 1 && s.release != nil {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.Store.RunTransaction(ctx, fn)
}

// gatedIdentity blocks its first Ensure until released.
type gatedIdentity struct {
	id      identity.Identity
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedIdentity) Ensure(ctx context.Context) (identity.Identity, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	return g.id, nil
}

type failingIdentity struct{}

func (failingIdentity) Ensure(context.Context) (identity.Identity, error) {
	return identity.Identity{}, domain.ErrMissingIdentity
}

type fixture struct {
	store  *gatedStore
	engine *aggregate.Engine
	cache  *memory.LocalCache
	sched  *clock.Fake
	prompt []string
	mu     sync.Mutex
}

func newFixture(store *gatedStore) *fixture {
	return &fixture{
		store:  store,
		engine: aggregate.NewEngine(store),
		cache:  memory.NewLocalCache(),
		sched:  clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) controller(q domain.Question, ids identity.Provider) *vote.Controller {
	return vote.NewController(q, f.engine, ids, f.cache, vote.Config{
		Scheduler: f.sched,
		Window:    phase.NewWindow(0),
		Notifier: vote.NotifierFunc(func(questionID string, _ error) {
			f.mu.Lock()
			f.prompt = append(f.prompt, questionID)
			f.mu.Unlock()
		}),
	})
}

func (f *fixture) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompt...)
}

func pollQuestion() domain.Question {
	return domain.Question{ID: "q1", Type: domain.TypePoll, Options: []domain.Option{
		{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "c", Label: "C"},
	}}
}

var alice = identity.Static{ID: "alice"}

func TestInteractionsAreDebounced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	c := f.controller(pollQuestion(), alice)
	defer c.Close()

	c.HandleInteraction(domain.StringValue("a"))
	raw, ok := f.cache.Get(localcache.DraftKey("q1"))
	require.True(t, ok, "draft is cached locally at once")
	require.Equal(t, "a", raw)

	f.sched.Advance(500 * time.Millisecond)
	c.HandleInteraction(domain.StringValue("b"))
	f.sched.Advance(400 * time.Millisecond)
	c.HandleInteraction(domain.StringValue("c"))

	f.sched.Advance(900 * time.Millisecond)
	require.Equal(t, int32(0), f.store.calls.Load(), "no write before the quiet period ends")

	f.sched.Advance(100 * time.Millisecond)
	require.Equal(t, int32(1), f.store.calls.Load())
	record, ok, err := f.engine.Record(ctx, "alice", "q1")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, record.IsDraft)
	require.Equal(t, domain.StringValue("c"), record.Value)
	require.Equal(t, vote.StatusIdle, c.Status())
}

func TestSubmitVoteFinalizes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	c := f.controller(pollQuestion(), alice)
	defer c.Close()

	c.HandleInteraction(domain.StringValue("b"))
	record, err := c.SubmitVote(ctx, domain.StringValue("a"))
	require.NoError(t, err)
	require.False(t, record.IsDraft)

	view := c.View()
	require.Equal(t, vote.StatusFinalized, view.Status)
	require.True(t, view.HasVoted)
	require.True(t, view.ShowResults, "voters see results during input")
	require.Equal(t, domain.StringValue("a"), *view.Vote)

	cached, ok := f.cache.Get(localcache.VoteKey("q1"))
	require.True(t, ok)
	require.Equal(t, "a", cached)
	_, ok = f.cache.Get(localcache.DraftKey("q1"))
	require.False(t, ok, "draft cleared after finalize")

	f.sched.Advance(5 * time.Second)
	require.Equal(t, int32(1), f.store.calls.Load(), "pending draft canceled by finalize")

	agg, err := f.engine.Aggregate(ctx, "q1")
	require.NoError(t, err)
	require.Equal(t, 1, agg.TotalVotes)
	require.Equal(t, 1, agg.Options["a"])

	_, err = c.SubmitVote(ctx, domain.StringValue("b"))
	require.ErrorIs(t, err, domain.ErrAlreadyVoted)
	c.HandleInteraction(domain.StringValue("c"))
	_, ok = f.cache.Get(localcache.DraftKey("q1"))
	require.False(t, ok, "interactions ignored after voting")
}

func TestFinalizePreemptsInFlightDraftWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(true))
	c := f.controller(pollQuestion(), alice)
	defer c.Close()

	draftDone := make(chan error, 1)
	go func() { draftDone <- c.SaveDraft(ctx, domain.StringValue("b")) }()
	<-f.store.entered
	require.Equal(t, vote.StatusDrafting, c.Status())

	_, err := c.SubmitVote(ctx, domain.StringValue("a"))
	require.NoError(t, err)

	close(f.store.release)
	require.NoError(t, <-draftDone)

	record, _, err := f.engine.Record(ctx, "alice", "q1")
	require.NoError(t, err)
	require.False(t, record.IsDraft)
	require.Equal(t, domain.StringValue("a"), record.Value)
	require.Equal(t, vote.StatusFinalized, c.Status())
	require.Equal(t, domain.StringValue("a"), *c.View().Vote)
}

func TestDraftDiscardedWhenFinalizeStartsDuringIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	ids := &gatedIdentity{
		id:      identity.Identity{ID: "alice"},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := f.controller(pollQuestion(), ids)
	defer c.Close()

	draftDone := make(chan error, 1)
	go func() { draftDone <- c.SaveDraft(ctx, domain.StringValue("b")) }()
	<-ids.entered

	_, err := c.SubmitVote(ctx, domain.StringValue("a"))
	require.NoError(t, err)
	close(ids.release)
	require.NoError(t, <-draftDone)

	require.Equal(t, int32(1), f.store.calls.Load(), "draft never reached the store")
}

func TestSecondSubmitWhileFinalizingIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	ids := &gatedIdentity{
		id:      identity.Identity{ID: "alice"},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := f.controller(pollQuestion(), ids)
	defer c.Close()

	first := make(chan error, 1)
	go func() {
		_, err := c.SubmitVote(ctx, domain.StringValue("a"))
		first <- err
	}()
	<-ids.entered
	require.Equal(t, vote.StatusFinalizing, c.Status())

	_, err := c.SubmitVote(ctx, domain.StringValue("b"))
	require.ErrorIs(t, err, domain.ErrSubmitInProgress)

	close(ids.release)
	require.NoError(t, <-first)

	agg, _ := f.engine.Aggregate(ctx, "q1")
	require.Equal(t, 1, agg.TotalVotes)
}

func TestDuplicateVoteAdoptsStoredRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	q := pollQuestion()
	_, err := f.engine.Finalize(ctx, "alice", q, domain.StringValue("b"))
	require.NoError(t, err)

	c := f.controller(q, alice)
	defer c.Close()
	record, err := c.SubmitVote(ctx, domain.StringValue("a"))
	require.NoError(t, err, "a duplicate is not surfaced as an error")
	require.Equal(t, domain.StringValue("b"), record.Value)

	view := c.View()
	require.True(t, view.HasVoted)
	require.Equal(t, vote.StatusFinalized, view.Status)
	require.Equal(t, domain.StringValue("b"), *view.Vote)
	cached, _ := f.cache.Get(localcache.VoteKey("q1"))
	require.Equal(t, "b", cached)
	require.Empty(t, f.prompts())

	agg, _ := f.engine.Aggregate(ctx, "q1")
	require.Equal(t, 1, agg.TotalVotes)
}

func TestFailedSubmitRevertsToIdle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	c := f.controller(pollQuestion(), alice)
	defer c.Close()

	f.store.failing.Store(true)
	_, err := c.SubmitVote(ctx, domain.StringValue("a"))
	require.ErrorIs(t, err, errUnavailable)
	require.Equal(t, vote.StatusIdle, c.Status())
	require.False(t, c.View().HasVoted)
	require.Equal(t, []string{"q1"}, f.prompts())

	f.store.failing.Store(false)
	_, err = c.SubmitVote(ctx, domain.StringValue("a"))
	require.NoError(t, err)
	require.Equal(t, vote.StatusFinalized, c.Status())
}

func TestSubmitWithoutIdentityRevertsToIdle(t *testing.T) {
	f := newFixture(newGatedStore(false))
	c := f.controller(pollQuestion(), failingIdentity{})
	defer c.Close()

	_, err := c.SubmitVote(context.Background(), domain.StringValue("a"))
	require.ErrorIs(t, err, domain.ErrMissingIdentity)
	require.Equal(t, vote.StatusIdle, c.Status())
	require.Equal(t, int32(0), f.store.calls.Load())
}

func TestInvalidPointsRejectedBeforeAnyWrite(t *testing.T) {
	f := newFixture(newGatedStore(false))
	q := domain.Question{ID: "p1", Type: domain.TypePoints, Options: []domain.Option{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	c := f.controller(q, alice)
	defer c.Close()

	_, err := c.SubmitVote(context.Background(), domain.StringValue("a:20,b:30,c:49"))
	require.ErrorIs(t, err, domain.ErrInvalidValue)
	require.Equal(t, int32(0), f.store.calls.Load())
	require.Equal(t, vote.StatusIdle, c.Status())
	require.Empty(t, f.prompts())
}

func TestPhaseGatesInput(t *testing.T) {
	f := newFixture(newGatedStore(false))
	c := f.controller(pollQuestion(), alice)
	defer c.Close()

	c.Tick(31)
	view := c.View()
	require.Equal(t, phase.Locked, view.Phase)
	require.False(t, view.ShowResults)

	c.HandleInteraction(domain.StringValue("a"))
	_, ok := f.cache.Get(localcache.DraftKey("q1"))
	require.False(t, ok)
	_, err := c.SubmitVote(context.Background(), domain.StringValue("a"))
	require.ErrorIs(t, err, domain.ErrInputClosed)

	c.Tick(40)
	require.True(t, c.View().ShowResults)
}

func TestRestoreFromLocalCachePrefersFinalized(t *testing.T) {
	f := newFixture(newGatedStore(false))
	f.cache.Set(localcache.DraftKey("s1"), "10")
	f.cache.Set(localcache.VoteKey("s1"), "42")
	q := domain.Question{ID: "s1", Type: domain.TypeSlider}

	c := f.controller(q, alice)
	defer c.Close()
	view := c.View()
	require.True(t, view.HasVoted)
	require.Equal(t, vote.StatusFinalized, view.Status)
	require.Equal(t, domain.NumberValue(42), *view.Vote)

	c.HandleInteraction(domain.NumberValue(7))
	raw, _ := f.cache.Get(localcache.DraftKey("s1"))
	require.Equal(t, "10", raw)
}

func TestStartAdoptsVoteFromAnotherSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	q := pollQuestion()
	_, err := f.engine.Finalize(ctx, "alice", q, domain.StringValue("c"))
	require.NoError(t, err)

	c := f.controller(q, alice)
	defer c.Close()
	var changes atomic.Int32
	c.OnChange(func(vote.View) { changes.Add(1) })
	require.NoError(t, c.Start(ctx))

	require.True(t, c.View().HasVoted)
	require.Equal(t, domain.StringValue("c"), *c.View().Vote)
	require.NotZero(t, changes.Load())

	require.Eventually(t, func() bool {
		v := c.View()
		return v.Results != nil && v.Results.TotalVotes == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEveryListenerSeesFinalizedView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(newGatedStore(false))
	c := f.controller(pollQuestion(), alice)
	defer c.Close()

	var first, second atomic.Int32
	c.OnChange(func(v vote.View) {
		if v.Status == vote.StatusFinalized {
			first.Add(1)
		}
	})
	c.OnChange(func(v vote.View) {
		if v.Status == vote.StatusFinalized {
			second.Add(1)
		}
	})

	_, err := c.SubmitVote(ctx, domain.StringValue("a"))
	require.NoError(t, err)
	require.NotZero(t, first.Load())
	require.NotZero(t, second.Load())
}
