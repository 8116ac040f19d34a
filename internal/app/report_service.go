package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"interactive-report-service/internal/aggregate"
	"interactive-report-service/internal/clock"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/identity"
	"interactive-report-service/internal/localcache"
	"interactive-report-service/internal/metrics"
	"interactive-report-service/internal/phase"
	"interactive-report-service/internal/timeline"
	"interactive-report-service/internal/vote"
)

// QuestionRepository loads question definitions (from cache/backing store).
type QuestionRepository interface {
	GetQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// PageRepository loads narrated pages.
type PageRepository interface {
	GetPage(ctx context.Context, slug string) (domain.Page, error)
}

// Publisher announces finalized votes to downstream consumers.
type Publisher interface {
	PublishVote(ctx context.Context, event domain.VoteEvent) error
}

// Options tune the controllers and directors built by a ReportService.
type Options struct {
	Debounce      time.Duration
	InputDuration float64
	LockWindow    float64
	Timeline      timeline.Config
	Scheduler     clock.Scheduler
	Logger        logrus.FieldLogger
	Metrics       *metrics.Metrics
	Publisher     Publisher
}

// ReportService contains the report use cases shared by every transport.
type ReportService struct {
	questions QuestionRepository
	pages     PageRepository
	rooms     RoomRepository
	engine    *aggregate.Engine
	opts      Options
	log       logrus.FieldLogger
}

func NewReportService(questions QuestionRepository, pages PageRepository, rooms RoomRepository, engine *aggregate.Engine, opts Options) *ReportService {
	if opts.InputDuration <= 0 {
		opts.InputDuration = phase.DefaultInputDuration
	}
	if opts.LockWindow <= 0 {
		opts.LockWindow = phase.DefaultLockWindow
	}
	if opts.Scheduler == nil {
		opts.Scheduler = clock.NewReal(0)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	s := &ReportService{
		questions: questions,
		pages:     pages,
		rooms:     rooms,
		engine:    engine,
		opts:      opts,
		log:       opts.Logger,
	}
	engine.OnFinalize(s.onFinalize)
	return s
}

func (s *ReportService) onFinalize(ctx context.Context, q domain.Question, record domain.VoteRecord) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.VoteFinalized(q)
	}
	log := s.log.WithFields(logrus.Fields{"question_id": q.ID, "user_id": record.UserID})
	log.Info("vote finalized")
	if s.opts.Publisher == nil {
		return
	}
	event := domain.VoteEvent{
		QuestionID:   q.ID,
		QuestionType: q.Type,
		UserID:       record.UserID,
		Value:        record.Value,
		Timestamp:    record.Timestamp,
	}
	if err := s.opts.Publisher.PublishVote(ctx, event); err != nil {
		log.WithError(err).Warn("vote event not published")
	}
}

// Question returns a question definition.
func (s *ReportService) Question(ctx context.Context, questionID string) (domain.Question, error) {
	return s.questions.GetQuestion(ctx, questionID)
}

// Page returns a narrated page.
func (s *ReportService) Page(ctx context.Context, slug string) (domain.Page, error) {
	return s.pages.GetPage(ctx, slug)
}

// Cue resolves the active cue of a page at a playback time. The index is -1 for an empty timeline.
func (s *ReportService) Cue(ctx context.Context, slug string, current float64) (timeline.Cue, int, error) {
	page, err := s.pages.GetPage(ctx, slug)
	if err != nil {
		return timeline.Cue{}, -1, err
	}
	tl := timeline.FromPage(page)
	idx := tl.IndexAt(current)
	cue, ok := tl.At(idx)
	if !ok {
		return timeline.Cue{}, -1, nil
	}
	return cue, idx, nil
}

// Results returns the current results of a question.
func (s *ReportService) Results(ctx context.Context, questionID string) (aggregate.View, error) {
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return aggregate.View{}, err
	}
	agg, err := s.engine.Aggregate(ctx, questionID)
	if err != nil {
		return aggregate.View{}, fmt.Errorf("load results of %s: %w", questionID, err)
	}
	return aggregate.BuildView(q, agg), nil
}

// Summary reports a voter's finalized answers across the given questions.
func (s *ReportService) Summary(ctx context.Context, userID string, questionIDs []string) (domain.Summary, error) {
	questions := make([]domain.Question, 0, len(questionIDs))
	for _, id := range questionIDs {
		q, err := s.questions.GetQuestion(ctx, id)
		if err != nil {
			return domain.Summary{}, err
		}
		questions = append(questions, q)
	}
	return s.engine.Summary(ctx, userID, questions)
}

// WatchResults joins sessionID to the room of questionID and returns a channel of aggregate
// updates. The first value is the current aggregate once known. The caller must invoke the
// returned cancel function to leave the room.
func (s *ReportService) WatchResults(ctx context.Context, questionID, sessionID string) (<-chan domain.Aggregate, func(), error) {
	if _, err := s.questions.GetQuestion(ctx, questionID); err != nil {
		return nil, nil, err
	}
	room := s.rooms.Join(questionID, sessionID)
	err := room.ensureWatch(func(publish func(domain.Aggregate)) (func(), error) {
		// The shared subscription outlives the request that opened it.
		return s.engine.Watch(context.Background(), questionID, publish)
	})
	if err != nil {
		s.rooms.Leave(questionID, sessionID)
		return nil, nil, fmt.Errorf("watch results of %s: %w", questionID, err)
	}
	ch, unsubscribe := room.subscribe()
	cancel := func() {
		unsubscribe()
		s.rooms.Leave(questionID, sessionID)
	}
	return ch, cancel, nil
}

// Session is the per-browser context a controller runs in.
type Session struct {
	ID       string
	Identity identity.Provider
	Cache    localcache.Cache
	Notifier vote.Notifier
}

// NewController builds the vote controller of one session on one question. start is the
// playback time at which the question's input phase opens.
func (s *ReportService) NewController(ctx context.Context, sess Session, questionID string, start float64) (*vote.Controller, error) {
	q, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}
	cfg := vote.Config{
		Debounce:  s.opts.Debounce,
		Window:    phase.Window{Start: start, Input: s.opts.InputDuration, Lock: s.opts.LockWindow},
		Scheduler: s.opts.Scheduler,
		Notifier:  sess.Notifier,
		Logger:    s.log.WithField("session_id", sess.ID),
		Watch: func(ctx context.Context, questionID string, fn func(domain.Aggregate)) (func(), error) {
			ch, cancel, err := s.WatchResults(ctx, questionID, sess.ID)
			if err != nil {
				return nil, err
			}
			go func() {
				for agg := range ch {
					fn(agg)
				}
			}()
			return cancel, nil
		},
	}
	if s.opts.Metrics != nil {
		cfg.Observer = s.opts.Metrics
	}
	return vote.NewController(q, s.engine, sess.Identity, sess.Cache, cfg), nil
}

// NewDirector builds the timeline director of a page for one session.
func (s *ReportService) NewDirector(ctx context.Context, slug string, audio timeline.AudioSource, surface timeline.Surface) (*timeline.Director, error) {
	page, err := s.pages.GetPage(ctx, slug)
	if err != nil {
		return nil, err
	}
	cfg := s.opts.Timeline
	if cfg.Scheduler == nil {
		cfg.Scheduler = s.opts.Scheduler
	}
	if cfg.Logger == nil {
		cfg.Logger = s.log.WithField("page", slug)
	}
	return timeline.NewDirector(timeline.FromPage(page), audio, surface, cfg), nil
}
