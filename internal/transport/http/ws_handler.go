package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"interactive-report-service/internal/app"
	"interactive-report-service/internal/domain"
	"interactive-report-service/internal/identity"
	"interactive-report-service/internal/infra/memory"
	"interactive-report-service/internal/localcache"
	"interactive-report-service/internal/metrics"
	"interactive-report-service/internal/timeline"
	"interactive-report-service/internal/vote"
)

// WSOptions configures a WSHandler. Zero fields get defaults.
type WSOptions struct {
	// Issuer signs and verifies identity tokens; nil means unsigned anonymous identities.
	Issuer *identity.Issuer
	// Cache is the shared backing store of the per-voter local caches.
	Cache   localcache.Cache
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger
}

type WSHandler struct {
	service  *app.ReportService
	issuer   *identity.Issuer
	cache    localcache.Cache
	metrics  *metrics.Metrics
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ReportService, opts WSOptions) *WSHandler {
	if opts.Cache == nil {
		opts.Cache = memory.NewLocalCache()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &WSHandler{
		service: service,
		issuer:  opts.Issuer,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		log:     opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	QuestionID string  `json:"questionId"`
	StartTime  float64 `json:"startTime"`
}

type valuePayload struct {
	QuestionID string       `json:"questionId"`
	Value      domain.Value `json:"value"`
}

type questionPayload struct {
	QuestionID string `json:"questionId"`
}

type timePayload struct {
	CurrentTime float64 `json:"currentTime"`
}

type layoutPayload struct {
	Viewport timeline.Size            `json:"viewport"`
	Elements map[string]timeline.Rect `json:"elements"`
	// Rendered marks a re-render of the page; the current cue is focused again.
	Rendered bool `json:"rendered"`
}

type scrollOffsetPayload struct {
	Offset float64 `json:"offset"`
}

type inputPayload struct {
	Kind      timeline.InputKind `json:"kind"`
	Magnitude float64            `json:"magnitude"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message    string `json:"message"`
	QuestionID string `json:"questionId,omitempty"`
}

type identityPayload struct {
	ID    string `json:"id"`
	Token string `json:"token,omitempty"`
}

type pagePayload struct {
	Slug     string         `json:"slug"`
	Title    string         `json:"title"`
	AudioSrc string         `json:"audioSrc"`
	Chapters []timeline.Cue `json:"chapters"`
}

type resultsPayload struct {
	Record  domain.VoteRecord `json:"record"`
	Results any               `json:"results"`
}

type scrollingPayload struct {
	Active bool `json:"isUserScrolling"`
}

// wsSession serializes all writes of one connection through a single writer goroutine.
type wsSession struct {
	send chan outboundMessage[any]
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newWSSession() *wsSession {
	return &wsSession{send: make(chan outboundMessage[any], 64), done: make(chan struct{})}
}

func (s *wsSession) emit(typ string, payload any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.send <- outboundMessage[any]{Type: typ, Payload: payload}:
	case <-s.done:
	}
}

func (s *wsSession) fail(err error, questionID string) {
	s.emit("error", errorPayload{Message: err.Error(), QuestionID: questionID})
}

func (s *wsSession) shutdown() {
	close(s.done)
	s.mu.Lock()
	s.closed = true
	close(s.send)
	s.mu.Unlock()
}

// connection is the per-socket state touched only by the read loop.
type connection struct {
	h        *WSHandler
	ctx      context.Context
	sess     *wsSession
	appSess  app.Session
	log      logrus.FieldLogger
	votes    map[string]*vote.Controller
	director *timeline.Director
	audio    *timeline.RemoteAudio
	surface  *remoteSurface
}

// ServeWS upgrades HTTP requests to websockets and wires them into the report use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")
	slug := r.URL.Query().Get("page")

	var provider identity.Provider = identity.NewAnonymousProvider()
	if h.issuer != nil {
		provider = identity.NewTokenProvider(h.issuer, token)
	}
	id, err := provider.Ensure(ctx)
	if err != nil {
		h.log.WithError(err).Warn("identity rejected")
		http.Error(w, "invalid identity token", http.StatusUnauthorized)
		return
	}
	if slug != "" {
		if _, err := h.service.Page(ctx, slug); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()
	if h.metrics != nil {
		h.metrics.Sessions.Inc()
		defer h.metrics.Sessions.Dec()
	}

	sess := newWSSession()
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range sess.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.WithError(err).Debug("ws write error")
				// keep draining so emitters never block on a dead socket
				for range sess.send {
				}
				return
			}
		}
	}()

	sessionID := uuid.NewString()
	c := &connection{
		h:    h,
		ctx:  ctx,
		sess: sess,
		log:  h.log.WithFields(logrus.Fields{"session_id": sessionID, "user_id": id.ID}),
		appSess: app.Session{
			ID:       sessionID,
			Identity: identity.Static(id),
			Cache:    localcache.Scoped(h.cache, id.ID),
			Notifier: vote.NotifierFunc(func(questionID string, err error) {
				sess.emit("retry", errorPayload{Message: err.Error(), QuestionID: questionID})
			}),
		},
		votes: make(map[string]*vote.Controller),
	}
	sess.emit("identity", identityPayload{ID: id.ID, Token: id.Token})

	if slug != "" {
		if err := c.openPage(slug); err != nil {
			sess.fail(err, "")
		}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		c.handle(inbound)
	}

	c.close()
	sess.shutdown()
	<-writerDone
}

func (c *connection) openPage(slug string) error {
	page, err := c.h.service.Page(c.ctx, slug)
	if err != nil {
		return err
	}
	c.audio = timeline.NewRemoteAudio(func(cmd timeline.AudioCommand) {
		c.sess.emit("audio", cmd)
	})
	c.surface = newRemoteSurface(c.sess.emit)
	director, err := c.h.service.NewDirector(c.ctx, slug, c.audio, c.surface)
	if err != nil {
		return err
	}
	director.ScrollLock().OnChange(func(scrolling bool) {
		c.sess.emit("scrolling", scrollingPayload{Active: scrolling})
	})
	c.director = director
	c.sess.emit("page", pagePayload{
		Slug:     page.Slug,
		Title:    page.Title,
		AudioSrc: page.AudioPath(),
		Chapters: director.Timeline().Chapters(),
	})
	return nil
}

func (c *connection) handle(msg inboundMessage) {
	switch msg.Type {
	case "join":
		var p joinPayload
		if !c.decode(msg, &p) {
			return
		}
		c.join(p)
	case "interact":
		var p valuePayload
		if !c.decode(msg, &p) {
			return
		}
		if ctrl := c.controller(p.QuestionID); ctrl != nil {
			ctrl.HandleInteraction(p.Value)
		}
	case "vote":
		var p valuePayload
		if !c.decode(msg, &p) {
			return
		}
		c.vote(p)
	case "leave":
		var p questionPayload
		if !c.decode(msg, &p) {
			return
		}
		if ctrl, ok := c.votes[p.QuestionID]; ok {
			ctrl.Close()
			delete(c.votes, p.QuestionID)
		}
	case "time":
		var p timePayload
		if !c.decode(msg, &p) {
			return
		}
		c.tick(p.CurrentTime)
		if c.director != nil {
			c.director.Update(p.CurrentTime)
		}
	case "audio":
		var ev timeline.AudioEvent
		if !c.decode(msg, &ev) {
			return
		}
		if c.audio != nil {
			c.audio.Report(ev)
		}
		if ev.Type == timeline.EventTimeUpdate || ev.Type == timeline.EventSeeked {
			c.tick(ev.Time)
		}
	case "layout":
		var p layoutPayload
		if !c.decode(msg, &p) || !c.needPage() {
			return
		}
		c.surface.setLayout(p.Viewport, p.Elements)
		if p.Rendered {
			c.director.Refresh()
		}
	case "scroll":
		var p scrollOffsetPayload
		if !c.decode(msg, &p) || !c.needPage() {
			return
		}
		c.director.ScrollLock().OnScroll(p.Offset)
	case "input":
		var p inputPayload
		if !c.decode(msg, &p) || !c.needPage() {
			return
		}
		c.director.ScrollLock().OnInput(p.Kind, p.Magnitude)
	case "resume":
		if c.needPage() {
			c.director.ResumeAutoScroll()
		}
	default:
		c.sess.fail(errors.New("unsupported message type"), "")
	}
}

func (c *connection) decode(msg inboundMessage, into any) bool {
	if err := json.Unmarshal(msg.Payload, into); err != nil {
		c.sess.fail(errors.New("invalid "+msg.Type+" payload"), "")
		return false
	}
	return true
}

func (c *connection) needPage() bool {
	if c.director == nil {
		c.sess.fail(errors.New("no page open"), "")
		return false
	}
	return true
}

func (c *connection) controller(questionID string) *vote.Controller {
	ctrl, ok := c.votes[questionID]
	if !ok {
		c.sess.fail(errors.New("question not joined"), questionID)
		return nil
	}
	return ctrl
}

func (c *connection) join(p joinPayload) {
	if ctrl, ok := c.votes[p.QuestionID]; ok {
		c.sess.emit("state", ctrl.View())
		return
	}
	ctrl, err := c.h.service.NewController(c.ctx, c.appSess, p.QuestionID, p.StartTime)
	if err != nil {
		c.sess.fail(err, p.QuestionID)
		return
	}
	ctrl.OnChange(func(v vote.View) {
		c.sess.emit("state", v)
	})
	if c.audio != nil {
		ctrl.Tick(c.audio.CurrentTime())
	}
	if err := ctrl.Start(c.ctx); err != nil {
		ctrl.Close()
		c.sess.fail(err, p.QuestionID)
		return
	}
	c.votes[p.QuestionID] = ctrl
	c.sess.emit("state", ctrl.View())
}

func (c *connection) vote(p valuePayload) {
	ctrl := c.controller(p.QuestionID)
	if ctrl == nil {
		return
	}
	record, err := ctrl.SubmitVote(c.ctx, p.Value)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyVoted):
		// a duplicate is not a failure; show the vote already on record
		c.sess.emit("state", ctrl.View())
		return
	case errors.Is(err, domain.ErrInputClosed),
		errors.Is(err, domain.ErrSubmitInProgress),
		errors.Is(err, domain.ErrInvalidValue),
		errors.Is(err, domain.ErrNotVotable):
		c.sess.fail(err, p.QuestionID)
		return
	default:
		// the controller already sent a retry prompt
		return
	}
	results, err := c.h.service.Results(c.ctx, p.QuestionID)
	if err != nil {
		c.log.WithError(err).WithField("question_id", p.QuestionID).Warn("results unavailable after vote")
		c.sess.emit("results", resultsPayload{Record: record})
		return
	}
	c.sess.emit("results", resultsPayload{Record: record, Results: results})
}

func (c *connection) tick(current float64) {
	for _, ctrl := range c.votes {
		ctrl.Tick(current)
	}
}

func (c *connection) close() {
	for id, ctrl := range c.votes {
		ctrl.Close()
		delete(c.votes, id)
	}
	if c.director != nil {
		c.director.Close()
	}
}
