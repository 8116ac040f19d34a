package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"interactive-report-service/internal/content"
	"interactive-report-service/internal/domain"
)

// ContentRepository caches questions and pages with TTL to avoid repeated loader hits.
type ContentRepository struct {
	loader    content.Loader
	questions *ttlCache[domain.Question]
	pages     *ttlCache[domain.Page]
}

func NewContentRepository(loader content.Loader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		loader:    loader,
		questions: newTTLCache[domain.Question](ttl),
		pages:     newTTLCache[domain.Page](ttl),
	}
}

func (r *ContentRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	return r.questions.get(questionID, func() (domain.Question, error) {
		q, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return domain.Question{}, err
		}
		return q, content.ValidateQuestion(q)
	})
}

func (r *ContentRepository) GetPage(ctx context.Context, slug string) (domain.Page, error) {
	return r.pages.get(slug, func() (domain.Page, error) {
		return r.loader.LoadPage(ctx, slug)
	})
}

type ttlCache[T any] struct {
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu      sync.RWMutex
	rnd     *rand.Rand
	entries map[string]cached[T]
}

type cached[T any] struct {
	value     T
	expiresAt time.Time
}

func newTTLCache[T any](ttl time.Duration) *ttlCache[T] {
	return &ttlCache[T]{
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]cached[T]),
	}
}

func (c *ttlCache[T]) lookup(key string, now time.Time) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if ok && entry.expiresAt.After(now) {
		return entry.value, true
	}
	var zero T
	return zero, false
}

func (c *ttlCache[T]) get(key string, load func() (T, error)) (T, error) {
	if v, ok := c.lookup(key, c.clock()); ok {
		return v, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		if v, ok := c.lookup(key, now); ok {
			return v, nil
		}

		v, err := load()
		if err != nil {
			return v, err
		}

		c.mu.Lock()
		c.entries[key] = cached[T]{value: v, expiresAt: now.Add(c.ttlWithJitterLocked())}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (c *ttlCache[T]) ttlWithJitterLocked() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
