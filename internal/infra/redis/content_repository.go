package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"interactive-report-service/internal/content"
	"interactive-report-service/internal/domain"
)

// ContentRepository caches questions and pages in Redis as JSON and falls back to a loader
// on cache miss.
// Questions are stored as: SET content:question:{questionID} {json}
// Pages are stored as:     SET content:page:{slug} {json}
type ContentRepository struct {
	client *redis.Client
	loader content.Loader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewContentRepository(client *redis.Client, loader content.Loader, ttl time.Duration) *ContentRepository {
	return &ContentRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ContentRepository) GetQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	var q domain.Question
	err := r.fetch(ctx, questionKey(questionID), &q, func() (any, error) {
		loaded, err := r.loader.LoadQuestion(ctx, questionID)
		if err != nil {
			return nil, err
		}
		if err := content.ValidateQuestion(loaded); err != nil {
			return nil, err
		}
		return loaded, nil
	})
	return q, err
}

func (r *ContentRepository) GetPage(ctx context.Context, slug string) (domain.Page, error) {
	var p domain.Page
	err := r.fetch(ctx, pageKey(slug), &p, func() (any, error) {
		return r.loader.LoadPage(ctx, slug)
	})
	return p, err
}

// fetch decodes key into out, loading and caching it on a miss. Redis errors degrade to
// loader reads.
func (r *ContentRepository) fetch(ctx context.Context, key string, out any, load func() (any, error)) error {
	if ok := r.cached(ctx, key, out); ok {
		return nil
	}

	raw, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if data, err := r.client.Get(ctx, key).Bytes(); err == nil {
			return data, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		_ = r.client.Set(ctx, key, data, r.ttlWithJitter()).Err()
		return data, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), out)
}

func (r *ContentRepository) cached(ctx context.Context, key string, out any) bool {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

// Invalidate drops the cached entries of a question or page so the next read reloads it.
func (r *ContentRepository) Invalidate(ctx context.Context, questionIDs, slugs []string) error {
	keys := make([]string, 0, len(questionIDs)+len(slugs))
	for _, id := range questionIDs {
		keys = append(keys, questionKey(id))
	}
	for _, slug := range slugs {
		keys = append(keys, pageKey(slug))
	}
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func questionKey(questionID string) string {
	return "content:question:" + questionID
}

func pageKey(slug string) string {
	return "content:page:" + slug
}

func (r *ContentRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
