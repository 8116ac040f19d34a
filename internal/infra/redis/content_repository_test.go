package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"interactive-report-service/internal/content"
	"interactive-report-service/internal/domain"
)

func TestContentRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{Loader: content.NewStaticLoader(content.Sample())}
	repo := NewContentRepository(newClient(mr), loader, time.Minute)

	q, err := repo.GetQuestion(context.Background(), "funding-quiz")
	if err != nil {
		t.Fatalf("get question: %v", err)
	}
	if loader.calls.Load() != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls.Load())
	}
	if !mr.Exists("content:question:funding-quiz") {
		t.Fatalf("expected redis key to be set")
	}

	// Second call should hit cache, loader not incremented.
	cached, _ := repo.GetQuestion(context.Background(), "funding-quiz")
	if loader.calls.Load() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls.Load())
	}
	if opt, ok := cached.CorrectOption(); !ok || opt.ID != "fees" || len(cached.Options) != len(q.Options) {
		t.Fatalf("cached question lost options: %+v", cached)
	}
}

func TestContentRepositoryPagesAndInvalidate(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{Loader: content.NewStaticLoader(content.Sample())}
	repo := NewContentRepository(newClient(mr), loader, time.Minute)
	ctx := context.Background()

	page, err := repo.GetPage(ctx, "public-media")
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(page.Timeline) != 4 {
		t.Fatalf("expected 4 cues, got %d", len(page.Timeline))
	}
	if ttl := mr.TTL("content:page:public-media"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("expected ttl with jitter, got %v", ttl)
	}

	if err := repo.Invalidate(ctx, nil, []string{"public-media"}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("content:page:public-media") {
		t.Fatalf("expected page key removed")
	}
	_, _ = repo.GetPage(ctx, "public-media")
	if loader.pages.Load() != 2 {
		t.Fatalf("expected reload after invalidate, got %d", loader.pages.Load())
	}
}

func TestContentRepositoryMissIsNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	repo := NewContentRepository(newClient(mr), content.NewStaticLoader(content.Bundle{}), time.Minute)
	if _, err := repo.GetQuestion(context.Background(), "nope"); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", mr.Keys())
	}
}

type countingLoader struct {
	content.Loader
	calls atomic.Int32
	pages atomic.Int32
}

func (l *countingLoader) LoadQuestion(ctx context.Context, questionID string) (domain.Question, error) {
	l.calls.Add(1)
	return l.Loader.LoadQuestion(ctx, questionID)
}

func (l *countingLoader) LoadPage(ctx context.Context, slug string) (domain.Page, error) {
	l.pages.Add(1)
	return l.Loader.LoadPage(ctx, slug)
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
