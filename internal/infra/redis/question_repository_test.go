package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"livequiz-service/internal/domain"
)

type countingLoader struct {
	loads int64
	sets  map[string]domain.QuestionSet
}

func (l *countingLoader) LoadQuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	atomic.AddInt64(&l.loads, 1)
	set, ok := l.sets[setID]
	if !ok {
		return domain.QuestionSet{}, domain.ErrNotFound
	}
	return set, nil
}

func testClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestGetQuestionSetCachesInRedis(t *testing.T) {
	client, mr := testClient(t)
	loader := &countingLoader{sets: map[string]domain.QuestionSet{
		"set-1": {ID: "set-1", Questions: []domain.Question{{ID: "q1", Prompt: "one"}}},
	}}
	repo := NewQuestionRepository(client, loader, time.Minute)

	ctx := context.Background()
	first, err := repo.GetQuestionSet(ctx, "set-1")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	if len(first.Questions) != 1 {
		t.Fatalf("unexpected set %+v", first)
	}
	if !mr.Exists("questions:set-1") {
		t.Fatal("expected cached blob in redis")
	}

	if _, err := repo.GetQuestionSet(ctx, "set-1"); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if got := atomic.LoadInt64(&loader.loads); got != 1 {
		t.Fatalf("expected one backing load, got %d", got)
	}

	// expiry forces a reload
	mr.FastForward(2 * time.Minute)
	if _, err := repo.GetQuestionSet(ctx, "set-1"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if got := atomic.LoadInt64(&loader.loads); got != 2 {
		t.Fatalf("expected reload after TTL, got %d loads", got)
	}
}

func TestGetQuestionSetPropagatesLoaderError(t *testing.T) {
	client, _ := testClient(t)
	repo := NewQuestionRepository(client, &countingLoader{sets: map[string]domain.QuestionSet{}}, time.Minute)

	_, err := repo.GetQuestionSet(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
