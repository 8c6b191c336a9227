package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
	"simulacro-engine/internal/infra/memory"
)

func TestExamCacheCachesInRedis(t *testing.T) {
	mr, client := startRedis(t)
	loader := newCountingLoader(t)
	cache := NewExamCache(client, loader, time.Minute)

	exam, err := cache.Exam(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if loader.count("exam") != 1 {
		t.Fatalf("expected loader called once, got %d", loader.count("exam"))
	}
	if !mr.Exists("exam:exam-1") || !mr.Exists("exam:section:s1") || !mr.Exists("exam:question:q1") {
		t.Fatalf("expected exam and indexes to be cached, keys=%v", mr.Keys())
	}

	cachedExam, err := cache.Exam(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("get exam 2: %v", err)
	}
	if loader.count("exam") != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.count("exam"))
	}
	if !cachedExam.Sections[0].Areas[0].BaseScore.Equal(exam.Sections[0].Areas[0].BaseScore) {
		t.Fatalf("base score lost in cache round trip")
	}
	if !cachedExam.Sections[0].Areas[0].Questions[0].Question.Options[0].Correct {
		t.Fatalf("correct flag lost in cache round trip")
	}

	if _, err := cache.SectionExam(context.Background(), "s1"); err != nil {
		t.Fatalf("section exam: %v", err)
	}
	if _, err := cache.Question(context.Background(), "q1"); err != nil {
		t.Fatalf("question: %v", err)
	}
	if loader.count("section") != 0 || loader.count("question") != 0 {
		t.Fatalf("expected section and question to come from the exam index")
	}
}

func TestExamCacheExpiresAndInvalidates(t *testing.T) {
	mr, client := startRedis(t)
	loader := newCountingLoader(t)
	cache := NewExamCache(client, loader, time.Minute)

	_, _ = cache.Exam(context.Background(), "exam-1")
	mr.FastForward(2 * time.Minute)
	_, _ = cache.Exam(context.Background(), "exam-1")
	if loader.count("exam") != 2 {
		t.Fatalf("expected reload after ttl, loader calls=%d", loader.count("exam"))
	}

	if err := cache.Invalidate(context.Background(), "exam-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists("exam:exam-1") || mr.Exists("exam:section:s1") {
		t.Fatalf("expected exam keys removed")
	}
}

func TestExamCacheCollapsesConcurrentMisses(t *testing.T) {
	_, client := startRedis(t)
	loader := newCountingLoader(t)
	loader.delay = 50 * time.Millisecond
	cache := NewExamCache(client, loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Questions(context.Background(), domain.QuestionFilter{AreaID: "math"}); err != nil {
				t.Errorf("questions: %v", err)
			}
		}()
	}
	wg.Wait()
	if loader.count("questions") != 1 {
		t.Fatalf("expected one load for concurrent misses, got %d", loader.count("questions"))
	}
}

func TestExamCachePassesThroughErrors(t *testing.T) {
	mr, client := startRedis(t)
	cache := NewExamCache(client, newCountingLoader(t), time.Minute)

	if _, err := cache.Exam(context.Background(), "missing"); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("expected exam not found, got %v", err)
	}
	if mr.Exists("exam:missing") {
		t.Fatalf("errors must not be cached")
	}
}

func TestSweepLockSetsAndReleases(t *testing.T) {
	mr, client := startRedis(t)
	a := NewSweepLock(client, "")
	b := NewSweepLock(client, "")

	release, ok, err := a.TryLock(context.Background(), time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, ok=%v err=%v", ok, err)
	}
	if !mr.Exists("simulacro:sweep:lock") {
		t.Fatalf("expected redis key to be set")
	}
	if _, ok, _ := b.TryLock(context.Background(), time.Minute); ok {
		t.Fatalf("expected second instance to be refused")
	}

	release()
	if mr.Exists("simulacro:sweep:lock") {
		t.Fatalf("expected redis key to be removed")
	}
}

func TestSweepLockReleaseKeepsForeignLock(t *testing.T) {
	mr, client := startRedis(t)
	a := NewSweepLock(client, "lock")
	b := NewSweepLock(client, "lock")

	release, ok, _ := a.TryLock(context.Background(), time.Second)
	if !ok {
		t.Fatalf("expected lock")
	}
	mr.FastForward(2 * time.Second)
	if _, ok, _ := b.TryLock(context.Background(), time.Minute); !ok {
		t.Fatalf("expected lock after ttl lapsed")
	}
	release()
	if !mr.Exists("lock") {
		t.Fatalf("stale holder released a lock it no longer owns")
	}
}

func TestPresenceTracksHeartbeats(t *testing.T) {
	mr, client := startRedis(t)
	presence := NewPresence(client, 30*time.Second)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	presence.now = func() time.Time { return now }
	ctx := context.Background()

	if err := presence.Touch(ctx, "room-1", "u2"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	now = now.Add(20 * time.Second)
	_ = presence.Touch(ctx, "room-1", "u1")

	online, err := presence.Online(ctx, "room-1")
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	if len(online) != 2 || online[0] != "u1" || online[1] != "u2" {
		t.Fatalf("expected both online, got %v", online)
	}

	now = now.Add(15 * time.Second)
	online, _ = presence.Online(ctx, "room-1")
	if len(online) != 1 || online[0] != "u1" {
		t.Fatalf("expected stale heartbeat dropped, got %v", online)
	}

	_ = presence.Leave(ctx, "room-1", "u1")
	_ = presence.Leave(ctx, "room-1", "u2")
	if mr.Exists("contest:presence:room-1") {
		t.Fatalf("expected presence key removed once empty")
	}
}

func startRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type countingLoader struct {
	app.QuestionBank
	delay time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func newCountingLoader(t *testing.T) *countingLoader {
	t.Helper()
	bank, err := memory.NewStaticBank([]domain.Exam{sampleExam()}, nil, []domain.Area{{ID: "math", Name: "Mathematics"}})
	if err != nil {
		t.Fatalf("static bank: %v", err)
	}
	return &countingLoader{QuestionBank: bank, calls: map[string]int{}}
}

func (l *countingLoader) hit(op string) {
	l.mu.Lock()
	l.calls[op]++
	l.mu.Unlock()
	if l.delay > 0 {
		time.Sleep(l.delay)
	}
}

func (l *countingLoader) count(op string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[op]
}

func (l *countingLoader) Exam(ctx context.Context, examID string) (domain.Exam, error) {
	l.hit("exam")
	return l.QuestionBank.Exam(ctx, examID)
}

func (l *countingLoader) SectionExam(ctx context.Context, sectionID string) (domain.Exam, error) {
	l.hit("section")
	return l.QuestionBank.SectionExam(ctx, sectionID)
}

func (l *countingLoader) Question(ctx context.Context, questionID string) (domain.Question, error) {
	l.hit("question")
	return l.QuestionBank.Question(ctx, questionID)
}

func (l *countingLoader) Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	l.hit("questions")
	return l.QuestionBank.Questions(ctx, filter)
}

func sampleExam() domain.Exam {
	q := domain.Question{
		ID: "q1", AreaID: "math", Statement: "What is 2 + 2?", Difficulty: domain.DifficultyLow,
		Options: []domain.Option{{ID: "o2", Text: "4", Correct: true}, {ID: "o1", Text: "3"}},
	}
	return domain.Exam{
		ID:   "exam-1",
		Name: "Diagnostic",
		Sections: []domain.Section{{
			ID: "s1", ExamID: "exam-1", Name: "Session 1", Order: 1, DurationSeconds: 1800,
			Areas: []domain.AreaBlock{{
				ID: "b1", SectionID: "s1", AreaID: "math", AreaName: "Mathematics", Order: 1,
				QuestionCount: 1, BaseScore: decimal.RequireFromString("2.5"),
				Questions: []domain.SectionQuestion{{
					ID: "sq1", AreaBlockID: "b1", Order: 1, BaseScore: decimal.RequireFromString("2.5"), Question: q,
				}},
			}},
		}},
	}
}
