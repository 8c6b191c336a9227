package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
)

// ExamCache caches question bank reads in Redis as JSON and falls back to a
// loader bank on cache miss. Loading an exam also indexes its sections and
// questions so later lookups by section or question id are served from cache.
//
//	exam:{examID}             -> exam JSON
//	exam:section:{sectionID}  -> examID
//	exam:question:{questionID} -> question JSON
//	exam:areas                -> []Area JSON
//	exam:pool:{area}:{tier}   -> []Question JSON
type ExamCache struct {
	client *redis.Client
	loader app.QuestionBank
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewExamCache(client *redis.Client, loader app.QuestionBank, ttl time.Duration) *ExamCache {
	return &ExamCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ExamCache) Exam(ctx context.Context, examID string) (domain.Exam, error) {
	var exam domain.Exam
	if c.get(ctx, examKey(examID), &exam) {
		return exam, nil
	}
	result, err, _ := c.sf.Do(examKey(examID), func() (interface{}, error) {
		var exam domain.Exam
		if c.get(ctx, examKey(examID), &exam) {
			return exam, nil
		}
		exam, err := c.loader.Exam(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}
		c.storeExam(ctx, exam)
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

func (c *ExamCache) SectionExam(ctx context.Context, sectionID string) (domain.Exam, error) {
	examID, err := c.client.Get(ctx, sectionKey(sectionID)).Result()
	if err == nil && examID != "" {
		return c.Exam(ctx, examID)
	}
	result, err, _ := c.sf.Do(sectionKey(sectionID), func() (interface{}, error) {
		exam, err := c.loader.SectionExam(ctx, sectionID)
		if err != nil {
			return domain.Exam{}, err
		}
		c.storeExam(ctx, exam)
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

func (c *ExamCache) Question(ctx context.Context, questionID string) (domain.Question, error) {
	return cached(ctx, c, questionKey(questionID), func(ctx context.Context) (domain.Question, error) {
		return c.loader.Question(ctx, questionID)
	})
}

func (c *ExamCache) Areas(ctx context.Context) ([]domain.Area, error) {
	return cached(ctx, c, "exam:areas", c.loader.Areas)
}

func (c *ExamCache) Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := "exam:pool:" + filter.AreaID + ":" + string(filter.Difficulty)
	return cached(ctx, c, key, func(ctx context.Context) ([]domain.Question, error) {
		return c.loader.Questions(ctx, filter)
	})
}

// Invalidate drops a cached exam and its section index.
func (c *ExamCache) Invalidate(ctx context.Context, examID string) error {
	var exam domain.Exam
	keys := []string{examKey(examID)}
	if c.get(ctx, examKey(examID), &exam) {
		for _, s := range exam.Sections {
			keys = append(keys, sectionKey(s.ID))
		}
	}
	return c.client.Del(ctx, keys...).Err()
}

// storeExam writes the exam and its indexes in one pipeline. Cache writes are
// best effort; a failed write only costs a reload.
func (c *ExamCache) storeExam(ctx context.Context, exam domain.Exam) {
	payload, err := json.Marshal(exam)
	if err != nil {
		return
	}
	ttl := c.ttlWithJitter()
	pipe := c.client.Pipeline()
	pipe.Set(ctx, examKey(exam.ID), payload, ttl)
	for _, s := range exam.Sections {
		pipe.Set(ctx, sectionKey(s.ID), exam.ID, ttl)
		for _, sq := range s.Questions() {
			if q, err := json.Marshal(sq.Question); err == nil {
				pipe.Set(ctx, questionKey(sq.Question.ID), q, ttl)
			}
		}
	}
	_, _ = pipe.Exec(ctx)
}

// cached serves key from Redis or collapses concurrent misses into one load.
func cached[T any](ctx context.Context, c *ExamCache, key string, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c.get(ctx, key, &v) {
		return v, nil
	}
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		var v T
		if c.get(ctx, key, &v) {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		if payload, err := json.Marshal(v); err == nil {
			_ = c.client.Set(ctx, key, payload, c.ttlWithJitter()).Err()
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (c *ExamCache) get(ctx context.Context, key string, dst any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

func (c *ExamCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func examKey(examID string) string { return "exam:" + examID }

func sectionKey(sectionID string) string { return "exam:section:" + sectionID }

func questionKey(questionID string) string { return "exam:question:" + questionID }
