package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
)

// StaticBank is a question bank backed by in-memory data (useful for tests/demos).
type StaticBank struct {
	exams       map[string]domain.Exam
	sectionExam map[string]string
	questions   map[string]domain.Question
	areas       []domain.Area
}

// NewStaticBank validates every exam and indexes its sections and questions.
// Questions placed in exam sections join the extra ones in the draw pool.
func NewStaticBank(exams []domain.Exam, extra []domain.Question, areas []domain.Area) (*StaticBank, error) {
	b := &StaticBank{
		exams:       make(map[string]domain.Exam, len(exams)),
		sectionExam: make(map[string]string),
		questions:   make(map[string]domain.Question, len(extra)),
		areas:       append([]domain.Area(nil), areas...),
	}
	for _, exam := range exams {
		if err := exam.Validate(); err != nil {
			return nil, err
		}
		b.exams[exam.ID] = exam
		for _, s := range exam.Sections {
			b.sectionExam[s.ID] = exam.ID
			for _, sq := range s.Questions() {
				b.questions[sq.Question.ID] = sq.Question
			}
		}
	}
	for _, q := range extra {
		b.questions[q.ID] = q
	}
	return b, nil
}

func (b *StaticBank) Exam(_ context.Context, examID string) (domain.Exam, error) {
	if exam, ok := b.exams[examID]; ok {
		return exam, nil
	}
	return domain.Exam{}, domain.ErrExamNotFound
}

func (b *StaticBank) SectionExam(ctx context.Context, sectionID string) (domain.Exam, error) {
	examID, ok := b.sectionExam[sectionID]
	if !ok {
		return domain.Exam{}, domain.ErrSectionNotFound
	}
	return b.Exam(ctx, examID)
}

func (b *StaticBank) Question(_ context.Context, questionID string) (domain.Question, error) {
	if q, ok := b.questions[questionID]; ok {
		return q, nil
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func (b *StaticBank) Areas(_ context.Context) ([]domain.Area, error) {
	return append([]domain.Area(nil), b.areas...), nil
}

func (b *StaticBank) Questions(_ context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	var out []domain.Question
	for _, q := range b.questions {
		if filter.AreaID != "" && q.AreaID != filter.AreaID {
			continue
		}
		if filter.Difficulty != "" && q.Difficulty != filter.Difficulty {
			continue
		}
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CachedBank caches bank reads with a TTL to avoid repeated DB hits.
type CachedBank struct {
	bank  app.QuestionBank
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedEntry
}

type cachedEntry struct {
	value     any
	expiresAt time.Time
}

func NewCachedBank(bank app.QuestionBank, ttl time.Duration) *CachedBank {
	return &CachedBank{
		bank:  bank,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedEntry),
	}
}

func (c *CachedBank) Exam(ctx context.Context, examID string) (domain.Exam, error) {
	return load(ctx, c, "exam:"+examID, func(ctx context.Context) (domain.Exam, error) {
		return c.bank.Exam(ctx, examID)
	})
}

func (c *CachedBank) SectionExam(ctx context.Context, sectionID string) (domain.Exam, error) {
	return load(ctx, c, "section:"+sectionID, func(ctx context.Context) (domain.Exam, error) {
		return c.bank.SectionExam(ctx, sectionID)
	})
}

func (c *CachedBank) Question(ctx context.Context, questionID string) (domain.Question, error) {
	return load(ctx, c, "question:"+questionID, func(ctx context.Context) (domain.Question, error) {
		return c.bank.Question(ctx, questionID)
	})
}

func (c *CachedBank) Areas(ctx context.Context) ([]domain.Area, error) {
	return load(ctx, c, "areas", c.bank.Areas)
}

func (c *CachedBank) Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	key := "questions:" + filter.AreaID + ":" + string(filter.Difficulty)
	return load(ctx, c, key, func(ctx context.Context) ([]domain.Question, error) {
		return c.bank.Questions(ctx, filter)
	})
}

func (c *CachedBank) lookup(key string, now time.Time) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry, ok := c.cache[key]; ok && entry.expiresAt.After(now) {
		return entry.value, true
	}
	return nil, false
}

// load serves key from cache or collapses concurrent misses into one call of fn.
func load[T any](ctx context.Context, c *CachedBank, key string, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := c.lookup(key, c.clock()); ok {
		return v.(T), nil
	}
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		now := c.clock()
		if v, ok := c.lookup(key, now); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[key] = cachedEntry{value: v, expiresAt: now.Add(c.ttlWithJitter())}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

func (c *CachedBank) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
