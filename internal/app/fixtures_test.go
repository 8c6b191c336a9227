package app_test

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
	"simulacro-engine/internal/infra/memory"
)

const (
	examID   = "exam-1"
	section1 = "sec-1"
	section2 = "sec-2"
	teacher  = "teacher-1"
)

var course = domain.CourseKey{Grade: "11", Group: "A", Cohort: "2024", InstitutionID: "inst-1"}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	engine *app.Engine
	store  *memory.Store
	dir    *memory.Directory
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bank, err := memory.NewStaticBank([]domain.Exam{twoSectionExam()}, poolQuestions(), poolAreas())
	require.NoError(t, err)

	dir := memory.NewDirectory()
	dir.AddTeacher(teacher)
	dir.AddCourse(course, "s1", "s2", "s3", "s4")

	clk := &clock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	engine := app.NewEngine(store, bank, dir, app.Options{
		Clock:  clk.Now,
		Rand:   rand.New(rand.NewSource(7)),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &fixture{engine: engine, store: store, dir: dir, clock: clk}
}

// twoSectionExam has two sections of five questions each at base score 1.
// Section 2 splits its questions across two area blocks.
func twoSectionExam() domain.Exam {
	return domain.Exam{
		ID:   examID,
		Name: "Saber 11 mock",
		Sections: []domain.Section{
			{
				ID: section1, ExamID: examID, Name: "Session 1", Order: 1, DurationSeconds: 3600,
				Areas: []domain.AreaBlock{block("blk-1", section1, "math", 1, 5)},
			},
			{
				ID: section2, ExamID: examID, Name: "Session 2", Order: 2, DurationSeconds: 3600,
				Areas: []domain.AreaBlock{
					block("blk-2", section2, "read", 1, 3),
					block("blk-3", section2, "bio", 2, 2),
				},
			},
		},
	}
}

func block(id, sectionID, area string, order, n int) domain.AreaBlock {
	b := domain.AreaBlock{
		ID: id, SectionID: sectionID, AreaID: area, AreaName: area, Order: order,
		QuestionCount: n, BaseScore: decimal.NewFromInt(1),
	}
	for i := 1; i <= n; i++ {
		q := mcq(fmt.Sprintf("%s-q%d", id, i), area, domain.DifficultyMedium)
		b.Questions = append(b.Questions, domain.SectionQuestion{
			ID: fmt.Sprintf("%s-sq%d", id, i), AreaBlockID: id, Order: i,
			BaseScore: decimal.NewFromInt(1), Question: q,
		})
	}
	return b
}

// mcq builds a question whose option "<id>-ok" is correct while "<id>-no" and
// "<id>-alt" are not.
func mcq(id, area string, d domain.Difficulty) domain.Question {
	return domain.Question{
		ID: id, AreaID: area, Statement: "Question " + id, Difficulty: d,
		Options: []domain.Option{
			{ID: id + "-ok", Text: "right", Correct: true},
			{ID: id + "-no", Text: "wrong"},
			{ID: id + "-alt", Text: "also wrong"},
		},
	}
}

func poolAreas() []domain.Area {
	return []domain.Area{{ID: "alg", Name: "Algebra"}, {ID: "geo", Name: "Geometry"}, {ID: "chem", Name: "Chemistry"}}
}

// poolQuestions stocks 6 low, 4 medium and 2 high algebra questions plus 6
// geometry and 6 chemistry questions for contests.
func poolQuestions() []domain.Question {
	var out []domain.Question
	add := func(area string, d domain.Difficulty, n int) {
		for i := 1; i <= n; i++ {
			out = append(out, mcq(fmt.Sprintf("%s-%s-%d", area, d, i), area, d))
		}
	}
	add("alg", domain.DifficultyLow, 6)
	add("alg", domain.DifficultyMedium, 4)
	add("alg", domain.DifficultyHigh, 2)
	add("geo", domain.DifficultyMedium, 6)
	add("chem", domain.DifficultyMedium, 6)
	return out
}

func sq(blockID string, n int) string { return fmt.Sprintf("%s-sq%d", blockID, n) }

func right(blockID string, n int) string { return fmt.Sprintf("%s-q%d-ok", blockID, n) }

func wrong(blockID string, n int) string { return fmt.Sprintf("%s-q%d-no", blockID, n) }

func otherWrong(blockID string, n int) string { return fmt.Sprintf("%s-q%d-alt", blockID, n) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireScore(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected score %s, got %s", want, got)
}
