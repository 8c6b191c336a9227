package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
)

func TestCachedBankCaches(t *testing.T) {
	static, err := NewStaticBank([]domain.Exam{sampleExam()}, nil, nil)
	if err != nil {
		t.Fatalf("static bank: %v", err)
	}
	bank := &countingBank{QuestionBank: static}
	cached := NewCachedBank(bank, time.Minute)

	if _, err := cached.Exam(context.Background(), "exam-1"); err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if bank.calls != 1 {
		t.Fatalf("expected bank once, got %d", bank.calls)
	}
	if _, err := cached.Exam(context.Background(), "exam-1"); err != nil {
		t.Fatalf("get exam 2: %v", err)
	}
	if bank.calls != 1 {
		t.Fatalf("expected cache hit, bank calls %d", bank.calls)
	}
}

func TestCachedBankExpires(t *testing.T) {
	static, err := NewStaticBank([]domain.Exam{sampleExam()}, nil, nil)
	if err != nil {
		t.Fatalf("static bank: %v", err)
	}
	bank := &countingBank{QuestionBank: static}
	cached := NewCachedBank(bank, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cached.clock = func() time.Time { return now }

	_, _ = cached.Exam(context.Background(), "exam-1")
	now = now.Add(2 * time.Minute)
	_, _ = cached.Exam(context.Background(), "exam-1")
	if bank.calls != 2 {
		t.Fatalf("expected reload after ttl, bank calls %d", bank.calls)
	}
}

func TestCachedBankDoesNotCacheErrors(t *testing.T) {
	static, _ := NewStaticBank(nil, nil, nil)
	bank := &countingBank{QuestionBank: static}
	cached := NewCachedBank(bank, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cached.Exam(context.Background(), "missing"); !errors.Is(err, domain.ErrExamNotFound) {
			t.Fatalf("expected exam not found, got %v", err)
		}
	}
	if bank.calls != 2 {
		t.Fatalf("expected every miss to reach the bank, got %d", bank.calls)
	}
}

func TestStaticBankRejectsBrokenOrdering(t *testing.T) {
	exam := sampleExam()
	exam.Sections[0].Order = 3
	if _, err := NewStaticBank([]domain.Exam{exam}, nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStaticBankRejectsQuestionScoreAboveBlock(t *testing.T) {
	exam := sampleExam()
	exam.Sections[0].Areas[0].Questions[0].BaseScore = decimal.NewFromInt(10)
	if _, err := NewStaticBank([]domain.Exam{exam}, nil, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStaticBankFiltersQuestions(t *testing.T) {
	bank, err := NewStaticBank(nil, []domain.Question{
		question("q1", "math", domain.DifficultyLow),
		question("q2", "math", domain.DifficultyHigh),
		question("q3", "bio", domain.DifficultyLow),
	}, nil)
	if err != nil {
		t.Fatalf("static bank: %v", err)
	}
	qs, _ := bank.Questions(context.Background(), domain.QuestionFilter{AreaID: "math", Difficulty: domain.DifficultyLow})
	if len(qs) != 1 || qs[0].ID != "q1" {
		t.Fatalf("expected only q1, got %+v", qs)
	}
	all, _ := bank.Questions(context.Background(), domain.QuestionFilter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(all))
	}
}

type countingBank struct {
	app.QuestionBank
	mu    sync.Mutex
	calls int
}

func (b *countingBank) Exam(ctx context.Context, examID string) (domain.Exam, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return b.QuestionBank.Exam(ctx, examID)
}

func question(id, area string, d domain.Difficulty) domain.Question {
	return domain.Question{
		ID:         id,
		AreaID:     area,
		Statement:  "Statement " + id,
		Difficulty: d,
		Options: []domain.Option{
			{ID: id + "-a", Text: "A", Correct: true},
			{ID: id + "-b", Text: "B"},
		},
	}
}

func sampleExam() domain.Exam {
	return domain.Exam{
		ID:   "exam-1",
		Name: "Saber 11",
		Sections: []domain.Section{{
			ID:              "s1",
			ExamID:          "exam-1",
			Name:            "Session 1",
			Order:           1,
			DurationSeconds: 3600,
			Areas: []domain.AreaBlock{{
				ID:            "b1",
				SectionID:     "s1",
				AreaID:        "math",
				AreaName:      "Mathematics",
				Order:         1,
				QuestionCount: 1,
				BaseScore:     decimal.NewFromInt(1),
				Questions: []domain.SectionQuestion{{
					ID:          "sq1",
					AreaBlockID: "b1",
					Order:       1,
					BaseScore:   decimal.NewFromInt(1),
					Question:    question("q1", "math", domain.DifficultyLow),
				}},
			}},
		}},
	}
}
