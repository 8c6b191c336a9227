package app

import (
	"context"

	"github.com/shopspring/decimal"

	"simulacro-engine/internal/domain"
)

// EnterSectionParams selects a section by its position in the exam.
type EnterSectionParams struct {
	ExamID       string `json:"examId" validate:"required"`
	SectionOrder int    `json:"sectionOrder" validate:"min=1"`
	StudentID    string `json:"studentId" validate:"required"`
}

// GateDecision is the outcome of the ordering check.
type GateDecision struct {
	Allowed         bool   `json:"allowed"`
	BlockingSection string `json:"blockingSection,omitempty"`
}

// OptionView is an option as shown to a student, without its correctness flag.
type OptionView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// QuestionView is one section question in the entry payload.
type QuestionView struct {
	SectionQuestionID string       `json:"sectionQuestionId"`
	QuestionID        string       `json:"questionId"`
	Order             int          `json:"order"`
	AreaName          string       `json:"areaName"`
	Statement         string       `json:"statement"`
	ImageURL          string       `json:"imageUrl,omitempty"`
	Options           []OptionView `json:"options"`
	Answered          bool         `json:"answered"`
	SelectedOptionID  string       `json:"selectedOptionId,omitempty"`
}

// SectionView is returned by EnterSection. Questions are only filled when the gate passes.
type SectionView struct {
	GateDecision
	Completed        bool                   `json:"completed"`
	FirstEntry       bool                   `json:"firstEntry"`
	ExamID           string                 `json:"examId"`
	SectionID        string                 `json:"sectionId"`
	SectionName      string                 `json:"sectionName"`
	Instructions     string                 `json:"instructions,omitempty"`
	Order            int                    `json:"order"`
	DurationSeconds  int                    `json:"durationSeconds"`
	ElapsedSeconds   int                    `json:"elapsedSeconds"`
	RemainingSeconds int                    `json:"remainingSeconds"`
	AnsweredCount    int                    `json:"answeredCount"`
	RunningScore     decimal.Decimal        `json:"runningScore"`
	Progress         domain.SectionProgress `json:"progress"`
	Questions        []QuestionView         `json:"questions,omitempty"`
}

// CanEnter evaluates the gate without side effects.
func (e *Engine) CanEnter(ctx context.Context, examID string, sectionOrder int, studentID string) (GateDecision, error) {
	if err := e.check(EnterSectionParams{ExamID: examID, SectionOrder: sectionOrder, StudentID: studentID}); err != nil {
		return GateDecision{}, err
	}
	exam, err := e.bank.Exam(ctx, examID)
	if err != nil {
		return GateDecision{}, err
	}
	if _, ok := exam.SectionByOrder(sectionOrder); !ok {
		return GateDecision{}, domain.ErrSectionNotFound
	}
	var decision GateDecision
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		blocking, err := firstBlocking(ctx, tx, exam, sectionOrder, studentID)
		if err != nil {
			return err
		}
		decision = GateDecision{Allowed: blocking == "", BlockingSection: blocking}
		return nil
	})
	return decision, err
}

// EnterSection runs the gate and, when it passes, starts the section clock on first
// entry and returns the question payload. Completed sections stay viewable but
// report Allowed=false.
func (e *Engine) EnterSection(ctx context.Context, p EnterSectionParams) (SectionView, error) {
	if err := e.check(p); err != nil {
		return SectionView{}, err
	}
	exam, err := e.bank.Exam(ctx, p.ExamID)
	if err != nil {
		return SectionView{}, err
	}
	section, ok := exam.SectionByOrder(p.SectionOrder)
	if !ok {
		return SectionView{}, domain.ErrSectionNotFound
	}

	view := SectionView{
		ExamID:          exam.ID,
		SectionID:       section.ID,
		SectionName:     section.Name,
		Instructions:    section.Instructions,
		Order:           section.Order,
		DurationSeconds: section.DurationSeconds,
		RunningScore:    decimal.Zero,
	}
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		blocking, err := firstBlocking(ctx, tx, exam, section.Order, p.StudentID)
		if err != nil {
			return err
		}
		if blocking != "" {
			view.BlockingSection = blocking
			return nil
		}

		now := e.now()
		progress, created, err := tx.EnsureSectionProgress(ctx, domain.SectionProgress{
			StudentID:  p.StudentID,
			SectionID:  section.ID,
			StartedAt:  now,
			LastUpdate: now,
		})
		if err != nil {
			return err
		}
		view.FirstEntry = created
		view.Completed = progress.Completed
		view.Allowed = !progress.Completed
		view.Progress = progress

		selected := map[string]string{}
		result, ok, err := tx.LatestSectionResult(ctx, p.StudentID, section.ID)
		if err != nil {
			return err
		}
		if ok {
			view.RunningScore = result.Score
			records, err := tx.SectionAnswerRecords(ctx, result.ID)
			if err != nil {
				return err
			}
			for _, r := range records {
				selected[r.SectionQuestionID] = r.OptionID
			}
		}

		elapsed := int(now.Sub(progress.StartedAt).Seconds())
		if progress.Completed && ok && result.EndedAt != nil {
			elapsed = result.ElapsedSeconds
		}
		if elapsed < 0 {
			elapsed = 0
		}
		view.ElapsedSeconds = elapsed
		view.RemainingSeconds = max(section.DurationSeconds-elapsed, 0)
		view.AnsweredCount = len(selected)
		view.Questions = questionViews(section, selected)
		return nil
	})
	if err != nil {
		return SectionView{}, err
	}
	if view.FirstEntry {
		e.log.Info("section started", "student", p.StudentID, "exam", exam.ID, "section", section.ID)
	}
	return view, nil
}

// firstBlocking returns the name of the first lower-ordered section the student
// has not completed, or "" when the gate is open.
func firstBlocking(ctx context.Context, tx Tx, exam domain.Exam, order int, studentID string) (string, error) {
	for _, s := range exam.Sections {
		if s.Order >= order {
			break
		}
		progress, ok, err := tx.SectionProgress(ctx, studentID, s.ID)
		if err != nil {
			return "", err
		}
		if !ok || !progress.Completed {
			return s.Name, nil
		}
	}
	return "", nil
}

func questionViews(section domain.Section, selected map[string]string) []QuestionView {
	areaNames := make(map[string]string, len(section.Areas))
	for _, b := range section.Areas {
		areaNames[b.ID] = b.AreaName
	}
	qs := section.Questions()
	out := make([]QuestionView, 0, len(qs))
	for _, sq := range qs {
		opt, answered := selected[sq.ID]
		out = append(out, QuestionView{
			SectionQuestionID: sq.ID,
			QuestionID:        sq.Question.ID,
			Order:             sq.Order,
			AreaName:          areaNames[sq.AreaBlockID],
			Statement:         sq.Question.Statement,
			ImageURL:          sq.Question.ImageURL,
			Options:           optionViews(sq.Question),
			Answered:          answered,
			SelectedOptionID:  opt,
		})
	}
	return out
}

func optionViews(q domain.Question) []OptionView {
	out := make([]OptionView, 0, len(q.Options))
	for _, o := range q.Options {
		out = append(out, OptionView{ID: o.ID, Text: o.Text, ImageURL: o.ImageURL})
	}
	return out
}
