package app

import (
	"context"

	"github.com/shopspring/decimal"

	"simulacro-engine/internal/domain"
)

// SubmitAnswerParams identifies an answer to one section question.
type SubmitAnswerParams struct {
	StudentID         string `json:"studentId" validate:"required"`
	SectionID         string `json:"sectionId" validate:"required"`
	SectionQuestionID string `json:"sectionQuestionId" validate:"required"`
	OptionID          string `json:"optionId" validate:"required"`
}

// AnswerResult reports what a submission did. Changed is false for a resubmitted
// identical option; Created is true only for the first answer to the question.
type AnswerResult struct {
	Accepted     bool            `json:"accepted"`
	Created      bool            `json:"created"`
	Changed      bool            `json:"changed"`
	Correct      bool            `json:"correct"`
	RunningScore decimal.Decimal `json:"runningScore"`
	AttemptScore decimal.Decimal `json:"attemptScore"`
}

// SubmitAnswer records or amends the student's answer and moves every parent
// aggregate by exactly the signed delta the change introduces.
func (e *Engine) SubmitAnswer(ctx context.Context, p SubmitAnswerParams) (AnswerResult, error) {
	if err := e.check(p); err != nil {
		return AnswerResult{}, err
	}
	exam, err := e.bank.SectionExam(ctx, p.SectionID)
	if err != nil {
		return AnswerResult{}, err
	}
	section, ok := exam.Section(p.SectionID)
	if !ok {
		return AnswerResult{}, domain.ErrSectionNotFound
	}
	sq, block, ok := section.Lookup(p.SectionQuestionID)
	if !ok {
		return AnswerResult{}, domain.Wrap(domain.ErrQuestionNotFound, p.SectionQuestionID)
	}
	option, ok := sq.Question.Option(p.OptionID)
	if !ok {
		return AnswerResult{}, domain.ErrInvalidOption
	}
	delta := decimal.Zero
	if option.Correct {
		delta = sq.BaseScore
	}

	var res AnswerResult
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		progress, ok, err := tx.SectionProgress(ctx, p.StudentID, section.ID)
		if err != nil {
			return err
		}
		if ok && progress.Completed {
			return domain.ErrAlreadyCompleted
		}

		now := e.now()
		attempt, _, err := tx.GetOrCreateAttempt(ctx, domain.Attempt{
			ID:        e.newID(),
			StudentID: p.StudentID,
			ExamID:    exam.ID,
			Score:     decimal.Zero,
			StartedAt: now,
		})
		if err != nil {
			return err
		}

		progress, ok, err = tx.LockSectionProgress(ctx, p.StudentID, section.ID)
		if err != nil {
			return err
		}
		if !ok {
			blocking, err := firstBlocking(ctx, tx, exam, section.Order, p.StudentID)
			if err != nil {
				return err
			}
			if blocking != "" {
				return domain.Wrap(domain.ErrSectionLocked, blocking)
			}
			progress, _, err = tx.EnsureSectionProgress(ctx, domain.SectionProgress{
				StudentID:  p.StudentID,
				SectionID:  section.ID,
				StartedAt:  now,
				LastUpdate: now,
			})
			if err != nil {
				return err
			}
		}
		if progress.Completed {
			return domain.ErrAlreadyCompleted
		}

		sr, _, err := tx.GetOrCreateSectionResult(ctx, domain.SectionResult{
			ID:        e.newID(),
			AttemptID: attempt.ID,
			SectionID: section.ID,
			Score:     decimal.Zero,
			StartedAt: progress.StartedAt,
		})
		if err != nil {
			return err
		}
		ar, _, err := tx.GetOrCreateAreaResult(ctx, domain.AreaResult{
			ID:              e.newID(),
			SectionResultID: sr.ID,
			AreaBlockID:     block.ID,
		})
		if err != nil {
			return err
		}

		rec, exists, err := tx.AnswerRecord(ctx, ar.ID, sq.ID)
		if err != nil {
			return err
		}
		switch {
		case !exists:
			rec = domain.AnswerRecord{
				ID:                e.newID(),
				AreaResultID:      ar.ID,
				SectionResultID:   sr.ID,
				AttemptID:         attempt.ID,
				SectionQuestionID: sq.ID,
				OptionID:          option.ID,
				Correct:           option.Correct,
				Score:             delta,
				AnsweredAt:        now,
			}
			if err := tx.InsertAnswerRecord(ctx, rec); err != nil {
				return err
			}
			countAnswer(&ar, option.Correct, 1)
			sr.Score = round(sr.Score.Add(delta))
			attempt.Score = round(attempt.Score.Add(delta))
			res.Created, res.Changed = true, true
		case rec.OptionID == option.ID:
			// identical resubmission
		default:
			countAnswer(&ar, rec.Correct, -1)
			countAnswer(&ar, option.Correct, 1)
			adjust := delta.Sub(rec.Score)
			sr.Score = round(sr.Score.Add(adjust))
			attempt.Score = round(attempt.Score.Add(adjust))
			rec.OptionID = option.ID
			rec.Correct = option.Correct
			rec.Score = delta
			rec.AnsweredAt = now
			if err := tx.SaveAnswerRecord(ctx, rec); err != nil {
				return err
			}
			res.Changed = true
		}

		if res.Changed {
			if err := tx.SaveAreaResult(ctx, ar); err != nil {
				return err
			}
			if err := tx.SaveSectionResult(ctx, sr); err != nil {
				return err
			}
			if err := tx.SaveAttempt(ctx, attempt); err != nil {
				return err
			}
		}
		if err := tx.UpdateSectionProgress(ctx, p.StudentID, section.ID, domain.SectionProgressPatch{
			LastQuestion: ptr(sq.ID),
			LastUpdate:   ptr(now),
		}); err != nil {
			return err
		}

		res.Accepted = true
		res.Correct = option.Correct
		res.RunningScore = sr.Score
		res.AttemptScore = attempt.Score
		return nil
	})
	if err != nil {
		return AnswerResult{}, err
	}
	e.log.Debug("answer recorded",
		"student", p.StudentID, "section", section.ID, "question", sq.ID,
		"created", res.Created, "changed", res.Changed, "score", res.RunningScore.String())
	return res, nil
}

func countAnswer(ar *domain.AreaResult, correct bool, n int) {
	if correct {
		ar.Correct += n
	} else {
		ar.Incorrect += n
	}
}
