package app

import (
	"context"

	"github.com/shopspring/decimal"

	"simulacro-engine/internal/domain"
)

// FinalizeSectionParams closes a section. ElapsedSeconds overrides the server clock when set.
type FinalizeSectionParams struct {
	StudentID      string `json:"studentId" validate:"required"`
	SectionID      string `json:"sectionId" validate:"required"`
	ElapsedSeconds *int   `json:"elapsedSeconds,omitempty" validate:"omitempty,min=0"`
}

// FinalizeResult reports the section outcome. AlreadyFinalized marks a repeated
// call that changed nothing.
type FinalizeResult struct {
	AlreadyFinalized bool            `json:"alreadyFinalized"`
	Score            decimal.Decimal `json:"score"`
	ElapsedSeconds   int             `json:"elapsedSeconds"`
	AttemptCompleted bool            `json:"attemptCompleted"`
	AttemptScore     decimal.Decimal `json:"attemptScore"`
}

// FinalizeSection marks the section complete and completes the attempt once
// every section of the exam is done.
func (e *Engine) FinalizeSection(ctx context.Context, p FinalizeSectionParams) (FinalizeResult, error) {
	if err := e.check(p); err != nil {
		return FinalizeResult{}, err
	}
	exam, err := e.bank.SectionExam(ctx, p.SectionID)
	if err != nil {
		return FinalizeResult{}, err
	}
	section, ok := exam.Section(p.SectionID)
	if !ok {
		return FinalizeResult{}, domain.ErrSectionNotFound
	}

	var res FinalizeResult
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		progress, ok, err := tx.SectionProgress(ctx, p.StudentID, section.ID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotStarted
		}
		if progress.Completed {
			res, err = priorFinalize(ctx, tx, p.StudentID, section.ID)
			return err
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
		progress, _, err = tx.LockSectionProgress(ctx, p.StudentID, section.ID)
		if err != nil {
			return err
		}
		if progress.Completed {
			res, err = priorFinalize(ctx, tx, p.StudentID, section.ID)
			return err
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
		elapsed := int(now.Sub(sr.StartedAt).Seconds())
		if p.ElapsedSeconds != nil {
			elapsed = *p.ElapsedSeconds
		}
		if elapsed < 0 {
			elapsed = 0
		}
		sr.ElapsedSeconds = elapsed
		sr.EndedAt = &now
		if err := tx.SaveSectionResult(ctx, sr); err != nil {
			return err
		}
		if err := tx.UpdateSectionProgress(ctx, p.StudentID, section.ID, domain.SectionProgressPatch{
			Completed:  ptr(true),
			LastUpdate: ptr(now),
		}); err != nil {
			return err
		}

		// Siblings are re-read under the attempt lock so concurrent finalizes
		// of different sections cannot both miss the last completion.
		all := true
		for _, s := range exam.Sections {
			if s.ID == section.ID {
				continue
			}
			sp, ok, err := tx.SectionProgress(ctx, p.StudentID, s.ID)
			if err != nil {
				return err
			}
			if !ok || !sp.Completed {
				all = false
				break
			}
		}
		if all {
			attempt.Completed = true
			attempt.CompletedAt = &now
			if err := tx.SaveAttempt(ctx, attempt); err != nil {
				return err
			}
		}

		res = FinalizeResult{
			Score:            sr.Score,
			ElapsedSeconds:   sr.ElapsedSeconds,
			AttemptCompleted: attempt.Completed,
			AttemptScore:     attempt.Score,
		}
		return nil
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	if res.AlreadyFinalized {
		e.log.Warn("section already finalized", "student", p.StudentID, "section", section.ID)
		return res, nil
	}
	e.log.Info("section finalized", "student", p.StudentID, "section", section.ID, "score", res.Score.String())
	if res.AttemptCompleted {
		e.log.Info("attempt completed", "student", p.StudentID, "exam", exam.ID, "score", res.AttemptScore.String())
	}
	return res, nil
}

func priorFinalize(ctx context.Context, tx Tx, studentID, sectionID string) (FinalizeResult, error) {
	res := FinalizeResult{AlreadyFinalized: true, Score: decimal.Zero, AttemptScore: decimal.Zero}
	sr, ok, err := tx.LatestSectionResult(ctx, studentID, sectionID)
	if err != nil || !ok {
		return res, err
	}
	res.Score = sr.Score
	res.ElapsedSeconds = sr.ElapsedSeconds
	attempt, ok, err := tx.Attempt(ctx, sr.AttemptID)
	if err != nil || !ok {
		return res, err
	}
	res.AttemptCompleted = attempt.Completed
	res.AttemptScore = attempt.Score
	return res, nil
}

// AreaBreakdown is one area block's share of a section result.
type AreaBreakdown struct {
	AreaBlockID   string          `json:"areaBlockId"`
	AreaName      string          `json:"areaName"`
	QuestionCount int             `json:"questionCount"`
	Correct       int             `json:"correct"`
	Incorrect     int             `json:"incorrect"`
	MaxScore      decimal.Decimal `json:"maxScore"`
}

// SectionResults is the post-finalize report; Available is false until then.
type SectionResults struct {
	Available      bool            `json:"available"`
	SectionID      string          `json:"sectionId"`
	SectionName    string          `json:"sectionName"`
	Score          decimal.Decimal `json:"score"`
	MaxScore       decimal.Decimal `json:"maxScore"`
	Correct        int             `json:"correct"`
	Incorrect      int             `json:"incorrect"`
	Unanswered     int             `json:"unanswered"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	Areas          []AreaBreakdown `json:"areas,omitempty"`
}

// GetSectionResults reports the finalized outcome of a section.
func (e *Engine) GetSectionResults(ctx context.Context, studentID, sectionID string) (SectionResults, error) {
	if studentID == "" || sectionID == "" {
		return SectionResults{}, domain.Errorf(domain.KindValidation, "studentId and sectionId are required")
	}
	exam, err := e.bank.SectionExam(ctx, sectionID)
	if err != nil {
		return SectionResults{}, err
	}
	section, ok := exam.Section(sectionID)
	if !ok {
		return SectionResults{}, domain.ErrSectionNotFound
	}

	out := SectionResults{SectionID: section.ID, SectionName: section.Name, Score: decimal.Zero, MaxScore: section.MaxScore()}
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		progress, ok, err := tx.SectionProgress(ctx, studentID, sectionID)
		if err != nil {
			return err
		}
		if !ok || !progress.Completed {
			return nil
		}
		out.Available = true

		counts := map[string]domain.AreaResult{}
		sr, ok, err := tx.LatestSectionResult(ctx, studentID, sectionID)
		if err != nil {
			return err
		}
		if ok {
			out.Score = sr.Score
			out.ElapsedSeconds = sr.ElapsedSeconds
			areas, err := tx.AreaResults(ctx, sr.ID)
			if err != nil {
				return err
			}
			for _, a := range areas {
				counts[a.AreaBlockID] = a
			}
		}

		total := 0
		for _, b := range section.Areas {
			a := counts[b.ID]
			out.Correct += a.Correct
			out.Incorrect += a.Incorrect
			total += b.QuestionCount
			out.Areas = append(out.Areas, AreaBreakdown{
				AreaBlockID:   b.ID,
				AreaName:      b.AreaName,
				QuestionCount: b.QuestionCount,
				Correct:       a.Correct,
				Incorrect:     a.Incorrect,
				MaxScore:      b.MaxScore(),
			})
		}
		out.Unanswered = max(total-out.Correct-out.Incorrect, 0)
		return nil
	})
	if err != nil {
		return SectionResults{}, err
	}
	return out, nil
}

// SectionAudit compares a section result's stored score against its answers.
type SectionAudit struct {
	SectionID  string          `json:"sectionId"`
	Stored     decimal.Decimal `json:"stored"`
	Recomputed decimal.Decimal `json:"recomputed"`
}

// AuditReport compares stored aggregates with a full recompute from answer records.
type AuditReport struct {
	AttemptID       string          `json:"attemptId"`
	StoredScore     decimal.Decimal `json:"storedScore"`
	RecomputedScore decimal.Decimal `json:"recomputedScore"`
	Consistent      bool            `json:"consistent"`
	Sections        []SectionAudit  `json:"sections"`
}

// AuditAttempt recomputes every score of an attempt from its answer records.
func (e *Engine) AuditAttempt(ctx context.Context, attemptID string) (AuditReport, error) {
	var (
		attempt  domain.Attempt
		sections []domain.SectionResult
		records  []domain.AnswerRecord
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var ok bool
		var err error
		attempt, ok, err = tx.Attempt(ctx, attemptID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrAttemptNotFound
		}
		if sections, err = tx.SectionResults(ctx, attemptID); err != nil {
			return err
		}
		records, err = tx.AttemptAnswerRecords(ctx, attemptID)
		return err
	})
	if err != nil {
		return AuditReport{}, err
	}
	exam, err := e.bank.Exam(ctx, attempt.ExamID)
	if err != nil {
		return AuditReport{}, err
	}

	perSection := map[string]decimal.Decimal{}
	sectionOf := map[string]string{}
	for _, sr := range sections {
		sectionOf[sr.ID] = sr.SectionID
		perSection[sr.ID] = decimal.Zero
	}
	for _, r := range records {
		if !r.Correct {
			continue
		}
		section, ok := exam.Section(sectionOf[r.SectionResultID])
		if !ok {
			continue
		}
		if sq, _, ok := section.Lookup(r.SectionQuestionID); ok {
			perSection[r.SectionResultID] = perSection[r.SectionResultID].Add(sq.BaseScore)
		}
	}

	report := AuditReport{AttemptID: attempt.ID, StoredScore: attempt.Score, RecomputedScore: decimal.Zero, Consistent: true}
	for _, sr := range sections {
		recomputed := round(perSection[sr.ID])
		report.RecomputedScore = report.RecomputedScore.Add(recomputed)
		report.Sections = append(report.Sections, SectionAudit{SectionID: sr.SectionID, Stored: sr.Score, Recomputed: recomputed})
		if !recomputed.Equal(sr.Score) {
			report.Consistent = false
		}
	}
	report.RecomputedScore = round(report.RecomputedScore)
	if !report.RecomputedScore.Equal(attempt.Score) {
		report.Consistent = false
	}
	if !report.Consistent {
		e.log.Warn("attempt score drift", "attempt", attempt.ID,
			"stored", attempt.Score.String(), "recomputed", report.RecomputedScore.String())
	}
	return report, nil
}
