package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"

	"simulacro-engine/internal/domain"
)

const attemptCols = `id, student_id, exam_id, completed, score, started_at, completed_at`

func scanAttempt(row pgx.Row, a *domain.Attempt) (bool, error) {
	return one(row, &a.ID, &a.StudentID, &a.ExamID, &a.Completed, &a.Score, &a.StartedAt, &a.CompletedAt)
}

func (t *tx) Attempt(ctx context.Context, attemptID string) (domain.Attempt, bool, error) {
	var a domain.Attempt
	ok, err := scanAttempt(t.q.QueryRow(ctx, `SELECT `+attemptCols+` FROM attempts WHERE id = $1`, attemptID), &a)
	return a, ok, err
}

func (t *tx) OpenAttempt(ctx context.Context, studentID, examID string) (domain.Attempt, bool, error) {
	var a domain.Attempt
	ok, err := scanAttempt(t.q.QueryRow(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE student_id = $1 AND exam_id = $2 AND NOT completed`,
		studentID, examID), &a)
	return a, ok, err
}

func (t *tx) GetOrCreateAttempt(ctx context.Context, a domain.Attempt) (domain.Attempt, bool, error) {
	n, err := t.exec(ctx, `
		INSERT INTO attempts (`+attemptCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (student_id, exam_id) WHERE NOT completed DO NOTHING`,
		a.ID, a.StudentID, a.ExamID, a.Completed, a.Score, a.StartedAt, a.CompletedAt)
	if err != nil {
		return domain.Attempt{}, false, err
	}
	var stored domain.Attempt
	ok, err := scanAttempt(t.q.QueryRow(ctx,
		`SELECT `+attemptCols+` FROM attempts WHERE student_id = $1 AND exam_id = $2 AND NOT completed FOR UPDATE`,
		a.StudentID, a.ExamID), &stored)
	if err != nil {
		return domain.Attempt{}, false, err
	}
	if !ok {
		return domain.Attempt{}, false, domain.ErrAttemptNotFound
	}
	return stored, n == 1, nil
}

func (t *tx) SaveAttempt(ctx context.Context, a domain.Attempt) error {
	n, err := t.exec(ctx,
		`UPDATE attempts SET completed = $2, score = $3, completed_at = $4 WHERE id = $1`,
		a.ID, a.Completed, a.Score, a.CompletedAt)
	if err == nil && n == 0 {
		return domain.ErrAttemptNotFound
	}
	return err
}

const progressCols = `student_id, section_id, completed, last_question, started_at, last_update`

func scanProgress(row pgx.Row, p *domain.SectionProgress) (bool, error) {
	return one(row, &p.StudentID, &p.SectionID, &p.Completed, &p.LastQuestion, &p.StartedAt, &p.LastUpdate)
}

func (t *tx) SectionProgress(ctx context.Context, studentID, sectionID string) (domain.SectionProgress, bool, error) {
	var p domain.SectionProgress
	ok, err := scanProgress(t.q.QueryRow(ctx,
		`SELECT `+progressCols+` FROM section_progress WHERE student_id = $1 AND section_id = $2`,
		studentID, sectionID), &p)
	return p, ok, err
}

func (t *tx) LockSectionProgress(ctx context.Context, studentID, sectionID string) (domain.SectionProgress, bool, error) {
	var p domain.SectionProgress
	ok, err := scanProgress(t.q.QueryRow(ctx,
		`SELECT `+progressCols+` FROM section_progress WHERE student_id = $1 AND section_id = $2 FOR UPDATE`,
		studentID, sectionID), &p)
	return p, ok, err
}

func (t *tx) EnsureSectionProgress(ctx context.Context, p domain.SectionProgress) (domain.SectionProgress, bool, error) {
	n, err := t.exec(ctx, `
		INSERT INTO section_progress (`+progressCols+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (student_id, section_id) DO NOTHING`,
		p.StudentID, p.SectionID, p.Completed, p.LastQuestion, p.StartedAt, p.LastUpdate)
	if err != nil {
		return domain.SectionProgress{}, false, err
	}
	stored, _, err := t.LockSectionProgress(ctx, p.StudentID, p.SectionID)
	return stored, n == 1, err
}

func (t *tx) UpdateSectionProgress(ctx context.Context, studentID, sectionID string, patch domain.SectionProgressPatch) error {
	p, ok, err := t.LockSectionProgress(ctx, studentID, sectionID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotStarted
	}
	patch.Apply(&p)
	_, err = t.exec(ctx, `
		UPDATE section_progress SET completed = $3, last_question = $4, last_update = $5
		WHERE student_id = $1 AND section_id = $2`,
		studentID, sectionID, p.Completed, p.LastQuestion, p.LastUpdate)
	return err
}

const sectionResultCols = `id, attempt_id, section_id, score, elapsed_seconds, started_at, ended_at`

func scanSectionResult(row pgx.Row, r *domain.SectionResult) (bool, error) {
	return one(row, &r.ID, &r.AttemptID, &r.SectionID, &r.Score, &r.ElapsedSeconds, &r.StartedAt, &r.EndedAt)
}

func (t *tx) GetOrCreateSectionResult(ctx context.Context, r domain.SectionResult) (domain.SectionResult, bool, error) {
	n, err := t.exec(ctx, `
		INSERT INTO section_results (`+sectionResultCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (attempt_id, section_id) DO NOTHING`,
		r.ID, r.AttemptID, r.SectionID, r.Score, r.ElapsedSeconds, r.StartedAt, r.EndedAt)
	if err != nil {
		return domain.SectionResult{}, false, err
	}
	var stored domain.SectionResult
	_, err = scanSectionResult(t.q.QueryRow(ctx,
		`SELECT `+sectionResultCols+` FROM section_results WHERE attempt_id = $1 AND section_id = $2 FOR UPDATE`,
		r.AttemptID, r.SectionID), &stored)
	return stored, n == 1, err
}

func (t *tx) SectionResults(ctx context.Context, attemptID string) ([]domain.SectionResult, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+sectionResultCols+` FROM section_results WHERE attempt_id = $1 ORDER BY started_at, id`, attemptID)
	return collect(rows, err, func(rows pgx.Rows) (domain.SectionResult, error) {
		var r domain.SectionResult
		_, err := scanSectionResult(rows, &r)
		return r, err
	})
}

func (t *tx) LatestSectionResult(ctx context.Context, studentID, sectionID string) (domain.SectionResult, bool, error) {
	var r domain.SectionResult
	ok, err := scanSectionResult(t.q.QueryRow(ctx, `
		SELECT sr.id, sr.attempt_id, sr.section_id, sr.score, sr.elapsed_seconds, sr.started_at, sr.ended_at
		FROM section_results sr
		JOIN attempts a ON a.id = sr.attempt_id
		WHERE a.student_id = $1 AND sr.section_id = $2
		ORDER BY a.started_at DESC
		LIMIT 1`, studentID, sectionID), &r)
	return r, ok, err
}

func (t *tx) SaveSectionResult(ctx context.Context, r domain.SectionResult) error {
	_, err := t.exec(ctx,
		`UPDATE section_results SET score = $2, elapsed_seconds = $3, ended_at = $4 WHERE id = $1`,
		r.ID, r.Score, r.ElapsedSeconds, r.EndedAt)
	return err
}

const areaResultCols = `id, section_result_id, area_block_id, correct, incorrect`

func scanAreaResult(row pgx.Row, r *domain.AreaResult) (bool, error) {
	return one(row, &r.ID, &r.SectionResultID, &r.AreaBlockID, &r.Correct, &r.Incorrect)
}

func (t *tx) GetOrCreateAreaResult(ctx context.Context, r domain.AreaResult) (domain.AreaResult, bool, error) {
	n, err := t.exec(ctx, `
		INSERT INTO area_results (`+areaResultCols+`)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (section_result_id, area_block_id) DO NOTHING`,
		r.ID, r.SectionResultID, r.AreaBlockID, r.Correct, r.Incorrect)
	if err != nil {
		return domain.AreaResult{}, false, err
	}
	var stored domain.AreaResult
	_, err = scanAreaResult(t.q.QueryRow(ctx,
		`SELECT `+areaResultCols+` FROM area_results WHERE section_result_id = $1 AND area_block_id = $2 FOR UPDATE`,
		r.SectionResultID, r.AreaBlockID), &stored)
	return stored, n == 1, err
}

func (t *tx) AreaResults(ctx context.Context, sectionResultID string) ([]domain.AreaResult, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+areaResultCols+` FROM area_results WHERE section_result_id = $1 ORDER BY area_block_id`, sectionResultID)
	return collect(rows, err, func(rows pgx.Rows) (domain.AreaResult, error) {
		var r domain.AreaResult
		_, err := scanAreaResult(rows, &r)
		return r, err
	})
}

func (t *tx) SaveAreaResult(ctx context.Context, r domain.AreaResult) error {
	_, err := t.exec(ctx,
		`UPDATE area_results SET correct = $2, incorrect = $3 WHERE id = $1`, r.ID, r.Correct, r.Incorrect)
	return err
}

const answerCols = `id, area_result_id, section_result_id, attempt_id, section_question_id, option_id, correct, score, answered_at`

func scanAnswer(row pgx.Row, r *domain.AnswerRecord) (bool, error) {
	return one(row, &r.ID, &r.AreaResultID, &r.SectionResultID, &r.AttemptID, &r.SectionQuestionID,
		&r.OptionID, &r.Correct, &r.Score, &r.AnsweredAt)
}

func (t *tx) AnswerRecord(ctx context.Context, areaResultID, sectionQuestionID string) (domain.AnswerRecord, bool, error) {
	var r domain.AnswerRecord
	ok, err := scanAnswer(t.q.QueryRow(ctx,
		`SELECT `+answerCols+` FROM answer_records WHERE area_result_id = $1 AND section_question_id = $2 FOR UPDATE`,
		areaResultID, sectionQuestionID), &r)
	return r, ok, err
}

func (t *tx) InsertAnswerRecord(ctx context.Context, r domain.AnswerRecord) error {
	_, err := t.exec(ctx, `
		INSERT INTO answer_records (`+answerCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.AreaResultID, r.SectionResultID, r.AttemptID, r.SectionQuestionID, r.OptionID, r.Correct, r.Score, r.AnsweredAt)
	if isUniqueViolation(err) {
		return domain.Errorf(domain.KindInvalidState, "answer record already exists")
	}
	return err
}

func (t *tx) SaveAnswerRecord(ctx context.Context, r domain.AnswerRecord) error {
	_, err := t.exec(ctx,
		`UPDATE answer_records SET option_id = $2, correct = $3, score = $4, answered_at = $5 WHERE id = $1`,
		r.ID, r.OptionID, r.Correct, r.Score, r.AnsweredAt)
	return err
}

func (t *tx) SectionAnswerRecords(ctx context.Context, sectionResultID string) ([]domain.AnswerRecord, error) {
	return t.answerRecords(ctx, `section_result_id = $1`, sectionResultID)
}

func (t *tx) AttemptAnswerRecords(ctx context.Context, attemptID string) ([]domain.AnswerRecord, error) {
	return t.answerRecords(ctx, `attempt_id = $1`, attemptID)
}

func (t *tx) answerRecords(ctx context.Context, where string, arg string) ([]domain.AnswerRecord, error) {
	rows, err := t.q.Query(ctx, `SELECT `+answerCols+` FROM answer_records WHERE `+where+` ORDER BY section_question_id`, arg)
	return collect(rows, err, func(rows pgx.Rows) (domain.AnswerRecord, error) {
		var r domain.AnswerRecord
		_, err := scanAnswer(rows, &r)
		return r, err
	})
}
