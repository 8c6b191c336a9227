package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"simulacro-engine/internal/domain"
)

// Bank loads exams, areas and questions from the question-bank tables.
type Bank struct {
	pool *pgxpool.Pool
}

func NewBank(pool *pgxpool.Pool) *Bank {
	return &Bank{pool: pool}
}

func (b *Bank) Exam(ctx context.Context, examID string) (domain.Exam, error) {
	exam := domain.Exam{ID: examID}
	ok, err := one(b.pool.QueryRow(ctx, `SELECT name FROM exams WHERE id = $1`, examID), &exam.Name)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load exam: %w", err)
	}
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}

	rows, err := b.pool.Query(ctx, `
		SELECT id, exam_id, name, instructions, position, duration_seconds
		FROM exam_sections WHERE exam_id = $1 ORDER BY position`, examID)
	exam.Sections, err = collect(rows, err, func(rows pgx.Rows) (domain.Section, error) {
		var s domain.Section
		err := rows.Scan(&s.ID, &s.ExamID, &s.Name, &s.Instructions, &s.Order, &s.DurationSeconds)
		return s, err
	})
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load sections: %w", err)
	}

	blocks, err := b.blocks(ctx, examID)
	if err != nil {
		return domain.Exam{}, err
	}
	for i := range exam.Sections {
		exam.Sections[i].Areas = blocks[exam.Sections[i].ID]
	}
	if err := exam.Validate(); err != nil {
		return domain.Exam{}, err
	}
	return exam, nil
}

// blocks loads every area block of an exam with its questions, keyed by section id.
func (b *Bank) blocks(ctx context.Context, examID string) (map[string][]domain.AreaBlock, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT ab.id, ab.section_id, ab.area_id, a.name, ab.position, ab.question_count, ab.base_score
		FROM area_blocks ab
		JOIN exam_sections s ON s.id = ab.section_id
		JOIN areas a ON a.id = ab.area_id
		WHERE s.exam_id = $1
		ORDER BY s.position, ab.position`, examID)
	list, err := collect(rows, err, func(rows pgx.Rows) (domain.AreaBlock, error) {
		var ab domain.AreaBlock
		err := rows.Scan(&ab.ID, &ab.SectionID, &ab.AreaID, &ab.AreaName, &ab.Order, &ab.QuestionCount, &ab.BaseScore)
		return ab, err
	})
	if err != nil {
		return nil, fmt.Errorf("load area blocks: %w", err)
	}

	rows, err = b.pool.Query(ctx, `
		SELECT sq.id, sq.area_block_id, sq.position, sq.base_score, sq.question_id
		FROM section_questions sq
		JOIN area_blocks ab ON ab.id = sq.area_block_id
		JOIN exam_sections s ON s.id = ab.section_id
		WHERE s.exam_id = $1
		ORDER BY sq.area_block_id, sq.position`, examID)
	type placed struct {
		sq         domain.SectionQuestion
		questionID string
	}
	placements, err := collect(rows, err, func(rows pgx.Rows) (placed, error) {
		var p placed
		err := rows.Scan(&p.sq.ID, &p.sq.AreaBlockID, &p.sq.Order, &p.sq.BaseScore, &p.questionID)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("load section questions: %w", err)
	}

	ids := make([]string, 0, len(placements))
	for _, p := range placements {
		ids = append(ids, p.questionID)
	}
	questions, err := b.questionsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	byBlock := make(map[string][]domain.SectionQuestion, len(list))
	for _, p := range placements {
		q, ok := questions[p.questionID]
		if !ok {
			return nil, domain.Wrap(domain.ErrQuestionNotFound, p.questionID)
		}
		p.sq.Question = q
		byBlock[p.sq.AreaBlockID] = append(byBlock[p.sq.AreaBlockID], p.sq)
	}
	out := make(map[string][]domain.AreaBlock)
	for _, ab := range list {
		ab.Questions = byBlock[ab.ID]
		out[ab.SectionID] = append(out[ab.SectionID], ab)
	}
	return out, nil
}

func (b *Bank) SectionExam(ctx context.Context, sectionID string) (domain.Exam, error) {
	var examID string
	ok, err := one(b.pool.QueryRow(ctx, `SELECT exam_id FROM exam_sections WHERE id = $1`, sectionID), &examID)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("resolve section: %w", err)
	}
	if !ok {
		return domain.Exam{}, domain.ErrSectionNotFound
	}
	return b.Exam(ctx, examID)
}

func (b *Bank) Question(ctx context.Context, questionID string) (domain.Question, error) {
	qs, err := b.questionsByID(ctx, []string{questionID})
	if err != nil {
		return domain.Question{}, err
	}
	q, ok := qs[questionID]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (b *Bank) Areas(ctx context.Context) ([]domain.Area, error) {
	rows, err := b.pool.Query(ctx, `SELECT id, name FROM areas ORDER BY id`)
	areas, err := collect(rows, err, func(rows pgx.Rows) (domain.Area, error) {
		var a domain.Area
		err := rows.Scan(&a.ID, &a.Name)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("load areas: %w", err)
	}
	return areas, nil
}

func (b *Bank) Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT q.id, q.area_id, a.name, q.statement, q.image_url, q.difficulty
		FROM questions q JOIN areas a ON a.id = q.area_id
		WHERE ($1 = '' OR q.area_id = $1) AND ($2 = '' OR q.difficulty = $2)
		ORDER BY q.id`, filter.AreaID, string(filter.Difficulty))
	qs, err := collect(rows, err, scanQuestion)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	return b.withOptions(ctx, qs)
}

func (b *Bank) questionsByID(ctx context.Context, ids []string) (map[string]domain.Question, error) {
	out := make(map[string]domain.Question, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := b.pool.Query(ctx, `
		SELECT q.id, q.area_id, a.name, q.statement, q.image_url, q.difficulty
		FROM questions q JOIN areas a ON a.id = q.area_id
		WHERE q.id = ANY($1)`, ids)
	qs, err := collect(rows, err, scanQuestion)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	qs, err = b.withOptions(ctx, qs)
	if err != nil {
		return nil, err
	}
	for _, q := range qs {
		out[q.ID] = q
	}
	return out, nil
}

// withOptions attaches options in their stored order.
func (b *Bank) withOptions(ctx context.Context, qs []domain.Question) ([]domain.Question, error) {
	if len(qs) == 0 {
		return qs, nil
	}
	ids := make([]string, len(qs))
	index := make(map[string]int, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
		index[q.ID] = i
	}
	rows, err := b.pool.Query(ctx, `
		SELECT question_id, id, text, image_url, correct
		FROM options WHERE question_id = ANY($1)
		ORDER BY question_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var questionID string
		var o domain.Option
		if err := rows.Scan(&questionID, &o.ID, &o.Text, &o.ImageURL, &o.Correct); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		i := index[questionID]
		qs[i].Options = append(qs[i].Options, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	return qs, nil
}

func scanQuestion(rows pgx.Rows) (domain.Question, error) {
	var q domain.Question
	err := rows.Scan(&q.ID, &q.AreaID, &q.AreaName, &q.Statement, &q.ImageURL, &q.Difficulty)
	return q, err
}
