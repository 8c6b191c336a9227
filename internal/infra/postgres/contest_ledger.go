package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"

	"simulacro-engine/internal/domain"
)

const roomCols = `id, code, creator_id, area_id, difficulty, duration_minutes, question_count, state, created_at, expires_at, started_at, finished_at`

func scanRoom(row pgx.Row, r *domain.Room) (bool, error) {
	return one(row, &r.ID, &r.Code, &r.CreatorID, &r.AreaID, &r.Difficulty, &r.DurationMinutes,
		&r.QuestionCount, &r.State, &r.CreatedAt, &r.ExpiresAt, &r.StartedAt, &r.FinishedAt)
}

func (t *tx) RoomCodeInUse(ctx context.Context, code string) (bool, error) {
	var inUse bool
	err := t.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rooms WHERE code = $1 AND state IN ('waiting', 'in_progress'))`, code).Scan(&inUse)
	return inUse, err
}

func (t *tx) InsertRoom(ctx context.Context, r domain.Room) error {
	_, err := t.exec(ctx, `
		INSERT INTO rooms (`+roomCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID, r.Code, r.CreatorID, r.AreaID, string(r.Difficulty), r.DurationMinutes, r.QuestionCount,
		string(r.State), r.CreatedAt, r.ExpiresAt, r.StartedAt, r.FinishedAt)
	return err
}

func (t *tx) Room(ctx context.Context, roomID string) (domain.Room, bool, error) {
	var r domain.Room
	ok, err := scanRoom(t.q.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1`, roomID), &r)
	return r, ok, err
}

func (t *tx) LockRoom(ctx context.Context, roomID string) (domain.Room, bool, error) {
	var r domain.Room
	ok, err := scanRoom(t.q.QueryRow(ctx, `SELECT `+roomCols+` FROM rooms WHERE id = $1 FOR UPDATE`, roomID), &r)
	return r, ok, err
}

func (t *tx) LockRoomByCode(ctx context.Context, code string) (domain.Room, bool, error) {
	var r domain.Room
	ok, err := scanRoom(t.q.QueryRow(ctx,
		`SELECT `+roomCols+` FROM rooms WHERE code = $1 ORDER BY created_at DESC LIMIT 1 FOR UPDATE`, code), &r)
	return r, ok, err
}

func (t *tx) SaveRoom(ctx context.Context, r domain.Room) error {
	n, err := t.exec(ctx,
		`UPDATE rooms SET state = $2, started_at = $3, finished_at = $4 WHERE id = $1`,
		r.ID, string(r.State), r.StartedAt, r.FinishedAt)
	if err == nil && n == 0 {
		return domain.ErrRoomNotFound
	}
	return err
}

func (t *tx) CancelExpiredRooms(ctx context.Context, now time.Time) (int, error) {
	n, err := t.exec(ctx,
		`UPDATE rooms SET state = 'cancelled' WHERE state = 'waiting' AND expires_at < $1`, now)
	return int(n), err
}

func (t *tx) StudentRooms(ctx context.Context, studentID string) ([]domain.Room, error) {
	rows, err := t.q.Query(ctx, `
		SELECT r.id, r.code, r.creator_id, r.area_id, r.difficulty, r.duration_minutes, r.question_count,
		       r.state, r.created_at, r.expires_at, r.started_at, r.finished_at
		FROM rooms r
		JOIN contest_participants p ON p.kind = 'room' AND p.contest_id = r.id
		WHERE p.student_id = $1 AND r.state IN ('finished', 'cancelled')
		ORDER BY r.created_at DESC`, studentID)
	return collect(rows, err, func(rows pgx.Rows) (domain.Room, error) {
		var r domain.Room
		_, err := scanRoom(rows, &r)
		return r, err
	})
}

const simulacroCols = `id, teacher_id, grade, grp, cohort, institution_id, question_count, duration_minutes, state, created_at, started_at, finished_at`

func scanSimulacro(row pgx.Row, s *domain.GroupSimulacro) (bool, error) {
	return one(row, &s.ID, &s.TeacherID, &s.Course.Grade, &s.Course.Group, &s.Course.Cohort, &s.Course.InstitutionID,
		&s.QuestionCount, &s.DurationMinutes, &s.State, &s.CreatedAt, &s.StartedAt, &s.FinishedAt)
}

func (t *tx) InsertSimulacro(ctx context.Context, s domain.GroupSimulacro) error {
	_, err := t.exec(ctx, `
		INSERT INTO group_simulacros (`+simulacroCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.TeacherID, s.Course.Grade, s.Course.Group, s.Course.Cohort, s.Course.InstitutionID,
		s.QuestionCount, s.DurationMinutes, string(s.State), s.CreatedAt, s.StartedAt, s.FinishedAt)
	return err
}

func (t *tx) Simulacro(ctx context.Context, simulacroID string) (domain.GroupSimulacro, bool, error) {
	var s domain.GroupSimulacro
	ok, err := scanSimulacro(t.q.QueryRow(ctx, `SELECT `+simulacroCols+` FROM group_simulacros WHERE id = $1`, simulacroID), &s)
	return s, ok, err
}

func (t *tx) LockSimulacro(ctx context.Context, simulacroID string) (domain.GroupSimulacro, bool, error) {
	var s domain.GroupSimulacro
	ok, err := scanSimulacro(t.q.QueryRow(ctx,
		`SELECT `+simulacroCols+` FROM group_simulacros WHERE id = $1 FOR UPDATE`, simulacroID), &s)
	return s, ok, err
}

func (t *tx) SaveSimulacro(ctx context.Context, s domain.GroupSimulacro) error {
	n, err := t.exec(ctx,
		`UPDATE group_simulacros SET state = $2, started_at = $3, finished_at = $4 WHERE id = $1`,
		s.ID, string(s.State), s.StartedAt, s.FinishedAt)
	if err == nil && n == 0 {
		return domain.ErrSimulacroNotFound
	}
	return err
}

func (t *tx) CourseSimulacros(ctx context.Context, course domain.CourseKey) ([]domain.GroupSimulacro, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+simulacroCols+` FROM group_simulacros
		WHERE grade = $1 AND grp = $2 AND cohort = $3 AND institution_id = $4
		ORDER BY created_at DESC`,
		course.Grade, course.Group, course.Cohort, course.InstitutionID)
	return collect(rows, err, func(rows pgx.Rows) (domain.GroupSimulacro, error) {
		var s domain.GroupSimulacro
		_, err := scanSimulacro(rows, &s)
		return s, err
	})
}

func (t *tx) StudentSimulacros(ctx context.Context, studentID string) ([]domain.GroupSimulacro, error) {
	rows, err := t.q.Query(ctx, `
		SELECT s.id, s.teacher_id, s.grade, s.grp, s.cohort, s.institution_id, s.question_count,
		       s.duration_minutes, s.state, s.created_at, s.started_at, s.finished_at
		FROM group_simulacros s
		JOIN contest_participants p ON p.kind = 'simulacro' AND p.contest_id = s.id
		WHERE p.student_id = $1 AND s.state = 'finished'
		ORDER BY COALESCE(s.finished_at, s.created_at) DESC`, studentID)
	return collect(rows, err, func(rows pgx.Rows) (domain.GroupSimulacro, error) {
		var s domain.GroupSimulacro
		_, err := scanSimulacro(rows, &s)
		return s, err
	})
}

// contests

func (t *tx) InsertContestQuestions(ctx context.Context, kind domain.ContestKind, qs []domain.ContestQuestion) error {
	if len(qs) == 0 {
		return nil
	}
	_, err := t.q.CopyFrom(ctx,
		pgx.Identifier{"contest_questions"},
		[]string{"kind", "contest_id", "question_id", "position"},
		pgx.CopyFromSlice(len(qs), func(i int) ([]interface{}, error) {
			return []interface{}{string(kind), qs[i].ContestID, qs[i].QuestionID, qs[i].Order}, nil
		}))
	return err
}

func (t *tx) ContestQuestions(ctx context.Context, kind domain.ContestKind, contestID string) ([]domain.ContestQuestion, error) {
	rows, err := t.q.Query(ctx,
		`SELECT contest_id, question_id, position FROM contest_questions WHERE kind = $1 AND contest_id = $2 ORDER BY position`,
		string(kind), contestID)
	return collect(rows, err, func(rows pgx.Rows) (domain.ContestQuestion, error) {
		var q domain.ContestQuestion
		err := rows.Scan(&q.ContestID, &q.QuestionID, &q.Order)
		return q, err
	})
}

const participantCols = `contest_id, student_id, slot, status, answered, correct, xp, score, joined_at, finished_at, final_rank, forced`

func scanParticipant(row pgx.Row, p *domain.Participant) (bool, error) {
	return one(row, &p.ContestID, &p.StudentID, &p.Slot, &p.Status, &p.Answered, &p.Correct, &p.XP,
		&p.Score, &p.JoinedAt, &p.FinishedAt, &p.FinalRank, &p.Forced)
}

func (t *tx) InsertParticipant(ctx context.Context, kind domain.ContestKind, p domain.Participant) (bool, error) {
	n, err := t.exec(ctx, `
		INSERT INTO contest_participants (kind, `+participantCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (kind, contest_id, student_id) DO NOTHING`,
		string(kind), p.ContestID, p.StudentID, p.Slot, string(p.Status), p.Answered, p.Correct, p.XP,
		p.Score, p.JoinedAt, p.FinishedAt, p.FinalRank, p.Forced)
	return n == 1, err
}

func (t *tx) Participants(ctx context.Context, kind domain.ContestKind, contestID string) ([]domain.Participant, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+participantCols+` FROM contest_participants WHERE kind = $1 AND contest_id = $2 ORDER BY slot`,
		string(kind), contestID)
	return collect(rows, err, func(rows pgx.Rows) (domain.Participant, error) {
		var p domain.Participant
		_, err := scanParticipant(rows, &p)
		return p, err
	})
}

func (t *tx) Participant(ctx context.Context, kind domain.ContestKind, contestID, studentID string) (domain.Participant, bool, error) {
	var p domain.Participant
	ok, err := scanParticipant(t.q.QueryRow(ctx,
		`SELECT `+participantCols+` FROM contest_participants WHERE kind = $1 AND contest_id = $2 AND student_id = $3`,
		string(kind), contestID, studentID), &p)
	return p, ok, err
}

func (t *tx) LockParticipant(ctx context.Context, kind domain.ContestKind, contestID, studentID string) (domain.Participant, bool, error) {
	var p domain.Participant
	ok, err := scanParticipant(t.q.QueryRow(ctx,
		`SELECT `+participantCols+` FROM contest_participants WHERE kind = $1 AND contest_id = $2 AND student_id = $3 FOR UPDATE`,
		string(kind), contestID, studentID), &p)
	return p, ok, err
}

func (t *tx) UpdateParticipant(ctx context.Context, kind domain.ContestKind, contestID, studentID string, patch domain.ParticipantPatch) error {
	p, ok, err := t.LockParticipant(ctx, kind, contestID, studentID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrParticipantNotFound
	}
	patch.Apply(&p)
	_, err = t.exec(ctx, `
		UPDATE contest_participants
		SET status = $4, answered = $5, correct = $6, xp = $7, score = $8, finished_at = $9, final_rank = $10, forced = $11
		WHERE kind = $1 AND contest_id = $2 AND student_id = $3`,
		string(kind), contestID, studentID, string(p.Status), p.Answered, p.Correct, p.XP, p.Score,
		p.FinishedAt, p.FinalRank, p.Forced)
	return err
}

func (t *tx) InsertContestAnswer(ctx context.Context, kind domain.ContestKind, a domain.ContestAnswer) (bool, error) {
	n, err := t.exec(ctx, `
		INSERT INTO contest_answers (kind, contest_id, student_id, question_id, option_id, correct, elapsed_seconds, xp, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, contest_id, student_id, question_id) DO NOTHING`,
		string(kind), a.ContestID, a.StudentID, a.QuestionID, a.OptionID, a.Correct, a.ElapsedSeconds, a.XP, a.AnsweredAt)
	return n == 1, err
}
