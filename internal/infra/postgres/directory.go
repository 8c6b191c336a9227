package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"simulacro-engine/internal/domain"
)

// Directory answers role and enrolment lookups from the directory tables.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) IsTeacher(ctx context.Context, userID string) (bool, error) {
	return d.exists(ctx, `SELECT EXISTS (SELECT 1 FROM teachers WHERE user_id = $1)`, userID)
}

func (d *Directory) CourseExists(ctx context.Context, c domain.CourseKey) (bool, error) {
	return d.exists(ctx, `
		SELECT EXISTS (SELECT 1 FROM courses
		WHERE grade = $1 AND grp = $2 AND cohort = $3 AND institution_id = $4)`,
		c.Grade, c.Group, c.Cohort, c.InstitutionID)
}

func (d *Directory) InCourse(ctx context.Context, studentID string, c domain.CourseKey) (bool, error) {
	return d.exists(ctx, `
		SELECT EXISTS (SELECT 1 FROM course_students
		WHERE grade = $1 AND grp = $2 AND cohort = $3 AND institution_id = $4 AND student_id = $5)`,
		c.Grade, c.Group, c.Cohort, c.InstitutionID, studentID)
}

func (d *Directory) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	var ok bool
	err := d.pool.QueryRow(ctx, sql, args...).Scan(&ok)
	return ok, err
}
