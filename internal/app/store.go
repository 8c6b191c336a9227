package app

import (
	"context"
	"time"

	"simulacro-engine/internal/domain"
)

// Store runs units of work against the engine's own records.
// Any error returned by fn rolls back every write made through the Tx.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside one unit of work.
// Lookups return ok=false instead of an error when the row does not exist.
// Lock* and GetOrCreate* return rows that stay locked until the tx ends.
type Tx interface {
	ExamLedger
	RoomLedger
	SimulacroLedger
	ContestLedger
}

// ExamLedger holds the solo-exam gradebook and the per-section progress trackers.
type ExamLedger interface {
	Attempt(ctx context.Context, attemptID string) (domain.Attempt, bool, error)
	OpenAttempt(ctx context.Context, studentID, examID string) (domain.Attempt, bool, error)
	// GetOrCreateAttempt returns the open attempt of (StudentID, ExamID), inserting a as the new one when absent.
	GetOrCreateAttempt(ctx context.Context, a domain.Attempt) (domain.Attempt, bool, error)
	SaveAttempt(ctx context.Context, a domain.Attempt) error

	SectionProgress(ctx context.Context, studentID, sectionID string) (domain.SectionProgress, bool, error)
	LockSectionProgress(ctx context.Context, studentID, sectionID string) (domain.SectionProgress, bool, error)
	// EnsureSectionProgress inserts p unless a tracker already exists and returns the stored one.
	EnsureSectionProgress(ctx context.Context, p domain.SectionProgress) (domain.SectionProgress, bool, error)
	UpdateSectionProgress(ctx context.Context, studentID, sectionID string, patch domain.SectionProgressPatch) error

	GetOrCreateSectionResult(ctx context.Context, r domain.SectionResult) (domain.SectionResult, bool, error)
	SectionResults(ctx context.Context, attemptID string) ([]domain.SectionResult, error)
	// LatestSectionResult returns the newest result a student has for a section across attempts.
	LatestSectionResult(ctx context.Context, studentID, sectionID string) (domain.SectionResult, bool, error)
	SaveSectionResult(ctx context.Context, r domain.SectionResult) error

	GetOrCreateAreaResult(ctx context.Context, r domain.AreaResult) (domain.AreaResult, bool, error)
	AreaResults(ctx context.Context, sectionResultID string) ([]domain.AreaResult, error)
	SaveAreaResult(ctx context.Context, r domain.AreaResult) error

	AnswerRecord(ctx context.Context, areaResultID, sectionQuestionID string) (domain.AnswerRecord, bool, error)
	InsertAnswerRecord(ctx context.Context, r domain.AnswerRecord) error
	SaveAnswerRecord(ctx context.Context, r domain.AnswerRecord) error
	SectionAnswerRecords(ctx context.Context, sectionResultID string) ([]domain.AnswerRecord, error)
	AttemptAnswerRecords(ctx context.Context, attemptID string) ([]domain.AnswerRecord, error)
}

// RoomLedger holds 2-player rooms.
type RoomLedger interface {
	// RoomCodeInUse reports whether a waiting or in-progress room already uses code.
	RoomCodeInUse(ctx context.Context, code string) (bool, error)
	InsertRoom(ctx context.Context, r domain.Room) error
	Room(ctx context.Context, roomID string) (domain.Room, bool, error)
	LockRoom(ctx context.Context, roomID string) (domain.Room, bool, error)
	LockRoomByCode(ctx context.Context, code string) (domain.Room, bool, error)
	SaveRoom(ctx context.Context, r domain.Room) error
	// CancelExpiredRooms cancels every waiting room whose join window closed before now.
	CancelExpiredRooms(ctx context.Context, now time.Time) (int, error)
	// StudentRooms lists finished or cancelled rooms the student took part in, newest first.
	StudentRooms(ctx context.Context, studentID string) ([]domain.Room, error)
}

// SimulacroLedger holds teacher-run group simulacros.
type SimulacroLedger interface {
	InsertSimulacro(ctx context.Context, s domain.GroupSimulacro) error
	Simulacro(ctx context.Context, simulacroID string) (domain.GroupSimulacro, bool, error)
	LockSimulacro(ctx context.Context, simulacroID string) (domain.GroupSimulacro, bool, error)
	SaveSimulacro(ctx context.Context, s domain.GroupSimulacro) error
	// CourseSimulacros lists a course's simulacros, newest first.
	CourseSimulacros(ctx context.Context, course domain.CourseKey) ([]domain.GroupSimulacro, error)
	// StudentSimulacros lists finished simulacros the student took part in, newest first.
	StudentSimulacros(ctx context.Context, studentID string) ([]domain.GroupSimulacro, error)
}

// ContestLedger stores participants, frozen draws and append-only answers of
// rooms and simulacros alike; kind selects the contest family.
type ContestLedger interface {
	InsertContestQuestions(ctx context.Context, kind domain.ContestKind, qs []domain.ContestQuestion) error
	ContestQuestions(ctx context.Context, kind domain.ContestKind, contestID string) ([]domain.ContestQuestion, error)

	// InsertParticipant returns false when the student already holds a slot.
	InsertParticipant(ctx context.Context, kind domain.ContestKind, p domain.Participant) (bool, error)
	Participants(ctx context.Context, kind domain.ContestKind, contestID string) ([]domain.Participant, error)
	Participant(ctx context.Context, kind domain.ContestKind, contestID, studentID string) (domain.Participant, bool, error)
	LockParticipant(ctx context.Context, kind domain.ContestKind, contestID, studentID string) (domain.Participant, bool, error)
	UpdateParticipant(ctx context.Context, kind domain.ContestKind, contestID, studentID string, patch domain.ParticipantPatch) error

	// InsertContestAnswer returns false when the question was already answered by the student.
	InsertContestAnswer(ctx context.Context, kind domain.ContestKind, a domain.ContestAnswer) (bool, error)
}

// QuestionBank is the read-only catalogue of exams, areas and questions.
type QuestionBank interface {
	Exam(ctx context.Context, examID string) (domain.Exam, error)
	// SectionExam returns the exam owning the section.
	SectionExam(ctx context.Context, sectionID string) (domain.Exam, error)
	Question(ctx context.Context, questionID string) (domain.Question, error)
	Areas(ctx context.Context) ([]domain.Area, error)
	Questions(ctx context.Context, filter domain.QuestionFilter) ([]domain.Question, error)
}

// Directory answers identity and course-membership questions.
type Directory interface {
	IsTeacher(ctx context.Context, userID string) (bool, error)
	CourseExists(ctx context.Context, course domain.CourseKey) (bool, error)
	InCourse(ctx context.Context, studentID string, course domain.CourseKey) (bool, error)
}
