package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScorePlaces is the number of decimal digits kept on every score.
const ScorePlaces = 2

// Attempt is one student's run through an exam.
type Attempt struct {
	ID          string          `json:"id"`
	StudentID   string          `json:"studentId"`
	ExamID      string          `json:"examId"`
	Completed   bool            `json:"completed"`
	Score       decimal.Decimal `json:"score"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// SectionResult is an attempt's progress through one section.
type SectionResult struct {
	ID             string          `json:"id"`
	AttemptID      string          `json:"attemptId"`
	SectionID      string          `json:"sectionId"`
	Score          decimal.Decimal `json:"score"`
	ElapsedSeconds int             `json:"elapsedSeconds"`
	StartedAt      time.Time       `json:"startedAt"`
	EndedAt        *time.Time      `json:"endedAt,omitempty"`
}

// AreaResult counts answers of one area block within a section result.
type AreaResult struct {
	ID              string `json:"id"`
	SectionResultID string `json:"sectionResultId"`
	AreaBlockID     string `json:"areaBlockId"`
	Correct         int    `json:"correct"`
	Incorrect       int    `json:"incorrect"`
}

// AnswerRecord is the amendable answer to one section question.
type AnswerRecord struct {
	ID                string          `json:"id"`
	AreaResultID      string          `json:"areaResultId"`
	SectionResultID   string          `json:"sectionResultId"`
	AttemptID         string          `json:"attemptId"`
	SectionQuestionID string          `json:"sectionQuestionId"`
	OptionID          string          `json:"optionId"`
	Correct           bool            `json:"correct"`
	Score             decimal.Decimal `json:"score"`
	AnsweredAt        time.Time       `json:"answeredAt"`
}

// SectionProgress gates entry and supports resuming; independent of scoring.
type SectionProgress struct {
	StudentID    string    `json:"studentId"`
	SectionID    string    `json:"sectionId"`
	Completed    bool      `json:"completed"`
	LastQuestion string    `json:"lastQuestion,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	LastUpdate   time.Time `json:"lastUpdate"`
}

// SectionProgressPatch lists the fields a write may change; nil leaves a field untouched.
type SectionProgressPatch struct {
	Completed    *bool
	LastQuestion *string
	LastUpdate   *time.Time
}

// Apply copies the set fields onto p.
func (pt SectionProgressPatch) Apply(p *SectionProgress) {
	if pt.Completed != nil {
		p.Completed = *pt.Completed
	}
	if pt.LastQuestion != nil {
		p.LastQuestion = *pt.LastQuestion
	}
	if pt.LastUpdate != nil {
		p.LastUpdate = *pt.LastUpdate
	}
}

// ContestKind distinguishes the two multiplayer formats sharing participant and answer storage.
type ContestKind string

const (
	ContestRoom      ContestKind = "room"
	ContestSimulacro ContestKind = "simulacro"
)

// ContestState is the lifecycle state shared by rooms and group simulacros.
type ContestState string

const (
	StateWaiting    ContestState = "waiting"
	StateInProgress ContestState = "in_progress"
	StateFinished   ContestState = "finished"
	StateCancelled  ContestState = "cancelled"
)

// PlayerStatus tracks a participant inside a contest.
type PlayerStatus string

const (
	PlayerWaiting  PlayerStatus = "waiting"
	PlayerReady    PlayerStatus = "ready"
	PlayerPlaying  PlayerStatus = "playing"
	PlayerFinished PlayerStatus = "finished"
)

// Room is a 2-player code-joined competitive quiz.
type Room struct {
	ID              string       `json:"id"`
	Code            string       `json:"code"`
	CreatorID       string       `json:"creatorId"`
	AreaID          string       `json:"areaId"`
	Difficulty      Difficulty   `json:"difficulty"`
	DurationMinutes int          `json:"durationMinutes"`
	QuestionCount   int          `json:"questionCount"`
	State           ContestState `json:"state"`
	CreatedAt       time.Time    `json:"createdAt"`
	ExpiresAt       time.Time    `json:"expiresAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty"`
}

// Expired reports whether the join window closed while the room was still waiting.
func (r Room) Expired(now time.Time) bool {
	return r.State == StateWaiting && now.After(r.ExpiresAt)
}

// GroupSimulacro is a teacher-run classroom competition.
type GroupSimulacro struct {
	ID              string       `json:"id"`
	TeacherID       string       `json:"teacherId"`
	Course          CourseKey    `json:"course"`
	QuestionCount   int          `json:"questionCount"`
	DurationMinutes int          `json:"durationMinutes"`
	State           ContestState `json:"state"`
	CreatedAt       time.Time    `json:"createdAt"`
	StartedAt       *time.Time   `json:"startedAt,omitempty"`
	FinishedAt      *time.Time   `json:"finishedAt,omitempty"`
}

// ContestQuestion is one entry of a frozen random draw.
type ContestQuestion struct {
	ContestID  string `json:"contestId"`
	QuestionID string `json:"questionId"`
	Order      int    `json:"order"`
}

// Participant is a student's slot in a room or group simulacro.
// Slot is 1 or 2 for rooms and the join order for simulacros.
type Participant struct {
	ContestID  string          `json:"contestId"`
	StudentID  string          `json:"studentId"`
	Slot       int             `json:"slot"`
	Status     PlayerStatus    `json:"status"`
	Answered   int             `json:"answered"`
	Correct    int             `json:"correct"`
	XP         int             `json:"xp"`
	Score      decimal.Decimal `json:"score"`
	JoinedAt   time.Time       `json:"joinedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
	FinalRank  int             `json:"finalRank,omitempty"`
	Forced     bool            `json:"forced,omitempty"`
}

// Finished reports whether the participant has a final score.
func (p Participant) Finished() bool { return p.Status == PlayerFinished }

// ParticipantPatch lists the fields a write may change; nil leaves a field untouched.
type ParticipantPatch struct {
	Status     *PlayerStatus
	Answered   *int
	Correct    *int
	XP         *int
	Score      *decimal.Decimal
	FinishedAt *time.Time
	FinalRank  *int
	Forced     *bool
}

// Apply copies the set fields onto p.
func (pt ParticipantPatch) Apply(p *Participant) {
	if pt.Status != nil {
		p.Status = *pt.Status
	}
	if pt.Answered != nil {
		p.Answered = *pt.Answered
	}
	if pt.Correct != nil {
		p.Correct = *pt.Correct
	}
	if pt.XP != nil {
		p.XP = *pt.XP
	}
	if pt.Score != nil {
		p.Score = *pt.Score
	}
	if pt.FinishedAt != nil {
		t := *pt.FinishedAt
		p.FinishedAt = &t
	}
	if pt.FinalRank != nil {
		p.FinalRank = *pt.FinalRank
	}
	if pt.Forced != nil {
		p.Forced = *pt.Forced
	}
}

// ContestAnswer is an append-only answer in a room or simulacro.
type ContestAnswer struct {
	ContestID      string    `json:"contestId"`
	StudentID      string    `json:"studentId"`
	QuestionID     string    `json:"questionId"`
	OptionID       string    `json:"optionId"`
	Correct        bool      `json:"correct"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	XP             int       `json:"xp"`
	AnsweredAt     time.Time `json:"answeredAt"`
}
