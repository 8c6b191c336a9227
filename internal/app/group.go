package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"simulacro-engine/internal/domain"
)

// CreateSimulacroParams describes a teacher-run classroom simulacro.
type CreateSimulacroParams struct {
	TeacherID       string           `json:"teacherId" validate:"required"`
	Course          domain.CourseKey `json:"course"`
	QuestionCount   int              `json:"questionCount" validate:"min=10"`
	DurationMinutes int              `json:"durationMinutes" validate:"min=10"`
}

// SimulacroAnswerParams is one answer inside a group simulacro.
type SimulacroAnswerParams struct {
	SimulacroID    string `json:"simulacroId" validate:"required"`
	StudentID      string `json:"studentId" validate:"required"`
	QuestionID     string `json:"questionId" validate:"required"`
	OptionID       string `json:"optionId" validate:"required"`
	ElapsedSeconds int    `json:"elapsedSeconds" validate:"min=0"`
}

// SimulacroSnapshot is a simulacro with its participants ordered by join.
type SimulacroSnapshot struct {
	Simulacro    domain.GroupSimulacro `json:"simulacro"`
	Participants []domain.Participant  `json:"participants"`
}

// SimulacroHistoryEntry is a finished simulacro a student took part in.
type SimulacroHistoryEntry struct {
	Simulacro domain.GroupSimulacro `json:"simulacro"`
	Score     decimal.Decimal       `json:"score"`
	XP        int                   `json:"xp"`
	Correct   int                   `json:"correct"`
	FinalRank int                   `json:"finalRank"`
}

// CreateGroupSimulacro validates the teacher and course and freezes a draw
// balanced across subject areas.
func (e *Engine) CreateGroupSimulacro(ctx context.Context, p CreateSimulacroParams) (SimulacroSnapshot, error) {
	if err := e.check(p); err != nil {
		return SimulacroSnapshot{}, err
	}
	teacher, err := e.dir.IsTeacher(ctx, p.TeacherID)
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	if !teacher {
		return SimulacroSnapshot{}, domain.ErrNotTeacher
	}
	exists, err := e.dir.CourseExists(ctx, p.Course)
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	if !exists {
		return SimulacroSnapshot{}, domain.Wrap(domain.ErrCourseNotFound, p.Course.String())
	}

	pool, err := e.bank.Questions(ctx, domain.QuestionFilter{})
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	if len(pool) < p.QuestionCount {
		return SimulacroSnapshot{}, domain.Wrap(domain.ErrInsufficientQuestions,
			fmt.Sprintf("need %d, bank has %d", p.QuestionCount, len(pool)))
	}
	areas, err := e.bank.Areas(ctx)
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	draw := e.balancedDraw(pool, areas, p.QuestionCount)

	sim := domain.GroupSimulacro{
		ID:              e.newID(),
		TeacherID:       p.TeacherID,
		Course:          p.Course,
		QuestionCount:   p.QuestionCount,
		DurationMinutes: p.DurationMinutes,
		State:           domain.StateWaiting,
		CreatedAt:       e.now(),
	}
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertSimulacro(ctx, sim); err != nil {
			return err
		}
		return tx.InsertContestQuestions(ctx, domain.ContestSimulacro, freezeDraw(sim.ID, draw))
	})
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	e.log.Info("simulacro created", "simulacro", sim.ID, "teacher", p.TeacherID, "course", p.Course.String())
	return SimulacroSnapshot{Simulacro: sim}, nil
}

// JoinGroupSimulacro adds a student of the simulacro's course while it is waiting.
func (e *Engine) JoinGroupSimulacro(ctx context.Context, simulacroID, studentID string) (SimulacroSnapshot, error) {
	if simulacroID == "" || studentID == "" {
		return SimulacroSnapshot{}, domain.Errorf(domain.KindValidation, "simulacroId and studentId are required")
	}
	var snap SimulacroSnapshot
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sim, ok, err := tx.LockSimulacro(ctx, simulacroID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSimulacroNotFound
		}
		if sim.State != domain.StateWaiting {
			return domain.ErrNotWaiting
		}
		member, err := e.dir.InCourse(ctx, studentID, sim.Course)
		if err != nil {
			return err
		}
		if !member {
			return domain.ErrNotInCourse
		}
		participants, err := tx.Participants(ctx, domain.ContestSimulacro, sim.ID)
		if err != nil {
			return err
		}
		inserted, err := tx.InsertParticipant(ctx, domain.ContestSimulacro, domain.Participant{
			ContestID: sim.ID,
			StudentID: studentID,
			Slot:      len(participants) + 1,
			Status:    domain.PlayerWaiting,
			JoinedAt:  e.now(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyJoined
		}
		snap.Simulacro = sim
		snap.Participants, err = tx.Participants(ctx, domain.ContestSimulacro, sim.ID)
		return err
	})
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	return snap, nil
}

// StartGroupSimulacro lets the creating teacher open play for everyone who joined.
func (e *Engine) StartGroupSimulacro(ctx context.Context, simulacroID, teacherID string) (SimulacroSnapshot, error) {
	var snap SimulacroSnapshot
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sim, err := lockOwnedSimulacro(ctx, tx, simulacroID, teacherID)
		if err != nil {
			return err
		}
		if sim.State != domain.StateWaiting {
			return domain.ErrNotWaiting
		}
		participants, err := tx.Participants(ctx, domain.ContestSimulacro, sim.ID)
		if err != nil {
			return err
		}
		if len(participants) == 0 {
			return domain.ErrNoParticipants
		}
		for i := range participants {
			if err := tx.UpdateParticipant(ctx, domain.ContestSimulacro, sim.ID, participants[i].StudentID,
				domain.ParticipantPatch{Status: ptr(domain.PlayerPlaying)}); err != nil {
				return err
			}
			participants[i].Status = domain.PlayerPlaying
		}
		now := e.now()
		sim.State = domain.StateInProgress
		sim.StartedAt = &now
		if err := tx.SaveSimulacro(ctx, sim); err != nil {
			return err
		}
		snap = SimulacroSnapshot{Simulacro: sim, Participants: participants}
		return nil
	})
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	e.log.Info("simulacro started", "simulacro", simulacroID, "participants", len(snap.Participants))
	return snap, nil
}

// SubmitGroupSimulacroAnswer appends an answer; XP follows the question's own difficulty.
func (e *Engine) SubmitGroupSimulacroAnswer(ctx context.Context, p SimulacroAnswerParams) (ContestAnswerResult, error) {
	if err := e.check(p); err != nil {
		return ContestAnswerResult{}, err
	}
	question, err := e.bank.Question(ctx, p.QuestionID)
	if err != nil {
		return ContestAnswerResult{}, err
	}
	var res ContestAnswerResult
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sim, ok, err := tx.Simulacro(ctx, p.SimulacroID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSimulacroNotFound
		}
		if sim.State != domain.StateInProgress {
			return domain.ErrNotPlaying
		}
		res, err = e.submitContestAnswer(ctx, tx, domain.ContestSimulacro, sim.ID, p.StudentID, question, p.OptionID, p.ElapsedSeconds, question.Difficulty)
		return err
	})
	if err != nil {
		return ContestAnswerResult{}, err
	}
	return res, nil
}

// FinalizeGroupSimulacroParticipant stamps one student's score. The simulacro
// itself stays open until the teacher finalizes it.
func (e *Engine) FinalizeGroupSimulacroParticipant(ctx context.Context, simulacroID, studentID string) (ParticipantResult, error) {
	var res ParticipantResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sim, ok, err := tx.LockSimulacro(ctx, simulacroID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSimulacroNotFound
		}
		if sim.State != domain.StateInProgress && sim.State != domain.StateFinished {
			return domain.ErrNotPlaying
		}
		p, already, err := e.finishParticipant(ctx, tx, domain.ContestSimulacro, sim.ID, studentID, sim.QuestionCount)
		if err != nil {
			return err
		}
		res = ParticipantResult{Participant: p, AlreadyFinished: already, ContestFinished: sim.State == domain.StateFinished}
		return nil
	})
	return res, err
}

// FinalizeGroupSimulacro ends play for everyone: participants still playing are
// force-finished with score zero, then every final rank is stored. Repeating it
// on a finished simulacro returns the stored ranking with NoOp set.
func (e *Engine) FinalizeGroupSimulacro(ctx context.Context, simulacroID, teacherID string) (ContestResult, error) {
	var res ContestResult
	forced := 0
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sim, err := lockOwnedSimulacro(ctx, tx, simulacroID, teacherID)
		if err != nil {
			return err
		}
		if sim.State == domain.StateFinished {
			ps, err := tx.Participants(ctx, domain.ContestSimulacro, sim.ID)
			if err != nil {
				return err
			}
			res = ContestResult{ContestID: sim.ID, State: sim.State, NoOp: true, Ranking: rankParticipants(ps)}
			return nil
		}
		if sim.State != domain.StateInProgress {
			return domain.ErrNotPlaying
		}

		now := e.now()
		ps, err := tx.Participants(ctx, domain.ContestSimulacro, sim.ID)
		if err != nil {
			return err
		}
		for _, p := range ps {
			if p.Finished() {
				continue
			}
			if err := tx.UpdateParticipant(ctx, domain.ContestSimulacro, sim.ID, p.StudentID, domain.ParticipantPatch{
				Status:     ptr(domain.PlayerFinished),
				Score:      ptr(decimal.Zero),
				FinishedAt: ptr(now),
				Forced:     ptr(true),
			}); err != nil {
				return err
			}
			forced++
		}
		ranked, err := persistRanking(ctx, tx, domain.ContestSimulacro, sim.ID)
		if err != nil {
			return err
		}
		sim.State = domain.StateFinished
		sim.FinishedAt = &now
		if err := tx.SaveSimulacro(ctx, sim); err != nil {
			return err
		}
		res = ContestResult{ContestID: sim.ID, State: sim.State, Ranking: ranked}
		return nil
	})
	if err != nil {
		return ContestResult{}, err
	}
	if !res.NoOp {
		e.log.Info("simulacro finished", "simulacro", simulacroID, "participants", len(res.Ranking), "forced", forced)
	}
	return res, nil
}

// CancelGroupSimulacro abandons a simulacro that has not started.
func (e *Engine) CancelGroupSimulacro(ctx context.Context, simulacroID, teacherID string) (domain.GroupSimulacro, error) {
	var sim domain.GroupSimulacro
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sim, err = lockOwnedSimulacro(ctx, tx, simulacroID, teacherID)
		if err != nil {
			return err
		}
		if sim.State != domain.StateWaiting {
			return domain.ErrNotWaiting
		}
		sim.State = domain.StateCancelled
		return tx.SaveSimulacro(ctx, sim)
	})
	if err != nil {
		return domain.GroupSimulacro{}, err
	}
	e.log.Info("simulacro cancelled", "simulacro", simulacroID)
	return sim, nil
}

func lockOwnedSimulacro(ctx context.Context, tx Tx, simulacroID, teacherID string) (domain.GroupSimulacro, error) {
	sim, ok, err := tx.LockSimulacro(ctx, simulacroID)
	if err != nil {
		return domain.GroupSimulacro{}, err
	}
	if !ok {
		return domain.GroupSimulacro{}, domain.ErrSimulacroNotFound
	}
	if sim.TeacherID != teacherID {
		return domain.GroupSimulacro{}, domain.ErrNotCreator
	}
	return sim, nil
}

// GetGroupSimulacro returns the simulacro and its participants.
func (e *Engine) GetGroupSimulacro(ctx context.Context, simulacroID string) (SimulacroSnapshot, error) {
	var snap SimulacroSnapshot
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sim, ok, err := tx.Simulacro(ctx, simulacroID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSimulacroNotFound
		}
		snap.Simulacro = sim
		snap.Participants, err = tx.Participants(ctx, domain.ContestSimulacro, sim.ID)
		return err
	})
	return snap, err
}

// GroupSimulacroQuestions returns the frozen draw.
func (e *Engine) GroupSimulacroQuestions(ctx context.Context, simulacroID string) ([]ContestQuestionView, error) {
	var draw []domain.ContestQuestion
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, ok, err := tx.Simulacro(ctx, simulacroID); err != nil {
			return err
		} else if !ok {
			return domain.ErrSimulacroNotFound
		}
		var err error
		draw, err = tx.ContestQuestions(ctx, domain.ContestSimulacro, simulacroID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.contestQuestionViews(ctx, draw)
}

// GroupSimulacroProgress is the polled live view, leaders first by correct then answered count.
func (e *Engine) GroupSimulacroProgress(ctx context.Context, simulacroID string) (SimulacroSnapshot, error) {
	snap, err := e.GetGroupSimulacro(ctx, simulacroID)
	if err != nil {
		return SimulacroSnapshot{}, err
	}
	sort.SliceStable(snap.Participants, func(i, j int) bool {
		a, b := snap.Participants[i], snap.Participants[j]
		if a.Correct != b.Correct {
			return a.Correct > b.Correct
		}
		return a.Answered > b.Answered
	})
	return snap, nil
}

// GroupSimulacroResult ranks the participants; the first three form the podium.
// Ranks are only stored by FinalizeGroupSimulacro.
func (e *Engine) GroupSimulacroResult(ctx context.Context, simulacroID string) (ContestResult, error) {
	var res ContestResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sim, ok, err := tx.Simulacro(ctx, simulacroID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrSimulacroNotFound
		}
		if sim.State != domain.StateInProgress && sim.State != domain.StateFinished {
			return domain.ErrNotPlaying
		}
		ranked, err := currentRanking(ctx, tx, domain.ContestSimulacro, sim.ID)
		if err != nil {
			return err
		}
		res = ContestResult{ContestID: sim.ID, State: sim.State, Ranking: ranked}
		return nil
	})
	return res, err
}

// CourseSimulacros lists a course's simulacros, newest first.
func (e *Engine) CourseSimulacros(ctx context.Context, course domain.CourseKey) ([]domain.GroupSimulacro, error) {
	if err := e.check(course); err != nil {
		return nil, err
	}
	var out []domain.GroupSimulacro
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.CourseSimulacros(ctx, course)
		return err
	})
	return out, err
}

// SimulacroHistory lists the finished simulacros a student took part in.
func (e *Engine) SimulacroHistory(ctx context.Context, studentID string) ([]SimulacroHistoryEntry, error) {
	var out []SimulacroHistoryEntry
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		sims, err := tx.StudentSimulacros(ctx, studentID)
		if err != nil {
			return err
		}
		for _, sim := range sims {
			p, ok, err := tx.Participant(ctx, domain.ContestSimulacro, sim.ID, studentID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			out = append(out, SimulacroHistoryEntry{
				Simulacro: sim,
				Score:     p.Score,
				XP:        p.XP,
				Correct:   p.Correct,
				FinalRank: p.FinalRank,
			})
		}
		return nil
	})
	return out, err
}
