package app

import (
	"context"
	"fmt"

	"simulacro-engine/internal/domain"
)

const (
	roomSlots       = 2
	maxCodeAttempts = 20
)

// CreateRoomParams describes a new 2-player room.
type CreateRoomParams struct {
	CreatorID       string            `json:"creatorId" validate:"required"`
	AreaID          string            `json:"areaId" validate:"required"`
	Difficulty      domain.Difficulty `json:"difficulty" validate:"required,oneof=low medium high"`
	QuestionCount   int               `json:"questionCount" validate:"min=1,max=100"`
	DurationMinutes int               `json:"durationMinutes" validate:"min=1"`
}

// RoomAnswerParams is one answer inside a room.
type RoomAnswerParams struct {
	RoomID         string `json:"roomId" validate:"required"`
	StudentID      string `json:"studentId" validate:"required"`
	QuestionID     string `json:"questionId" validate:"required"`
	OptionID       string `json:"optionId" validate:"required"`
	ElapsedSeconds int    `json:"elapsedSeconds" validate:"min=0"`
}

// RoomSnapshot is a room together with its participants ordered by slot.
type RoomSnapshot struct {
	Room         domain.Room          `json:"room"`
	Participants []domain.Participant `json:"participants"`
}

// RoomHistoryEntry is one past room of a student.
type RoomHistoryEntry struct {
	Room     domain.Room         `json:"room"`
	Self     domain.Participant  `json:"self"`
	Opponent *domain.Participant `json:"opponent,omitempty"`
	Outcome  string              `json:"outcome"`
}

// Room outcomes reported by RoomHistory.
const (
	OutcomeVictory   = "victory"
	OutcomeDefeat    = "defeat"
	OutcomeCancelled = "cancelled"
)

// CreateRoom freezes a random draw matching area and difficulty and seats the
// creator in slot 1.
func (e *Engine) CreateRoom(ctx context.Context, p CreateRoomParams) (RoomSnapshot, error) {
	if err := e.check(p); err != nil {
		return RoomSnapshot{}, err
	}
	pool, err := e.bank.Questions(ctx, domain.QuestionFilter{AreaID: p.AreaID, Difficulty: p.Difficulty})
	if err != nil {
		return RoomSnapshot{}, err
	}
	if len(pool) < p.QuestionCount {
		return RoomSnapshot{}, domain.Wrap(domain.ErrInsufficientQuestions,
			fmt.Sprintf("need %d, bank has %d for area %s at %s", p.QuestionCount, len(pool), p.AreaID, p.Difficulty))
	}
	draw := e.pickRandom(pool, p.QuestionCount)

	var snap RoomSnapshot
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		code, err := e.freeRoomCode(ctx, tx)
		if err != nil {
			return err
		}
		now := e.now()
		room := domain.Room{
			ID:              e.newID(),
			Code:            code,
			CreatorID:       p.CreatorID,
			AreaID:          p.AreaID,
			Difficulty:      p.Difficulty,
			DurationMinutes: p.DurationMinutes,
			QuestionCount:   p.QuestionCount,
			State:           domain.StateWaiting,
			CreatedAt:       now,
			ExpiresAt:       now.Add(e.joinWindow),
		}
		if err := tx.InsertRoom(ctx, room); err != nil {
			return err
		}
		if err := tx.InsertContestQuestions(ctx, domain.ContestRoom, freezeDraw(room.ID, draw)); err != nil {
			return err
		}
		creator := domain.Participant{
			ContestID: room.ID,
			StudentID: p.CreatorID,
			Slot:      1,
			Status:    domain.PlayerWaiting,
			JoinedAt:  now,
		}
		if _, err := tx.InsertParticipant(ctx, domain.ContestRoom, creator); err != nil {
			return err
		}
		snap = RoomSnapshot{Room: room, Participants: []domain.Participant{creator}}
		return nil
	})
	if err != nil {
		return RoomSnapshot{}, err
	}
	e.log.Info("room created", "room", snap.Room.ID, "code", snap.Room.Code, "creator", p.CreatorID)
	return snap, nil
}

func (e *Engine) freeRoomCode(ctx context.Context, tx Tx) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := e.roomCode()
		inUse, err := tx.RoomCodeInUse(ctx, code)
		if err != nil {
			return "", err
		}
		if !inUse {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free room code after %d attempts", maxCodeAttempts)
}

// JoinRoom seats a second student and starts the room. The capacity check and
// the insert happen under the room lock. A room found past its join window is
// cancelled and reported as expired.
func (e *Engine) JoinRoom(ctx context.Context, code, studentID string) (RoomSnapshot, error) {
	if code == "" || studentID == "" {
		return RoomSnapshot{}, domain.Errorf(domain.KindValidation, "code and studentId are required")
	}
	var (
		snap    RoomSnapshot
		expired bool
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		room, ok, err := tx.LockRoomByCode(ctx, code)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrRoomNotFound
		}
		now := e.now()
		if room.Expired(now) {
			room.State = domain.StateCancelled
			expired = true
			snap.Room = room
			return tx.SaveRoom(ctx, room)
		}
		participants, err := tx.Participants(ctx, domain.ContestRoom, room.ID)
		if err != nil {
			return err
		}
		for _, p := range participants {
			if p.StudentID == studentID {
				return domain.ErrAlreadyJoined
			}
		}
		switch room.State {
		case domain.StateWaiting:
		case domain.StateCancelled:
			return domain.ErrRoomExpired
		default:
			return domain.ErrRoomFull
		}
		if len(participants) >= roomSlots {
			return domain.ErrRoomFull
		}

		joiner := domain.Participant{
			ContestID: room.ID,
			StudentID: studentID,
			Slot:      len(participants) + 1,
			Status:    domain.PlayerReady,
			JoinedAt:  now,
		}
		inserted, err := tx.InsertParticipant(ctx, domain.ContestRoom, joiner)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrAlreadyJoined
		}
		for _, p := range participants {
			if err := tx.UpdateParticipant(ctx, domain.ContestRoom, room.ID, p.StudentID, domain.ParticipantPatch{Status: ptr(domain.PlayerReady)}); err != nil {
				return err
			}
		}
		room.State = domain.StateInProgress
		room.StartedAt = &now
		if err := tx.SaveRoom(ctx, room); err != nil {
			return err
		}
		snap.Room = room
		snap.Participants, err = tx.Participants(ctx, domain.ContestRoom, room.ID)
		return err
	})
	if err != nil {
		return RoomSnapshot{}, err
	}
	if expired {
		e.log.Info("room expired on join", "room", snap.Room.ID, "code", code)
		return RoomSnapshot{}, domain.ErrRoomExpired
	}
	e.log.Info("room started", "room", snap.Room.ID, "code", code, "joiner", studentID)
	return snap, nil
}

// SubmitRoomAnswer appends an answer; answers cannot be changed once given.
func (e *Engine) SubmitRoomAnswer(ctx context.Context, p RoomAnswerParams) (ContestAnswerResult, error) {
	if err := e.check(p); err != nil {
		return ContestAnswerResult{}, err
	}
	question, err := e.bank.Question(ctx, p.QuestionID)
	if err != nil {
		return ContestAnswerResult{}, err
	}
	var res ContestAnswerResult
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		room, ok, err := tx.Room(ctx, p.RoomID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrRoomNotFound
		}
		if room.State != domain.StateInProgress {
			return domain.ErrNotPlaying
		}
		res, err = e.submitContestAnswer(ctx, tx, domain.ContestRoom, room.ID, p.StudentID, question, p.OptionID, p.ElapsedSeconds, room.Difficulty)
		return err
	})
	if err != nil {
		return ContestAnswerResult{}, err
	}
	e.log.Debug("room answer", "room", p.RoomID, "student", p.StudentID, "correct", res.Correct)
	return res, nil
}

// FinalizeRoomParticipant stamps the student's score; the room finishes once
// both players are done.
func (e *Engine) FinalizeRoomParticipant(ctx context.Context, roomID, studentID string) (ParticipantResult, error) {
	if roomID == "" || studentID == "" {
		return ParticipantResult{}, domain.Errorf(domain.KindValidation, "roomId and studentId are required")
	}
	var res ParticipantResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		room, ok, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrRoomNotFound
		}
		if room.State != domain.StateInProgress && room.State != domain.StateFinished {
			return domain.ErrNotPlaying
		}
		p, already, err := e.finishParticipant(ctx, tx, domain.ContestRoom, room.ID, studentID, room.QuestionCount)
		if err != nil {
			return err
		}
		res = ParticipantResult{Participant: p, AlreadyFinished: already, ContestFinished: room.State == domain.StateFinished}
		if already || room.State == domain.StateFinished {
			return nil
		}

		participants, err := tx.Participants(ctx, domain.ContestRoom, room.ID)
		if err != nil {
			return err
		}
		for _, other := range participants {
			if !other.Finished() {
				return nil
			}
		}
		if _, err := persistRanking(ctx, tx, domain.ContestRoom, room.ID); err != nil {
			return err
		}
		now := e.now()
		room.State = domain.StateFinished
		room.FinishedAt = &now
		res.ContestFinished = true
		return tx.SaveRoom(ctx, room)
	})
	if err != nil {
		return ParticipantResult{}, err
	}
	if res.ContestFinished && !res.AlreadyFinished {
		e.log.Info("room finished", "room", roomID)
	}
	return res, nil
}

// ComputeRoomResult ranks the room's players. Final ranks are stored when the
// room finishes; while it is in progress the ranking is provisional.
func (e *Engine) ComputeRoomResult(ctx context.Context, roomID string) (ContestResult, error) {
	var res ContestResult
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		room, ok, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrRoomNotFound
		}
		if room.State != domain.StateInProgress && room.State != domain.StateFinished {
			return domain.ErrNotPlaying
		}
		ranked, err := currentRanking(ctx, tx, domain.ContestRoom, room.ID)
		if err != nil {
			return err
		}
		for i := range ranked {
			ranked[i].Podium = false
		}
		res = ContestResult{ContestID: room.ID, State: room.State, Ranking: ranked}
		return nil
	})
	return res, err
}

// SweepExpired cancels every waiting room whose join window has closed.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	var n int
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.CancelExpiredRooms(ctx, e.now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("expired rooms cancelled", "count", n)
	}
	return n, nil
}

// RoomQuestions returns the room's frozen draw.
func (e *Engine) RoomQuestions(ctx context.Context, roomID string) ([]ContestQuestionView, error) {
	var draw []domain.ContestQuestion
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, ok, err := tx.Room(ctx, roomID); err != nil {
			return err
		} else if !ok {
			return domain.ErrRoomNotFound
		}
		var err error
		draw, err = tx.ContestQuestions(ctx, domain.ContestRoom, roomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.contestQuestionViews(ctx, draw)
}

// RoomProgress is the polled view of a room.
func (e *Engine) RoomProgress(ctx context.Context, roomID string) (RoomSnapshot, error) {
	var snap RoomSnapshot
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		room, ok, err := tx.Room(ctx, roomID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrRoomNotFound
		}
		snap.Room = room
		snap.Participants, err = tx.Participants(ctx, domain.ContestRoom, roomID)
		return err
	})
	return snap, err
}

// RoomHistory lists the student's finished and cancelled rooms, newest first.
func (e *Engine) RoomHistory(ctx context.Context, studentID string) ([]RoomHistoryEntry, error) {
	var out []RoomHistoryEntry
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		rooms, err := tx.StudentRooms(ctx, studentID)
		if err != nil {
			return err
		}
		for _, room := range rooms {
			ps, err := tx.Participants(ctx, domain.ContestRoom, room.ID)
			if err != nil {
				return err
			}
			entry := RoomHistoryEntry{Room: room, Outcome: OutcomeCancelled}
			for _, r := range rankParticipants(ps) {
				if r.StudentID == studentID {
					entry.Self = r.Participant
					if room.State == domain.StateFinished {
						entry.Outcome = OutcomeDefeat
						if r.Winner {
							entry.Outcome = OutcomeVictory
						}
					}
				} else {
					opp := r.Participant
					entry.Opponent = &opp
				}
			}
			out = append(out, entry)
		}
		return nil
	})
	return out, err
}
