package app_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
	"simulacro-engine/internal/infra/memory"
)

func createRoom(t *testing.T, f *fixture, difficulty domain.Difficulty, n int) app.RoomSnapshot {
	t.Helper()
	snap, err := f.engine.CreateRoom(context.Background(), app.CreateRoomParams{
		CreatorID: "s1", AreaID: "alg", Difficulty: difficulty, QuestionCount: n, DurationMinutes: 5,
	})
	require.NoError(t, err)
	return snap
}

func TestCreateRoomFreezesDraw(t *testing.T) {
	f := newFixture(t)
	snap := createRoom(t, f, domain.DifficultyLow, 5)

	assert.Regexp(t, regexp.MustCompile(`^[A-Z]{3}-\d{4}$`), snap.Room.Code)
	assert.Equal(t, domain.StateWaiting, snap.Room.State)
	assert.Equal(t, f.clock.Now().Add(app.DefaultJoinWindow), snap.Room.ExpiresAt)
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, 1, snap.Participants[0].Slot)

	qs, err := f.engine.RoomQuestions(context.Background(), snap.Room.ID)
	require.NoError(t, err)
	require.Len(t, qs, 5)
	seen := map[string]bool{}
	for i, q := range qs {
		assert.Equal(t, i+1, q.Order)
		assert.Equal(t, domain.DifficultyLow, q.Difficulty)
		assert.False(t, seen[q.QuestionID])
		seen[q.QuestionID] = true
	}
}

func TestCreateRoomRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateRoom(ctx, app.CreateRoomParams{CreatorID: "s1", AreaID: "alg", Difficulty: domain.DifficultyHigh, QuestionCount: 3, DurationMinutes: 5})
	require.ErrorIs(t, err, domain.ErrInsufficientQuestions)
	assert.Equal(t, domain.KindInsufficientData, domain.KindOf(err))

	_, err = f.engine.CreateRoom(ctx, app.CreateRoomParams{CreatorID: "s1", AreaID: "alg", Difficulty: "extreme", QuestionCount: 3, DurationMinutes: 5})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.CreateRoom(ctx, app.CreateRoomParams{CreatorID: "s1", AreaID: "alg", Difficulty: domain.DifficultyLow, QuestionCount: 0, DurationMinutes: 5})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestJoinRoomCapacityUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	snap := createRoom(t, f, domain.DifficultyLow, 3)

	var (
		wg            sync.WaitGroup
		mu            sync.Mutex
		joined, fulls int
	)
	for _, student := range []string{"s2", "s3", "s4"} {
		wg.Add(1)
		go func(student string) {
			defer wg.Done()
			_, err := f.engine.JoinRoom(context.Background(), snap.Room.Code, student)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, domain.ErrRoomFull):
				fulls++
			default:
				t.Errorf("unexpected join error: %v", err)
			}
		}(student)
	}
	wg.Wait()

	assert.Equal(t, 1, joined)
	assert.Equal(t, 2, fulls)

	progress, err := f.engine.RoomProgress(context.Background(), snap.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, progress.Room.State)
	require.Len(t, progress.Participants, 2)
	for _, p := range progress.Participants {
		assert.Equal(t, domain.PlayerReady, p.Status)
	}
}

func TestJoinRoomRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := createRoom(t, f, domain.DifficultyLow, 3)

	_, err := f.engine.JoinRoom(ctx, "ZZZ-0000", "s2")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = f.engine.JoinRoom(ctx, snap.Room.Code, "s1")
	require.ErrorIs(t, err, domain.ErrAlreadyJoined)

	_, err = f.engine.JoinRoom(ctx, "", "s2")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestJoinRoomAfterWindowCancelsRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := createRoom(t, f, domain.DifficultyLow, 3)

	f.clock.Advance(app.DefaultJoinWindow + time.Second)
	_, err := f.engine.JoinRoom(ctx, snap.Room.Code, "s2")
	require.ErrorIs(t, err, domain.ErrRoomExpired)

	progress, err := f.engine.RoomProgress(ctx, snap.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCancelled, progress.Room.State)
}

func TestSweeperCancelsExpiredRooms(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := createRoom(t, f, domain.DifficultyLow, 3)
	f.clock.Advance(app.DefaultJoinWindow / 2)
	fresh := createRoom(t, f, domain.DifficultyLow, 3)
	f.clock.Advance(app.DefaultJoinWindow/2 + time.Second)

	sweeper := app.NewSweeper(f.engine, memory.NewSweepLock(), time.Minute)
	n, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, _ := f.engine.RoomProgress(ctx, stale.Room.ID)
	assert.Equal(t, domain.StateCancelled, s.Room.State)
	s, _ = f.engine.RoomProgress(ctx, fresh.Room.ID)
	assert.Equal(t, domain.StateWaiting, s.Room.State)

	n, err = f.engine.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeperSkipsWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	createRoom(t, f, domain.DifficultyLow, 3)
	f.clock.Advance(app.DefaultJoinWindow + time.Second)

	lock := memory.NewSweepLock()
	release, ok, err := lock.TryLock(context.Background(), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	n, err := app.NewSweeper(f.engine, lock, time.Minute).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// playRoom starts a room between s1 and s2 and returns its id and draw.
func playRoom(t *testing.T, f *fixture, difficulty domain.Difficulty, n int) (string, []app.ContestQuestionView) {
	t.Helper()
	snap := createRoom(t, f, difficulty, n)
	_, err := f.engine.JoinRoom(context.Background(), snap.Room.Code, "s2")
	require.NoError(t, err)
	qs, err := f.engine.RoomQuestions(context.Background(), snap.Room.ID)
	require.NoError(t, err)
	return snap.Room.ID, qs
}

func answerRoom(t *testing.T, f *fixture, roomID, student string, q app.ContestQuestionView, correct bool) app.ContestAnswerResult {
	t.Helper()
	option := q.QuestionID + "-no"
	if correct {
		option = q.QuestionID + "-ok"
	}
	res, err := f.engine.SubmitRoomAnswer(context.Background(), app.RoomAnswerParams{
		RoomID: roomID, StudentID: student, QuestionID: q.QuestionID, OptionID: option, ElapsedSeconds: 4,
	})
	require.NoError(t, err)
	return res
}

func TestRoomAnswersAreAppendOnly(t *testing.T) {
	f := newFixture(t)
	roomID, qs := playRoom(t, f, domain.DifficultyLow, 3)

	res := answerRoom(t, f, roomID, "s1", qs[0], true)
	assert.Equal(t, 5, res.XPAwarded)
	assert.Equal(t, 1, res.Answered)

	_, err := f.engine.SubmitRoomAnswer(context.Background(), app.RoomAnswerParams{
		RoomID: roomID, StudentID: "s1", QuestionID: qs[0].QuestionID, OptionID: qs[0].QuestionID + "-no",
	})
	require.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	_, err = f.engine.SubmitRoomAnswer(context.Background(), app.RoomAnswerParams{
		RoomID: roomID, StudentID: "s3", QuestionID: qs[0].QuestionID, OptionID: qs[0].QuestionID + "-ok",
	})
	require.ErrorIs(t, err, domain.ErrParticipantNotFound)

	_, err = f.engine.SubmitRoomAnswer(context.Background(), app.RoomAnswerParams{
		RoomID: roomID, StudentID: "s1", QuestionID: "geo-medium-1", OptionID: "geo-medium-1-ok",
	})
	require.ErrorIs(t, err, domain.ErrQuestionNotFound)
}

func TestRoomXPFollowsRoomDifficulty(t *testing.T) {
	f := newFixture(t)
	roomID, qs := playRoom(t, f, domain.DifficultyHigh, 2)

	assert.Equal(t, 15, answerRoom(t, f, roomID, "s1", qs[0], true).XPAwarded)
	res := answerRoom(t, f, roomID, "s1", qs[1], false)
	assert.Zero(t, res.XPAwarded)
	assert.Equal(t, 15, res.XP)
	assert.Equal(t, 1, res.CorrectSum)
}

func TestRoomResultTieBreaksOnFinishTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, qs := playRoom(t, f, domain.DifficultyLow, 2)

	for _, student := range []string{"s1", "s2"} {
		answerRoom(t, f, roomID, student, qs[0], true)
		answerRoom(t, f, roomID, student, qs[1], false)
	}

	f.clock.Advance(time.Second)
	res, err := f.engine.FinalizeRoomParticipant(ctx, roomID, "s2")
	require.NoError(t, err)
	assert.False(t, res.ContestFinished)
	requireScore(t, "50", res.Participant.Score)

	_, err = f.engine.SubmitRoomAnswer(ctx, app.RoomAnswerParams{RoomID: roomID, StudentID: "s2", QuestionID: qs[1].QuestionID, OptionID: qs[1].QuestionID + "-ok"})
	require.ErrorIs(t, err, domain.ErrNotPlaying)

	f.clock.Advance(time.Second)
	res, err = f.engine.FinalizeRoomParticipant(ctx, roomID, "s1")
	require.NoError(t, err)
	assert.True(t, res.ContestFinished)

	again, err := f.engine.FinalizeRoomParticipant(ctx, roomID, "s1")
	require.NoError(t, err)
	assert.True(t, again.AlreadyFinished)

	result, err := f.engine.ComputeRoomResult(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, result.Ranking, 2)
	assert.Equal(t, domain.StateFinished, result.State)
	assert.Equal(t, "s2", result.Ranking[0].StudentID)
	assert.True(t, result.Ranking[0].Winner)
	assert.Equal(t, 2, result.Ranking[1].Rank)
	assert.False(t, result.Ranking[1].Winner)

	history, err := f.engine.RoomHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, app.OutcomeDefeat, history[0].Outcome)
	require.NotNil(t, history[0].Opponent)
	assert.Equal(t, "s2", history[0].Opponent.StudentID)
	assert.Equal(t, 2, history[0].Self.FinalRank)
}

func TestRoomResultRanksUnfinishedLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, qs := playRoom(t, f, domain.DifficultyLow, 3)

	for _, q := range qs {
		answerRoom(t, f, roomID, "s1", q, true)
	}
	answerRoom(t, f, roomID, "s2", qs[0], false)
	_, err := f.engine.FinalizeRoomParticipant(ctx, roomID, "s2")
	require.NoError(t, err)

	result, err := f.engine.ComputeRoomResult(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, result.State)
	assert.Equal(t, "s2", result.Ranking[0].StudentID)
	assert.Equal(t, "s1", result.Ranking[1].StudentID)
}

func TestRoomResultStoresRanksOnlyOnceFinished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, qs := playRoom(t, f, domain.DifficultyLow, 3)
	answerRoom(t, f, roomID, "s1", qs[0], true)
	_, err := f.engine.FinalizeRoomParticipant(ctx, roomID, "s1")
	require.NoError(t, err)

	live, err := f.engine.ComputeRoomResult(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, live.State)
	assert.Equal(t, 1, live.Ranking[0].Rank)
	assert.Equal(t, map[string]int{"s1": 0, "s2": 0}, storedRanks(t, f, domain.ContestRoom, roomID))

	_, err = f.engine.FinalizeRoomParticipant(ctx, roomID, "s2")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"s1": 1, "s2": 2}, storedRanks(t, f, domain.ContestRoom, roomID))

	final, err := f.engine.ComputeRoomResult(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.Ranking[0].FinalRank)
	assert.Equal(t, 2, final.Ranking[1].FinalRank)
}

func storedRanks(t *testing.T, f *fixture, kind domain.ContestKind, contestID string) map[string]int {
	t.Helper()
	ranks := map[string]int{}
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx app.Tx) error {
		ps, err := tx.Participants(ctx, kind, contestID)
		for _, p := range ps {
			ranks[p.StudentID] = p.FinalRank
		}
		return err
	})
	require.NoError(t, err)
	return ranks
}

func TestRoomScoreRoundsToTwoPlaces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	roomID, qs := playRoom(t, f, domain.DifficultyLow, 3)
	answerRoom(t, f, roomID, "s1", qs[0], true)

	res, err := f.engine.FinalizeRoomParticipant(ctx, roomID, "s1")
	require.NoError(t, err)
	requireScore(t, "33.33", res.Participant.Score)
	assert.Equal(t, domain.PlayerFinished, res.Participant.Status)
}
