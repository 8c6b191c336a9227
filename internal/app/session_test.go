package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
)

func TestGateBlocksUntilEarlierSectionsComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	d, err := f.engine.CanEnter(ctx, examID, 2, "s1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "Session 1", d.BlockingSection)

	view, err := f.engine.EnterSection(ctx, app.EnterSectionParams{ExamID: examID, SectionOrder: 2, StudentID: "s1"})
	require.NoError(t, err)
	assert.False(t, view.Allowed)
	assert.Empty(t, view.Questions)

	// the refused entry must not have started the section clock
	_, err = f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section2})
	require.ErrorIs(t, err, domain.ErrNotStarted)

	d, err = f.engine.CanEnter(ctx, examID, 1, "s1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestEnterSectionStartsClockOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := app.EnterSectionParams{ExamID: examID, SectionOrder: 1, StudentID: "s1"}

	first, err := f.engine.EnterSection(ctx, p)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.True(t, first.FirstEntry)
	assert.Len(t, first.Questions, 5)
	assert.Equal(t, 3600, first.RemainingSeconds)

	f.clock.Advance(10 * time.Minute)
	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 2), OptionID: wrong("blk-1", 2)})
	require.NoError(t, err)

	second, err := f.engine.EnterSection(ctx, p)
	require.NoError(t, err)
	assert.False(t, second.FirstEntry)
	assert.Equal(t, first.Progress.StartedAt, second.Progress.StartedAt)
	assert.Equal(t, 600, second.ElapsedSeconds)
	assert.Equal(t, 1, second.AnsweredCount)
	assert.Equal(t, wrong("blk-1", 2), second.Questions[1].SelectedOptionID)
}

func TestEnterSectionValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.EnterSection(context.Background(), app.EnterSectionParams{ExamID: examID, SectionOrder: 0, StudentID: "s1"})
	require.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.engine.EnterSection(context.Background(), app.EnterSectionParams{ExamID: examID, SectionOrder: 3, StudentID: "s1"})
	require.ErrorIs(t, err, domain.ErrSectionNotFound)

	_, err = f.engine.EnterSection(context.Background(), app.EnterSectionParams{ExamID: "nope", SectionOrder: 1, StudentID: "s1"})
	require.ErrorIs(t, err, domain.ErrExamNotFound)
}

func TestEndToEndExam(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.engine.EnterSection(ctx, app.EnterSectionParams{ExamID: examID, SectionOrder: 1, StudentID: "s1"})
	require.NoError(t, err)
	require.True(t, view.Allowed)

	res, err := f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 1), OptionID: right("blk-1", 1)})
	require.NoError(t, err)
	requireScore(t, "1", res.RunningScore)

	res, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 2), OptionID: wrong("blk-1", 2)})
	require.NoError(t, err)
	requireScore(t, "1", res.RunningScore)

	f.clock.Advance(90 * time.Second)
	fin, err := f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section1})
	require.NoError(t, err)
	requireScore(t, "1", fin.Score)
	assert.Equal(t, 90, fin.ElapsedSeconds)
	assert.False(t, fin.AttemptCompleted)

	view, err = f.engine.EnterSection(ctx, app.EnterSectionParams{ExamID: examID, SectionOrder: 2, StudentID: "s1"})
	require.NoError(t, err)
	require.True(t, view.Allowed)

	for i := 1; i <= 3; i++ {
		_, err := f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section2, SectionQuestionID: sq("blk-2", i), OptionID: right("blk-2", i)})
		require.NoError(t, err)
	}
	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section2, SectionQuestionID: sq("blk-3", 1), OptionID: wrong("blk-3", 1)})
	require.NoError(t, err)

	elapsed := 1200
	fin, err = f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section2, ElapsedSeconds: &elapsed})
	require.NoError(t, err)
	requireScore(t, "3", fin.Score)
	assert.Equal(t, 1200, fin.ElapsedSeconds)
	assert.True(t, fin.AttemptCompleted)
	requireScore(t, "4", fin.AttemptScore)

	results, err := f.engine.GetSectionResults(ctx, "s1", section2)
	require.NoError(t, err)
	assert.True(t, results.Available)
	assert.Equal(t, 3, results.Correct)
	assert.Equal(t, 1, results.Incorrect)
	assert.Equal(t, 1, results.Unanswered)
	requireScore(t, "5", results.MaxScore)
	require.Len(t, results.Areas, 2)
	assert.Equal(t, 3, results.Areas[0].Correct)
	assert.Equal(t, 1, results.Areas[1].Incorrect)
}

func TestSubmitAnswerIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 1), OptionID: right("blk-1", 1)}

	first, err := f.engine.SubmitAnswer(ctx, p)
	require.NoError(t, err)
	assert.True(t, first.Created)

	again, err := f.engine.SubmitAnswer(ctx, p)
	require.NoError(t, err)
	assert.True(t, again.Accepted)
	assert.False(t, again.Changed)
	requireScore(t, "1", again.RunningScore)
	requireScore(t, "1", again.AttemptScore)
}

func TestSubmitAnswerDeltaScoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	submit := func(option string) app.AnswerResult {
		res, err := f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 3), OptionID: option})
		require.NoError(t, err)
		return res
	}

	requireScore(t, "0", submit(wrong("blk-1", 3)).RunningScore)
	res := submit(right("blk-1", 3))
	assert.True(t, res.Changed)
	assert.False(t, res.Created)
	requireScore(t, "1", res.RunningScore)
	requireScore(t, "0", submit(wrong("blk-1", 3)).RunningScore)
	requireScore(t, "1", submit(right("blk-1", 3)).AttemptScore)

	_, err := f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section1})
	require.NoError(t, err)
	results, err := f.engine.GetSectionResults(ctx, "s1", section1)
	require.NoError(t, err)
	assert.Equal(t, 1, results.Correct)
	assert.Equal(t, 0, results.Incorrect)
	assert.Equal(t, 4, results.Unanswered)
}

func TestSubmitAnswerSwitchBetweenWrongOptions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 2), OptionID: wrong("blk-1", 2)}

	first, err := f.engine.SubmitAnswer(ctx, p)
	require.NoError(t, err)
	assert.True(t, first.Created)
	requireScore(t, "0", first.RunningScore)

	p.OptionID = otherWrong("blk-1", 2)
	switched, err := f.engine.SubmitAnswer(ctx, p)
	require.NoError(t, err)
	assert.True(t, switched.Changed)
	assert.False(t, switched.Created)
	assert.False(t, switched.Correct)
	requireScore(t, "0", switched.RunningScore)
	requireScore(t, "0", switched.AttemptScore)

	view, err := f.engine.EnterSection(ctx, app.EnterSectionParams{ExamID: examID, SectionOrder: 1, StudentID: "s1"})
	require.NoError(t, err)
	var selected string
	for _, q := range view.Questions {
		if q.SectionQuestionID == sq("blk-1", 2) {
			selected = q.SelectedOptionID
		}
	}
	assert.Equal(t, otherWrong("blk-1", 2), selected)
	assert.Equal(t, 1, view.AnsweredCount)

	report, err := f.engine.AuditAttempt(ctx, onlyAttempt(t, f))
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	requireScore(t, "0", report.StoredScore)
}

func TestSubmitAnswerRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 1), OptionID: right("blk-1", 2)})
	require.ErrorIs(t, err, domain.ErrInvalidOption)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: "missing", OptionID: "x"})
	require.ErrorIs(t, err, domain.ErrQuestionNotFound)

	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section2, SectionQuestionID: sq("blk-2", 1), OptionID: right("blk-2", 1)})
	require.ErrorIs(t, err, domain.ErrSectionLocked)
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))

	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 1), OptionID: right("blk-1", 1)})
	require.NoError(t, err)
	_, err = f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section1})
	require.NoError(t, err)
	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 2), OptionID: right("blk-1", 2)})
	require.ErrorIs(t, err, domain.ErrAlreadyCompleted)
}

func TestFinalizeSectionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.EnterSection(ctx, app.EnterSectionParams{ExamID: examID, SectionOrder: 1, StudentID: "s1"})
	require.NoError(t, err)
	_, err = f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", 1), OptionID: right("blk-1", 1)})
	require.NoError(t, err)

	elapsed := 30
	first, err := f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section1, ElapsedSeconds: &elapsed})
	require.NoError(t, err)
	assert.False(t, first.AlreadyFinalized)

	f.clock.Advance(time.Hour)
	second, err := f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section1})
	require.NoError(t, err)
	assert.True(t, second.AlreadyFinalized)
	assert.Equal(t, 30, second.ElapsedSeconds)
	requireScore(t, "1", second.Score)
}

func TestSectionResultsUnavailableBeforeFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.EnterSection(ctx, app.EnterSectionParams{ExamID: examID, SectionOrder: 1, StudentID: "s1"})
	require.NoError(t, err)

	results, err := f.engine.GetSectionResults(ctx, "s1", section1)
	require.NoError(t, err)
	assert.False(t, results.Available)
}

func TestFinalizeWithoutAnswersCompletesAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for order, id := range []string{section1, section2} {
		_, err := f.engine.EnterSection(ctx, app.EnterSectionParams{ExamID: examID, SectionOrder: order + 1, StudentID: "s1"})
		require.NoError(t, err)
		fin, err := f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: id})
		require.NoError(t, err)
		requireScore(t, "0", fin.Score)
		assert.Equal(t, order == 1, fin.AttemptCompleted)
	}
}

func TestConcurrentAnswersKeepAggregatesConsistent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 5; i++ {
		for _, option := range []string{right("blk-1", i), wrong("blk-1", i), right("blk-1", i)} {
			wg.Add(1)
			go func(n int, option string) {
				defer wg.Done()
				_, err := f.engine.SubmitAnswer(ctx, app.SubmitAnswerParams{StudentID: "s1", SectionID: section1, SectionQuestionID: sq("blk-1", n), OptionID: option})
				assert.NoError(t, err)
			}(i, option)
		}
	}
	wg.Wait()

	fin, err := f.engine.FinalizeSection(ctx, app.FinalizeSectionParams{StudentID: "s1", SectionID: section1})
	require.NoError(t, err)
	results, err := f.engine.GetSectionResults(ctx, "s1", section1)
	require.NoError(t, err)
	assert.Equal(t, 5, results.Correct+results.Incorrect)
	requireScore(t, fin.Score.String(), results.Score)

	attemptID := onlyAttempt(t, f)
	report, err := f.engine.AuditAttempt(ctx, attemptID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	requireScore(t, report.RecomputedScore.String(), report.StoredScore)
}

func onlyAttempt(t *testing.T, f *fixture) string {
	t.Helper()
	var id string
	err := f.store.InTx(context.Background(), func(ctx context.Context, tx app.Tx) error {
		a, ok, err := tx.OpenAttempt(ctx, "s1", examID)
		require.True(t, ok)
		id = a.ID
		return err
	})
	require.NoError(t, err)
	return id
}
