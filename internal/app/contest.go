package app

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"simulacro-engine/internal/domain"
)

// ContestAnswerResult is returned by room and simulacro answer submissions.
type ContestAnswerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	XPAwarded  int    `json:"xpAwarded"`
	Answered   int    `json:"answered"`
	CorrectSum int    `json:"correctCount"`
	XP         int    `json:"xp"`
}

// ParticipantResult is returned when a participant finishes.
type ParticipantResult struct {
	Participant     domain.Participant `json:"participant"`
	AlreadyFinished bool               `json:"alreadyFinished"`
	ContestFinished bool               `json:"contestFinished"`
}

// RankedParticipant is one row of a final ranking.
type RankedParticipant struct {
	domain.Participant
	Rank   int  `json:"rank"`
	Winner bool `json:"winner"`
	Podium bool `json:"podium"`
}

// ContestResult is the ranked outcome of a room or simulacro. NoOp marks a
// repeated finalize that changed nothing.
type ContestResult struct {
	ContestID string              `json:"contestId"`
	State     domain.ContestState `json:"state"`
	NoOp      bool                `json:"noOp,omitempty"`
	Ranking   []RankedParticipant `json:"ranking"`
}

// ContestQuestionView is one entry of a frozen draw without correctness flags.
type ContestQuestionView struct {
	Order      int               `json:"order"`
	QuestionID string            `json:"questionId"`
	AreaID     string            `json:"areaId"`
	Statement  string            `json:"statement"`
	ImageURL   string            `json:"imageUrl,omitempty"`
	Difficulty domain.Difficulty `json:"difficulty"`
	Options    []OptionView      `json:"options"`
}

// submitContestAnswer appends one answer for a participant still in play.
// The caller has already checked the contest state.
func (e *Engine) submitContestAnswer(ctx context.Context, tx Tx, kind domain.ContestKind, contestID, studentID string,
	question domain.Question, optionID string, elapsed int, tier domain.Difficulty) (ContestAnswerResult, error) {
	p, ok, err := tx.LockParticipant(ctx, kind, contestID, studentID)
	if err != nil {
		return ContestAnswerResult{}, err
	}
	if !ok {
		return ContestAnswerResult{}, domain.ErrParticipantNotFound
	}
	if p.Finished() {
		return ContestAnswerResult{}, domain.Wrap(domain.ErrNotPlaying, "participant already finished")
	}

	draw, err := tx.ContestQuestions(ctx, kind, contestID)
	if err != nil {
		return ContestAnswerResult{}, err
	}
	inDraw := false
	for _, q := range draw {
		if q.QuestionID == question.ID {
			inDraw = true
			break
		}
	}
	if !inDraw {
		return ContestAnswerResult{}, domain.Wrap(domain.ErrQuestionNotFound, question.ID)
	}
	option, ok := question.Option(optionID)
	if !ok {
		return ContestAnswerResult{}, domain.ErrInvalidOption
	}

	xp := 0
	if option.Correct {
		xp = e.xp.For(tier)
	}
	inserted, err := tx.InsertContestAnswer(ctx, kind, domain.ContestAnswer{
		ContestID:      contestID,
		StudentID:      studentID,
		QuestionID:     question.ID,
		OptionID:       option.ID,
		Correct:        option.Correct,
		ElapsedSeconds: elapsed,
		XP:             xp,
		AnsweredAt:     e.now(),
	})
	if err != nil {
		return ContestAnswerResult{}, err
	}
	if !inserted {
		return ContestAnswerResult{}, domain.ErrAlreadyAnswered
	}

	p.Answered++
	if option.Correct {
		p.Correct++
	}
	p.XP += xp
	if err := tx.UpdateParticipant(ctx, kind, contestID, studentID, domain.ParticipantPatch{
		Status:   ptr(domain.PlayerPlaying),
		Answered: ptr(p.Answered),
		Correct:  ptr(p.Correct),
		XP:       ptr(p.XP),
	}); err != nil {
		return ContestAnswerResult{}, err
	}
	return ContestAnswerResult{
		QuestionID: question.ID,
		Correct:    option.Correct,
		XPAwarded:  xp,
		Answered:   p.Answered,
		CorrectSum: p.Correct,
		XP:         p.XP,
	}, nil
}

// finishParticipant stamps the final score of one participant. It returns the
// stored participant untouched when already finished.
func (e *Engine) finishParticipant(ctx context.Context, tx Tx, kind domain.ContestKind, contestID, studentID string, questionCount int) (domain.Participant, bool, error) {
	p, ok, err := tx.LockParticipant(ctx, kind, contestID, studentID)
	if err != nil {
		return domain.Participant{}, false, err
	}
	if !ok {
		return domain.Participant{}, false, domain.ErrParticipantNotFound
	}
	if p.Finished() {
		return p, true, nil
	}
	now := e.now()
	patch := domain.ParticipantPatch{
		Status:     ptr(domain.PlayerFinished),
		Score:      ptr(contestScore(p.Correct, questionCount)),
		FinishedAt: ptr(now),
	}
	if err := tx.UpdateParticipant(ctx, kind, contestID, studentID, patch); err != nil {
		return domain.Participant{}, false, err
	}
	patch.Apply(&p)
	return p, false, nil
}

// contestScore is the percentage of correct answers, kept to two decimals.
func contestScore(correct, questionCount int) decimal.Decimal {
	if questionCount <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(correct)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(questionCount)), domain.ScorePlaces)
}

// rankParticipants orders finished participants first, then by score desc,
// earlier finish, and slot. Unfinished participants count as score zero.
func rankParticipants(ps []domain.Participant) []RankedParticipant {
	sorted := append([]domain.Participant(nil), ps...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Finished() != b.Finished() {
			return a.Finished()
		}
		sa, sb := effectiveScore(a), effectiveScore(b)
		if !sa.Equal(sb) {
			return sa.GreaterThan(sb)
		}
		fa, fb := a.FinishedAt, b.FinishedAt
		switch {
		case fa != nil && fb != nil && !fa.Equal(*fb):
			return fa.Before(*fb)
		case fa != nil && fb == nil:
			return true
		case fa == nil && fb != nil:
			return false
		}
		return a.Slot < b.Slot
	})
	out := make([]RankedParticipant, len(sorted))
	for i, p := range sorted {
		out[i] = RankedParticipant{Participant: p, Rank: i + 1, Winner: i == 0, Podium: i < 3}
	}
	return out
}

func effectiveScore(p domain.Participant) decimal.Decimal {
	if !p.Finished() {
		return decimal.Zero
	}
	return p.Score
}

// persistRanking ranks the contest's participants and stores every final rank.
func persistRanking(ctx context.Context, tx Tx, kind domain.ContestKind, contestID string) ([]RankedParticipant, error) {
	ps, err := tx.Participants(ctx, kind, contestID)
	if err != nil {
		return nil, err
	}
	ranked := rankParticipants(ps)
	for i := range ranked {
		if err := tx.UpdateParticipant(ctx, kind, contestID, ranked[i].StudentID, domain.ParticipantPatch{FinalRank: ptr(ranked[i].Rank)}); err != nil {
			return nil, err
		}
		ranked[i].FinalRank = ranked[i].Rank
	}
	return ranked, nil
}

// currentRanking ranks the participants without writing. Live contests get a
// provisional order; finished ones carry the ranks stored when they closed.
func currentRanking(ctx context.Context, tx Tx, kind domain.ContestKind, contestID string) ([]RankedParticipant, error) {
	ps, err := tx.Participants(ctx, kind, contestID)
	if err != nil {
		return nil, err
	}
	return rankParticipants(ps), nil
}

// contestQuestionViews resolves a frozen draw against the bank.
func (e *Engine) contestQuestionViews(ctx context.Context, draw []domain.ContestQuestion) ([]ContestQuestionView, error) {
	sort.SliceStable(draw, func(i, j int) bool { return draw[i].Order < draw[j].Order })
	out := make([]ContestQuestionView, 0, len(draw))
	for _, cq := range draw {
		q, err := e.bank.Question(ctx, cq.QuestionID)
		if err != nil {
			return nil, err
		}
		out = append(out, ContestQuestionView{
			Order:      cq.Order,
			QuestionID: q.ID,
			AreaID:     q.AreaID,
			Statement:  q.Statement,
			ImageURL:   q.ImageURL,
			Difficulty: q.Difficulty,
			Options:    optionViews(q),
		})
	}
	return out, nil
}

func freezeDraw(contestID string, qs []domain.Question) []domain.ContestQuestion {
	out := make([]domain.ContestQuestion, len(qs))
	for i, q := range qs {
		out[i] = domain.ContestQuestion{ContestID: contestID, QuestionID: q.ID, Order: i + 1}
	}
	return out
}
