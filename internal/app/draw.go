package app

import (
	"fmt"

	"simulacro-engine/internal/domain"
)

const codeLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// roomCode returns a code of the form ABC-1234.
func (e *Engine) roomCode() string {
	b := make([]byte, 3)
	for i := range b {
		b[i] = codeLetters[e.intn(len(codeLetters))]
	}
	return fmt.Sprintf("%s-%04d", b, e.intn(10000))
}

// pickRandom returns n distinct questions drawn uniformly from pool.
func (e *Engine) pickRandom(pool []domain.Question, n int) []domain.Question {
	shuffled := append([]domain.Question(nil), pool...)
	e.shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if n > len(shuffled) {
		n = len(shuffled)
	}
	return shuffled[:n]
}

// balancedDraw spreads n questions as evenly as possible across areas: each area
// gets floor(n/areas), the first n%areas areas one more. Shortfalls are backfilled
// from whatever is left in the pool and the result is shuffled as a whole.
func (e *Engine) balancedDraw(pool []domain.Question, areas []domain.Area, n int) []domain.Question {
	if len(areas) == 0 {
		return e.pickRandom(pool, n)
	}
	byArea := make(map[string][]domain.Question, len(areas))
	for _, q := range pool {
		byArea[q.AreaID] = append(byArea[q.AreaID], q)
	}

	base, extra := n/len(areas), n%len(areas)
	picked := make([]domain.Question, 0, n)
	used := make(map[string]bool, n)
	for i, a := range areas {
		want := base
		if i < extra {
			want++
		}
		for _, q := range e.pickRandom(byArea[a.ID], want) {
			picked = append(picked, q)
			used[q.ID] = true
		}
	}

	if len(picked) < n {
		var rest []domain.Question
		for _, q := range pool {
			if !used[q.ID] {
				rest = append(rest, q)
			}
		}
		picked = append(picked, e.pickRandom(rest, n-len(picked))...)
	}
	e.shuffle(len(picked), func(i, j int) { picked[i], picked[j] = picked[j], picked[i] })
	return picked
}
