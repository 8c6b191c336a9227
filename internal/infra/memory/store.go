package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"simulacro-engine/internal/app"
	"simulacro-engine/internal/domain"
)

// Store is an in-memory implementation of app.Store. Transactions are
// serialized and write straight into the live tables, journaling the previous
// value of every touched row so a failed transaction can be undone. Rows
// addressed by a unique key are indexed the way the SQL constraints are, so an
// answer costs the same no matter how much is stored.
type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{state: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	t := &tx{st: s.state}
	committed := false
	defer func() {
		if !committed {
			t.rollback()
		}
	}()
	if err := fn(ctx, t); err != nil {
		return err
	}
	committed = true
	return nil
}

type progressKey struct{ student, section string }

// pairKey is the two-column unique key of a child row.
type pairKey struct{ parent, child string }

type contestKey struct {
	kind domain.ContestKind
	id   string
}

type participantKey struct {
	contest contestKey
	student string
}

type answerKey struct {
	participant participantKey
	question    string
}

type state struct {
	attempts       map[string]domain.Attempt
	progress       map[progressKey]domain.SectionProgress
	sectionResults map[string]domain.SectionResult
	areaResults    map[string]domain.AreaResult
	answers        map[string]domain.AnswerRecord
	rooms          map[string]domain.Room
	simulacros     map[string]domain.GroupSimulacro
	draws          map[contestKey][]domain.ContestQuestion
	participants   map[participantKey]domain.Participant
	contestAnswers map[answerKey]domain.ContestAnswer

	// indexes
	openAttempts     map[pairKey]string   // (student, exam) -> open attempt
	attemptSections  map[string][]string  // attempt -> section results
	studentSections  map[pairKey][]string // (student, section) -> section results
	sectionResultIdx map[pairKey]string   // (attempt, section) -> section result
	areaResultIdx    map[pairKey]string   // (section result, block) -> area result
	sectionAreas     map[string][]string  // section result -> area results
	answerIdx        map[pairKey]string   // (area result, section question) -> answer
	sectionAnswers   map[string][]string  // section result -> answers
	roomCodes        map[string]string    // code -> newest room
	rosters          map[contestKey][]string
}

func newState() *state {
	return &state{
		attempts:       make(map[string]domain.Attempt),
		progress:       make(map[progressKey]domain.SectionProgress),
		sectionResults: make(map[string]domain.SectionResult),
		areaResults:    make(map[string]domain.AreaResult),
		answers:        make(map[string]domain.AnswerRecord),
		rooms:          make(map[string]domain.Room),
		simulacros:     make(map[string]domain.GroupSimulacro),
		draws:          make(map[contestKey][]domain.ContestQuestion),
		participants:   make(map[participantKey]domain.Participant),
		contestAnswers: make(map[answerKey]domain.ContestAnswer),

		openAttempts:     make(map[pairKey]string),
		attemptSections:  make(map[string][]string),
		studentSections:  make(map[pairKey][]string),
		sectionResultIdx: make(map[pairKey]string),
		areaResultIdx:    make(map[pairKey]string),
		sectionAreas:     make(map[string][]string),
		answerIdx:        make(map[pairKey]string),
		sectionAnswers:   make(map[string][]string),
		roomCodes:        make(map[string]string),
		rosters:          make(map[contestKey][]string),
	}
}

type tx struct {
	st   *state
	undo []func()
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// put writes m[k] and journals the previous value.
func put[K comparable, V any](t *tx, m map[K]V, k K, v V) {
	old, had := m[k]
	t.undo = append(t.undo, func() {
		if had {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func drop[K comparable, V any](t *tx, m map[K]V, k K) {
	old, had := m[k]
	if !had {
		return
	}
	t.undo = append(t.undo, func() { m[k] = old })
	delete(m, k)
}

// link adds id to the index list under k. The list is copied so a journaled
// old value never shares its backing array.
func link[K comparable](t *tx, m map[K][]string, k K, id string) {
	if slices.Contains(m[k], id) {
		return
	}
	put(t, m, k, append(slices.Clip(m[k]), id))
}

// exam ledger

func (t *tx) Attempt(_ context.Context, attemptID string) (domain.Attempt, bool, error) {
	a, ok := t.st.attempts[attemptID]
	return a, ok, nil
}

func (t *tx) OpenAttempt(_ context.Context, studentID, examID string) (domain.Attempt, bool, error) {
	id, ok := t.st.openAttempts[pairKey{studentID, examID}]
	if !ok {
		return domain.Attempt{}, false, nil
	}
	return t.st.attempts[id], true, nil
}

func (t *tx) GetOrCreateAttempt(ctx context.Context, a domain.Attempt) (domain.Attempt, bool, error) {
	if open, ok, _ := t.OpenAttempt(ctx, a.StudentID, a.ExamID); ok {
		return open, false, nil
	}
	put(t, t.st.attempts, a.ID, a)
	if !a.Completed {
		put(t, t.st.openAttempts, pairKey{a.StudentID, a.ExamID}, a.ID)
	}
	return a, true, nil
}

func (t *tx) SaveAttempt(_ context.Context, a domain.Attempt) error {
	if _, ok := t.st.attempts[a.ID]; !ok {
		return domain.ErrAttemptNotFound
	}
	put(t, t.st.attempts, a.ID, a)
	key := pairKey{a.StudentID, a.ExamID}
	if a.Completed && t.st.openAttempts[key] == a.ID {
		drop(t, t.st.openAttempts, key)
	}
	return nil
}

func (t *tx) SectionProgress(_ context.Context, studentID, sectionID string) (domain.SectionProgress, bool, error) {
	p, ok := t.st.progress[progressKey{studentID, sectionID}]
	return p, ok, nil
}

func (t *tx) LockSectionProgress(ctx context.Context, studentID, sectionID string) (domain.SectionProgress, bool, error) {
	return t.SectionProgress(ctx, studentID, sectionID)
}

func (t *tx) EnsureSectionProgress(_ context.Context, p domain.SectionProgress) (domain.SectionProgress, bool, error) {
	key := progressKey{p.StudentID, p.SectionID}
	if existing, ok := t.st.progress[key]; ok {
		return existing, false, nil
	}
	put(t, t.st.progress, key, p)
	return p, true, nil
}

func (t *tx) UpdateSectionProgress(_ context.Context, studentID, sectionID string, patch domain.SectionProgressPatch) error {
	key := progressKey{studentID, sectionID}
	p, ok := t.st.progress[key]
	if !ok {
		return domain.ErrNotStarted
	}
	patch.Apply(&p)
	put(t, t.st.progress, key, p)
	return nil
}

func (t *tx) GetOrCreateSectionResult(_ context.Context, r domain.SectionResult) (domain.SectionResult, bool, error) {
	if id, ok := t.st.sectionResultIdx[pairKey{r.AttemptID, r.SectionID}]; ok {
		return t.st.sectionResults[id], false, nil
	}
	t.saveSectionResult(r)
	return r, true, nil
}

func (t *tx) saveSectionResult(r domain.SectionResult) {
	put(t, t.st.sectionResults, r.ID, r)
	put(t, t.st.sectionResultIdx, pairKey{r.AttemptID, r.SectionID}, r.ID)
	link(t, t.st.attemptSections, r.AttemptID, r.ID)
	if a, ok := t.st.attempts[r.AttemptID]; ok {
		link(t, t.st.studentSections, pairKey{a.StudentID, r.SectionID}, r.ID)
	}
}

func (t *tx) SectionResults(_ context.Context, attemptID string) ([]domain.SectionResult, error) {
	var out []domain.SectionResult
	for _, id := range t.st.attemptSections[attemptID] {
		out = append(out, t.st.sectionResults[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (t *tx) LatestSectionResult(_ context.Context, studentID, sectionID string) (domain.SectionResult, bool, error) {
	var (
		best  domain.SectionResult
		found bool
	)
	for _, id := range t.st.studentSections[pairKey{studentID, sectionID}] {
		r := t.st.sectionResults[id]
		if !found || t.st.attempts[r.AttemptID].StartedAt.After(t.st.attempts[best.AttemptID].StartedAt) {
			best, found = r, true
		}
	}
	return best, found, nil
}

func (t *tx) SaveSectionResult(_ context.Context, r domain.SectionResult) error {
	t.saveSectionResult(r)
	return nil
}

func (t *tx) GetOrCreateAreaResult(_ context.Context, r domain.AreaResult) (domain.AreaResult, bool, error) {
	if id, ok := t.st.areaResultIdx[pairKey{r.SectionResultID, r.AreaBlockID}]; ok {
		return t.st.areaResults[id], false, nil
	}
	t.saveAreaResult(r)
	return r, true, nil
}

func (t *tx) saveAreaResult(r domain.AreaResult) {
	put(t, t.st.areaResults, r.ID, r)
	put(t, t.st.areaResultIdx, pairKey{r.SectionResultID, r.AreaBlockID}, r.ID)
	link(t, t.st.sectionAreas, r.SectionResultID, r.ID)
}

func (t *tx) AreaResults(_ context.Context, sectionResultID string) ([]domain.AreaResult, error) {
	var out []domain.AreaResult
	for _, id := range t.st.sectionAreas[sectionResultID] {
		out = append(out, t.st.areaResults[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AreaBlockID < out[j].AreaBlockID })
	return out, nil
}

func (t *tx) SaveAreaResult(_ context.Context, r domain.AreaResult) error {
	t.saveAreaResult(r)
	return nil
}

func (t *tx) AnswerRecord(_ context.Context, areaResultID, sectionQuestionID string) (domain.AnswerRecord, bool, error) {
	id, ok := t.st.answerIdx[pairKey{areaResultID, sectionQuestionID}]
	if !ok {
		return domain.AnswerRecord{}, false, nil
	}
	return t.st.answers[id], true, nil
}

func (t *tx) InsertAnswerRecord(ctx context.Context, r domain.AnswerRecord) error {
	if _, ok, _ := t.AnswerRecord(ctx, r.AreaResultID, r.SectionQuestionID); ok {
		return domain.Errorf(domain.KindInvalidState, "answer record already exists")
	}
	t.saveAnswerRecord(r)
	return nil
}

func (t *tx) SaveAnswerRecord(_ context.Context, r domain.AnswerRecord) error {
	t.saveAnswerRecord(r)
	return nil
}

func (t *tx) saveAnswerRecord(r domain.AnswerRecord) {
	put(t, t.st.answers, r.ID, r)
	put(t, t.st.answerIdx, pairKey{r.AreaResultID, r.SectionQuestionID}, r.ID)
	link(t, t.st.sectionAnswers, r.SectionResultID, r.ID)
}

func (t *tx) SectionAnswerRecords(_ context.Context, sectionResultID string) ([]domain.AnswerRecord, error) {
	return t.answerRecords(sectionResultID), nil
}

func (t *tx) AttemptAnswerRecords(_ context.Context, attemptID string) ([]domain.AnswerRecord, error) {
	return t.answerRecords(t.st.attemptSections[attemptID]...), nil
}

func (t *tx) answerRecords(sectionResultIDs ...string) []domain.AnswerRecord {
	var out []domain.AnswerRecord
	for _, sr := range sectionResultIDs {
		for _, id := range t.st.sectionAnswers[sr] {
			out = append(out, t.st.answers[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionQuestionID < out[j].SectionQuestionID })
	return out
}

// rooms

func (t *tx) RoomCodeInUse(_ context.Context, code string) (bool, error) {
	id, ok := t.st.roomCodes[code]
	if !ok {
		return false, nil
	}
	r := t.st.rooms[id]
	return r.State == domain.StateWaiting || r.State == domain.StateInProgress, nil
}

func (t *tx) InsertRoom(_ context.Context, r domain.Room) error {
	put(t, t.st.rooms, r.ID, r)
	if id, ok := t.st.roomCodes[r.Code]; !ok || !t.st.rooms[id].CreatedAt.After(r.CreatedAt) {
		put(t, t.st.roomCodes, r.Code, r.ID)
	}
	return nil
}

func (t *tx) Room(_ context.Context, roomID string) (domain.Room, bool, error) {
	r, ok := t.st.rooms[roomID]
	return r, ok, nil
}

func (t *tx) LockRoom(ctx context.Context, roomID string) (domain.Room, bool, error) {
	return t.Room(ctx, roomID)
}

// LockRoomByCode returns the newest room carrying code; codes are only unique among live rooms.
func (t *tx) LockRoomByCode(ctx context.Context, code string) (domain.Room, bool, error) {
	id, ok := t.st.roomCodes[code]
	if !ok {
		return domain.Room{}, false, nil
	}
	return t.Room(ctx, id)
}

func (t *tx) SaveRoom(_ context.Context, r domain.Room) error {
	if _, ok := t.st.rooms[r.ID]; !ok {
		return domain.ErrRoomNotFound
	}
	put(t, t.st.rooms, r.ID, r)
	return nil
}

func (t *tx) CancelExpiredRooms(_ context.Context, now time.Time) (int, error) {
	n := 0
	for id, r := range t.st.rooms {
		if r.Expired(now) {
			r.State = domain.StateCancelled
			put(t, t.st.rooms, id, r)
			n++
		}
	}
	return n, nil
}

func (t *tx) StudentRooms(_ context.Context, studentID string) ([]domain.Room, error) {
	var out []domain.Room
	for _, r := range t.st.rooms {
		if r.State != domain.StateFinished && r.State != domain.StateCancelled {
			continue
		}
		if _, ok := t.st.participants[participantKey{contestKey{domain.ContestRoom, r.ID}, studentID}]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// simulacros

func (t *tx) InsertSimulacro(_ context.Context, s domain.GroupSimulacro) error {
	put(t, t.st.simulacros, s.ID, s)
	return nil
}

func (t *tx) Simulacro(_ context.Context, simulacroID string) (domain.GroupSimulacro, bool, error) {
	s, ok := t.st.simulacros[simulacroID]
	return s, ok, nil
}

func (t *tx) LockSimulacro(ctx context.Context, simulacroID string) (domain.GroupSimulacro, bool, error) {
	return t.Simulacro(ctx, simulacroID)
}

func (t *tx) SaveSimulacro(_ context.Context, s domain.GroupSimulacro) error {
	if _, ok := t.st.simulacros[s.ID]; !ok {
		return domain.ErrSimulacroNotFound
	}
	put(t, t.st.simulacros, s.ID, s)
	return nil
}

func (t *tx) CourseSimulacros(_ context.Context, course domain.CourseKey) ([]domain.GroupSimulacro, error) {
	var out []domain.GroupSimulacro
	for _, s := range t.st.simulacros {
		if s.Course == course {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) StudentSimulacros(_ context.Context, studentID string) ([]domain.GroupSimulacro, error) {
	var out []domain.GroupSimulacro
	for _, s := range t.st.simulacros {
		if s.State != domain.StateFinished {
			continue
		}
		if _, ok := t.st.participants[participantKey{contestKey{domain.ContestSimulacro, s.ID}, studentID}]; ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return finishedAt(out[i]).After(finishedAt(out[j])) })
	return out, nil
}

func finishedAt(s domain.GroupSimulacro) time.Time {
	if s.FinishedAt == nil {
		return s.CreatedAt
	}
	return *s.FinishedAt
}

// contests

func (t *tx) InsertContestQuestions(_ context.Context, kind domain.ContestKind, qs []domain.ContestQuestion) error {
	for _, q := range qs {
		key := contestKey{kind, q.ContestID}
		put(t, t.st.draws, key, append(slices.Clip(t.st.draws[key]), q))
	}
	return nil
}

func (t *tx) ContestQuestions(_ context.Context, kind domain.ContestKind, contestID string) ([]domain.ContestQuestion, error) {
	out := append([]domain.ContestQuestion(nil), t.st.draws[contestKey{kind, contestID}]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (t *tx) InsertParticipant(_ context.Context, kind domain.ContestKind, p domain.Participant) (bool, error) {
	contest := contestKey{kind, p.ContestID}
	key := participantKey{contest, p.StudentID}
	if _, ok := t.st.participants[key]; ok {
		return false, nil
	}
	put(t, t.st.participants, key, p)
	link(t, t.st.rosters, contest, p.StudentID)
	return true, nil
}

func (t *tx) Participants(_ context.Context, kind domain.ContestKind, contestID string) ([]domain.Participant, error) {
	contest := contestKey{kind, contestID}
	var out []domain.Participant
	for _, student := range t.st.rosters[contest] {
		out = append(out, t.st.participants[participantKey{contest, student}])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (t *tx) Participant(_ context.Context, kind domain.ContestKind, contestID, studentID string) (domain.Participant, bool, error) {
	p, ok := t.st.participants[participantKey{contestKey{kind, contestID}, studentID}]
	return p, ok, nil
}

func (t *tx) LockParticipant(ctx context.Context, kind domain.ContestKind, contestID, studentID string) (domain.Participant, bool, error) {
	return t.Participant(ctx, kind, contestID, studentID)
}

func (t *tx) UpdateParticipant(_ context.Context, kind domain.ContestKind, contestID, studentID string, patch domain.ParticipantPatch) error {
	key := participantKey{contestKey{kind, contestID}, studentID}
	p, ok := t.st.participants[key]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	patch.Apply(&p)
	put(t, t.st.participants, key, p)
	return nil
}

func (t *tx) InsertContestAnswer(_ context.Context, kind domain.ContestKind, a domain.ContestAnswer) (bool, error) {
	key := answerKey{participantKey{contestKey{kind, a.ContestID}, a.StudentID}, a.QuestionID}
	if _, ok := t.st.contestAnswers[key]; ok {
		return false, nil
	}
	put(t, t.st.contestAnswers, key, a)
	return true, nil
}
