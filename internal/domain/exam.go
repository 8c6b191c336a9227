package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Difficulty is the tier of a bank question.
type Difficulty string

const (
	DifficultyLow    Difficulty = "low"
	DifficultyMedium Difficulty = "medium"
	DifficultyHigh   Difficulty = "high"
)

// Valid reports whether d is one of the known tiers.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyLow, DifficultyMedium, DifficultyHigh:
		return true
	}
	return false
}

// Area is a subject area of the question bank.
type Area struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Option is one multiple-choice alternative.
type Option struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl,omitempty"`
	Correct  bool   `json:"correct"`
}

// Question is a bank question; read-only for the engine.
type Question struct {
	ID         string     `json:"id"`
	AreaID     string     `json:"areaId"`
	AreaName   string     `json:"areaName,omitempty"`
	Statement  string     `json:"statement"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	Difficulty Difficulty `json:"difficulty"`
	Options    []Option   `json:"options"`
}

// Option returns the option with the given id.
func (q Question) Option(optionID string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == optionID {
			return o, true
		}
	}
	return Option{}, false
}

// QuestionFilter narrows a bank listing; zero fields match everything.
type QuestionFilter struct {
	AreaID     string
	Difficulty Difficulty
}

// SectionQuestion places a bank question inside an area block.
type SectionQuestion struct {
	ID          string          `json:"id"`
	AreaBlockID string          `json:"areaBlockId"`
	Order       int             `json:"order"`
	BaseScore   decimal.Decimal `json:"baseScore"`
	Question    Question        `json:"question"`
}

// AreaBlock is a fixed-size group of questions of one area inside a section.
type AreaBlock struct {
	ID            string            `json:"id"`
	SectionID     string            `json:"sectionId"`
	AreaID        string            `json:"areaId"`
	AreaName      string            `json:"areaName"`
	Order         int               `json:"order"`
	QuestionCount int               `json:"questionCount"`
	BaseScore     decimal.Decimal   `json:"baseScore"`
	Questions     []SectionQuestion `json:"questions"`
}

// MaxScore is the best possible score of the block.
func (b AreaBlock) MaxScore() decimal.Decimal {
	return b.BaseScore.Mul(decimal.NewFromInt(int64(b.QuestionCount)))
}

// Section is an ordered, timed subdivision of an exam.
type Section struct {
	ID              string      `json:"id"`
	ExamID          string      `json:"examId"`
	Name            string      `json:"name"`
	Instructions    string      `json:"instructions,omitempty"`
	Order           int         `json:"order"`
	DurationSeconds int         `json:"durationSeconds"`
	Areas           []AreaBlock `json:"areas"`
}

// MaxScore sums the maximum of every block.
func (s Section) MaxScore() decimal.Decimal {
	total := decimal.Zero
	for _, b := range s.Areas {
		total = total.Add(b.MaxScore())
	}
	return total
}

// Questions flattens the section's questions in presentation order: block by
// block, then by question order inside each block.
func (s Section) Questions() []SectionQuestion {
	var out []SectionQuestion
	for _, b := range s.Areas {
		qs := append([]SectionQuestion(nil), b.Questions...)
		sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })
		out = append(out, qs...)
	}
	return out
}

// Lookup finds a section question together with its block.
func (s Section) Lookup(sectionQuestionID string) (SectionQuestion, AreaBlock, bool) {
	for _, b := range s.Areas {
		for _, q := range b.Questions {
			if q.ID == sectionQuestionID {
				return q, b, true
			}
		}
	}
	return SectionQuestion{}, AreaBlock{}, false
}

// Exam is a published assessment definition.
type Exam struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Sections []Section `json:"sections"`
}

// Section returns the section with the given id.
func (e Exam) Section(sectionID string) (Section, bool) {
	for _, s := range e.Sections {
		if s.ID == sectionID {
			return s, true
		}
	}
	return Section{}, false
}

// SectionByOrder returns the section at the given position.
func (e Exam) SectionByOrder(order int) (Section, bool) {
	for _, s := range e.Sections {
		if s.Order == order {
			return s, true
		}
	}
	return Section{}, false
}

// Validate sorts the exam into its total order and checks it is playable.
// Section orders must be exactly 1..N and every question carries its block's
// base score.
func (e *Exam) Validate() error {
	if len(e.Sections) == 0 {
		return Errorf(KindValidation, fmt.Sprintf("exam %s has no sections", e.ID))
	}
	sort.SliceStable(e.Sections, func(i, j int) bool { return e.Sections[i].Order < e.Sections[j].Order })
	for i := range e.Sections {
		s := &e.Sections[i]
		if s.Order != i+1 {
			return Errorf(KindValidation, fmt.Sprintf("exam %s: section orders must be 1..%d, found %d at position %d", e.ID, len(e.Sections), s.Order, i+1))
		}
		if s.DurationSeconds <= 0 {
			return Errorf(KindValidation, fmt.Sprintf("section %s: duration must be positive", s.ID))
		}
		sort.SliceStable(s.Areas, func(a, b int) bool { return s.Areas[a].Order < s.Areas[b].Order })
		for _, b := range s.Areas {
			if b.QuestionCount <= 0 || !b.BaseScore.IsPositive() {
				return Errorf(KindValidation, fmt.Sprintf("area block %s: count and base score must be positive", b.ID))
			}
			if len(b.Questions) != b.QuestionCount {
				return Errorf(KindValidation, fmt.Sprintf("area block %s: expected %d questions, has %d", b.ID, b.QuestionCount, len(b.Questions)))
			}
			for _, q := range b.Questions {
				if !q.BaseScore.Equal(b.BaseScore) {
					return Errorf(KindValidation, fmt.Sprintf("section question %s: base score %s differs from block %s score %s", q.ID, q.BaseScore, b.ID, b.BaseScore))
				}
				if err := validateOptions(q.Question); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func validateOptions(q Question) error {
	if len(q.Options) < 2 {
		return Errorf(KindValidation, fmt.Sprintf("question %s: needs at least two options", q.ID))
	}
	correct := 0
	for _, o := range q.Options {
		if o.Correct {
			correct++
		}
	}
	if correct != 1 {
		return Errorf(KindValidation, fmt.Sprintf("question %s: exactly one option must be correct", q.ID))
	}
	return nil
}

// CourseKey identifies a classroom.
type CourseKey struct {
	Grade         string `json:"grade" yaml:"grade" validate:"required"`
	Group         string `json:"group" yaml:"group" validate:"required"`
	Cohort        string `json:"cohort" yaml:"cohort" validate:"required"`
	InstitutionID string `json:"institutionId" yaml:"institutionId" validate:"required"`
}

func (k CourseKey) String() string {
	return k.InstitutionID + "/" + k.Grade + "-" + k.Group + "/" + k.Cohort
}
